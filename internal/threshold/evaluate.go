package threshold

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/volley/internal/metrics"
)

// Source is a set of aggregated metrics a threshold can be checked against.
// *metrics.Aggregator satisfies it.
type Source interface {
	Snapshot() *metrics.Snapshot
	Quantile(q float64) time.Duration
	IterationQuantile(q float64) time.Duration
}

// Result is the outcome of one threshold.
type Result struct {
	Metric     string  `json:"metric"`
	Scenario   string  `json:"scenario,omitempty"`
	Expression string  `json:"expression"`
	Observed   float64 `json:"observed"`
	Target     float64 `json:"target"`
	Unit       string  `json:"unit,omitempty"`
	Passed     bool    `json:"passed"`
	Message    string  `json:"message,omitempty"`
}

// Verdict is the structured SLA outcome of a run.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Failed returns the results that did not pass.
func (v Verdict) Failed() []Result {
	var out []Result
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Evaluate checks every threshold. Thresholds without a scenario selector use
// global; the others look up their scenario in byScenario. No thresholds
// means the verdict passes.
func Evaluate(thresholds []Threshold, global Source, byScenario map[string]Source) Verdict {
	verdict := Verdict{Passed: true, Results: make([]Result, 0, len(thresholds))}

	for _, t := range thresholds {
		src := global
		if t.Scenario != "" {
			src = byScenario[t.Scenario]
		}
		r := evaluateOne(t, src)
		if !r.Passed {
			verdict.Passed = false
		}
		verdict.Results = append(verdict.Results, r)
	}
	return verdict
}

func evaluateOne(t Threshold, src Source) Result {
	result := Result{
		Metric:     t.Key(),
		Scenario:   t.Scenario,
		Expression: t.Expression,
		Target:     t.Target,
	}
	if t.IsDuration() {
		result.Unit = "ms"
	}

	if src == nil {
		result.Message = fmt.Sprintf("no metrics for scenario %q", t.Scenario)
		return result
	}

	observed, err := observe(t, src)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Observed = observed
	result.Passed = compareValues(observed, t.Op, t.Target)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s",
			statLabel(t), format(observed, result.Unit), t.Op, format(t.Target, result.Unit))
	}
	return result
}

func observe(t Threshold, src Source) (float64, error) {
	snap := src.Snapshot()

	if t.IsDuration() {
		stats, q := snap.Latency, src.Quantile
		if t.Metric == MetricIterationDuration {
			stats, q = snap.IterationDuration, src.IterationQuantile
		}
		switch t.Stat {
		case "avg":
			return toMillis(stats.Mean), nil
		case "min":
			return toMillis(stats.Min), nil
		case "max":
			return toMillis(stats.Max), nil
		case "med", "p":
			return toMillis(q(t.Quantile)), nil
		}
	}

	switch t.Metric {
	case MetricReqFailed:
		return snap.ErrorRate, nil
	case MetricChecks:
		return snap.ChecksRate(), nil
	case MetricDropped:
		return float64(snap.DroppedIterations), nil
	case MetricReqs, MetricIterations:
		if t.Stat == "rate" {
			return snap.RPS, nil
		}
		return float64(snap.TotalRequests), nil
	}
	return 0, fmt.Errorf("unsupported threshold %s", t)
}

func statLabel(t Threshold) string {
	if t.Stat == "p" {
		return fmt.Sprintf("p(%g)", t.Percentile)
	}
	return t.Stat
}

func format(v float64, unit string) string {
	if unit == "ms" {
		return fmt.Sprintf("%.2fms", v)
	}
	return fmt.Sprintf("%.4g", v)
}
