// Package threshold parses SLA expressions and evaluates them against
// aggregated metrics.
//
// Supported forms:
//
//	http_req_duration: ["p(95)<500", "p95 < 500ms", "avg<200"]
//	http_req_failed:   ["rate<0.01"]
//	http_reqs:         ["count>1000", "rate>=50"]
//	checks:            ["rate>0.99"]
//	"http_req_duration{scenario:orders}": ["p(99)<1s"]
//
// Bare numbers on duration metrics are milliseconds.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metric names accepted as threshold keys.
const (
	MetricReqDuration       = "http_req_duration"
	MetricIterationDuration = "iteration_duration"
	MetricReqFailed         = "http_req_failed"
	MetricReqs              = "http_reqs"
	MetricChecks            = "checks"
	MetricIterations        = "iterations"
	MetricDropped           = "dropped_iterations"
)

// Stats each metric supports. "p" stands for any percentile.
var metricStats = map[string][]string{
	MetricReqDuration:       {"avg", "min", "max", "med", "p"},
	MetricIterationDuration: {"avg", "min", "max", "med", "p"},
	MetricReqFailed:         {"rate"},
	MetricReqs:              {"count", "rate"},
	MetricChecks:            {"rate"},
	MetricIterations:        {"count", "rate"},
	MetricDropped:           {"count"},
}

var (
	keyRe  = regexp.MustCompile(`^(\w+)\s*(?:\{\s*scenario\s*:\s*([^}]*?)\s*\})?$`)
	exprRe = regexp.MustCompile(`^(p\(\s*[\d.]+\s*\)|\w+)\s*(<=|>=|==|!=|<|>)\s*(\S.*)$`)
	pctRe  = regexp.MustCompile(`^p\(?\s*([\d.]+)\s*\)?$`)
)

// Threshold is a single parsed pass/fail expression on one metric.
type Threshold struct {
	// Metric is the base metric name, e.g. http_req_duration
	Metric string `json:"metric"`

	// Scenario restricts evaluation to one scenario; empty means all
	Scenario string `json:"scenario,omitempty"`

	// Expression is the source text, e.g. "p(95)<500"
	Expression string `json:"expression"`

	// Stat is avg, min, max, med, p, rate or count
	Stat string `json:"stat"`

	// Percentile is set for percentile stats (95 for p95)
	Percentile float64 `json:"percentile,omitempty"`

	// Quantile is Percentile/100
	Quantile float64 `json:"quantile,omitempty"`

	Op string `json:"op"`

	// Target is in milliseconds for duration metrics
	Target float64 `json:"target"`
}

// IsDuration reports whether the threshold compares a latency.
func (t Threshold) IsDuration() bool {
	return t.Metric == MetricReqDuration || t.Metric == MetricIterationDuration
}

// Key renders the metric with its selector, as written in a config file.
func (t Threshold) Key() string {
	if t.Scenario == "" {
		return t.Metric
	}
	return fmt.Sprintf("%s{scenario:%s}", t.Metric, t.Scenario)
}

func (t Threshold) String() string {
	return t.Key() + ": " + t.Expression
}

// ParseKey splits "metric{scenario:name}" into its parts.
func ParseKey(key string) (metric, scenario string, err error) {
	m := keyRe.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return "", "", fmt.Errorf("invalid threshold key %q", key)
	}
	metric, scenario = m[1], m[2]
	if _, ok := metricStats[metric]; !ok {
		return "", "", fmt.Errorf("unknown metric %q", metric)
	}
	if strings.Contains(key, "{") && scenario == "" {
		return "", "", fmt.Errorf("empty scenario selector in %q", key)
	}
	return metric, scenario, nil
}

// Parse parses one expression for the given key.
func Parse(key, expr string) (Threshold, error) {
	metric, scenario, err := ParseKey(key)
	if err != nil {
		return Threshold{}, err
	}

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}
	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid expression format: %s", expr)
	}

	t := Threshold{
		Metric:     metric,
		Scenario:   scenario,
		Expression: expr,
		Op:         m[2],
	}

	stat := m[1]
	if pm := pctRe.FindStringSubmatch(stat); pm != nil {
		pct, perr := strconv.ParseFloat(pm[1], 64)
		if perr != nil || pct <= 0 || pct > 100 {
			return Threshold{}, fmt.Errorf("invalid percentile %q", stat)
		}
		t.Stat = "p"
		t.Percentile = pct
		t.Quantile = pct / 100
	} else {
		t.Stat = stat
	}
	if t.Stat == "med" {
		t.Percentile, t.Quantile = 50, 0.5
	}

	if !supports(metric, t.Stat) {
		return Threshold{}, fmt.Errorf("%s does not support %q (valid: %s)",
			metric, stat, strings.Join(metricStats[metric], ", "))
	}

	target, err := parseTarget(strings.TrimSpace(m[3]), t.IsDuration())
	if err != nil {
		return Threshold{}, err
	}
	t.Target = target
	return t, nil
}

// ParseAll parses a metric → expressions map. Results are ordered by key,
// then by position, so verdicts are stable between runs.
func ParseAll(thresholds map[string][]string) ([]Threshold, error) {
	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Threshold
	for _, key := range keys {
		for i, expr := range thresholds[key] {
			t, err := Parse(key, expr)
			if err != nil {
				return nil, fmt.Errorf("thresholds.%s[%d]: %w", key, i, err)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func supports(metric, stat string) bool {
	for _, s := range metricStats[metric] {
		if s == stat {
			return true
		}
	}
	return false
}

// parseTarget reads the right-hand side. Duration metrics accept a bare
// number of milliseconds or a Go duration ("500ms", "1.5s").
func parseTarget(s string, duration bool) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if !duration {
		return 0, fmt.Errorf("failed to parse threshold value %q", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse threshold value %q: %w", s, err)
	}
	return toMillis(d), nil
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}
