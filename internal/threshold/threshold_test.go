package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		expr    string
		want    Threshold
		wantErr bool
	}{
		{
			name: "percentile with bare milliseconds",
			key:  "http_req_duration",
			expr: "p(95)<500",
			want: Threshold{Metric: MetricReqDuration, Stat: "p", Percentile: 95, Quantile: 0.95, Op: "<", Target: 500},
		},
		{
			name: "compact percentile with duration",
			key:  "http_req_duration",
			expr: "p95 < 1.5s",
			want: Threshold{Metric: MetricReqDuration, Stat: "p", Percentile: 95, Quantile: 0.95, Op: "<", Target: 1500},
		},
		{
			name: "fractional percentile",
			key:  "http_req_duration",
			expr: "p(99.9)<=2000",
			want: Threshold{Metric: MetricReqDuration, Stat: "p", Percentile: 99.9, Quantile: 0.999, Op: "<=", Target: 2000},
		},
		{
			name: "median",
			key:  "iteration_duration",
			expr: "med<300ms",
			want: Threshold{Metric: MetricIterationDuration, Stat: "med", Percentile: 50, Quantile: 0.5, Op: "<", Target: 300},
		},
		{
			name: "error rate",
			key:  "http_req_failed",
			expr: "rate<0.01",
			want: Threshold{Metric: MetricReqFailed, Stat: "rate", Op: "<", Target: 0.01},
		},
		{
			name: "scenario selector",
			key:  "http_reqs{scenario:orders}",
			expr: "count >= 100",
			want: Threshold{Metric: MetricReqs, Scenario: "orders", Stat: "count", Op: ">=", Target: 100},
		},
		{name: "unknown metric", key: "http_req_waiting", expr: "p(95)<500", wantErr: true},
		{name: "unsupported stat", key: "http_req_failed", expr: "p(95)<500", wantErr: true},
		{name: "missing operator", key: "http_req_duration", expr: "p(95) 500", wantErr: true},
		{name: "bad value", key: "http_req_failed", expr: "rate<lots", wantErr: true},
		{name: "duration on a rate", key: "http_req_failed", expr: "rate<10ms", wantErr: true},
		{name: "percentile out of range", key: "http_req_duration", expr: "p(101)<500", wantErr: true},
		{name: "empty expression", key: "http_req_duration", expr: "  ", wantErr: true},
		{name: "empty selector", key: "http_reqs{scenario:}", expr: "count>1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.key, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Metric, got.Metric)
			assert.Equal(t, tt.want.Scenario, got.Scenario)
			assert.Equal(t, tt.want.Stat, got.Stat)
			assert.InDelta(t, tt.want.Percentile, got.Percentile, 1e-9)
			assert.InDelta(t, tt.want.Quantile, got.Quantile, 1e-9)
			assert.Equal(t, tt.want.Op, got.Op)
			assert.InDelta(t, tt.want.Target, got.Target, 1e-9)
		})
	}
}

func TestParseAll_ReportsLocation(t *testing.T) {
	_, err := ParseAll(map[string][]string{
		"http_req_duration": {"p(95)<500", "p(95)~500"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.http_req_duration[1]")
}

func TestParseAll_StableOrder(t *testing.T) {
	ths, err := ParseAll(map[string][]string{
		"http_reqs":         {"count>0"},
		"http_req_failed":   {"rate<0.01"},
		"http_req_duration": {"p(95)<500", "avg<200"},
	})
	require.NoError(t, err)
	require.Len(t, ths, 4)
	assert.Equal(t, "p(95)<500", ths[0].Expression)
	assert.Equal(t, "avg<200", ths[1].Expression)
	assert.Equal(t, MetricReqFailed, ths[2].Metric)
	assert.Equal(t, MetricReqs, ths[3].Metric)
}

func aggregatorWith(latencies ...time.Duration) *metrics.Aggregator {
	agg := metrics.NewAggregator("test")
	for _, l := range latencies {
		agg.Append(metrics.Sample{Latency: l, IterationDuration: l, Status: 201})
	}
	return agg
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestEvaluate_NoThresholdsPasses(t *testing.T) {
	verdict := Evaluate(nil, aggregatorWith(), nil)
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Results)
}

func TestEvaluate_StrictBoundFails(t *testing.T) {
	th, err := Parse("http_req_duration", "p(95)<500")
	require.NoError(t, err)

	agg := aggregatorWith(repeat(500*time.Millisecond, 100)...)
	verdict := Evaluate([]Threshold{th}, agg, nil)

	assert.False(t, verdict.Passed)
	require.Len(t, verdict.Results, 1)
	r := verdict.Results[0]
	assert.False(t, r.Passed)
	assert.GreaterOrEqual(t, r.Observed, 500.0)
	assert.Equal(t, 500.0, r.Target)
	assert.Equal(t, "ms", r.Unit)
	assert.Contains(t, r.Message, "p(95)")
}

func TestEvaluate_InclusiveBoundPasses(t *testing.T) {
	agg := aggregatorWith(repeat(500*time.Millisecond, 100)...)

	tests := []struct {
		expr   string
		passed bool
	}{
		{"p(95)<=500", true},
		{"max<=500", true},
		{"avg<=500", true},
		{"min>=500", true},
		{"med==500", true},
		{"p(95)<500", false},
		{"max<500", false},
		{"avg<500", false},
		{"min>500", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			th, err := Parse("http_req_duration", tt.expr)
			require.NoError(t, err)

			verdict := Evaluate([]Threshold{th}, agg, nil)
			require.Len(t, verdict.Results, 1)
			assert.Equal(t, tt.passed, verdict.Results[0].Passed)
			assert.Equal(t, 500.0, verdict.Results[0].Observed)
		})
	}
}

func TestEvaluate_PassingAndFailing(t *testing.T) {
	agg := aggregatorWith(repeat(20*time.Millisecond, 99)...)
	agg.Append(metrics.Sample{Latency: 20 * time.Millisecond, Status: 0, Failed: true,
		Checks: []metrics.CheckResult{{Name: "created", Passed: false}}})
	agg.Append(metrics.Sample{Latency: 20 * time.Millisecond, Status: 201,
		Checks: []metrics.CheckResult{{Name: "created", Passed: true}}})
	agg.RecordDropped()

	ths, err := ParseAll(map[string][]string{
		"http_req_duration":  {"p(95)<500", "max<10"},
		"http_req_failed":    {"rate<0.05"},
		"http_reqs":          {"count==101"},
		"checks":             {"rate>0.9"},
		"dropped_iterations": {"count<1"},
	})
	require.NoError(t, err)

	verdict := Evaluate(ths, agg, nil)
	assert.False(t, verdict.Passed)

	failed := map[string]bool{}
	for _, r := range verdict.Failed() {
		failed[r.Metric+" "+r.Expression] = true
	}
	assert.Equal(t, map[string]bool{
		"http_req_duration max<10":   true,
		"checks rate>0.9":            true,
		"dropped_iterations count<1": true,
	}, failed)
}

func TestEvaluate_ScenarioSelector(t *testing.T) {
	fast := aggregatorWith(repeat(10*time.Millisecond, 10)...)
	slow := aggregatorWith(repeat(900*time.Millisecond, 10)...)
	global := metrics.Merged("all", fast, slow)

	ths, err := ParseAll(map[string][]string{
		"http_req_duration{scenario:fast}": {"p(95)<100"},
		"http_req_duration{scenario:slow}": {"p(95)<100"},
		"http_req_duration{scenario:gone}": {"p(95)<100"},
	})
	require.NoError(t, err)

	verdict := Evaluate(ths, global, map[string]Source{"fast": fast, "slow": slow})
	require.Len(t, verdict.Results, 3)

	byScenario := map[string]Result{}
	for _, r := range verdict.Results {
		byScenario[r.Scenario] = r
	}
	assert.True(t, byScenario["fast"].Passed)
	assert.False(t, byScenario["slow"].Passed)
	assert.False(t, byScenario["gone"].Passed)
	assert.Contains(t, byScenario["gone"].Message, "no metrics")
	assert.Equal(t, "http_req_duration{scenario:fast}", byScenario["fast"].Metric)
}
