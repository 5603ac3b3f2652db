// Package perf runs volley load tests from Go code, for example from an
// integration test that must fail when a latency budget is blown.
//
// # Quick Start
//
//	cfg, err := perf.LoadConfig("test.yaml")
//	if err != nil {
//		return err
//	}
//	result, err := perf.RunTest(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if !result.Passed() {
//		for _, r := range result.Verdict.Failed() {
//			log.Printf("%s %s: %s", r.Metric, r.Expression, r.Message)
//		}
//	}
//
// # Building configurations
//
// Configurations can be built in code; they go through the same defaults and
// validation as files:
//
//	cfg := &perf.TestConfig{
//		Name: "smoke",
//		Scenarios: map[string]*perf.ScenarioConfig{
//			"health": {
//				Executor: "constant-arrival-rate",
//				Rate:     50,
//				Duration: "30s",
//				MaxVUs:   20,
//				Request:  perf.RequestConfig{Method: "GET", URL: "http://localhost:8080/health"},
//			},
//		},
//		Thresholds: map[string][]string{"http_req_duration": {"p(95)<200"}},
//	}
//
// # Live metrics
//
// A Runner exposes the merged snapshot and progress while Run is in flight,
// and WithCollector registers the run with a Prometheus registry.
package perf
