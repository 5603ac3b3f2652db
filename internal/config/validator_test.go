package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

func validScenario() *ScenarioConfig {
	return &ScenarioConfig{
		Executor: "constant-vus",
		VUs:      10,
		Duration: "30s",
		Request:  RequestConfig{Method: "GET", URL: "{{baseUrl}}/api/orders"},
	}
}

func configWith(sc *ScenarioConfig) *TestConfig {
	cfg := &TestConfig{
		Name:      "Test",
		Settings:  GlobalSettings{BaseURL: "http://localhost:8080"},
		Scenarios: map[string]*ScenarioConfig{"test": sc},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_MinimalValid(t *testing.T) {
	if err := configWith(validScenario()).Validate(); err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate_NoScenarios(t *testing.T) {
	cfg := &TestConfig{Name: "Test", Scenarios: map[string]*ScenarioConfig{}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error when no scenarios defined")
	}
	if !strings.Contains(err.Error(), "scenario") {
		t.Errorf("Error should mention 'scenario', got: %v", err)
	}
}

func TestValidate_Executors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(sc *ScenarioConfig)
		wantErr string
	}{
		{
			name:   "constant-vus valid",
			mutate: func(sc *ScenarioConfig) {},
		},
		{
			name:    "constant-vus zero duration",
			mutate:  func(sc *ScenarioConfig) { sc.Duration = "0s" },
			wantErr: "scenarios.test.duration",
		},
		{
			name:    "constant-vus negative vus",
			mutate:  func(sc *ScenarioConfig) { sc.VUs = -1 },
			wantErr: "scenarios.test.vus",
		},
		{
			name: "per-vu-iterations valid",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor, sc.VUs, sc.Iterations, sc.Duration = "per-vu-iterations", 1, 5, ""
			},
		},
		{
			name: "ramping-vus without stages",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor = "ramping-vus"
			},
			wantErr: "scenarios.test.stages",
		},
		{
			name: "ramping-vus all zero targets",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor = "ramping-vus"
				sc.Stages = []StageConfig{{Duration: "10s", Target: 0}}
			},
			wantErr: "at least one stage must target",
		},
		{
			name: "ramping-vus bad stage duration",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor = "ramping-vus"
				sc.Stages = []StageConfig{{Duration: "soon", Target: 10}}
			},
			wantErr: "scenarios.test.stages[0].duration",
		},
		{
			name: "constant-arrival-rate without rate",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor, sc.PreAllocatedVUs, sc.MaxVUs, sc.TimeUnit = "constant-arrival-rate", 5, 5, "1s"
			},
			wantErr: "scenarios.test.rate",
		},
		{
			name: "ramping-arrival-rate maxVUs below pool",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor, sc.TimeUnit = "ramping-arrival-rate", "1s"
				sc.PreAllocatedVUs, sc.MaxVUs = 50, 10
				sc.Stages = []StageConfig{{Duration: "5s", Target: 20}}
			},
			wantErr: "scenarios.test.maxVUs",
		},
		{
			name: "ramping-arrival-rate valid",
			mutate: func(sc *ScenarioConfig) {
				sc.Executor, sc.TimeUnit, sc.StartRate = "ramping-arrival-rate", "1s", 2
				sc.PreAllocatedVUs, sc.MaxVUs = 50, 200
				sc.Stages = []StageConfig{{Duration: "5s", Target: 20}, {Duration: "5s", Target: 0}}
			},
		},
		{
			name:    "bad graceful stop",
			mutate:  func(sc *ScenarioConfig) { sc.GracefulStop = "-1s" },
			wantErr: "scenarios.test.gracefulStop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := validScenario()
			tt.mutate(sc)
			err := configWith(sc).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() should fail with %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_Request(t *testing.T) {
	tests := []struct {
		name    string
		req     RequestConfig
		wantErr string
	}{
		{name: "bad method", req: RequestConfig{Method: "FETCH", URL: "http://x"}, wantErr: "invalid HTTP method"},
		{name: "missing url", req: RequestConfig{Method: "GET"}, wantErr: "URL is required"},
		{name: "relative url", req: RequestConfig{Method: "GET", URL: "/api/orders"}, wantErr: "absolute"},
		{name: "bad expected status", req: RequestConfig{Method: "GET", URL: "http://x", ExpectedStatuses: []int{42}}, wantErr: "expectedStatuses[0]"},
		{
			name: "negative bulk size",
			req: RequestConfig{Method: "POST", URL: "http://x", Payload: &PayloadConfig{
				Kind: PayloadBulk, Bulk: &BulkConfig{Field: "description", SizeBytes: -1},
			}},
			wantErr: "payload.bulk.sizeBytes",
		},
		{
			name: "missing field name",
			req: RequestConfig{Method: "POST", URL: "http://x", Payload: &PayloadConfig{
				Kind: PayloadRandomized, Fields: []FieldConfig{{Type: FieldInt}},
			}},
			wantErr: "payload.fields[0].name",
		},
		{
			name: "fixed payload with generator",
			req: RequestConfig{Method: "POST", URL: "http://x", Payload: &PayloadConfig{
				Kind: PayloadFixed, Fields: []FieldConfig{{Name: "n", Type: FieldInt}},
			}},
			wantErr: "only allow const",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := validScenario()
			sc.Request = tt.req
			cfg := configWith(sc)
			cfg.Settings.BaseURL = ""

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() should fail with %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ChecksAndThinkTime(t *testing.T) {
	sc := validScenario()
	sc.Checks = []CheckConfig{
		{Name: "created", Type: CheckStatus},
		{Name: "created", Type: CheckJSONPath, Path: "$.orderId"},
		{Name: "fast", Type: CheckDuration, Max: "0s"},
	}
	sc.ThinkTime = &ThinkTimeConfig{Type: ThinkRandom, Min: "2s", Max: "1s"}

	err := configWith(sc).Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{
		"checks[0].values",
		`duplicate check "created"`,
		"checks[2].max",
		"thinkTime",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := configWith(validScenario())
	cfg.Thresholds = map[string][]string{
		"http_req_duration":                {"p(95)<500", "p95 < 500ms"},
		"http_req_failed":                  {"rate<0.01"},
		"http_reqs{scenario:test}":         {"count>10"},
		"http_reqs{scenario:missing}":      {"count>10"},
		"http_req_duration{scenario:test}": {"p(95)<<500"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	if !strings.Contains(err.Error(), `unknown scenario "missing"`) {
		t.Errorf("error should mention the missing scenario, got: %v", err)
	}
	if !strings.Contains(err.Error(), "thresholds.http_req_duration{scenario:test}[0]") {
		t.Errorf("error should locate the bad expression, got: %v", err)
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error should be a *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2: %v", len(merr.Errors), err)
	}
	for _, e := range merr.Errors {
		var ve *ValidationError
		if !errors.As(e, &ve) {
			t.Errorf("entry %T is not a *ValidationError", e)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "scenarios.x.vus", Message: "must be positive"}
	if got := err.Error(); got != "validation error on field 'scenarios.x.vus': must be positive" {
		t.Errorf("Error() = %q", got)
	}
	if !IsValidationError(NewValidationError("f", "m")) {
		t.Error("IsValidationError(NewValidationError) = false")
	}
}
