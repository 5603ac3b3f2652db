package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const orderYAML = `
name: Order API
settings:
  baseUrl: http://localhost:8080
  seed: 42
scenarios:
  orders:
    executor: constant-vus
    vus: 20
    duration: 30s
    request:
      method: POST
      url: "{{baseUrl}}/api/orders"
      payload:
        kind: bulk
        fields:
          - name: customerId
            type: template
            template: "cust-{{.VU}}-{{.Iter}}"
        bulk:
          field: description
          sizeBytes: 204800
    checks:
      - name: Status is 201 Created
        type: status
        values: [201]
    thinkTime:
      type: constant
      duration: 200ms
thresholds:
  http_req_failed: ["rate<0.01"]
  http_req_duration: ["p(95)<1000"]
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(orderYAML), "orders.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	if cfg.Name != "Order API" {
		t.Errorf("Name = %q, want %q", cfg.Name, "Order API")
	}
	sc, ok := cfg.Scenarios["orders"]
	if !ok {
		t.Fatal("scenario 'orders' missing")
	}
	if sc.VUs != 20 {
		t.Errorf("VUs = %d, want 20", sc.VUs)
	}
	if sc.Request.Payload == nil || sc.Request.Payload.Bulk == nil {
		t.Fatal("bulk payload not decoded")
	}
	if sc.Request.Payload.Bulk.SizeBytes != 204800 {
		t.Errorf("SizeBytes = %d, want 204800", sc.Request.Payload.Bulk.SizeBytes)
	}
	if got := sc.Request.Payload.Fields[0].Template; got != "cust-{{.VU}}-{{.Iter}}" {
		t.Errorf("Template = %q", got)
	}
	if len(cfg.Thresholds["http_req_duration"]) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.Settings.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Settings.Seed)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"scenarios": {
			"smoke": {
				"executor": "per-vu-iterations",
				"vus": 1,
				"iterations": 5,
				"request": {"method": "GET", "url": "http://localhost/health"}
			}
		}
	}`

	cfg, err := ParseConfig([]byte(data), "smoke.json")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}
	if cfg.Scenarios["smoke"].Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", cfg.Scenarios["smoke"].Iterations)
	}
}

func TestParseConfig_SchemaViolations(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantField string
	}{
		{
			name: "unknown scenario field",
			data: `
scenarios:
  s:
    executor: constant-vus
    vus: 1
    duration: 1s
    vuz: 2
    request: {method: GET, url: "http://x"}
`,
			wantField: "scenarios.s",
		},
		{
			name: "unknown executor",
			data: `
scenarios:
  s:
    executor: shared-iterations
    request: {method: GET, url: "http://x"}
`,
			wantField: "scenarios.s.executor",
		},
		{
			name: "wrong stage target type",
			data: `
scenarios:
  s:
    executor: ramping-vus
    stages:
      - duration: 10s
        target: lots
    request: {method: GET, url: "http://x"}
`,
			wantField: "scenarios.s.stages[0].target",
		},
		{
			name:      "missing scenarios",
			data:      "name: empty\n",
			wantField: "validation error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data), "test.yaml")
			if err == nil {
				t.Fatal("ParseConfig() should fail")
			}
			if !IsValidationError(err) {
				t.Errorf("error should be a validation error, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error should mention %q, got: %v", tt.wantField, err)
			}
		})
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("scenarios: [unclosed"), "bad.yml")
	if err == nil {
		t.Fatal("ParseConfig() should fail on malformed YAML")
	}
	if IsValidationError(err) {
		t.Errorf("syntax errors are not validation errors: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.yml")
	if err := os.WriteFile(path, []byte(orderYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if len(cfg.Scenarios) != 1 {
		t.Errorf("len(Scenarios) = %d, want 1", len(cfg.Scenarios))
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() should fail for a missing file")
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"30", 30 * time.Second, false},
		{"thirty", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDurationString(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestResolveVariables(t *testing.T) {
	settings := &GlobalSettings{BaseURL: "http://localhost:8080/"}
	vars := map[string]string{"tenant": "acme"}

	got := ResolveVariables("{{baseUrl}}/api/{{tenant}}/orders/{{unknown}}", vars, settings)
	want := "http://localhost:8080/api/acme/orders/{{unknown}}"
	if got != want {
		t.Errorf("ResolveVariables() = %q, want %q", got, want)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"rate": {
				Executor: "ramping-arrival-rate",
				Request: RequestConfig{
					URL:     "http://x",
					Payload: &PayloadConfig{Kind: PayloadBulk, Bulk: &BulkConfig{Field: "d", SizeBytes: 10}},
				},
			},
			"iter": {Executor: "per-vu-iterations", Request: RequestConfig{URL: "http://x", Method: "get"}},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Settings.Timeout != DefaultTimeout {
		t.Errorf("Settings.Timeout = %q, want %q", cfg.Settings.Timeout, DefaultTimeout)
	}
	if cfg.Options == nil {
		t.Error("Options should be defaulted")
	}

	rate := cfg.Scenarios["rate"]
	if rate.TimeUnit != "1s" || rate.PreAllocatedVUs != 1 || rate.MaxVUs != 1 {
		t.Errorf("arrival defaults = timeUnit %q pre %d max %d", rate.TimeUnit, rate.PreAllocatedVUs, rate.MaxVUs)
	}
	if rate.Request.Method != "POST" {
		t.Errorf("Method with payload = %q, want POST", rate.Request.Method)
	}
	if rate.Request.Payload.Bulk.Fill != "X" {
		t.Errorf("Bulk.Fill = %q, want X", rate.Request.Payload.Bulk.Fill)
	}
	if rate.GracefulStop != DefaultGracefulStop {
		t.Errorf("GracefulStop = %q, want %q", rate.GracefulStop, DefaultGracefulStop)
	}
	if rate.ThinkTime == nil || rate.ThinkTime.Type != ThinkNone {
		t.Errorf("ThinkTime = %+v, want none", rate.ThinkTime)
	}

	iter := cfg.Scenarios["iter"]
	if iter.Iterations != 1 || iter.VUs != 1 {
		t.Errorf("per-vu-iterations defaults = vus %d iterations %d", iter.VUs, iter.Iterations)
	}
	if iter.Request.Method != "GET" {
		t.Errorf("Method = %q, want GET", iter.Request.Method)
	}
}

func TestScenarioNames_Sorted(t *testing.T) {
	cfg := &TestConfig{Scenarios: map[string]*ScenarioConfig{"b": {}, "a": {}, "c": {}}}
	got := strings.Join(cfg.ScenarioNames(), ",")
	if got != "a,b,c" {
		t.Errorf("ScenarioNames() = %s, want a,b,c", got)
	}
}
