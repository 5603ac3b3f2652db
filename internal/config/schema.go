// Package config provides configuration parsing and validation for volley test files.
package config

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Order API Load Test"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  timeout: 10s
//	scenarios:
//	  orders:
//	    executor: constant-vus
//	    vus: 20
//	    duration: 30s
//	    request:
//	      method: POST
//	      url: "{{baseUrl}}/api/orders"
//	      payload:
//	        kind: fixed
//	        fields:
//	          - name: customerId
//	            value: cust-101
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are substituted into request URLs and headers as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles to run
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds maps a metric (optionally with a {scenario:name} selector)
	// to the expressions it must satisfy, e.g. http_req_duration: ["p(95)<500"]
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is substituted for {{baseUrl}} in request URLs
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// DisableKeepAlives opens a new connection per request
	DisableKeepAlives bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Seed makes randomized payloads reproducible across runs. Zero picks a
	// seed from the clock.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// ScenarioConfig defines a single load testing scenario.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy. One of
	// "constant-vus", "per-vu-iterations", "ramping-vus",
	// "constant-arrival-rate", "ramping-arrival-rate".
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus, per-vu-iterations)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Iterations per VU (per-vu-iterations)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs is the VU count at the start of a ramping-vus scenario
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Rate is iterations per TimeUnit (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// StartRate is the initial rate of a ramping-arrival-rate scenario
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// TimeUnit is the period Rate and stage targets refer to (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of workers started up front (arrival-rate executors)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs caps the worker pool (arrival-rate executors)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Request is the HTTP request every iteration sends
	Request RequestConfig `json:"request" yaml:"request"`

	// Checks are evaluated against every response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// ThinkTime is the pause at the end of each iteration
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the
	// scenario ends before they are cancelled
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime delays this scenario relative to the test start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Tags are attached to this scenario's log lines
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines the HTTP request of a scenario.
type RequestConfig struct {
	// Name for this request (used in logs)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout is a request-specific timeout (overrides settings.timeout)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ExpectedStatuses are the statuses that do not count as failed
	// requests. Defaults to 200-399.
	ExpectedStatuses []int `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`

	// Payload describes how the request body is generated
	Payload *PayloadConfig `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Payload kinds.
const (
	PayloadFixed      = "fixed"
	PayloadRandomized = "randomized"
	PayloadBulk       = "bulk"
)

// PayloadConfig describes a JSON request body template.
type PayloadConfig struct {
	// Kind is "fixed", "randomized" or "bulk"
	Kind string `json:"kind" yaml:"kind"`

	// Fields are emitted in order as top-level JSON object members
	Fields []FieldConfig `json:"fields,omitempty" yaml:"fields,omitempty"`

	// Bulk pads one field to a fixed byte size (kind "bulk")
	Bulk *BulkConfig `json:"bulk,omitempty" yaml:"bulk,omitempty"`
}

// Field generator types.
const (
	FieldConst    = "const"
	FieldInt      = "int"
	FieldFloat    = "float"
	FieldChoice   = "choice"
	FieldTemplate = "template"
	FieldUUID     = "uuid"
	FieldProduct  = "product"
)

// FieldConfig describes one payload field.
type FieldConfig struct {
	// Name of the JSON member
	Name string `json:"name" yaml:"name"`

	// Type of generator; defaults to "const"
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Value for const fields
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// Min and Max bound int and float fields (inclusive)
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// Choices for choice fields
	Choices []interface{} `json:"choices,omitempty" yaml:"choices,omitempty"`

	// Template for template fields, e.g. "cust-{{.VU}}-{{.Iter}}"
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// Of lists earlier numeric fields multiplied by a product field
	Of []string `json:"of,omitempty" yaml:"of,omitempty"`

	// Factor scales a product field (default 1)
	Factor *float64 `json:"factor,omitempty" yaml:"factor,omitempty"`
}

// BulkConfig pads a string field to a configured size.
type BulkConfig struct {
	// Field is the JSON member that carries the padding
	Field string `json:"field" yaml:"field"`

	// SizeBytes is the length of the padded value
	SizeBytes int `json:"sizeBytes" yaml:"sizeBytes"`

	// Fill is repeated to build the value (default "X")
	Fill string `json:"fill,omitempty" yaml:"fill,omitempty"`
}

// Check types.
const (
	CheckStatus       = "status"
	CheckJSONPath     = "jsonPath"
	CheckBodyContains = "bodyContains"
	CheckHeader       = "header"
	CheckDuration     = "duration"
	CheckSchema       = "schema"
)

// CheckConfig defines a named assertion against every response.
type CheckConfig struct {
	// Name is reported with the check result, e.g. "status is 201"
	Name string `json:"name" yaml:"name"`

	// Type is one of status, jsonPath, bodyContains, header, duration, schema
	Type string `json:"type" yaml:"type"`

	// Values are the accepted status codes (status)
	Values []int `json:"values,omitempty" yaml:"values,omitempty"`

	// Path is a JSONPath (jsonPath) or a header name (header)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Equals is the expected value (jsonPath, header). Empty means "exists".
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`

	// Contains is the substring bodyContains looks for
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`

	// Max is the latency bound of a duration check
	Max string `json:"max,omitempty" yaml:"max,omitempty"`

	// Schema is an inline JSON schema the body must satisfy (schema)
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Think time types.
const (
	ThinkNone     = "none"
	ThinkConstant = "constant"
	ThinkRandom   = "random"
)

// ThinkTimeConfig controls the pause at the end of each iteration.
type ThinkTimeConfig struct {
	// Type is "none", "constant" or "random"
	Type string `json:"type" yaml:"type"`

	// Duration for constant think time
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound random think time
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`

	// CountInIteration includes the pause in iteration_duration.
	// http_req_duration never includes it.
	CountInIteration bool `json:"countInIteration,omitempty" yaml:"countInIteration,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of in parallel
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}
