package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

//go:embed testconfig.schema.json
var testConfigSchema string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.Compile("testconfig.schema.json", testConfigSchema)
})

// Schema returns the JSON schema test files are checked against.
func Schema() string {
	return testConfigSchema
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The document is first checked against the embedded JSON schema, so unknown
// fields and wrong types are reported with their location, and then decoded
// strictly. The format is picked from the extension in path and defaults to
// YAML.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	doc, err := normalize(data, isJSON)
	if err != nil {
		return nil, err
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, schemaErrors(err)
	}

	var config TestConfig
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// normalize decodes the document into the generic form the schema validator
// expects (the one encoding/json produces).
func normalize(data []byte, isJSON bool) (interface{}, error) {
	raw := data
	if !isJSON {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		b, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		raw = b
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// schemaErrors turns schema violations into field-addressed validation
// errors.
func schemaErrors(err error) error {
	var violations jsonschema.ValidationErrors
	if !errors.As(err, &violations) {
		return fmt.Errorf("config schema validation failed: %w", err)
	}
	errs := &validationErrors{}
	for _, v := range violations {
		errs.Add(pointerToField(v.Location), v.Message)
	}
	return errs.ErrorOrNil()
}

// pointerToField converts "/scenarios/orders/stages/0/target" into
// "scenarios.orders.stages[0].target".
func pointerToField(pointer string) string {
	var sb strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(part); err == nil && sb.Len() > 0 {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Integer seconds: "30" -> 30s
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ResolveVariables replaces {{name}} placeholders from the test variables
// and {{baseUrl}} from settings. Unresolved placeholders are left as-is.
func ResolveVariables(input string, variables map[string]string, settings *GlobalSettings) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	result := input

	for key, value := range variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}

	if settings != nil && settings.BaseURL != "" {
		base := strings.TrimSuffix(settings.BaseURL, "/")
		result = strings.ReplaceAll(result, "{{baseUrl}}", base)
		result = strings.ReplaceAll(result, "{{baseURL}}", base)
	}

	return result
}

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout               = "30s"
	DefaultGracefulStop          = "30s"
	DefaultTimeUnit              = "1s"
	DefaultMaxConnectionsPerHost = 100
	DefaultMaxIdleConnsPerHost   = 100
	DefaultUserAgent             = "volley/1.0"
	DefaultMaxDuration           = "10m"
)

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == "" {
		config.Settings.Timeout = DefaultTimeout
	}
	if config.Settings.MaxConnectionsPerHost == 0 {
		config.Settings.MaxConnectionsPerHost = DefaultMaxConnectionsPerHost
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for name, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(name, sc)
		}
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(name string, sc *ScenarioConfig) {
	if sc.Executor == "" {
		sc.Executor = "constant-vus"
	}

	switch sc.Executor {
	case "constant-vus":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	case "per-vu-iterations":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
		if sc.Iterations == 0 {
			sc.Iterations = 1
		}
		if sc.Duration == "" {
			sc.Duration = DefaultMaxDuration
		}
	case "constant-arrival-rate", "ramping-arrival-rate":
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop
	}

	if sc.Request.Name == "" {
		sc.Request.Name = name
	}
	if sc.Request.Method == "" {
		sc.Request.Method = "GET"
		if sc.Request.Payload != nil {
			sc.Request.Method = "POST"
		}
	}
	sc.Request.Method = strings.ToUpper(sc.Request.Method)

	if sc.ThinkTime == nil {
		sc.ThinkTime = &ThinkTimeConfig{Type: ThinkNone}
	} else if sc.ThinkTime.Type == "" {
		sc.ThinkTime.Type = ThinkNone
	}

	if sc.Request.Payload != nil && sc.Request.Payload.Bulk != nil && sc.Request.Payload.Bulk.Fill == "" {
		sc.Request.Payload.Bulk.Fill = "X"
	}
	for i := range sc.Checks {
		if sc.Checks[i].Name == "" {
			sc.Checks[i].Name = fmt.Sprintf("%s check %d", sc.Checks[i].Type, i+1)
		}
	}
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
