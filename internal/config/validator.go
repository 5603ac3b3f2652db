package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/wesleyorama2/volley/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// IsValidationError reports whether err is, or aggregates, a configuration
// error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidationError returns a single-field configuration error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// validationErrors accumulates ValidationErrors into a multierror.
type validationErrors struct {
	result *multierror.Error
}

// Add adds an error to the collection.
func (e *validationErrors) Add(field, message string) {
	e.result = multierror.Append(e.result, &ValidationError{Field: field, Message: message})
}

// ErrorOrNil returns the aggregated error, or nil when nothing was added.
func (e *validationErrors) ErrorOrNil() error {
	if e.result == nil {
		return nil
	}
	e.result.ErrorFormat = formatErrors
	return e.result.ErrorOrNil()
}

func formatErrors(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(errs)))
	for i, err := range errs {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var validExecutors = map[string]bool{
	"constant-vus":          true,
	"per-vu-iterations":     true,
	"ramping-vus":           true,
	"constant-arrival-rate": true,
	"ramping-arrival-rate":  true,
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validate validates the entire test configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a *multierror.Error whose entries are
// *ValidationError values.
func (c *TestConfig) Validate() error {
	errs := &validationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], c, errs)
	}

	validateThresholds(c, errs)
	validateSettings(&c.Settings, errs)

	return errs.ErrorOrNil()
}

func validateScenario(name string, sc *ScenarioConfig, c *TestConfig, errs *validationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	if !validExecutors[sc.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch sc.Executor {
	case "constant-vus":
		requirePositive(prefix+".vus", sc.VUs, errs)
		requireDuration(prefix+".duration", sc.Duration, true, errs)
	case "per-vu-iterations":
		requirePositive(prefix+".vus", sc.VUs, errs)
		if sc.Iterations <= 0 {
			errs.Add(prefix+".iterations", "must be positive")
		}
		requireDuration(prefix+".duration", sc.Duration, false, errs)
	case "ramping-vus":
		if sc.StartVUs < 0 {
			errs.Add(prefix+".startVUs", "cannot be negative")
		}
		validateStages(prefix, sc.Stages, errs)
		if sc.StartVUs == 0 && maxTarget(sc.Stages) == 0 && len(sc.Stages) > 0 {
			errs.Add(prefix+".stages", "at least one stage must target more than 0 VUs")
		}
	case "constant-arrival-rate":
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "must be positive")
		}
		requireDuration(prefix+".duration", sc.Duration, true, errs)
		validateArrivalPool(prefix, sc, errs)
	case "ramping-arrival-rate":
		if sc.StartRate < 0 {
			errs.Add(prefix+".startRate", "cannot be negative")
		}
		validateStages(prefix, sc.Stages, errs)
		validateArrivalPool(prefix, sc, errs)
	}

	requireDuration(prefix+".gracefulStop", sc.GracefulStop, false, errs)
	requireDuration(prefix+".startTime", sc.StartTime, false, errs)

	validateRequest(prefix+".request", &sc.Request, c, errs)
	validateChecks(prefix+".checks", sc.Checks, errs)
	validateThinkTime(prefix+".thinkTime", sc.ThinkTime, errs)
}

func validateArrivalPool(prefix string, sc *ScenarioConfig, errs *validationErrors) {
	requireDuration(prefix+".timeUnit", sc.TimeUnit, true, errs)
	requirePositive(prefix+".preAllocatedVUs", sc.PreAllocatedVUs, errs)
	if sc.MaxVUs < sc.PreAllocatedVUs {
		errs.Add(prefix+".maxVUs", fmt.Sprintf("must be >= preAllocatedVUs (%d)", sc.PreAllocatedVUs))
	}
}

func validateStages(prefix string, stages []StageConfig, errs *validationErrors) {
	if len(stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required")
		return
	}
	for i, stage := range stages {
		stagePrefix := fmt.Sprintf("%s.stages[%d]", prefix, i)
		requireDuration(stagePrefix+".duration", stage.Duration, true, errs)
		if stage.Target < 0 {
			errs.Add(stagePrefix+".target", "cannot be negative")
		}
	}
}

func maxTarget(stages []StageConfig) int {
	m := 0
	for _, s := range stages {
		if s.Target > m {
			m = s.Target
		}
	}
	return m
}

func requirePositive(field string, v int, errs *validationErrors) {
	if v <= 0 {
		errs.Add(field, "must be positive")
	}
}

// requireDuration checks that s parses; required also demands a value > 0.
func requireDuration(field, s string, required bool, errs *validationErrors) {
	if s == "" {
		if required {
			errs.Add(field, "is required")
		}
		return
	}
	d, err := ParseDurationString(s)
	if err != nil {
		errs.Add(field, err.Error())
		return
	}
	if d < 0 {
		errs.Add(field, "cannot be negative")
	} else if required && d == 0 {
		errs.Add(field, "must be greater than 0")
	}
}

func validateRequest(prefix string, req *RequestConfig, c *TestConfig, errs *validationErrors) {
	if !validMethods[strings.ToUpper(req.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "URL is required")
	} else {
		resolved := ResolveVariables(req.URL, c.Variables, &c.Settings)
		u, err := url.Parse(resolved)
		if err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add(prefix+".url", fmt.Sprintf("URL must be absolute http(s) after variable substitution, got %q", resolved))
		}
	}

	requireDuration(prefix+".timeout", req.Timeout, false, errs)

	for i, code := range req.ExpectedStatuses {
		if code < 100 || code > 599 {
			errs.Add(fmt.Sprintf("%s.expectedStatuses[%d]", prefix, i), fmt.Sprintf("invalid status code: %d", code))
		}
	}

	if req.Payload != nil {
		validatePayload(prefix+".payload", req.Payload, errs)
	}
}

// validatePayload covers the structural rules; generator-level problems
// (bad templates, unknown product operands) are reported by the payload
// compiler.
func validatePayload(prefix string, p *PayloadConfig, errs *validationErrors) {
	switch p.Kind {
	case PayloadFixed, PayloadRandomized:
	case PayloadBulk:
		if p.Bulk == nil {
			errs.Add(prefix+".bulk", "bulk payloads need a bulk section")
		} else {
			if p.Bulk.Field == "" {
				errs.Add(prefix+".bulk.field", "field name is required")
			}
			if p.Bulk.SizeBytes < 0 {
				errs.Add(prefix+".bulk.sizeBytes", "cannot be negative")
			}
		}
	default:
		errs.Add(prefix+".kind", fmt.Sprintf("unknown payload kind: %s", p.Kind))
	}

	seen := make(map[string]bool, len(p.Fields))
	for i, f := range p.Fields {
		fieldPrefix := fmt.Sprintf("%s.fields[%d]", prefix, i)
		if f.Name == "" {
			errs.Add(fieldPrefix+".name", "field name is required")
		} else if seen[f.Name] {
			errs.Add(fieldPrefix+".name", fmt.Sprintf("duplicate field %q", f.Name))
		}
		seen[f.Name] = true
		if p.Kind == PayloadFixed && f.Type != "" && f.Type != FieldConst {
			errs.Add(fieldPrefix+".type", "fixed payloads only allow const fields")
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			errs.Add(fieldPrefix, "min must be <= max")
		}
	}
}

func validateChecks(prefix string, checks []CheckConfig, errs *validationErrors) {
	seen := make(map[string]bool, len(checks))
	for i, ch := range checks {
		checkPrefix := fmt.Sprintf("%s[%d]", prefix, i)
		if ch.Name == "" {
			errs.Add(checkPrefix+".name", "check name is required")
		} else if seen[ch.Name] {
			errs.Add(checkPrefix+".name", fmt.Sprintf("duplicate check %q", ch.Name))
		}
		seen[ch.Name] = true

		switch ch.Type {
		case CheckStatus:
			if len(ch.Values) == 0 {
				errs.Add(checkPrefix+".values", "status checks need at least one value")
			}
		case CheckJSONPath:
			if ch.Path == "" {
				errs.Add(checkPrefix+".path", "JSONPath is required")
			}
		case CheckBodyContains:
			if ch.Contains == "" {
				errs.Add(checkPrefix+".contains", "substring is required")
			}
		case CheckHeader:
			if ch.Path == "" {
				errs.Add(checkPrefix+".path", "header name is required")
			}
		case CheckDuration:
			requireDuration(checkPrefix+".max", ch.Max, true, errs)
		case CheckSchema:
			if ch.Schema == "" {
				errs.Add(checkPrefix+".schema", "schema is required")
			}
		default:
			errs.Add(checkPrefix+".type", fmt.Sprintf("unknown check type: %s", ch.Type))
		}
	}
}

func validateThinkTime(prefix string, tt *ThinkTimeConfig, errs *validationErrors) {
	if tt == nil {
		return
	}
	switch tt.Type {
	case ThinkNone, "":
	case ThinkConstant:
		requireDuration(prefix+".duration", tt.Duration, true, errs)
	case ThinkRandom:
		requireDuration(prefix+".min", tt.Min, false, errs)
		requireDuration(prefix+".max", tt.Max, true, errs)
		minD, err1 := ParseDurationString(tt.Min)
		maxD, err2 := ParseDurationString(tt.Max)
		if err1 == nil && err2 == nil && minD > maxD {
			errs.Add(prefix, "min must be <= max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown think time type: %s", tt.Type))
	}
}

func validateThresholds(c *TestConfig, errs *validationErrors) {
	keys := make([]string, 0, len(c.Thresholds))
	for key := range c.Thresholds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for i, expr := range c.Thresholds[key] {
			field := fmt.Sprintf("thresholds.%s[%d]", key, i)
			t, err := threshold.Parse(key, expr)
			if err != nil {
				errs.Add(field, err.Error())
				continue
			}
			if t.Scenario != "" {
				if _, ok := c.Scenarios[t.Scenario]; !ok {
					errs.Add(field, fmt.Sprintf("unknown scenario %q", t.Scenario))
				}
			}
		}
	}
}

func validateSettings(s *GlobalSettings, errs *validationErrors) {
	requireDuration("settings.timeout", s.Timeout, false, errs)
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid base URL: %s", s.BaseURL))
		}
	}
}
