// Package check evaluates named assertions against iteration responses.
package check

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/transport"
	"github.com/wesleyorama2/volley/pkg/jsonpath"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Result is the outcome of one check on one response.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

// Predicate decides whether a response passes. The returned note explains
// a failure.
type Predicate func(resp *transport.Response) (bool, string)

// Check is a named predicate.
type Check struct {
	Name      string
	Predicate Predicate
}

// Evaluator runs a fixed list of checks. It is safe for concurrent use.
type Evaluator struct {
	checks []Check
}

// New builds an evaluator from already constructed checks.
func New(checks ...Check) *Evaluator {
	return &Evaluator{checks: checks}
}

// Compile builds an evaluator from configuration. JSON schemas and
// durations are compiled here so a bad check aborts before the run.
func Compile(cfgs []config.CheckConfig) (*Evaluator, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, cfg := range cfgs {
		p, err := compile(cfg)
		if err != nil {
			return nil, fmt.Errorf("checks[%d] (%s): %w", i, cfg.Name, err)
		}
		checks = append(checks, Check{Name: cfg.Name, Predicate: p})
	}
	return New(checks...), nil
}

// Len returns the number of checks.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.checks)
}

// Evaluate runs every check against resp. A predicate that panics is
// recorded as failed; it never takes the VU down.
func (e *Evaluator) Evaluate(resp *transport.Response) []Result {
	if e.Len() == 0 {
		return nil
	}
	results := make([]Result, len(e.checks))
	for i, c := range e.checks {
		results[i] = run(c, resp)
	}
	return results
}

func run(c Check, resp *transport.Response) (result Result) {
	result.Name = c.Name
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Note = fmt.Sprintf("check panicked: %v", r)
		}
	}()
	result.Passed, result.Note = c.Predicate(resp)
	if result.Passed {
		result.Note = ""
	}
	return result
}

func compile(cfg config.CheckConfig) (Predicate, error) {
	switch cfg.Type {
	case config.CheckStatus:
		if len(cfg.Values) == 0 {
			return nil, errors.New("status check needs at least one value")
		}
		return Status(cfg.Values...), nil
	case config.CheckJSONPath:
		if cfg.Path == "" {
			return nil, errors.New("JSONPath is required")
		}
		if cfg.Equals != "" {
			return JSONPathEquals(cfg.Path, cfg.Equals), nil
		}
		return JSONPathExists(cfg.Path), nil
	case config.CheckBodyContains:
		if cfg.Contains == "" {
			return nil, errors.New("substring is required")
		}
		return BodyContains(cfg.Contains), nil
	case config.CheckHeader:
		if cfg.Path == "" {
			return nil, errors.New("header name is required")
		}
		return Header(cfg.Path, cfg.Equals), nil
	case config.CheckDuration:
		limit, err := config.ParseDurationString(cfg.Max)
		if err != nil {
			return nil, err
		}
		if limit <= 0 {
			return nil, errors.New("max must be greater than 0")
		}
		return MaxDuration(limit), nil
	case config.CheckSchema:
		schema, err := jsonschema.Compile(cfg.Name+".schema.json", cfg.Schema)
		if err != nil {
			return nil, err
		}
		return Schema(schema), nil
	}
	return nil, fmt.Errorf("unknown check type %q", cfg.Type)
}

// Status passes when the response status is one of codes.
func Status(codes ...int) Predicate {
	return func(resp *transport.Response) (bool, string) {
		for _, c := range codes {
			if resp.Status == c {
				return true, ""
			}
		}
		if resp.TransportError() {
			return false, fmt.Sprintf("no response (%s), expected %s", resp.ErrorKind, joinInts(codes))
		}
		return false, fmt.Sprintf("Status code is %d, expected %s", resp.Status, joinInts(codes))
	}
}

// JSONPathExists passes when path resolves to any value, including null.
func JSONPathExists(path string) Predicate {
	return func(resp *transport.Response) (bool, string) {
		if _, err := jsonpath.Lookup(resp.Body, path); err != nil {
			return false, fmt.Sprintf("Path %s: %v", path, err)
		}
		return true, ""
	}
}

// JSONPathEquals passes when path resolves to a value whose string form is
// want.
func JSONPathEquals(path, want string) Predicate {
	return func(resp *transport.Response) (bool, string) {
		got, err := jsonpath.Extract(resp.Body, path)
		if err != nil {
			return false, fmt.Sprintf("Path %s: %v", path, err)
		}
		if got != want {
			return false, fmt.Sprintf("Path %s value is %s, expected %s", path, got, want)
		}
		return true, ""
	}
}

// BodyContains passes when the body contains substr.
func BodyContains(substr string) Predicate {
	needle := []byte(substr)
	return func(resp *transport.Response) (bool, string) {
		if bytes.Contains(resp.Body, needle) {
			return true, ""
		}
		return false, fmt.Sprintf("body does not contain %q", substr)
	}
}

// Header passes when the header is present, and equals want if want is
// not empty.
func Header(name, want string) Predicate {
	return func(resp *transport.Response) (bool, string) {
		values := resp.Headers.Values(name)
		if len(values) == 0 {
			return false, fmt.Sprintf("Header %s is missing", name)
		}
		if want != "" && values[0] != want {
			return false, fmt.Sprintf("Header %s value is %s, expected %s", name, values[0], want)
		}
		return true, ""
	}
}

// MaxDuration passes when the request latency is below limit.
func MaxDuration(limit time.Duration) Predicate {
	return func(resp *transport.Response) (bool, string) {
		if resp.Latency < limit {
			return true, ""
		}
		return false, fmt.Sprintf("Response time %s is not less than %s", resp.Latency, limit)
	}
}

// Schema passes when the body is JSON valid against schema.
func Schema(schema *jsonschema.Schema) Predicate {
	return func(resp *transport.Response) (bool, string) {
		if err := schema.ValidateJSON(resp.Body); err != nil {
			return false, err.Error()
		}
		return true, ""
	}
}

func joinInts(codes []int) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "one of " + strings.Join(parts, ", ")
}
