package vu

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/check"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/payload"
	"github.com/wesleyorama2/volley/internal/transport"
)

// Scenario is what a VU executes on every iteration. It is immutable once a
// run has started and is shared by all VUs of the scenario.
type Scenario struct {
	Name string

	// Request is the template for the single request of an iteration. Body is
	// ignored when Payload is set.
	Request transport.Request

	// Payload builds the request body per (VU, iteration). Nil means no body.
	Payload payload.Generator

	Checks *check.Evaluator

	// ExpectedStatuses are the statuses that do not count as failed.
	// Empty means 200-399.
	ExpectedStatuses []int

	ThinkTime ThinkTime
}

// ThinkTime is the pause a VU takes after its request.
type ThinkTime struct {
	Min, Max time.Duration

	// CountInIteration includes the pause in iteration_duration.
	CountInIteration bool
}

// Enabled reports whether the VU pauses at all.
func (t ThinkTime) Enabled() bool {
	return t.Max > 0
}

func (t ThinkTime) pick(rng *rand.Rand) time.Duration {
	if t.Max <= t.Min {
		return t.Max
	}
	return t.Min + time.Duration(rng.Int63n(int64(t.Max-t.Min)+1))
}

// Expected reports whether status is a non-failing response status.
func (s *Scenario) Expected(status int) bool {
	if len(s.ExpectedStatuses) == 0 {
		return status >= 200 && status < 400
	}
	for _, code := range s.ExpectedStatuses {
		if code == status {
			return true
		}
	}
	return false
}

// NewScenario compiles a scenario configuration. Variables and the base URL
// are resolved once here; payload templates are resolved per iteration.
func NewScenario(name string, sc *config.ScenarioConfig, cfg *config.TestConfig) (*Scenario, error) {
	req := sc.Request
	s := &Scenario{
		Name: name,
		Request: transport.Request{
			Method:  strings.ToUpper(req.Method),
			URL:     config.ResolveVariables(req.URL, cfg.Variables, &cfg.Settings),
			Headers: make(map[string]string, len(req.Headers)),
		},
		ExpectedStatuses: req.ExpectedStatuses,
	}
	for k, v := range req.Headers {
		s.Request.Headers[k] = config.ResolveVariables(v, cfg.Variables, &cfg.Settings)
	}

	if req.Timeout != "" {
		d, err := config.ParseDurationString(req.Timeout)
		if err != nil {
			return nil, config.NewValidationError(fmt.Sprintf("scenarios.%s.request.timeout", name), err.Error())
		}
		s.Request.Timeout = d
	}

	if req.Payload != nil {
		gen, err := payload.Compile(*req.Payload, payload.WithSeed(cfg.Settings.Seed))
		if err != nil {
			return nil, config.NewValidationError(fmt.Sprintf("scenarios.%s.request.payload", name), err.Error())
		}
		s.Payload = gen
	}

	checks, err := check.Compile(sc.Checks)
	if err != nil {
		return nil, config.NewValidationError(fmt.Sprintf("scenarios.%s.checks", name), err.Error())
	}
	s.Checks = checks

	think, err := compileThinkTime(sc.ThinkTime)
	if err != nil {
		return nil, config.NewValidationError(fmt.Sprintf("scenarios.%s.thinkTime", name), err.Error())
	}
	s.ThinkTime = think

	return s, nil
}

func compileThinkTime(tc *config.ThinkTimeConfig) (ThinkTime, error) {
	if tc == nil {
		return ThinkTime{}, nil
	}
	var (
		t   = ThinkTime{CountInIteration: tc.CountInIteration}
		err error
	)
	switch tc.Type {
	case "", config.ThinkNone:
	case config.ThinkConstant:
		if t.Max, err = config.ParseDurationString(tc.Duration); err != nil {
			return t, err
		}
		t.Min = t.Max
	case config.ThinkRandom:
		if t.Min, err = config.ParseDurationString(tc.Min); err != nil {
			return t, err
		}
		if t.Max, err = config.ParseDurationString(tc.Max); err != nil {
			return t, err
		}
		if t.Min > t.Max {
			return t, fmt.Errorf("min %v exceeds max %v", t.Min, t.Max)
		}
	default:
		return t, fmt.Errorf("unknown think time type %q", tc.Type)
	}
	return t, nil
}
