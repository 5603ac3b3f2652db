package executor

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/volley/internal/config"
)

// New validates cfg and returns the executor for its type.
func New(cfg *Config) (Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeConstantVUs, TypePerVUIterations:
		return NewConstantVUs(cfg), nil
	case TypeRampingVUs:
		return NewRampingVUs(cfg), nil
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return NewArrivalRate(cfg), nil
	}
	return nil, fmt.Errorf("unknown executor type: %s", cfg.Type)
}

// FromScenario converts a scenario configuration into an executor Config.
// Defaults are expected to have been applied already.
func FromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		StartVUs:        sc.StartVUs,
		Iterations:      sc.Iterations,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	field := func(f string) string { return fmt.Sprintf("scenarios.%s.%s", name, f) }
	parse := func(f, s string, dst *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := config.ParseDurationString(s)
		if err != nil {
			return config.NewValidationError(field(f), err.Error())
		}
		*dst = d
		return nil
	}

	if err := parse("duration", sc.Duration, &cfg.Duration); err != nil {
		return nil, err
	}
	if err := parse("gracefulStop", sc.GracefulStop, &cfg.GracefulStop); err != nil {
		return nil, err
	}
	if err := parse("timeUnit", sc.TimeUnit, &cfg.TimeUnit); err != nil {
		return nil, err
	}
	for i, st := range sc.Stages {
		stage := Stage{Target: st.Target, Name: st.Name}
		if err := parse(fmt.Sprintf("stages[%d].duration", i), st.Duration, &stage.Duration); err != nil {
			return nil, err
		}
		cfg.Stages = append(cfg.Stages, stage)
	}
	return cfg, nil
}

// Supported returns every executor type, in documentation order.
func Supported() []Type {
	return []Type{
		TypeConstantVUs,
		TypePerVUIterations,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
	}
}

// Describe returns a one-line description of an executor type.
func Describe(t Type) string {
	switch t {
	case TypeConstantVUs:
		return "fixed number of VUs looping for a duration (closed model)"
	case TypePerVUIterations:
		return "each VU runs a fixed number of iterations"
	case TypeRampingVUs:
		return "VU count follows stages, interpolated linearly"
	case TypeConstantArrivalRate:
		return "fixed iteration start rate regardless of response time (open model)"
	case TypeRampingArrivalRate:
		return "iteration start rate follows stages; starts beyond maxVUs are dropped"
	}
	return ""
}
