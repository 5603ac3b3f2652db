// Package engine runs a test configuration end to end: it compiles the
// scenarios, drives their executors, aggregates the samples and evaluates
// the thresholds into a verdict.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/executor"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/threshold"
	"github.com/wesleyorama2/volley/internal/transport"
	"github.com/wesleyorama2/volley/internal/vu"
)

// TotalName is the name of the merged, all-scenario aggregate.
const TotalName = "total"

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("engine: run already started")

// Engine is a single run of a test configuration. Everything the run needs
// lives here: the id, the clock, the shared client and one aggregator per
// scenario. An Engine runs once.
type Engine struct {
	id        uuid.UUID
	config    *config.TestConfig
	logger    *zap.Logger
	now       func() time.Time
	collector *metrics.Collector

	client     *transport.Client
	thresholds []threshold.Threshold
	runners    []*runner

	started   atomic.Bool
	startTime atomic.Pointer[time.Time]
}

// runner is one compiled scenario.
type runner struct {
	name        string
	startOffset time.Duration
	config      *executor.Config
	executor    executor.Executor
	scheduler   *vu.Scheduler
	agg         *metrics.Aggregator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the time source for samples and the run window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCollector attaches every scenario aggregator to c for scraping.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

// New compiles cfg into a runnable Engine. Defaults are applied to cfg.
// Any configuration problem is returned before a single request is sent.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	e := &Engine{
		id:     id,
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("run", id.String()))

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e.thresholds, err = threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Settings.Seed == 0 {
		cfg.Settings.Seed = clockSeed(e.now())
	}
	e.logger.Debug("payload seed", zap.Int64("seed", cfg.Settings.Seed))

	clientCfg, err := transportConfig(&cfg.Settings, cfg.Variables)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	e.client = transport.NewClient(clientCfg, transport.WithLogger(e.logger))

	var errs *multierror.Error
	for _, name := range cfg.ScenarioNames() {
		r, err := e.compile(name, cfg.Scenarios[name])
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		e.runners = append(e.runners, r)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if e.collector != nil {
		for _, r := range e.runners {
			e.collector.Attach(r.agg)
		}
	}
	return e, nil
}

func (e *Engine) compile(name string, sc *config.ScenarioConfig) (*runner, error) {
	scenario, err := vu.NewScenario(name, sc, e.config)
	if err != nil {
		return nil, err
	}
	execCfg, err := executor.FromScenario(name, sc)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(execCfg)
	if err != nil {
		return nil, err
	}

	var offset time.Duration
	if sc.StartTime != "" {
		if offset, err = config.ParseDurationString(sc.StartTime); err != nil {
			return nil, config.NewValidationError(fmt.Sprintf("scenarios.%s.startTime", name), err.Error())
		}
	}

	agg := metrics.NewAggregator(name, metrics.WithClock(e.now))
	sched := vu.NewScheduler(scenario, e.client, agg,
		vu.WithLogger(e.logger),
		vu.WithClock(e.now),
		vu.WithSeed(e.config.Settings.Seed))

	return &runner{
		name:        name,
		startOffset: offset,
		config:      execCfg,
		executor:    exec,
		scheduler:   sched,
		agg:         agg,
	}, nil
}

// clockSeed derives a non-zero seed from t.
func clockSeed(t time.Time) int64 {
	if seed := t.UnixNano(); seed != 0 {
		return seed
	}
	return 1
}

func transportConfig(s *config.GlobalSettings, vars map[string]string) (transport.Config, error) {
	cfg := transport.DefaultConfig()
	if s.Timeout != "" {
		d, err := config.ParseDurationString(s.Timeout)
		if err != nil {
			return cfg, config.NewValidationError("settings.timeout", err.Error())
		}
		cfg.Timeout = d
	}
	cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	cfg.DisableKeepAlives = s.DisableKeepAlives
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	cfg.UserAgent = s.UserAgent
	cfg.Headers = make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		cfg.Headers[k] = config.ResolveVariables(v, vars, s)
	}
	return cfg, nil
}

// ID returns the run id. Ids are time ordered.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Scenarios returns the scenario names in run order.
func (e *Engine) Scenarios() []string {
	names := make([]string, len(e.runners))
	for i, r := range e.runners {
		names[i] = r.name
	}
	return names
}

// Seed returns the seed randomized payloads and think times are drawn from.
// Setting it as settings.seed replays the run's payloads.
func (e *Engine) Seed() int64 {
	return e.config.Settings.Seed
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() []threshold.Threshold {
	return e.thresholds
}
