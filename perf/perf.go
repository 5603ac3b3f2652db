package perf

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/threshold"
)

// Configuration types.
type (
	TestConfig      = config.TestConfig
	GlobalSettings  = config.GlobalSettings
	ScenarioConfig  = config.ScenarioConfig
	StageConfig     = config.StageConfig
	RequestConfig   = config.RequestConfig
	PayloadConfig   = config.PayloadConfig
	FieldConfig     = config.FieldConfig
	BulkConfig      = config.BulkConfig
	CheckConfig     = config.CheckConfig
	ThinkTimeConfig = config.ThinkTimeConfig
)

// Result types.
type (
	Result          = engine.Result
	ScenarioResult  = engine.ScenarioResult
	Snapshot        = metrics.Snapshot
	Verdict         = threshold.Verdict
	ThresholdResult = threshold.Result
)

// ErrAlreadyRun is returned when a Runner is run twice.
var ErrAlreadyRun = engine.ErrAlreadyRun

// IsConfigError reports whether err came from configuration validation.
func IsConfigError(err error) bool {
	return config.IsValidationError(err)
}

// LoadConfig reads a YAML or JSON test file.
func LoadConfig(path string) (*TestConfig, error) {
	return config.LoadConfig(path)
}

// ParseConfig parses a test document; path picks the format by extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	return config.ParseConfig(data, path)
}

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	collector *metrics.Collector
}

// WithLogger sets the logger passed to the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollector attaches the run's aggregators to c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) {
		o.collector = c
	}
}

// NewCollector returns a Prometheus collector for WithCollector.
func NewCollector() *metrics.Collector {
	return metrics.NewCollector()
}

// Runner runs one test configuration once.
type Runner struct {
	eng *engine.Engine
}

// NewRunner validates cfg and prepares a run. Configuration problems are
// reported here, before any request is sent.
func NewRunner(cfg *TestConfig, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("perf: nil config")
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := []engine.Option{engine.WithLogger(o.logger)}
	if o.collector != nil {
		engineOpts = append(engineOpts, engine.WithCollector(o.collector))
	}
	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	return &Runner{eng: eng}, nil
}

// ID returns the run id.
func (r *Runner) ID() string {
	return r.eng.ID().String()
}

// Run executes the test. A cancelled ctx ends the run early; the partial
// result is still returned, marked Aborted.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.eng.Run(ctx)
}

// Snapshot returns live metrics merged across scenarios.
func (r *Runner) Snapshot() *Snapshot {
	return r.eng.Snapshot()
}

// Progress returns the completed fraction of the run, 0 to 1.
func (r *Runner) Progress() float64 {
	return r.eng.Progress()
}

// RunTest builds a Runner and runs it.
func RunTest(ctx context.Context, cfg *TestConfig, opts ...Option) (*Result, error) {
	r, err := NewRunner(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}
