package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/volley/internal/executor"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/threshold"
)

// Result is the outcome of a run.
type Result struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Seed is the payload seed; zero in the config means one was drawn from
	// the clock, and this is it.
	Seed int64 `json:"seed"`

	// Aborted is set when the run was cancelled before its scenarios ended.
	Aborted bool `json:"aborted,omitempty"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Metrics aggregates every scenario.
	Metrics *metrics.Snapshot `json:"metrics"`

	Verdict threshold.Verdict `json:"verdict"`
}

// Passed reports whether every threshold passed.
func (r *Result) Passed() bool {
	return r.Verdict.Passed
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name        string            `json:"name"`
	Executor    string            `json:"executor"`
	StartOffset time.Duration     `json:"startOffset,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Iterations  int64             `json:"iterations"`
	Metrics     *metrics.Snapshot `json:"metrics"`

	// Stats is the executor's final state: VUs allocated, drops and, for
	// arrival-rate executors, the pacer.
	Stats *executor.Stats `json:"stats,omitempty"`

	// Phases lists the executor's phase transitions in order.
	Phases []metrics.PhaseChange `json:"phases,omitempty"`
}

// Run executes every scenario and evaluates the thresholds.
//
// Scenarios run concurrently unless options.sequential is set. Cancelling
// ctx stops scheduling everywhere; in-flight iterations get their graceful
// stop and the result is still returned, marked Aborted.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	start := e.now()
	e.startTime.Store(&start)

	e.logger.Info("run started",
		zap.String("name", e.config.Name),
		zap.Strings("scenarios", e.Scenarios()),
		zap.Int("thresholds", len(e.thresholds)))

	var err error
	if e.config.Options != nil && e.config.Options.Sequential {
		err = e.runSequentially(ctx)
	} else {
		err = e.runConcurrently(ctx)
	}
	e.client.CloseIdleConnections()

	end := e.now()
	aggs := make([]*metrics.Aggregator, len(e.runners))
	byScenario := make(map[string]threshold.Source, len(e.runners))
	result := &Result{
		ID:          e.id.String(),
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Seed:        e.config.Settings.Seed,
		Aborted:     ctx.Err() != nil,
		Scenarios:   make(map[string]*ScenarioResult, len(e.runners)),
	}
	for i, r := range e.runners {
		r.agg.Finish()
		aggs[i] = r.agg
		byScenario[r.name] = r.agg
		stats := r.executor.Stats()
		snap := r.agg.Snapshot()
		result.Scenarios[r.name] = &ScenarioResult{
			Name:        r.name,
			Executor:    string(r.config.Type),
			StartOffset: r.startOffset,
			Duration:    snap.Elapsed,
			Iterations:  stats.Iterations,
			Metrics:     snap,
			Stats:       stats,
			Phases:      r.agg.PhaseHistory(),
		}
	}

	total := metrics.Merged(TotalName, aggs...)
	result.Metrics = total.Snapshot()
	result.Verdict = threshold.Evaluate(e.thresholds, total, byScenario)

	for _, f := range result.Verdict.Failed() {
		e.logger.Warn("threshold failed",
			zap.String("metric", f.Metric),
			zap.String("expression", f.Expression),
			zap.String("message", f.Message))
	}
	e.logger.Info("run finished",
		zap.Bool("passed", result.Verdict.Passed),
		zap.Bool("aborted", result.Aborted),
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Float64("errorRate", result.Metrics.ErrorRate),
		zap.Duration("duration", result.Duration))

	return result, err
}

func (e *Engine) runConcurrently(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range e.runners {
		r := r
		g.Go(func() error {
			if !sleep(gctx, r.startOffset) {
				return nil
			}
			return e.runScenario(gctx, r)
		})
	}
	return g.Wait()
}

// runSequentially runs the scenarios one after another in name order. A
// start offset is measured from the beginning of the run.
func (e *Engine) runSequentially(ctx context.Context) error {
	start := *e.startTime.Load()
	for _, r := range e.runners {
		if !sleep(ctx, r.startOffset-e.now().Sub(start)) {
			return nil
		}
		if err := e.runScenario(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runScenario(ctx context.Context, r *runner) error {
	logger := e.logger.With(zap.String("scenario", r.name))
	logger.Info("scenario started",
		zap.String("executor", string(r.config.Type)),
		zap.Int("maxVUs", r.config.MaxVUCount()),
		zap.Duration("duration", r.config.TotalDuration()))

	r.agg.Begin()
	err := r.executor.Run(ctx, r.scheduler)
	r.agg.Finish()
	if err != nil {
		return fmt.Errorf("scenario %s: %w", r.name, err)
	}

	snap := r.agg.Snapshot()
	logger.Info("scenario finished",
		zap.Int64("requests", snap.TotalRequests),
		zap.Int64("failed", snap.FailedRequests),
		zap.Int64("dropped", snap.DroppedIterations),
		zap.Duration("p95", snap.Latency.P95))
	return nil
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Progress returns the average progress of all scenarios, between 0 and 1.
func (e *Engine) Progress() float64 {
	if len(e.runners) == 0 {
		return 0
	}
	var sum float64
	for _, r := range e.runners {
		sum += r.executor.Progress()
	}
	return sum / float64(len(e.runners))
}

// Snapshot returns a live view merged across scenarios.
func (e *Engine) Snapshot() *metrics.Snapshot {
	aggs := make([]*metrics.Aggregator, len(e.runners))
	for i, r := range e.runners {
		aggs[i] = r.agg
	}
	return metrics.Merged(TotalName, aggs...).Snapshot()
}

// MaxVUs returns the largest number of VUs the run can hold at once.
func (e *Engine) MaxVUs() int {
	total := 0
	for _, r := range e.runners {
		total += r.config.MaxVUCount()
	}
	return total
}
