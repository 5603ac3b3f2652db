package executor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/vu"
)

// ConstantVUs keeps a fixed number of VUs looping for a duration. It also
// backs per-vu-iterations, where every VU stops after a fixed number of
// iterations and Duration is only an upper bound.
type ConstantVUs struct {
	config *Config

	startTime atomic.Pointer[time.Time]
	sched     atomic.Pointer[vu.Scheduler]
}

// NewConstantVUs creates a constant-vus or per-vu-iterations executor.
func NewConstantVUs(cfg *Config) *ConstantVUs {
	return &ConstantVUs{config: cfg}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return e.config.Type
}

// Run spawns the VUs and waits for them.
func (e *ConstantVUs) Run(ctx context.Context, sched *vu.Scheduler) error {
	now := time.Now()
	e.startTime.Store(&now)
	e.sched.Store(sched)

	schedCtx, iterCtx, stop := runContexts(ctx, sched, e.config.Duration, e.config.GracefulStop)
	defer stop()

	var limit int64
	if e.config.Type == TypePerVUIterations {
		limit = e.config.Iterations
	}

	agg := sched.Aggregator()
	agg.SetPhase(metrics.PhaseSteady)
	sched.Logger().Debug("starting VUs",
		zap.String("executor", string(e.config.Type)),
		zap.Int("vus", e.config.VUs),
		zap.Int64("iterations", limit),
		zap.Duration("duration", e.config.Duration))

	for i := 0; i < e.config.VUs; i++ {
		sched.Go(sched.Spawn(), func(v *vu.VirtualUser) {
			sched.RunVU(schedCtx, iterCtx, v, limit)
		})
	}
	sched.SetActiveVUs(e.config.VUs)

	sched.Wait()
	agg.SetPhase(metrics.PhaseDone)
	return nil
}

// Progress returns elapsed time over duration, or completed iterations over
// the total for per-vu-iterations.
func (e *ConstantVUs) Progress() float64 {
	start := e.startTime.Load()
	if start == nil {
		return 0
	}
	if e.config.Type == TypePerVUIterations {
		total := e.config.Iterations * int64(e.config.VUs)
		return float64(e.iterations()) / float64(total)
	}
	return progress(*start, e.config.Duration)
}

func (e *ConstantVUs) iterations() int64 {
	sched := e.sched.Load()
	if sched == nil {
		return 0
	}
	var n int64
	for id := 1; id <= sched.Allocated(); id++ {
		if v := sched.VU(id); v != nil {
			n += v.Iterations()
		}
	}
	return n
}

// Stats returns executor statistics.
func (e *ConstantVUs) Stats() *Stats {
	s := &Stats{
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.VUs,
		Iterations:    e.iterations(),
	}
	if start := e.startTime.Load(); start != nil {
		s.StartTime = *start
		s.Elapsed = time.Since(*start)
	}
	if sched := e.sched.Load(); sched != nil {
		s.ActiveVUs = len(sched.Active())
		s.AllocatedVUs = sched.Allocated()
	}
	return s
}

var _ Executor = (*ConstantVUs)(nil)
