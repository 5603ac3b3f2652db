package executor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/vu"
)

// RampingVUs moves the number of looping VUs through stages, starting from
// StartVUs and interpolating linearly within each stage.
//
// The pool is allocated once at the largest target. A VU whose index is at or
// above the current target parks between iterations until the target rises
// again, so concurrency never exceeds the configured maximum. A VU that is
// mid-iteration when the target drops finishes that iteration first.
type RampingVUs struct {
	config *Config
	ramp   ramp
	gate   *gate

	startTime    atomic.Pointer[time.Time]
	currentStage atomic.Int32
	iterations   atomic.Int64
	allocated    atomic.Int32
}

// NewRampingVUs creates a ramping-vus executor.
func NewRampingVUs(cfg *Config) *RampingVUs {
	return &RampingVUs{
		config: cfg,
		ramp:   ramp{start: float64(cfg.StartVUs), stages: cfg.Stages},
		gate:   newGate(),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Run executes the stages.
func (e *RampingVUs) Run(ctx context.Context, sched *vu.Scheduler) error {
	start := time.Now()
	e.startTime.Store(&start)

	schedCtx, iterCtx, stop := runContexts(ctx, sched, e.config.TotalDuration(), e.config.GracefulStop)
	defer stop()

	agg := sched.Aggregator()
	logger := sched.Logger()
	e.adjust(0, sched)

	pool := e.config.MaxVUCount()
	for i := 0; i < pool; i++ {
		index := i
		sched.Go(sched.Spawn(), func(v *vu.VirtualUser) {
			e.loop(schedCtx, iterCtx, v, index)
		})
	}
	e.allocated.Store(int32(pool))
	logger.Debug("allocated VU pool", zap.Int("vus", pool), zap.Int("stages", len(e.config.Stages)))

	ticker := time.NewTicker(controlInterval)
	defer ticker.Stop()
	lastStage := -1
	for running := true; running; {
		select {
		case <-schedCtx.Done():
			running = false
		case <-ticker.C:
			stage := e.adjust(time.Since(start), sched)
			if stage != lastStage {
				logger.Debug("stage started", zap.Int("stage", stage), zap.Int("target", e.gate.current()))
				lastStage = stage
			}
		}
	}

	sched.Wait()
	agg.SetPhase(e.ramp.phase(len(e.config.Stages)))
	return nil
}

// adjust moves the gate to the target at elapsed and returns the stage.
func (e *RampingVUs) adjust(elapsed time.Duration, sched *vu.Scheduler) int {
	value, stage := e.ramp.at(elapsed)
	target := int(math.Round(value))
	e.gate.set(target)
	e.currentStage.Store(int32(stage))
	sched.SetActiveVUs(target)
	if stage < len(e.config.Stages) {
		sched.Aggregator().SetPhase(e.ramp.phase(stage))
	}
	return stage
}

func (e *RampingVUs) loop(schedCtx, iterCtx context.Context, v *vu.VirtualUser, index int) {
	for schedCtx.Err() == nil {
		admitted, changed := e.gate.admit(index)
		if !admitted {
			select {
			case <-schedCtx.Done():
				return
			case <-changed:
				continue
			}
		}
		v.RunIteration(iterCtx)
		e.iterations.Add(1)
	}
}

// Progress returns elapsed time over the total stage duration.
func (e *RampingVUs) Progress() float64 {
	start := e.startTime.Load()
	if start == nil {
		return 0
	}
	return progress(*start, e.config.TotalDuration())
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() *Stats {
	s := &Stats{
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     e.gate.current(),
		TargetVUs:     e.config.MaxVUCount(),
		AllocatedVUs:  int(e.allocated.Load()),
		Iterations:    e.iterations.Load(),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
	}
	if start := e.startTime.Load(); start != nil {
		s.StartTime = *start
		s.Elapsed = time.Since(*start)
	}
	return s
}

// gate admits VUs with an index below the current target. Parked VUs wait
// on a channel that is closed whenever the target changes.
type gate struct {
	mu      sync.Mutex
	target  int
	changed chan struct{}
}

func newGate() *gate {
	return &gate{changed: make(chan struct{})}
}

func (g *gate) set(target int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if target == g.target {
		return
	}
	g.target = target
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *gate) admit(index int) (bool, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return index < g.target, g.changed
}

func (g *gate) current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

var _ Executor = (*RampingVUs)(nil)
