package executor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/rate"
	"github.com/wesleyorama2/volley/internal/vu"
)

// ArrivalRate starts iterations on a clock, independent of how long earlier
// iterations take. It implements both constant-arrival-rate (one flat stage
// at Rate) and ramping-arrival-rate (from StartRate through Stages).
//
// PreAllocatedVUs workers exist from the start. When an iteration is due and
// no worker is idle, a new one is spawned up to MaxVUs; past that the start
// is dropped and counted, and the ticker never waits for a free VU.
type ArrivalRate struct {
	config *Config
	ramp   ramp

	// starts hands an iteration to an idle worker. It is buffered to MaxVUs
	// and only written while busy < allocated, so a send never blocks and
	// is always picked up by a worker that is not running an iteration.
	starts chan struct{}

	bucket       atomic.Pointer[rate.LeakyBucket]
	startTime    atomic.Pointer[time.Time]
	currentStage atomic.Int32
	currentRate  atomic.Uint64
	iterations   atomic.Int64
	dropped      atomic.Int64
	allocated    atomic.Int32
	busy         atomic.Int32
}

// NewArrivalRate creates an arrival-rate executor for either arrival type.
func NewArrivalRate(cfg *Config) *ArrivalRate {
	r := ramp{start: cfg.StartRate, stages: cfg.Stages}
	if cfg.Type == TypeConstantArrivalRate {
		flat := int(math.Round(cfg.Rate))
		r = ramp{
			start:  float64(flat),
			stages: []Stage{{Duration: cfg.Duration, Target: flat}},
		}
	}
	return &ArrivalRate{
		config: cfg,
		ramp:   r,
		starts: make(chan struct{}, max(cfg.MaxVUs, cfg.PreAllocatedVUs, 1)),
	}
}

// Type returns the executor type.
func (e *ArrivalRate) Type() Type {
	return e.config.Type
}

// perSecond converts a per-TimeUnit value to a per-second rate.
func (e *ArrivalRate) perSecond(v float64) float64 {
	return v / e.config.TimeUnit.Seconds()
}

func (e *ArrivalRate) rateAt(elapsed time.Duration) (float64, int) {
	if e.config.Type == TypeConstantArrivalRate {
		return e.perSecond(e.config.Rate), 0
	}
	v, stage := e.ramp.at(elapsed)
	return e.perSecond(v), stage
}

// Run schedules iterations until the stages are over.
func (e *ArrivalRate) Run(ctx context.Context, sched *vu.Scheduler) error {
	start := time.Now()
	e.startTime.Store(&start)

	schedCtx, iterCtx, stop := runContexts(ctx, sched, e.config.TotalDuration(), e.config.GracefulStop)
	defer stop()

	logger := sched.Logger()
	initial, _ := e.rateAt(0)
	bucket := rate.NewLeakyBucket(initial)
	e.bucket.Store(bucket)
	e.setRate(bucket, 0, sched)

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		e.spawn(schedCtx, iterCtx, sched, false)
	}
	logger.Debug("pre-allocated VUs",
		zap.Int("preAllocatedVUs", e.config.PreAllocatedVUs),
		zap.Int("maxVUs", e.config.MaxVUs),
		zap.Float64("rate", initial))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(controlInterval)
		defer ticker.Stop()
		for {
			select {
			case <-schedCtx.Done():
				return
			case <-ticker.C:
				e.setRate(bucket, time.Since(start), sched)
			}
		}
	}()

	for bucket.Wait(schedCtx) == nil {
		e.dispatch(schedCtx, iterCtx, sched)
	}
	<-done

	sched.Wait()
	// starts still queued when the schedule ended never ran
	for len(e.starts) > 0 {
		<-e.starts
		sched.SetActiveVUs(int(e.busy.Add(-1)))
	}
	if d := e.dropped.Load(); d > 0 {
		logger.Warn("iterations dropped, VU pool exhausted",
			zap.Int64("dropped", d),
			zap.Int("maxVUs", e.config.MaxVUs))
	}
	sched.Aggregator().SetPhase(e.ramp.phase(len(e.ramp.stages)))
	return nil
}

func (e *ArrivalRate) setRate(bucket *rate.LeakyBucket, elapsed time.Duration, sched *vu.Scheduler) {
	r, stage := e.rateAt(elapsed)
	bucket.SetRate(r)
	e.currentRate.Store(math.Float64bits(r))
	e.currentStage.Store(int32(stage))
	if stage < len(e.ramp.stages) {
		sched.Aggregator().SetPhase(e.ramp.phase(stage))
	}
}

// dispatch hands one due iteration to an idle worker, spawns a worker when
// every allocated one is busy, or drops the start once MaxVUs are busy.
// busy counts claimed iterations, so it is raised here and lowered when the
// iteration finishes.
func (e *ArrivalRate) dispatch(schedCtx, iterCtx context.Context, sched *vu.Scheduler) {
	allocated := int(e.allocated.Load())
	busy := int(e.busy.Load())
	switch {
	case busy < allocated:
		sched.SetActiveVUs(int(e.busy.Add(1)))
		e.starts <- struct{}{}
	case allocated < e.config.MaxVUs:
		sched.SetActiveVUs(int(e.busy.Add(1)))
		e.spawn(schedCtx, iterCtx, sched, true)
	default:
		e.dropped.Add(1)
		sched.Aggregator().RecordDropped()
	}
}

// spawn adds a worker. With first set the worker runs an iteration right
// away, for the start that found no idle VU.
func (e *ArrivalRate) spawn(schedCtx, iterCtx context.Context, sched *vu.Scheduler, first bool) {
	e.allocated.Add(1)
	sched.Go(sched.Spawn(), func(v *vu.VirtualUser) {
		if first {
			e.iterate(iterCtx, v, sched)
		}
		for {
			select {
			case <-schedCtx.Done():
				return
			case <-e.starts:
				e.iterate(iterCtx, v, sched)
			}
		}
	})
}

func (e *ArrivalRate) iterate(ctx context.Context, v *vu.VirtualUser, sched *vu.Scheduler) {
	v.RunIteration(ctx)
	e.iterations.Add(1)
	sched.SetActiveVUs(int(e.busy.Add(-1)))
}

// Progress returns elapsed time over the total duration.
func (e *ArrivalRate) Progress() float64 {
	start := e.startTime.Load()
	if start == nil {
		return 0
	}
	return progress(*start, e.config.TotalDuration())
}

// Stats returns executor statistics.
func (e *ArrivalRate) Stats() *Stats {
	s := &Stats{
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     int(e.busy.Load()),
		TargetVUs:     e.config.MaxVUs,
		AllocatedVUs:  int(e.allocated.Load()),
		Iterations:    e.iterations.Load(),
		Dropped:       e.dropped.Load(),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.ramp.stages),
		CurrentRate:   math.Float64frombits(e.currentRate.Load()),
	}
	if bucket := e.bucket.Load(); bucket != nil {
		arrivals := bucket.Stats()
		s.Arrivals = &arrivals
	}
	if start := e.startTime.Load(); start != nil {
		s.StartTime = *start
		s.Elapsed = time.Since(*start)
	}
	return s
}

var _ Executor = (*ArrivalRate)(nil)
