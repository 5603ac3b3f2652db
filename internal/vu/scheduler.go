package vu

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/transport"
)

// Scheduler owns the VU pool of one scenario. Executors ask it for VUs and
// use RunVU or RunIteration to drive them. All VUs share one transport
// client so connections are pooled across the scenario.
type Scheduler struct {
	scenario *Scenario
	client   *transport.Client
	agg      *metrics.Aggregator
	logger   *zap.Logger
	now      func() time.Time
	seed     int64

	mu     sync.RWMutex
	vus    map[int]*VirtualUser
	nextID atomic.Int32

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock sets the time source used for samples.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSeed seeds per-VU think time randomness.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) {
		s.seed = seed
	}
}

// NewScheduler creates an empty pool for scenario.
func NewScheduler(scenario *Scenario, client *transport.Client, agg *metrics.Aggregator, opts ...Option) *Scheduler {
	s := &Scheduler{
		scenario: scenario,
		client:   client,
		agg:      agg,
		logger:   zap.NewNop(),
		now:      time.Now,
		vus:      make(map[int]*VirtualUser),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("scenario", scenario.Name))
	return s
}

// Scenario returns the scenario this pool runs.
func (s *Scheduler) Scenario() *Scenario {
	return s.scenario
}

// Aggregator returns the aggregator samples are appended to.
func (s *Scheduler) Aggregator() *metrics.Aggregator {
	return s.agg
}

// Logger returns the scenario logger.
func (s *Scheduler) Logger() *zap.Logger {
	return s.logger
}

// Spawn allocates a new VU. The caller runs it, normally via Go.
func (s *Scheduler) Spawn() *VirtualUser {
	id := int(s.nextID.Add(1))
	vu := newVirtualUser(id, s)

	s.mu.Lock()
	s.vus[id] = vu
	s.mu.Unlock()
	return vu
}

// Go runs fn for vu on a tracked goroutine and marks the VU stopped when fn
// returns.
func (s *Scheduler) Go(vu *VirtualUser, fn func(vu *VirtualUser)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer vu.markStopped()
		fn(vu)
	}()
}

// RunVU loops iterations on vu until schedCtx ends, the VU is asked to stop,
// or limit iterations have run (limit <= 0 means no limit). In-flight work is
// bounded by iterCtx, which outlives schedCtx by the graceful stop period.
func (s *Scheduler) RunVU(schedCtx, iterCtx context.Context, vu *VirtualUser, limit int64) {
	for limit <= 0 || vu.Iterations() < limit {
		if schedCtx.Err() != nil || vu.Stopping() {
			return
		}
		vu.RunIteration(iterCtx)
	}
}

// VU returns the VU with id, or nil.
func (s *Scheduler) VU(id int) *VirtualUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vus[id]
}

// Active returns the VUs that have not stopped, ordered by id.
func (s *Scheduler) Active() []*VirtualUser {
	s.mu.RLock()
	out := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.State() != StateStopped {
			out = append(out, vu)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Allocated returns how many VUs have been spawned.
func (s *Scheduler) Allocated() int {
	return int(s.nextID.Load())
}

// SetActiveVUs publishes the active VU gauge.
func (s *Scheduler) SetActiveVUs(n int) {
	s.agg.SetActiveVUs(n)
}

// StopAll asks every VU to stop after its current iteration.
func (s *Scheduler) StopAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every goroutine started with Go has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.agg.SetActiveVUs(0)
}
