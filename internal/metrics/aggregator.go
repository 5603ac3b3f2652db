// Package metrics aggregates iteration samples into counters and latency
// distributions.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram range in microseconds: 1µs to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Aggregator collects samples for one scenario (or a merged set of them).
//
// Counters are atomic and histograms are guarded by a mutex, so Append may be
// called from any number of VU goroutines. The result does not depend on the
// order samples arrive in: two aggregators fed the same multiset of samples
// report identical counts, rates and quantiles.
type Aggregator struct {
	name string
	now  func() time.Time

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	dropped        atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64

	activeVUs atomic.Int32

	mu          sync.Mutex
	latency     *distribution
	iteration   *distribution
	checks      map[string]*CheckCount
	statusCodes map[int]int64
	errorKinds  map[string]int64
	start       time.Time
	end         time.Time

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the time source used for the run window and phase changes.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an empty aggregator. The run window starts now.
func NewAggregator(name string, opts ...Option) *Aggregator {
	a := &Aggregator{
		name:         name,
		now:          time.Now,
		latency:      newDistribution(),
		iteration:    newDistribution(),
		checks:       make(map[string]*CheckCount),
		statusCodes:  make(map[int]int64),
		errorKinds:   make(map[string]int64),
		currentPhase: PhaseInit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.start = a.now()
	return a
}

// distribution is a latency histogram plus the exact extremes and sum of
// what it recorded. The histogram answers quantiles to within its bucket
// resolution; min, max and mean come from the exact values.
type distribution struct {
	h        *hdrhistogram.Histogram
	min, max time.Duration
	sum      time.Duration
}

func newDistribution() *distribution {
	return &distribution{h: hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)}
}

func (d *distribution) record(v time.Duration) {
	if d.h.TotalCount() == 0 || v < d.min {
		d.min = v
	}
	if v > d.max {
		d.max = v
	}
	d.sum += v
	_ = d.h.RecordValue(toMicros(v))
}

func (d *distribution) clone() *distribution {
	return &distribution{
		h:   hdrhistogram.Import(d.h.Export()),
		min: d.min,
		max: d.max,
		sum: d.sum,
	}
}

func (d *distribution) merge(other *distribution) {
	if other.h.TotalCount() == 0 {
		return
	}
	if d.h.TotalCount() == 0 || other.min < d.min {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}
	d.sum += other.sum
	d.h.Merge(other.h)
}

// quantile reports the histogram value at q, held inside the exact
// [min, max] range. A bucket's highest equivalent value can sit just above
// the largest sample in it; the clamp keeps a quantile from ever exceeding
// the true maximum.
func (d *distribution) quantile(q float64) time.Duration {
	if d.h.TotalCount() == 0 {
		return 0
	}
	v := time.Duration(d.h.ValueAtQuantile(q*100)) * time.Microsecond
	return min(max(v, d.min), d.max)
}

func (d *distribution) stats() LatencyStats {
	n := d.h.TotalCount()
	if n == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    d.min,
		Max:    d.max,
		Mean:   d.sum / time.Duration(n),
		StdDev: time.Duration(d.h.StdDev()) * time.Microsecond,
		P50:    d.quantile(0.50),
		P90:    d.quantile(0.90),
		P95:    d.quantile(0.95),
		P99:    d.quantile(0.99),
		Count:  n,
	}
}

// Name returns the aggregator name (usually the scenario name).
func (a *Aggregator) Name() string {
	return a.name
}

// Append records one iteration sample.
func (a *Aggregator) Append(s Sample) {
	a.totalRequests.Add(1)
	if s.Failed {
		a.failedRequests.Add(1)
	}
	a.bytesSent.Add(s.BytesSent)
	a.bytesReceived.Add(s.BytesReceived)

	// HDR histogram RecordValue is NOT thread-safe
	a.mu.Lock()
	defer a.mu.Unlock()

	a.latency.record(s.Latency)
	a.iteration.record(s.IterationDuration)
	a.statusCodes[s.Status]++
	if s.ErrorKind != "" {
		a.errorKinds[s.ErrorKind]++
	}
	for _, c := range s.Checks {
		cc, ok := a.checks[c.Name]
		if !ok {
			cc = &CheckCount{}
			a.checks[c.Name] = cc
		}
		if c.Passed {
			cc.Passes++
		} else {
			cc.Fails++
		}
	}
}

// RecordDropped counts an iteration start that was skipped because the VU
// pool was exhausted.
func (a *Aggregator) RecordDropped() {
	a.dropped.Add(1)
}

// toMicros clamps a duration into the histogram range.
func toMicros(d time.Duration) int64 {
	v := d.Microseconds()
	if v < histogramMin {
		v = histogramMin
	}
	if v > histogramMax {
		v = histogramMax
	}
	return v
}

// SetPhase updates the current phase. Repeated calls with the same phase are
// ignored.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phaseMu.Lock()
	defer a.phaseMu.Unlock()

	if a.currentPhase == phase {
		return
	}
	a.currentPhase = phase
	a.phaseHistory = append(a.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: a.now(),
		Requests:  a.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (a *Aggregator) Phase() Phase {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()
	return a.currentPhase
}

// PhaseHistory returns the phase transitions seen so far.
func (a *Aggregator) PhaseHistory() []PhaseChange {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()

	result := make([]PhaseChange, len(a.phaseHistory))
	copy(result, a.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU gauge.
func (a *Aggregator) SetActiveVUs(count int) {
	a.activeVUs.Store(int32(count))
}

// ActiveVUs returns the active VU gauge.
func (a *Aggregator) ActiveVUs() int {
	return int(a.activeVUs.Load())
}

// Begin restarts the run window. A scenario with a start offset calls it when
// it actually starts running.
func (a *Aggregator) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = a.now()
	a.end = time.Time{}
}

// Finish freezes the run window used for RPS.
func (a *Aggregator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.end.IsZero() {
		a.end = a.now()
	}
}

// Quantile returns the request latency at quantile q (0..1).
func (a *Aggregator) Quantile(q float64) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latency.quantile(q)
}

// IterationQuantile returns the iteration duration at quantile q (0..1).
func (a *Aggregator) IterationQuantile(q float64) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iteration.quantile(q)
}

// Merge folds other into a. other is not modified. Merging is commutative
// and associative, so scenario aggregators can be combined in any order.
func (a *Aggregator) Merge(other *Aggregator) {
	if other == nil || other == a {
		return
	}

	// Copy other's state under its own lock first so two aggregators merging
	// into each other cannot deadlock.
	other.mu.Lock()
	latency := other.latency.clone()
	iteration := other.iteration.clone()
	checks := make(map[string]CheckCount, len(other.checks))
	for name, c := range other.checks {
		checks[name] = *c
	}
	statusCodes := make(map[int]int64, len(other.statusCodes))
	for code, n := range other.statusCodes {
		statusCodes[code] = n
	}
	errorKinds := make(map[string]int64, len(other.errorKinds))
	for kind, n := range other.errorKinds {
		errorKinds[kind] = n
	}
	start, end := other.start, other.end
	other.mu.Unlock()

	a.totalRequests.Add(other.totalRequests.Load())
	a.failedRequests.Add(other.failedRequests.Load())
	a.dropped.Add(other.dropped.Load())
	a.bytesSent.Add(other.bytesSent.Load())
	a.bytesReceived.Add(other.bytesReceived.Load())
	a.activeVUs.Add(other.activeVUs.Load())

	a.mu.Lock()
	defer a.mu.Unlock()

	a.latency.merge(latency)
	a.iteration.merge(iteration)
	for name, c := range checks {
		cc, ok := a.checks[name]
		if !ok {
			cc = &CheckCount{}
			a.checks[name] = cc
		}
		cc.Passes += c.Passes
		cc.Fails += c.Fails
	}
	for code, n := range statusCodes {
		a.statusCodes[code] += n
	}
	for kind, n := range errorKinds {
		a.errorKinds[kind] += n
	}
	if a.start.IsZero() || start.Before(a.start) {
		a.start = start
	}
	if end.After(a.end) {
		a.end = end
	}
}

// Merged builds a new aggregator holding the union of the given ones.
func Merged(name string, aggs ...*Aggregator) *Aggregator {
	var opts []Option
	if len(aggs) > 0 {
		opts = append(opts, WithClock(aggs[0].now))
	}
	out := NewAggregator(name, opts...)
	if len(aggs) > 0 {
		// Merge widens the window to the union of the inputs' windows.
		out.start = time.Time{}
	}
	for _, agg := range aggs {
		out.Merge(agg)
	}
	// The merged view is done only once every input is done.
	for _, agg := range aggs {
		out.currentPhase = agg.Phase()
		if out.currentPhase != PhaseDone {
			break
		}
	}
	return out
}

// Snapshot returns a point-in-time view of all metrics.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	latency := a.latency.stats()
	iteration := a.iteration.stats()
	checks := make(map[string]CheckCount, len(a.checks))
	for name, c := range a.checks {
		checks[name] = *c
	}
	statusCodes := make(map[int]int64, len(a.statusCodes))
	for code, n := range a.statusCodes {
		statusCodes[code] = n
	}
	errorKinds := make(map[string]int64, len(a.errorKinds))
	for kind, n := range a.errorKinds {
		errorKinds[kind] = n
	}
	start, end := a.start, a.end
	a.mu.Unlock()

	now := a.now()
	if end.IsZero() {
		end = now
	}
	elapsed := end.Sub(start)

	totalReqs := a.totalRequests.Load()
	failedReqs := a.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		Name:              a.name,
		TotalRequests:     totalReqs,
		FailedRequests:    failedReqs,
		DroppedIterations: a.dropped.Load(),
		BytesSent:         a.bytesSent.Load(),
		BytesReceived:     a.bytesReceived.Load(),
		ErrorRate:         errorRate,
		RPS:               rps,
		Latency:           latency,
		IterationDuration: iteration,
		Checks:            checks,
		StatusCodes:       statusCodes,
		ErrorKinds:        errorKinds,
		ActiveVUs:         a.ActiveVUs(),
		CurrentPhase:      a.Phase(),
		Elapsed:           elapsed,
		StartTime:         start,
		Timestamp:         now,
	}
}
