// Package rate paces open-loop arrivals.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out arrival times spaced 1/rate apart.
//
// The bucket tracks when the next arrival is due rather than how many tokens
// are available. A consumer that falls behind gets its backlog released
// immediately, up to MaxBurst arrivals; anything older is forgotten so a
// stalled scheduler does not fire a storm of iterations when it wakes up.
//
// A rate of zero is legal and means "no arrivals": Wait blocks until the rate
// is raised or the context ends. Changing the rate rescales the pending gap,
// so a linear ramp driven by frequent SetRate calls stays smooth.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	mu       sync.Mutex
	now      func() time.Time
	rate     float64
	maxBurst float64
	next     time.Time
	changed  chan struct{}

	scheduled atomic.Int64
	waited    atomic.Int64
}

// Option configures a LeakyBucket.
type Option func(*LeakyBucket)

// WithClock replaces time.Now as the bucket's time source.
func WithClock(now func() time.Time) Option {
	return func(lb *LeakyBucket) { lb.now = now }
}

// WithMaxBurst sets how many overdue arrivals may be released at once.
// Values below 1 are raised to 1.
func WithMaxBurst(n float64) Option {
	return func(lb *LeakyBucket) {
		if n < 1 {
			n = 1
		}
		lb.maxBurst = n
	}
}

// NewLeakyBucket creates a bucket emitting rate arrivals per second.
// Negative rates are treated as zero.
func NewLeakyBucket(rate float64, opts ...Option) *LeakyBucket {
	if rate < 0 {
		rate = 0
	}
	lb := &LeakyBucket{
		now:      time.Now,
		rate:     rate,
		maxBurst: 1,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb
}

// reserve takes the next arrival slot and returns when it is due. The time
// may be in the past, meaning the arrival is overdue. ok is false when the
// rate is zero and no slot was reserved; changed is closed on the next
// SetRate.
func (lb *LeakyBucket) reserve() (time.Time, bool, <-chan struct{}) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.rate <= 0 {
		return time.Time{}, false, lb.changed
	}
	now := lb.now()
	interval := lb.interval()
	if lb.next.IsZero() {
		lb.next = now
	}
	floor := now.Add(-time.Duration(float64(interval) * (lb.maxBurst - 1)))
	if lb.next.Before(floor) {
		lb.next = floor
	}

	t := lb.next
	lb.next = lb.next.Add(interval)
	lb.scheduled.Add(1)
	if t.After(now) {
		lb.waited.Add(int64(t.Sub(now)))
	}
	return t, true, lb.changed
}

// interval must be called with mu held and rate > 0.
func (lb *LeakyBucket) interval() time.Duration {
	return time.Duration(float64(time.Second) / lb.rate)
}

// Wait blocks until the next arrival is due. It returns ctx.Err() if the
// context ends first.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	for {
		t, ok, changed := lb.reserve()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
				continue
			}
		}

		d := t.Sub(lb.now())
		if d <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// SetRate changes the arrival rate. The gap to the next pending arrival is
// scaled by old/new so the schedule bends instead of restarting.
func (lb *LeakyBucket) SetRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate == lb.rate {
		return
	}
	now := lb.now()
	switch {
	case rate == 0:
		lb.next = time.Time{}
	case lb.rate == 0 || lb.next.IsZero():
		lb.next = now
	case lb.next.After(now):
		remaining := float64(lb.next.Sub(now)) * lb.rate / rate
		lb.next = now.Add(time.Duration(remaining))
	}
	lb.rate = rate

	close(lb.changed)
	lb.changed = make(chan struct{})
}

// Rate returns the current arrival rate per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats describes the bucket's activity so far.
type Stats struct {
	Rate      float64       `json:"rate"`
	MaxBurst  float64       `json:"maxBurst"`
	Scheduled int64         `json:"scheduled"`
	Waited    time.Duration `json:"waited"`
}

// Stats returns the current rate and how many arrivals have been handed out.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate, burst := lb.rate, lb.maxBurst
	lb.mu.Unlock()
	return Stats{
		Rate:      rate,
		MaxBurst:  burst,
		Scheduled: lb.scheduled.Load(),
		Waited:    time.Duration(lb.waited.Load()),
	}
}
