// Package executor provides the load generation strategies that decide when
// virtual users start iterations.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/rate"
	"github.com/wesleyorama2/volley/internal/vu"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypePerVUIterations runs a fixed number of iterations per VU.
	TypePerVUIterations Type = "per-vu-iterations"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration start rate through stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// controlInterval is how often ramping executors re-evaluate their target.
const controlInterval = 100 * time.Millisecond

// Executor drives one scenario's VU pool.
//
// Closed-model executors (constant-vus, per-vu-iterations, ramping-vus) keep
// a number of VUs looping. Open-model executors (the arrival-rate ones) start
// iterations on a clock regardless of how long earlier ones take.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Run blocks until the scenario is done. Cancelling ctx stops new
	// iterations; in-flight ones get the graceful stop period before they
	// are interrupted.
	Run(ctx context.Context, sched *vu.Scheduler) error

	// Progress returns a value between 0 and 1.
	Progress() float64

	// Stats returns executor-specific statistics.
	Stats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name"`
	Type Type   `json:"type"`

	// VU-based executors
	VUs        int           `json:"vus,omitempty"`
	StartVUs   int           `json:"startVUs,omitempty"`
	Iterations int64         `json:"iterations,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	// Arrival-rate executors. Rates and stage targets are per TimeUnit.
	Rate            float64       `json:"rate,omitempty"`
	StartRate       float64       `json:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty"`

	Stages []Stage `json:"stages,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop,omitempty"`
}

// Stage is one leg of a ramp: move linearly to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
	Name     string        `json:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs    int `json:"activeVUs"`
	TargetVUs    int `json:"targetVUs"`
	AllocatedVUs int `json:"allocatedVUs"`

	Iterations int64 `json:"iterations"`
	Dropped    int64 `json:"dropped"`

	CurrentStage int `json:"currentStage"`
	TotalStages  int `json:"totalStages"`

	// CurrentRate is in iterations per second
	CurrentRate float64 `json:"currentRate"`

	// Arrivals is the arrival pacer's state; arrival-rate executors only.
	Arrivals *rate.Stats `json:"arrivals,omitempty"`
}

// Validate checks the fields the executor type needs.
func (c *Config) Validate() error {
	field := func(name string) string {
		return fmt.Sprintf("scenarios.%s.%s", c.Name, name)
	}
	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return config.NewValidationError(field("vus"), "vus must be > 0")
		}
		if c.Duration <= 0 {
			return config.NewValidationError(field("duration"), "duration must be > 0")
		}
	case TypePerVUIterations:
		if c.VUs <= 0 {
			return config.NewValidationError(field("vus"), "vus must be > 0")
		}
		if c.Iterations <= 0 {
			return config.NewValidationError(field("iterations"), "iterations must be > 0")
		}
	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return config.NewValidationError(field("stages"), "at least one stage is required")
		}
		if c.StartVUs < 0 {
			return config.NewValidationError(field("startVUs"), "startVUs must be >= 0")
		}
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		if c.Type == TypeConstantArrivalRate {
			if c.Rate <= 0 {
				return config.NewValidationError(field("rate"), "rate must be > 0")
			}
			if c.Duration <= 0 {
				return config.NewValidationError(field("duration"), "duration must be > 0")
			}
		} else if len(c.Stages) == 0 {
			return config.NewValidationError(field("stages"), "at least one stage is required")
		}
		if c.TimeUnit <= 0 {
			return config.NewValidationError(field("timeUnit"), "timeUnit must be > 0")
		}
		if c.MaxVUs < c.PreAllocatedVUs {
			return config.NewValidationError(field("maxVUs"), "maxVUs must be >= preAllocatedVUs")
		}
		if c.MaxVUs <= 0 {
			return config.NewValidationError(field("maxVUs"), "maxVUs must be > 0")
		}
	default:
		return config.NewValidationError(field("executor"), "unknown executor type: "+string(c.Type))
	}
	for i, s := range c.Stages {
		if s.Duration <= 0 {
			return config.NewValidationError(field(fmt.Sprintf("stages[%d].duration", i)), "duration must be > 0")
		}
		if s.Target < 0 {
			return config.NewValidationError(field(fmt.Sprintf("stages[%d].target", i)), "target must be >= 0")
		}
	}
	return nil
}

// TotalDuration is how long the executor schedules work, not counting the
// graceful stop. For per-vu-iterations it is the maximum duration.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return c.Duration
	}
}

// MaxVUCount is the largest number of VUs the executor can ever run at once.
func (c *Config) MaxVUCount() int {
	switch c.Type {
	case TypeRampingVUs:
		n := c.StartVUs
		for _, s := range c.Stages {
			if s.Target > n {
				n = s.Target
			}
		}
		return n
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		return c.MaxVUs
	default:
		return c.VUs
	}
}

// runContexts returns the scheduling context, which ends after d or when
// parent is cancelled, and the iteration context, which ends grace after the
// scheduling context does. When scheduling ends every VU of sched is asked
// to stop, which cuts think time short; in-flight requests keep their grace.
// stop releases both.
func runContexts(parent context.Context, sched *vu.Scheduler, d, grace time.Duration) (schedCtx, iterCtx context.Context, stop func()) {
	var cancelSched context.CancelFunc
	if d > 0 {
		schedCtx, cancelSched = context.WithTimeout(parent, d)
	} else {
		schedCtx, cancelSched = context.WithCancel(parent)
	}
	iterCtx, cancelIter := context.WithCancel(context.WithoutCancel(parent))

	done := make(chan struct{})
	go func() {
		select {
		case <-schedCtx.Done():
		case <-done:
			return
		}
		sched.StopAll()
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelIter()
		case <-done:
		}
	}()

	return schedCtx, iterCtx, func() {
		close(done)
		cancelSched()
		cancelIter()
	}
}

func progress(start time.Time, total time.Duration) float64 {
	if start.IsZero() {
		return 0
	}
	if total <= 0 {
		return 1
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}
