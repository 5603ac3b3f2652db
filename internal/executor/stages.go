package executor

import (
	"time"

	"github.com/wesleyorama2/volley/internal/metrics"
)

// ramp interpolates a value linearly through stages, starting from start.
type ramp struct {
	start  float64
	stages []Stage
}

// at returns the value at elapsed and the index of the active stage. Past the
// last stage it returns the last target and len(stages).
func (r ramp) at(elapsed time.Duration) (float64, int) {
	prev := r.start
	var stageStart time.Duration
	for i, s := range r.stages {
		stageEnd := stageStart + s.Duration
		if elapsed < stageEnd {
			frac := float64(elapsed-stageStart) / float64(s.Duration)
			if frac < 0 {
				frac = 0
			}
			return prev + (float64(s.Target)-prev)*frac, i
		}
		prev = float64(s.Target)
		stageStart = stageEnd
	}
	return prev, len(r.stages)
}

// phase classifies stage i by comparing its target with where it starts.
func (r ramp) phase(i int) metrics.Phase {
	if i >= len(r.stages) {
		return metrics.PhaseDone
	}
	from := r.start
	if i > 0 {
		from = float64(r.stages[i-1].Target)
	}
	to := float64(r.stages[i].Target)
	switch {
	case to > from:
		return metrics.PhaseRampUp
	case to < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
