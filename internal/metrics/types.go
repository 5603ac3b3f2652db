package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the initialization phase before the test starts
	PhaseInit Phase = "init"

	// PhaseRampUp is the ramp-up phase when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the steady-state phase at target load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the ramp-down phase when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the scenario has completed
	PhaseDone Phase = "done"
)

// CheckResult is the outcome of one named check on one iteration.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Sample is the record of a single iteration. Every iteration produces
// exactly one sample, including iterations that were interrupted.
type Sample struct {
	Scenario  string    `json:"scenario"`
	Timestamp time.Time `json:"timestamp"`

	// Latency is the request round trip (http_req_duration).
	Latency time.Duration `json:"latency"`

	// TTFB is the time to the first response byte, zero if none arrived.
	TTFB time.Duration `json:"ttfb"`

	// IterationDuration covers payload generation, the request and checks,
	// plus think time when the scenario counts it.
	IterationDuration time.Duration `json:"iterationDuration"`

	// Status is the HTTP status, or 0 on a transport error.
	Status int `json:"status"`

	// Failed is set for transport errors and unexpected statuses.
	Failed bool `json:"failed"`

	// ErrorKind classifies transport errors (timeout, refused, ...).
	ErrorKind string `json:"errorKind,omitempty"`

	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`

	Checks []CheckResult `json:"checks,omitempty"`
}

// LatencyStats contains distribution statistics for a duration metric.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CheckCount holds pass/fail totals for one named check.
type CheckCount struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// Rate returns the fraction of passes, 0 when the check never ran.
func (c CheckCount) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// Snapshot contains a point-in-time view of an aggregator.
type Snapshot struct {
	Name string `json:"name"`

	// TotalRequests is the number of samples (one per iteration)
	TotalRequests int64 `json:"totalRequests"`

	// FailedRequests is the number of failed samples
	FailedRequests int64 `json:"failedRequests"`

	// DroppedIterations counts starts skipped because no VU was available
	DroppedIterations int64 `json:"droppedIterations"`

	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`

	// ErrorRate is the fraction of failed requests (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	// RPS is requests divided by the elapsed run window
	RPS float64 `json:"rps"`

	Latency           LatencyStats `json:"latency"`
	IterationDuration LatencyStats `json:"iterationDuration"`

	// Checks maps check name to its pass/fail totals
	Checks map[string]CheckCount `json:"checks,omitempty"`

	// StatusCodes counts responses per status (0 = transport error)
	StatusCodes map[int]int64 `json:"statusCodes,omitempty"`

	// ErrorKinds counts transport errors per classification
	ErrorKinds map[string]int64 `json:"errorKinds,omitempty"`

	ActiveVUs    int   `json:"activeVUs"`
	CurrentPhase Phase `json:"currentPhase"`

	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

// ChecksRate returns the pass fraction over all checks, 0 when none ran.
func (s *Snapshot) ChecksRate() float64 {
	var total CheckCount
	for _, c := range s.Checks {
		total.Passes += c.Passes
		total.Fails += c.Fails
	}
	return total.Rate()
}
