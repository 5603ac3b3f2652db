// Package vu runs virtual users: the goroutines that execute iterations of a
// scenario and record one metrics sample per iteration.
package vu

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/transport"
)

// State is the lifecycle state of a VirtualUser.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorKindPayload marks a sample whose request body could not be built.
const ErrorKindPayload = "payload"

// VirtualUser is a single simulated client. A VU runs one iteration at a
// time; the scheduler decides when.
type VirtualUser struct {
	ID int

	scenario *Scenario
	client   *transport.Client
	agg      *metrics.Aggregator
	logger   *zap.Logger
	now      func() time.Time
	rng      *rand.Rand

	state     atomic.Int32
	iteration atomic.Int64
	stopCh    chan struct{}
}

func newVirtualUser(id int, s *Scheduler) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		scenario: s.scenario,
		client:   s.client,
		agg:      s.agg,
		logger:   s.logger.With(zap.Int("vu", id)),
		now:      s.now,
		rng:      rand.New(rand.NewSource(s.seed + int64(id))),
		stopCh:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() State {
	return State(vu.state.Load())
}

// Iterations returns how many iterations the VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// RunIteration performs one iteration: build the payload, send the request,
// evaluate checks, think, and append exactly one sample to the aggregator.
//
// ctx bounds the in-flight work. If it is cancelled mid-request the sample is
// still recorded, as failed with ErrorKind "interrupted".
func (vu *VirtualUser) RunIteration(ctx context.Context) metrics.Sample {
	iter := vu.iteration.Add(1) - 1
	vu.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
	defer vu.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))

	start := vu.now()
	sample := metrics.Sample{
		Scenario:  vu.scenario.Name,
		Timestamp: start,
	}

	req := vu.scenario.Request
	if vu.scenario.Payload != nil {
		body, err := vu.scenario.Payload.Generate(vu.ID, iter)
		if err != nil {
			vu.logger.Debug("payload generation failed", zap.Int64("iteration", iter), zap.Error(err))
			sample.Failed = true
			sample.ErrorKind = ErrorKindPayload
			sample.IterationDuration = vu.now().Sub(start)
			vu.agg.Append(sample)
			return sample
		}
		req.Body = body
	}

	resp := vu.client.Do(ctx, &req)
	sample.Latency = resp.Latency
	sample.TTFB = resp.TTFB
	sample.Status = resp.Status
	sample.BytesSent = resp.BytesSent
	sample.BytesReceived = resp.BytesReceived
	sample.ErrorKind = string(resp.ErrorKind)
	sample.Failed = resp.TransportError() || !vu.scenario.Expected(resp.Status)

	for _, r := range vu.scenario.Checks.Evaluate(resp) {
		sample.Checks = append(sample.Checks, metrics.CheckResult{Name: r.Name, Passed: r.Passed})
	}

	think := vu.scenario.ThinkTime
	if !think.Enabled() || !think.CountInIteration {
		sample.IterationDuration = vu.now().Sub(start)
		vu.agg.Append(sample)
		if think.Enabled() {
			vu.sleep(ctx, think.pick(vu.rng))
		}
		return sample
	}

	vu.sleep(ctx, think.pick(vu.rng))
	sample.IterationDuration = vu.now().Sub(start)
	vu.agg.Append(sample)
	return sample
}

// sleep waits for d unless ctx ends or the VU is asked to stop.
func (vu *VirtualUser) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-vu.stopCh:
	case <-timer.C:
	}
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
		vu.state.CompareAndSwap(int32(StateIdle), int32(StateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping reports whether RequestStop has been called.
func (vu *VirtualUser) Stopping() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(StateStopped))
}
