// Package nethealth tracks observed network health from request outcomes.
// It implements the read-only gate surface the upload orchestrator consumes:
// healthy/degraded classification inputs, windowed failure rate, and mean
// latency. The measurement is intentionally simple; consumers only see the
// gate interface.
package nethealth

import (
	"sync"
	"time"
)

// defaultWindowSize is how many recent request outcomes the monitor keeps.
const defaultWindowSize = 50

// outcome is one observed request result.
type outcome struct {
	failed  bool
	latency time.Duration
}

// Monitor is a sliding-window health tracker fed by observed request
// outcomes. The zero value is not usable; call NewMonitor.
//
// An empty window reports healthy with zero failure rate: the monitor
// assumes the network is fine until evidence says otherwise.
type Monitor struct {
	mu      sync.Mutex
	window  []outcome
	size    int
	active  int
	queued  int
	offline bool
}

// NewMonitor creates a monitor with the default window size.
func NewMonitor() *Monitor {
	return &Monitor{size: defaultWindowSize}
}

// RecordSuccess records one successful request and its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.record(outcome{latency: latency})
}

// RecordFailure records one failed request.
func (m *Monitor) RecordFailure() {
	m.record(outcome{failed: true})
}

func (m *Monitor) record(o outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, o)
	if len(m.window) > m.size {
		m.window = m.window[len(m.window)-m.size:]
	}
}

// SetOffline forces the offline state, e.g. when the platform reports the
// interface down. Healthy() returns false until cleared.
func (m *Monitor) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offline = offline
}

// RequestStarted / RequestFinished maintain the advisory in-flight gauge.
func (m *Monitor) RequestStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active++
}

// RequestFinished decrements the in-flight gauge.
func (m *Monitor) RequestFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
}

// UploadQueued increments the queued-uploads gauge. Dispatchers call it
// when an upload waits for a worker slot.
func (m *Monitor) UploadQueued() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queued++
}

// UploadDequeued decrements the queued-uploads gauge.
func (m *Monitor) UploadDequeued() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queued > 0 {
		m.queued--
	}
}

// Healthy reports whether the network is usable at all. The monitor is
// unhealthy when forced offline or when every recent request failed.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return false
	}

	if len(m.window) == 0 {
		return true
	}

	return m.failureRateLocked() < 1.0
}

// FailureRate returns the fraction of failed requests in the window, in [0,1].
func (m *Monitor) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.failureRateLocked()
}

func (m *Monitor) failureRateLocked() float64 {
	if len(m.window) == 0 {
		return 0
	}

	var failed int

	for _, o := range m.window {
		if o.failed {
			failed++
		}
	}

	return float64(failed) / float64(len(m.window))
}

// AvgResponseTime returns the mean latency of successful requests in the
// window, or zero when none have completed.
func (m *Monitor) AvgResponseTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	var count int

	for _, o := range m.window {
		if !o.failed {
			total += o.latency
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return total / time.Duration(count)
}

// ActiveRequests returns the advisory in-flight request gauge.
func (m *Monitor) ActiveRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// QueuedRequests returns the advisory queued request gauge.
func (m *Monitor) QueuedRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queued
}
