package metrics

import (
	"sync"
)

// Metrics holds in-process pipeline counters. They reset on restart;
// durable job counts come from the store.
type Metrics struct {
	mu sync.RWMutex

	enqueued        int64
	duplicates      int64
	claimed         int64
	completed       int64
	failed          int64
	retried         int64
	malformed       int64
	circuitRejected int64
	replays         int64
	xpAwarded       int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordEnqueued counts an accepted analysis request
func (m *Metrics) RecordEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

// RecordDuplicate counts a request rejected because a job was already open
func (m *Metrics) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

// RecordClaimed counts a job leased by a worker
func (m *Metrics) RecordClaimed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed++
}

// RecordCompleted counts a completed job and the XP it awarded
func (m *Metrics) RecordCompleted(xp int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.xpAwarded += xp
}

// RecordFailed counts a job moved to failed; malformed results are also counted separately
func (m *Metrics) RecordFailed(malformed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	if malformed {
		m.malformed++
	}
}

// RecordRetried counts a job re-queued with backoff
func (m *Metrics) RecordRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

// RecordCircuitRejected counts a reviewer call refused by the open breaker
func (m *Metrics) RecordCircuitRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitRejected++
}

// RecordReplay counts a job whose progression mutation had already been applied
func (m *Metrics) RecordReplay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replays++
}

// GetSnapshot returns a snapshot of all counters
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"enqueued_jobs":      m.enqueued,
		"duplicate_requests": m.duplicates,
		"claimed_jobs":       m.claimed,
		"completed_jobs":     m.completed,
		"failed_jobs":        m.failed,
		"retried_jobs":       m.retried,
		"malformed_results":  m.malformed,
		"circuit_rejections": m.circuitRejected,
		"mutation_replays":   m.replays,
		"xp_awarded":         m.xpAwarded,
	}
}
