package xrail

import (
	"sync/atomic"
	"time"
)

// Metrics counts loop activity. It outlives generations when owned by a Server.
type Metrics struct {
	dequeued       atomic.Uint64
	handled        atomic.Uint64
	clientErrors   atomic.Uint64
	databaseErrors atomic.Uint64
	failures       atomic.Uint64
	restarts       atomic.Uint64
	handleNanos    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Dequeued        uint64
	Handled         uint64
	ClientErrors    uint64
	DatabaseErrors  uint64
	Failures        uint64
	Restarts        uint64
	AvgHandleTimeMs float64
}

func (m *Metrics) observeHandle(d time.Duration) {
	m.handled.Add(1)
	m.handleNanos.Add(int64(d))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Dequeued:       m.dequeued.Load(),
		Handled:        m.handled.Load(),
		ClientErrors:   m.clientErrors.Load(),
		DatabaseErrors: m.databaseErrors.Load(),
		Failures:       m.failures.Load(),
		Restarts:       m.restarts.Load(),
	}
	if s.Handled > 0 {
		s.AvgHandleTimeMs = float64(m.handleNanos.Load()) / float64(s.Handled) / float64(time.Millisecond)
	}
	return s
}

// HealthStatus describes a running server.
type HealthStatus struct {
	Status     string // "healthy", "degraded", "stopped"
	Generation string
	Sequence   uint64
	Endpoints  int
	QueueLen   int
	Dropped    uint64
	Metrics    MetricsSnapshot
	Timestamp  time.Time
}
