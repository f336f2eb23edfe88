package order

import "sync"

const latencyWindow = 1000

// Metrics is an observational snapshot of ledger activity.
type Metrics struct {
	TotalPlaced  int
	Filled       int
	Rejected     int
	Cancelled    int
	AvgLatencyMs float64
	FillRate     float64
}

type metricsTracker struct {
	mu        sync.Mutex
	placed    int
	filled    int
	rejected  int
	cancelled int
	latencies []float64
	next      int
	sum       float64
}

func (m *metricsTracker) recordLatency(ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) < latencyWindow {
		m.latencies = append(m.latencies, ms)
		m.sum += ms
		return
	}
	m.sum += ms - m.latencies[m.next]
	m.latencies[m.next] = ms
	m.next = (m.next + 1) % latencyWindow
}

func (m *metricsTracker) count(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch status {
	case StatusPending:
		m.placed++
	case StatusComplete:
		m.filled++
	case StatusRejected:
		m.rejected++
	case StatusCancelled:
		m.cancelled++
	}
}

func (m *metricsTracker) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Metrics{
		TotalPlaced: m.placed,
		Filled:      m.filled,
		Rejected:    m.rejected,
		Cancelled:   m.cancelled,
	}
	if n := len(m.latencies); n > 0 {
		s.AvgLatencyMs = m.sum / float64(n)
	}
	if m.placed > 0 {
		s.FillRate = float64(m.filled) / float64(m.placed)
	}
	return s
}
