package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports whether the live engine is receiving data and allowed to trade.
type HealthChecker struct {
	mu             sync.RWMutex
	lastTick       time.Time
	tradingEnabled bool
	breachReason   string
	staleAfter     time.Duration
}

type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	LastTick       time.Time `json:"last_tick"`
	TradingEnabled bool      `json:"trading_enabled"`
	BreachReason   string    `json:"breach_reason,omitempty"`
	Uptime         string    `json:"uptime"`
}

func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &HealthChecker{tradingEnabled: true, staleAfter: staleAfter}
}

// MarkTick records market data arrival.
func (h *HealthChecker) MarkTick(ts time.Time) {
	h.mu.Lock()
	h.lastTick = ts
	h.mu.Unlock()
}

// SetTrading records the risk gate state.
func (h *HealthChecker) SetTrading(enabled bool, reason string) {
	h.mu.Lock()
	h.tradingEnabled = enabled
	h.breachReason = reason
	h.mu.Unlock()
}

// Snapshot returns the current health.
func (h *HealthChecker) Snapshot(now time.Time) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if h.lastTick.IsZero() || now.Sub(h.lastTick) > h.staleAfter {
		status = "degraded"
	}
	if !h.tradingEnabled {
		status = "halted"
	}
	return HealthStatus{
		Status:         status,
		Timestamp:      now,
		LastTick:       h.lastTick,
		TradingEnabled: h.tradingEnabled,
		BreachReason:   h.breachReason,
		Uptime:         now.Sub(startTime).String(),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Snapshot(time.Now())

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
