package pipeline

import (
	"slices"
	"sync"
	"time"
)

// HealthStatus represents the health state of the reconciler's upstreams.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive runs in which
	// every ledger query failed before the reconciler is unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 run latency above which the
	// reconciler is degraded.
	DefaultDegradedLatencyThreshold = 10 * time.Second

	// latencyWindowSize is the number of recent latencies tracked.
	latencyWindowSize = 10
)

// Health tracks reconcile outcomes. Reconciliation never fails outright, so
// health is derived from how many of each run's queries degraded.
type Health struct {
	mu                       sync.RWMutex
	status                   HealthStatus
	consecutiveFailures      int
	lastPartial              bool
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
	nowFn                    func() time.Time
	onChange                 func(from, to HealthStatus)
}

func NewHealth() *Health {
	return &Health{
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
		nowFn:                    time.Now,
	}
}

// OnStatusChange registers fn to run after a RecordRun that changed the
// status. fn runs outside the lock.
func (h *Health) OnStatusChange(fn func(from, to HealthStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// RecordRun classifies one reconcile run: all queries failed is a failure,
// some failed is a partial success.
func (h *Health) RecordRun(totalQueries, failedQueries int, latency time.Duration) {
	from := h.Status()
	h.RecordLatency(latency)
	if totalQueries > 0 && failedQueries >= totalQueries {
		h.RecordFailure()
	} else {
		h.recordSuccess(failedQueries > 0)
	}

	h.mu.RLock()
	to, fn := h.status, h.onChange
	h.mu.RUnlock()
	if fn != nil && from != to {
		fn(from, to)
	}
}

// Status returns the current status.
func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// RecordSuccess records a run in which every query succeeded.
func (h *Health) RecordSuccess() {
	h.recordSuccess(false)
}

func (h *Health) recordSuccess(partial bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	h.lastPartial = partial
	if partial || h.isLatencyDegraded() {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
}

// RecordLatency records a run latency and updates degraded state.
func (h *Health) RecordLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)

	if h.status == HealthStatusHealthy || h.status == HealthStatusDegraded {
		if h.isLatencyDegraded() {
			h.status = HealthStatusDegraded
		} else if h.status == HealthStatusDegraded && h.consecutiveFailures == 0 && !h.lastPartial {
			h.status = HealthStatusHealthy
		}
	}
}

// isLatencyDegraded returns true if the P95 latency exceeds the threshold.
// Must be called with mu held.
func (h *Health) isLatencyDegraded() bool {
	if len(h.recentLatencies) < 2 {
		return false
	}
	return h.percentileLatency(95) > h.degradedLatencyThreshold
}

// percentileLatency computes the given percentile from recent latencies.
// Must be called with mu held.
func (h *Health) percentileLatency(pct int) time.Duration {
	n := len(h.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(h.recentLatencies)
	slices.Sort(sorted)
	idx := (pct*n - 1) / 100
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}

// RecordFailure records a run in which every query failed. Returns true if
// the reconciler transitioned to unhealthy on this call.
func (h *Health) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
		h.status = HealthStatusUnhealthy
		return true
	}
	if h.status != HealthStatusUnhealthy {
		h.status = HealthStatusDegraded
	}
	return false
}

// Snapshot returns the current health state.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
	}
}

// HealthSnapshot is a point-in-time view of reconciler health (JSON-safe).
type HealthSnapshot struct {
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}
