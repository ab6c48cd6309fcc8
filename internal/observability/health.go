package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness for the indexer process:
// /healthz (liveness), /readyz (readiness). Beyond the ready flag it
// tracks the last sequence the projector applied, so the readiness
// payload tells an operator how far the derived state has advanced and
// how long ago the last event landed.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	appliedSeq atomic.Int64
	appliedAt  atomic.Int64 // unix nanos, 0 = no event applied yet
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{startTime: time.Now()}
	h.appliedSeq.Store(-1)
	return h
}

// SetReady marks the service as ready to accept traffic. Readiness flips
// on only after recovery completed, Postgres connected and NATS consumers
// attached.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// ObserveApplied records the highest sequence the projector has applied.
// Safe to call from the projector loop while handlers read concurrently.
func (h *HealthChecker) ObserveApplied(sequence int64) {
	h.appliedSeq.Store(sequence)
	h.appliedAt.Store(time.Now().UnixNano())
}

// AppliedSequence returns the last observed applied sequence, -1 before
// the first event.
func (h *HealthChecker) AppliedSequence() int64 {
	return h.appliedSeq.Load()
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 while
// the indexer is still recovering or draining. The ready payload carries
// the projector's progress.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not_ready",
		})
		return
	}

	body := map[string]interface{}{
		"status":           "ready",
		"applied_sequence": h.appliedSeq.Load(),
	}
	if at := h.appliedAt.Load(); at > 0 {
		body["last_event_age"] = time.Since(time.Unix(0, at)).Truncate(time.Millisecond).String()
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
