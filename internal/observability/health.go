package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs /healthz (liveness) and /readyz (readiness).
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	// returns the last applied event sequence, may be nil
	sequence func() int64
}

func NewHealthChecker(sequence func() int64) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		sequence:  sequence,
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once warm start has finished and the cache
// is serving, 503 otherwise. The body reports the last applied sequence.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{"status": "not_ready"}
	status := http.StatusServiceUnavailable
	if h.ready.Load() {
		body["status"] = "ready"
		status = http.StatusOK
	}
	if h.sequence != nil {
		body["sequence"] = h.sequence()
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
