package providers

import (
	"time"
)

// Health tracks one provider's observed reliability. All fields are guarded
// by the router's mutex; Health itself carries no locking.
type Health struct {
	SuccessCount        int
	FailureCount        int
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	AvgLatencyMS        float64
	CircuitOpen         bool
	CircuitOpenUntil    time.Time
}

// SuccessRate returns the historical success ratio, defaulting to 1.0 when
// no calls have been observed yet so new providers are eligible immediately.
func (h *Health) SuccessRate() float64 {
	total := h.SuccessCount + h.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(h.SuccessCount) / float64(total)
}

// IsHealthy reports whether the provider may be selected at the given time.
// An expired circuit auto-resets as a side effect of the check.
func (h *Health) IsHealthy(now time.Time) bool {
	if h.CircuitOpen {
		if now.Before(h.CircuitOpenUntil) {
			return false
		}
		// Circuit expired: half-open. Give the provider a clean slate of
		// consecutive failures so one success closes it fully.
		h.CircuitOpen = false
		h.ConsecutiveFailures = 0
	}
	return true
}

func (h *Health) recordSuccess(now time.Time, latency time.Duration) {
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccess = now
	h.CircuitOpen = false

	latencyMS := float64(latency.Milliseconds())
	if latencyMS < 0 {
		latencyMS = 0
	}
	if h.AvgLatencyMS == 0 {
		h.AvgLatencyMS = latencyMS
	} else {
		// Exponential moving average, biased toward history.
		h.AvgLatencyMS = h.AvgLatencyMS*0.8 + latencyMS*0.2
	}
}

func (h *Health) recordFailure(now time.Time) {
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailure = now
}

func (h *Health) openCircuit(now time.Time, duration time.Duration) {
	h.CircuitOpen = true
	h.CircuitOpenUntil = now.Add(duration)
}
