package db

import (
	"context"
	"time"
)

// Health statuses. "degraded" covers transient conditions (backoff after a
// cold start, timeouts) that automated infrastructure must not misclassify
// as hard failures; "unavailable" means the endpoint is not reachable or is
// rejecting us outright.
const (
	StatusAvailable   = "available"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Status reports the engine's view of the database for health endpoints.
type Status struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Health probes the database and classifies the result. It never raises
// and never blocks past the ping timeout, so readiness checks stay
// responsive while the database is briefly unreachable.
func (e *Engine) Health(ctx context.Context) Status {
	start := time.Now()
	err := e.ping(ctx)
	latency := time.Since(start)

	if err == nil {
		return Status{
			Status:  StatusAvailable,
			Latency: latency,
		}
	}

	return Status{
		Status:  statusForFailure(err),
		Latency: latency,
		Message: redactError(err),
	}
}

// statusForFailure separates "slow or resuming" from "gone".
func statusForFailure(err error) string {
	// Exhaustion is backpressure, not an outage.
	if IsPoolExhausted(err) {
		return StatusDegraded
	}
	switch failureClass(err) {
	case classTimeout, classCanceled:
		return StatusDegraded
	default:
		return StatusUnavailable
	}
}
