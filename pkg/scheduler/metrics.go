package scheduler

import "time"

// Refresh outcomes reported to Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics receives scheduler events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordRefresh is called once per completed refresh attempt.
	RecordRefresh(feedID, outcome string, duration time.Duration)

	// RecordCoalesced is called when a request joins a refresh already
	// in flight.
	RecordCoalesced(feedID string)

	SetInFlight(n int)
	RecordCycle(duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRefresh(feedID, outcome string, duration time.Duration) {}
func (noopMetrics) RecordCoalesced(feedID string)                                {}
func (noopMetrics) SetInFlight(n int)                                            {}
func (noopMetrics) RecordCycle(duration time.Duration)                           {}
