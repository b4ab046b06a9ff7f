package monitor

import "context"

// Observation is one reading of the monitored system.
type Observation struct {
	// Value is the reported position or measurement.
	Value int
	// AtRest reports whether the system was stable when read. A value
	// observed in motion is known-unreliable and is never compared
	// against the target.
	AtRest bool
}

// StatusQuerier reads the current state of the external system being
// monitored. Implementations should honor ctx's deadline; the supervisor
// wraps every call in a short per-query timeout.
type StatusQuerier interface {
	Query(ctx context.Context, missionID string) (Observation, error)
}

// QuerierFunc adapts a function to the StatusQuerier interface.
type QuerierFunc func(ctx context.Context, missionID string) (Observation, error)

func (f QuerierFunc) Query(ctx context.Context, missionID string) (Observation, error) {
	return f(ctx, missionID)
}
