package mission

import "time"

// MonitorState is the lifecycle marker on a MonitorRecord. Table presence
// is the real "active" signal; the record is deleted on terminal outcomes.
type MonitorState string

const (
	MonitorStateMonitoring MonitorState = "monitoring"
	MonitorStateDone       MonitorState = "done"
)

// MonitorRecord is the durable checkpoint for a single resumable polling
// loop. One record exists per actively-monitored mission; it is updated on
// every poll iteration and deleted on arrival, timeout, or error.
type MonitorRecord struct {
	MissionID string `json:"mission_id"`
	// TaskID names the monitoring task within the mission, so a resumed
	// loop can still report its terminal status to the aggregator.
	TaskID            string       `json:"task_id"`
	TargetValue       int          `json:"target_value"`
	State             MonitorState `json:"state"`
	LastObservedValue *int         `json:"last_observed_value,omitempty"`
	RetryCount        int          `json:"retry_count"`
	StartTime         time.Time    `json:"start_time"`
	// Expiry is the absolute deadline after which a stale record is safe
	// to garbage-collect if terminal cleanup never ran.
	Expiry time.Time `json:"expiry"`
}
