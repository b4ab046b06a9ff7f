// Package metrics provides Prometheus-based metrics recording for the
// orchestrator core.
package metrics

import "time"

// Recorder receives operational metrics from the dispatcher, the completion
// aggregator, and the monitoring supervisor. Implementations must be safe
// for concurrent use.
type Recorder interface {
	// RecordMissionIngested counts an accepted mission.
	RecordMissionIngested()

	// RecordTaskDispatched counts one dispatch attempt per agent,
	// status "dispatched" or "failed".
	RecordTaskDispatched(agent, status string)

	// RecordMissionResolved counts a mission reaching a terminal status.
	RecordMissionResolved(status string)

	// RecordPublish counts an outbound result or notification by kind.
	RecordPublish(kind string)

	// RecordMonitorPoll counts a single poll iteration,
	// outcome "observed", "query_error", or "stale_value".
	RecordMonitorPoll(outcome string)

	// RecordMonitorOutcome counts a monitoring loop reaching a terminal state.
	RecordMonitorOutcome(state string)

	// ObserveQueryDuration records the latency of one status query.
	ObserveQueryDuration(d time.Duration)
}

// NopRecorder discards all metrics. Useful default for tests.
type NopRecorder struct{}

func (NopRecorder) RecordMissionIngested()                  {}
func (NopRecorder) RecordTaskDispatched(agent, status string) {}
func (NopRecorder) RecordMissionResolved(status string)     {}
func (NopRecorder) RecordPublish(kind string)               {}
func (NopRecorder) RecordMonitorPoll(outcome string)        {}
func (NopRecorder) RecordMonitorOutcome(state string)       {}
func (NopRecorder) ObserveQueryDuration(d time.Duration)    {}
