// Package monitor implements the resumable polling state machine that
// watches an external system until it reaches a target value.
//
// The loop's only durable state is its MonitorRecord, persisted before the
// first poll and rewritten on every iteration. A process that dies mid-poll
// leaves the record behind; a supervisor can resume the loop from it with
// the original deadline intact. Deleting the record is the cancel signal:
// the next iteration notices the missing row and exits quietly.
package monitor

import "fmt"

// State is the lifecycle state of one monitoring loop.
type State string

const (
	StateStarting State = "STARTING"
	StatePolling  State = "POLLING"
	StateArrived  State = "ARRIVED"
	StateTimedOut State = "TIMED_OUT"
	StateErrored  State = "ERRORED"
	// StateCancelled is entered when the loop's record disappears between
	// iterations. No notification is published for a cancelled loop.
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether the loop stops in this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateArrived, StateTimedOut, StateErrored, StateCancelled:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// validTransitions is the loop's transition table. POLLING self-loops once
// per interval; every terminal state is reachable only from POLLING.
var validTransitions = map[State][]State{
	StateStarting: {StatePolling},
	StatePolling:  {StatePolling, StateArrived, StateTimedOut, StateErrored, StateCancelled},
}

// ValidateTransition reports whether from → to is a legal transition.
func ValidateTransition(from, to State) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid monitor transition %s -> %s", from, to)
}
