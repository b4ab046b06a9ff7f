// Package demo provides a simulated elevator for exercising the full
// mission pipeline without any external system. The demo binary and the
// end-to-end tests both drive it.
package demo

import (
	"context"
	"fmt"
	"sync"

	"missionctl/pkg/agent"
	"missionctl/pkg/mission"
	"missionctl/pkg/monitor"
	"missionctl/pkg/proto"
)

// Elevator is a single simulated car. Each status query advances it one
// floor toward its destination; it reports at-rest only when it has
// stopped there.
type Elevator struct {
	mu          sync.Mutex
	position    int
	destination int
	// failures makes the next N queries fail, for exercising retry paths.
	failures int
}

func NewElevator(startFloor int) *Elevator {
	return &Elevator{position: startFloor, destination: startFloor}
}

// Call sends the car toward the given floor.
func (e *Elevator) Call(floor int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destination = floor
}

// FailNext makes the following n status queries return an error.
func (e *Elevator) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = n
}

// Position returns the car's current floor.
func (e *Elevator) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Query implements monitor.StatusQuerier. The car moves one floor per
// query, so the observation is in-motion until it reaches the destination.
func (e *Elevator) Query(_ context.Context, _ string) (monitor.Observation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failures > 0 {
		e.failures--
		return monitor.Observation{}, fmt.Errorf("elevator controller unreachable")
	}

	switch {
	case e.position < e.destination:
		e.position++
	case e.position > e.destination:
		e.position--
	}
	return monitor.Observation{
		Value:  e.position,
		AtRest: e.position == e.destination,
	}, nil
}

// NewCallExecutor returns the executor for the "call_elevator" action: it
// dispatches the car toward the floor in the "target_value" parameter and
// completes immediately.
func NewCallExecutor(e *Elevator) agent.ActionExecutor {
	return agent.ExecutorFunc(func(_ context.Context, task *proto.TaskDispatchPayload) agent.Result {
		floor, ok := task.Parameters["target_value"].(float64)
		if !ok {
			if i, iok := task.Parameters["target_value"].(int); iok {
				floor, ok = float64(i), true
			}
		}
		if !ok {
			return agent.Result{
				Status: mission.StatusFailed,
				Output: map[string]any{"error": "missing target_value parameter"},
			}
		}
		e.Call(int(floor))
		return agent.Result{
			Status: mission.StatusCompleted,
			Output: map[string]any{"called_to": int(floor)},
		}
	})
}

var _ monitor.StatusQuerier = (*Elevator)(nil)
