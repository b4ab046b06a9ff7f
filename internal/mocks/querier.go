package mocks

import (
	"context"
	"sync"

	"missionctl/pkg/monitor"
)

// QueryStep is one scripted response from a ScriptedQuerier.
type QueryStep struct {
	Obs monitor.Observation
	Err error
}

// ScriptedQuerier replays a fixed sequence of observations, then repeats
// its final step forever. Safe for concurrent use.
type ScriptedQuerier struct {
	mu    sync.Mutex
	steps []QueryStep
	calls int
}

func NewScriptedQuerier(steps ...QueryStep) *ScriptedQuerier {
	return &ScriptedQuerier{steps: steps}
}

func (q *ScriptedQuerier) Query(_ context.Context, _ string) (monitor.Observation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.calls
	if i >= len(q.steps) {
		i = len(q.steps) - 1
	}
	q.calls++
	step := q.steps[i]
	return step.Obs, step.Err
}

// Calls returns how many times Query has been invoked.
func (q *ScriptedQuerier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
