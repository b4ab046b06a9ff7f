// Package mission defines the mission/task data model and its status rules.
package mission

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state shared by missions and tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal,
// monotonic transition: pending → in_progress → {completed|failed},
// with the in_progress hop optional. Setting an already-terminal status
// to the same value is allowed so idempotent retries stay harmless.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusInProgress:
		return s == StatusPending
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending:
		return false
	}
	return false
}

// Task is one delegated unit of work addressed to a specific agent.
type Task struct {
	TaskID      string         `json:"task_id"`
	Agent       string         `json:"agent"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      Status         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Mission is a unit of work composed of ordered tasks, tracked to a
// single terminal outcome.
type Mission struct {
	MissionID string    `json:"mission_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task returns the task with the given ID, or nil.
func (m *Mission) Task(taskID string) *Task {
	for i := range m.Tasks {
		if m.Tasks[i].TaskID == taskID {
			return &m.Tasks[i]
		}
	}
	return nil
}

// AllTerminal reports whether every task has reached a terminal state.
func (m *Mission) AllTerminal() bool {
	for i := range m.Tasks {
		if !m.Tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Overall computes the mission-level verdict from terminal tasks:
// failed iff any task failed, completed otherwise.
func (m *Mission) Overall() Status {
	for i := range m.Tasks {
		if m.Tasks[i].Status == StatusFailed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// GenerateMissionID creates a unique mission identifier.
func GenerateMissionID() string {
	return "mission-" + uuid.New().String()
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	return "task-" + uuid.New().String()
}
