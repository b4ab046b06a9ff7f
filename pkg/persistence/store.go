// Package persistence provides the durable stores backing the orchestrator:
// mission/task rows owned by the mission store, and monitor records owned by
// the monitoring supervisor. Backends: sqlite, postgres, memory.
package persistence

import (
	"context"
	"errors"

	"missionctl/pkg/mission"
)

var (
	// ErrMissionNotFound is returned when a mission ID has no stored row.
	ErrMissionNotFound = errors.New("mission not found")
	// ErrTaskNotFound is returned when a task ID does not exist within the mission.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTerminalConflict is returned when an update would move an
	// already-terminal task to a different terminal status. First writer wins.
	ErrTerminalConflict = errors.New("task already terminal with different status")
	// ErrRecordNotFound is returned when no monitor record exists for a mission.
	ErrRecordNotFound = errors.New("monitor record not found")
)

// MissionStore is the single source of truth for mission and task state.
type MissionStore interface {
	// Put creates or overwrites a mission record. Idempotent upsert,
	// used once at mission ingestion.
	Put(ctx context.Context, m *mission.Mission) error

	// Get returns the mission or ErrMissionNotFound.
	Get(ctx context.Context, missionID string) (*mission.Mission, error)

	// UpdateTaskStatus conditionally updates one task located by task_id.
	// Re-applying the same terminal status is a harmless no-op; writing a
	// different terminal status over a terminal task fails with
	// ErrTerminalConflict.
	UpdateTaskStatus(ctx context.Context, missionID, taskID string, status mission.Status, result map[string]any) error

	// UpdateMissionStatus sets the mission-level status unconditionally.
	UpdateMissionStatus(ctx context.Context, missionID string, status mission.Status) error

	// CompleteMission transitions the mission to the given terminal status
	// only if it is still non-terminal, and reports whether this call won
	// the transition. This is the linearization point that decides which
	// invocation publishes the mission result.
	CompleteMission(ctx context.Context, missionID string, status mission.Status) (won bool, err error)
}

// MonitorStore persists the checkpoint records of resumable polling loops.
type MonitorStore interface {
	PutRecord(ctx context.Context, rec *mission.MonitorRecord) error
	GetRecord(ctx context.Context, missionID string) (*mission.MonitorRecord, error)
	UpdateRecord(ctx context.Context, rec *mission.MonitorRecord) error
	DeleteRecord(ctx context.Context, missionID string) error
	ListRecords(ctx context.Context) ([]mission.MonitorRecord, error)
}

// Store bundles both stores behind one handle.
type Store interface {
	MissionStore
	MonitorStore
	Close() error
}
