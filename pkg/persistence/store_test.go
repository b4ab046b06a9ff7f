package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"missionctl/pkg/mission"
)

// Both backends that can run without external services share one suite.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "persistence_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	sqlite, err := NewSQLiteStore(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func testMission(id string) *mission.Mission {
	now := time.Now().UTC()
	return &mission.Mission{
		MissionID: id,
		UserID:    "user-42",
		Status:    mission.StatusPending,
		Tasks: []mission.Task{
			{TaskID: "t1", Agent: "psim", Action: "unlock_door", Parameters: map[string]any{"door": "D-3"}, Status: mission.StatusPending},
			{TaskID: "t2", Agent: "elevator", Action: "call_elevator", Parameters: map[string]any{"floor": float64(5)}, Status: mission.StatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, testMission("m1")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			m, err := store.Get(ctx, "m1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if m.UserID != "user-42" {
				t.Errorf("UserID = %q, want user-42", m.UserID)
			}
			if len(m.Tasks) != 2 {
				t.Fatalf("got %d tasks, want 2", len(m.Tasks))
			}
			if m.Tasks[0].TaskID != "t1" || m.Tasks[1].TaskID != "t2" {
				t.Errorf("task order not preserved: %s, %s", m.Tasks[0].TaskID, m.Tasks[1].TaskID)
			}
			if m.Tasks[0].Parameters["door"] != "D-3" {
				t.Errorf("parameters lost: %v", m.Tasks[0].Parameters)
			}

			if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrMissionNotFound) {
				t.Errorf("Get(unknown) = %v, want ErrMissionNotFound", err)
			}
		})
	}
}

func TestUpdateTaskStatusIdempotent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, testMission("m1")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			result := map[string]any{"ok": true}
			if err := store.UpdateTaskStatus(ctx, "m1", "t1", mission.StatusCompleted, result); err != nil {
				t.Fatalf("first terminal write failed: %v", err)
			}

			// Re-applying the same terminal status is a harmless no-op.
			if err := store.UpdateTaskStatus(ctx, "m1", "t1", mission.StatusCompleted, result); err != nil {
				t.Fatalf("idempotent retry failed: %v", err)
			}

			// A different terminal status is rejected: first writer wins.
			err := store.UpdateTaskStatus(ctx, "m1", "t1", mission.StatusFailed, nil)
			if !errors.Is(err, ErrTerminalConflict) {
				t.Errorf("conflicting terminal write = %v, want ErrTerminalConflict", err)
			}

			m, err := store.Get(ctx, "m1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if m.Task("t1").Status != mission.StatusCompleted {
				t.Errorf("task status changed after rejected write: %s", m.Task("t1").Status)
			}
			if m.Task("t1").CompletedAt == nil {
				t.Error("completed_at not set on terminal write")
			}
		})
	}
}

func TestUpdateTaskStatusNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, testMission("m1")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			err := store.UpdateTaskStatus(ctx, "m1", "ghost", mission.StatusCompleted, nil)
			if !errors.Is(err, ErrTaskNotFound) {
				t.Errorf("unknown task = %v, want ErrTaskNotFound", err)
			}

			err = store.UpdateTaskStatus(ctx, "ghost", "t1", mission.StatusCompleted, nil)
			if !errors.Is(err, ErrMissionNotFound) {
				t.Errorf("unknown mission = %v, want ErrMissionNotFound", err)
			}
		})
	}
}

func TestCompleteMissionWinsOnce(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, testMission("m1")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			won, err := store.CompleteMission(ctx, "m1", mission.StatusCompleted)
			if err != nil {
				t.Fatalf("CompleteMission failed: %v", err)
			}
			if !won {
				t.Error("first completion should win the transition")
			}

			won, err = store.CompleteMission(ctx, "m1", mission.StatusFailed)
			if err != nil {
				t.Fatalf("second CompleteMission errored: %v", err)
			}
			if won {
				t.Error("second completion must not win")
			}

			m, _ := store.Get(ctx, "m1")
			if m.Status != mission.StatusCompleted {
				t.Errorf("mission status = %s, want completed (first writer wins)", m.Status)
			}

			if _, err := store.CompleteMission(ctx, "ghost", mission.StatusCompleted); !errors.Is(err, ErrMissionNotFound) {
				t.Errorf("unknown mission = %v, want ErrMissionNotFound", err)
			}
		})
	}
}

func TestMonitorRecordLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now().UTC().Truncate(time.Second)
			rec := &mission.MonitorRecord{
				MissionID:   "m1",
				TaskID:      "t-await",
				TargetValue: 5,
				State:       mission.MonitorStateMonitoring,
				StartTime:   start,
				Expiry:      start.Add(10 * time.Minute),
			}
			if err := store.PutRecord(ctx, rec); err != nil {
				t.Fatalf("PutRecord failed: %v", err)
			}

			// Checkpoint a poll iteration and read it back.
			observed := 3
			rec.LastObservedValue = &observed
			rec.RetryCount = 2
			if err := store.UpdateRecord(ctx, rec); err != nil {
				t.Fatalf("UpdateRecord failed: %v", err)
			}

			got, err := store.GetRecord(ctx, "m1")
			if err != nil {
				t.Fatalf("GetRecord failed: %v", err)
			}
			if got.RetryCount != 2 {
				t.Errorf("RetryCount = %d, want 2", got.RetryCount)
			}
			if got.LastObservedValue == nil || *got.LastObservedValue != 3 {
				t.Errorf("LastObservedValue = %v, want 3", got.LastObservedValue)
			}
			if !got.StartTime.Equal(start) {
				t.Errorf("StartTime = %v, want %v", got.StartTime, start)
			}
			if got.TaskID != "t-await" {
				t.Errorf("TaskID = %q, want t-await", got.TaskID)
			}

			if err := store.DeleteRecord(ctx, "m1"); err != nil {
				t.Fatalf("DeleteRecord failed: %v", err)
			}
			if _, err := store.GetRecord(ctx, "m1"); !errors.Is(err, ErrRecordNotFound) {
				t.Errorf("GetRecord after delete = %v, want ErrRecordNotFound", err)
			}

			// Deleting again stays safe.
			if err := store.DeleteRecord(ctx, "m1"); err != nil {
				t.Errorf("repeated delete errored: %v", err)
			}

			err = store.UpdateRecord(ctx, rec)
			if !errors.Is(err, ErrRecordNotFound) {
				t.Errorf("UpdateRecord on missing row = %v, want ErrRecordNotFound", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "etcd", "", ""); err == nil {
		t.Error("Open with unknown driver should fail")
	}
}
