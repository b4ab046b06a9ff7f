package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"missionctl/pkg/mission"
)

// MemoryStore is an in-memory Store for tests and the demo configuration.
// It applies the same conditional-write semantics as the SQL backends.
type MemoryStore struct {
	mu       sync.Mutex
	missions map[string]*mission.Mission
	records  map[string]*mission.MonitorRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: make(map[string]*mission.Mission),
		records:  make(map[string]*mission.MonitorRecord),
	}
}

func (s *MemoryStore) Close() error { return nil }

// copyMission deep-copies through JSON so callers never share maps with the store.
func copyMission(m *mission.Mission) *mission.Mission {
	data, _ := json.Marshal(m)
	var out mission.Mission
	_ = json.Unmarshal(data, &out)
	return &out
}

func copyRecord(rec *mission.MonitorRecord) *mission.MonitorRecord {
	out := *rec
	if rec.LastObservedValue != nil {
		v := *rec.LastObservedValue
		out.LastObservedValue = &v
	}
	return &out
}

func (s *MemoryStore) Put(_ context.Context, m *mission.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.MissionID] = copyMission(m)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, missionID string) (*mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return nil, ErrMissionNotFound
	}
	return copyMission(m), nil
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, missionID, taskID string, status mission.Status, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return ErrMissionNotFound
	}
	t := m.Task(taskID)
	if t == nil {
		return ErrTaskNotFound
	}
	if t.Status.IsTerminal() && t.Status != status {
		return ErrTerminalConflict
	}

	now := time.Now().UTC()
	t.Status = status
	if result != nil {
		t.Result = result
	}
	if status == mission.StatusInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if status.IsTerminal() && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	m.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateMissionStatus(_ context.Context, missionID string, status mission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return ErrMissionNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CompleteMission(_ context.Context, missionID string, status mission.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[missionID]
	if !ok {
		return false, ErrMissionNotFound
	}
	if m.Status.IsTerminal() {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) PutRecord(_ context.Context, rec *mission.MonitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.MissionID] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, missionID string) (*mission.MonitorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[missionID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, rec *mission.MonitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MissionID]; !ok {
		return ErrRecordNotFound
	}
	s.records[rec.MissionID] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, missionID)
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context) ([]mission.MonitorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]mission.MonitorRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *copyRecord(rec))
	}
	return records, nil
}
