package mission

import "testing"

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending to in_progress", StatusPending, StatusInProgress, true},
		{"pending to completed", StatusPending, StatusCompleted, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"in_progress to completed", StatusInProgress, StatusCompleted, true},
		{"in_progress to failed", StatusInProgress, StatusFailed, true},
		{"in_progress back to pending", StatusInProgress, StatusPending, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"completed to in_progress", StatusCompleted, StatusInProgress, false},
		{"completed to completed", StatusCompleted, StatusCompleted, true},
		{"failed to failed", StatusFailed, StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("CanTransition(%s → %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestOverallVerdict(t *testing.T) {
	m := &Mission{
		Tasks: []Task{
			{TaskID: "t1", Status: StatusCompleted},
			{TaskID: "t2", Status: StatusCompleted},
		},
	}
	if !m.AllTerminal() {
		t.Fatal("expected all tasks terminal")
	}
	if m.Overall() != StatusCompleted {
		t.Errorf("Overall() = %s, want completed", m.Overall())
	}

	m.Tasks[1].Status = StatusFailed
	if m.Overall() != StatusFailed {
		t.Errorf("Overall() = %s, want failed when any task failed", m.Overall())
	}

	m.Tasks = append(m.Tasks, Task{TaskID: "t3", Status: StatusInProgress})
	if m.AllTerminal() {
		t.Error("mission with an in_progress task must not be all-terminal")
	}
}

func TestTaskLookup(t *testing.T) {
	m := &Mission{Tasks: []Task{{TaskID: "t1"}, {TaskID: "t2"}}}
	if m.Task("t2") == nil {
		t.Error("expected to find t2")
	}
	if m.Task("missing") != nil {
		t.Error("expected nil for unknown task ID")
	}
}
