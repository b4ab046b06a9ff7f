package dispatch

import (
	"context"
	"testing"
	"time"

	"missionctl/internal/mocks"
	"missionctl/pkg/completion"
	"missionctl/pkg/config"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

func testDispatcher(t *testing.T) (*Dispatcher, persistence.Store, *mocks.CapturePublisher) {
	t.Helper()
	store := persistence.NewMemoryStore()
	pub := mocks.NewCapturePublisher()
	agg := completion.NewAggregator(store, pub, metrics.NopRecorder{})
	d := NewDispatcher(config.Default().Dispatch, store, agg, nil, metrics.NopRecorder{})
	return d, store, pub
}

func missionEnvelope(t *testing.T, tasks ...mission.Task) *proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(proto.MsgKindMission, "planner", "dispatcher", &proto.MissionPayload{
		MissionID: "mission-disp",
		UserID:    "user-1",
		Tasks:     tasks,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMissionFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, store, _ := testDispatcher(t)

	tasksCh := d.Attach("agent-a")
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	env := missionEnvelope(t,
		mission.Task{TaskID: "t1", Agent: "agent-a", Action: "do"},
		mission.Task{TaskID: "t2", Agent: "agent-a", Action: "do"},
	)
	if err := d.DispatchMessage(env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case got := <-tasksCh:
			if got.Kind != proto.MsgKindTaskDispatch {
				t.Fatalf("want TASK_DISPATCH, got %s", got.Kind)
			}
			p, err := got.DecodeTaskDispatch()
			if err != nil {
				t.Fatalf("decode dispatch: %v", err)
			}
			if p.MissionID != "mission-disp" {
				t.Errorf("wrong mission id %q", p.MissionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d never dispatched", i)
		}
	}

	waitFor(t, "mission persisted in progress", func() bool {
		m, err := store.Get(ctx, "mission-disp")
		return err == nil && m.Status == mission.StatusInProgress
	})
	m, _ := store.Get(ctx, "mission-disp")
	for _, task := range m.Tasks {
		if task.Status != mission.StatusInProgress {
			t.Errorf("task %s should be in_progress, got %s", task.TaskID, task.Status)
		}
	}
}

func TestUnknownAgentFailsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, store, pub := testDispatcher(t)

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	// Nobody is attached: the sole task fails at dispatch and the mission
	// resolves failed immediately.
	env := missionEnvelope(t, mission.Task{TaskID: "t1", Agent: "ghost", Action: "do"})
	if err := d.DispatchMessage(env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, "mission result", func() bool { return len(pub.Results()) == 1 })
	if got := pub.Results()[0].Status; got != mission.StatusFailed {
		t.Errorf("want failed verdict, got %s", got)
	}
	m, err := store.Get(ctx, "mission-disp")
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if m.Tasks[0].Status != mission.StatusFailed {
		t.Errorf("task should be failed, got %s", m.Tasks[0].Status)
	}
}

func TestCompletionRoutesToAggregator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, pub := testDispatcher(t)

	tasksCh := d.Attach("agent-a")
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	env := missionEnvelope(t, mission.Task{TaskID: "t1", Agent: "agent-a", Action: "do"})
	if err := d.DispatchMessage(env); err != nil {
		t.Fatalf("dispatch mission: %v", err)
	}
	<-tasksCh // consume the dispatch

	done, err := proto.NewEnvelope(proto.MsgKindTaskCompletion, "agent-a", "dispatcher", &proto.TaskCompletionPayload{
		MissionID:   "mission-disp",
		TaskID:      "t1",
		Status:      mission.StatusCompleted,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build completion: %v", err)
	}
	if err := d.DispatchMessage(done); err != nil {
		t.Fatalf("dispatch completion: %v", err)
	}

	waitFor(t, "published result", func() bool { return len(pub.Results()) == 1 })
	if got := pub.Results()[0].Status; got != mission.StatusCompleted {
		t.Errorf("want completed verdict, got %s", got)
	}
}

func TestMixedOutcomesFailTheMission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, store, pub := testDispatcher(t)

	// Two agents: X completes its task, Y fails its own.
	reply := func(agentID string, status mission.Status, tasks <-chan *proto.Envelope) {
		env := <-tasks
		p, err := env.DecodeTaskDispatch()
		if err != nil {
			return
		}
		done, err := proto.NewEnvelope(proto.MsgKindTaskCompletion, agentID, "dispatcher", &proto.TaskCompletionPayload{
			MissionID:   p.MissionID,
			TaskID:      p.TaskID,
			Status:      status,
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			return
		}
		_ = d.DispatchMessage(done)
	}
	go reply("agent-x", mission.StatusCompleted, d.Attach("agent-x"))
	go reply("agent-y", mission.StatusFailed, d.Attach("agent-y"))

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	env := missionEnvelope(t,
		mission.Task{TaskID: "t-x", Agent: "agent-x", Action: "do"},
		mission.Task{TaskID: "t-y", Agent: "agent-y", Action: "do"},
	)
	if err := d.DispatchMessage(env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, "mission result", func() bool { return len(pub.Results()) >= 1 })
	results := pub.Results()
	if len(results) != 1 {
		t.Fatalf("want exactly one result, got %d", len(results))
	}
	if results[0].Status != mission.StatusFailed {
		t.Errorf("one failed task must fail the mission, got %s", results[0].Status)
	}

	m, err := store.Get(ctx, "mission-disp")
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if !m.AllTerminal() {
		t.Error("all tasks should be terminal")
	}
}

func TestDetachThenDispatchFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, pub := testDispatcher(t)

	d.Attach("agent-a")
	d.Detach("agent-a")
	if got := len(d.AttachedAgents()); got != 0 {
		t.Fatalf("want no attached agents, got %d", got)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	env := missionEnvelope(t, mission.Task{TaskID: "t1", Agent: "agent-a", Action: "do"})
	if err := d.DispatchMessage(env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, "failed mission result", func() bool { return len(pub.Results()) == 1 })
	if got := pub.Results()[0].Status; got != mission.StatusFailed {
		t.Errorf("want failed verdict, got %s", got)
	}
}

func TestRejectInvalidEnvelope(t *testing.T) {
	d, _, _ := testDispatcher(t)
	if err := d.DispatchMessage(&proto.Envelope{}); err == nil {
		t.Fatal("want validation error for empty envelope")
	}
}
