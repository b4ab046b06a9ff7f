package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"missionctl/internal/mocks"
	"missionctl/pkg/config"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/monitor"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

type recordingCompleter struct {
	ch chan *proto.TaskCompletionPayload
}

func (c *recordingCompleter) HandleCompletion(_ context.Context, p *proto.TaskCompletionPayload) error {
	c.ch <- p
	return nil
}

func fastMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		PollIntervalMS:  5,
		TimeoutSeconds:  30,
		MaxRetries:      3,
		QueryTimeoutMS:  100,
		RecordTTLMinute: 1,
	}
}

func TestDecidePolicy(t *testing.T) {
	now := time.Now().UTC()
	live := &mission.MonitorRecord{Expiry: now.Add(time.Minute)}
	if Decide(live, now) != ResumeLoop {
		t.Error("unexpired record should resume")
	}
	stale := &mission.MonitorRecord{Expiry: now.Add(-time.Minute)}
	if Decide(stale, now) != ReclaimRecord {
		t.Error("expired record should be reclaimed")
	}
}

func TestRecoverResumesLiveRecord(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	pub := mocks.NewCapturePublisher()
	done := &recordingCompleter{ch: make(chan *proto.TaskCompletionPayload, 1)}

	// The previous process died mid-poll; the car is already on the floor.
	querier := mocks.NewScriptedQuerier(mocks.QueryStep{Obs: monitor.Observation{Value: 5, AtRest: true}})
	monitors := monitor.NewSupervisor(fastMonitorConfig(), store, querier, pub, done, metrics.NopRecorder{})

	now := time.Now().UTC()
	rec := &mission.MonitorRecord{
		MissionID:   "m-live",
		TaskID:      "t1",
		TargetValue: 5,
		State:       mission.MonitorStateMonitoring,
		StartTime:   now.Add(-10 * time.Second),
		Expiry:      now.Add(10 * time.Minute),
	}
	if err := store.PutRecord(ctx, rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	sup := New(store, monitors, pub, done)
	resumed, err := sup.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("want 1 resumed loop, got %d", resumed)
	}

	select {
	case p := <-done.ch:
		if p.Status != mission.StatusCompleted {
			t.Errorf("resumed loop should arrive, got %s", p.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resumed loop never finished")
	}
}

func TestRecoverReclaimsExpiredRecord(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	pub := mocks.NewCapturePublisher()
	done := &recordingCompleter{ch: make(chan *proto.TaskCompletionPayload, 1)}

	querier := mocks.NewScriptedQuerier(mocks.QueryStep{Obs: monitor.Observation{Value: 1, AtRest: true}})
	monitors := monitor.NewSupervisor(fastMonitorConfig(), store, querier, pub, done, metrics.NopRecorder{})

	now := time.Now().UTC()
	rec := &mission.MonitorRecord{
		MissionID:   "m-stale",
		TaskID:      "t1",
		TargetValue: 5,
		State:       mission.MonitorStateMonitoring,
		StartTime:   now.Add(-2 * time.Hour),
		Expiry:      now.Add(-time.Hour),
	}
	if err := store.PutRecord(ctx, rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	sup := New(store, monitors, pub, done)
	resumed, err := sup.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if resumed != 0 {
		t.Fatalf("expired record must not resume, got %d", resumed)
	}

	if _, err := store.GetRecord(ctx, "m-stale"); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Errorf("expired record should be deleted, got %v", err)
	}
	notifs := pub.Notifications()
	if len(notifs) != 1 || notifs[0].Type != proto.NotificationTypeTimeout {
		t.Fatalf("want one timeout notification, got %+v", notifs)
	}
	select {
	case p := <-done.ch:
		if p.Status != mission.StatusFailed {
			t.Errorf("reclaimed task should fail, got %s", p.Status)
		}
	default:
		t.Fatal("reclaim did not fail the task")
	}
}

func TestRecoverWithNoRecords(t *testing.T) {
	store := persistence.NewMemoryStore()
	pub := mocks.NewCapturePublisher()
	done := &recordingCompleter{ch: make(chan *proto.TaskCompletionPayload, 1)}
	querier := mocks.NewScriptedQuerier(mocks.QueryStep{Obs: monitor.Observation{Value: 1, AtRest: true}})
	monitors := monitor.NewSupervisor(fastMonitorConfig(), store, querier, pub, done, metrics.NopRecorder{})

	sup := New(store, monitors, pub, done)
	resumed, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if resumed != 0 {
		t.Errorf("nothing to resume, got %d", resumed)
	}
}
