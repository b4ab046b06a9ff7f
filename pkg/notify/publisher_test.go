package notify

import (
	"context"
	"testing"
	"time"

	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

func seedMission(t *testing.T, store persistence.MissionStore) *mission.Mission {
	t.Helper()
	m := &mission.Mission{
		MissionID: "m1",
		UserID:    "user-7",
		Status:    mission.StatusCompleted,
		Tasks:     []mission.Task{{TaskID: "t1", Agent: "a", Action: "do", Status: mission.StatusCompleted}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Put(context.Background(), m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func TestPublishResult(t *testing.T) {
	store := persistence.NewMemoryStore()
	results := make(chan *proto.Envelope, 1)
	pub := NewChannelPublisher(store, results, metrics.NopRecorder{})
	m := seedMission(t, store)

	pub.PublishResult(context.Background(), m)

	select {
	case env := <-results:
		if env.Kind != proto.MsgKindMissionResult {
			t.Fatalf("want MISSION_RESULT, got %s", env.Kind)
		}
		if env.ToAgent != "user-7" {
			t.Errorf("result routed to %q, want user-7", env.ToAgent)
		}
		p, err := env.DecodeMissionResult()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Status != mission.StatusCompleted || len(p.Tasks) != 1 {
			t.Errorf("payload lost mission state: %+v", p)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestNotifyResolvesUser(t *testing.T) {
	store := persistence.NewMemoryStore()
	results := make(chan *proto.Envelope, 1)
	pub := NewChannelPublisher(store, results, metrics.NopRecorder{})
	seedMission(t, store)

	pub.Notify(context.Background(), "m1", proto.NotificationTypeArrival, "arrived at target 5")

	select {
	case env := <-results:
		p, err := env.DecodeNotification()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.UserID != "user-7" {
			t.Errorf("notification for %q, want user-7", p.UserID)
		}
		if p.Status != proto.NotificationStatus {
			t.Errorf("status %q must mark a notification", p.Status)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestNotifyUnknownMissionIsSwallowed(t *testing.T) {
	store := persistence.NewMemoryStore()
	results := make(chan *proto.Envelope, 1)
	pub := NewChannelPublisher(store, results, metrics.NopRecorder{})

	// Must not panic or publish; failures are logged and dropped.
	pub.Notify(context.Background(), "no-such-mission", proto.NotificationTypeError, "boom")

	if len(results) != 0 {
		t.Fatal("notification published for unknown mission")
	}
}

func TestFullChannelDropsInsteadOfBlocking(t *testing.T) {
	store := persistence.NewMemoryStore()
	results := make(chan *proto.Envelope) // unbuffered, nobody reading
	pub := NewChannelPublisher(store, results, metrics.NopRecorder{})
	m := seedMission(t, store)

	done := make(chan struct{})
	go func() {
		pub.PublishResult(context.Background(), m)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full channel")
	}
}
