// Package notify fans out mission results and progress notifications to the
// mission's originating user context.
//
// Publishing is strictly best-effort: a failed notification is logged and
// swallowed, never propagated, so it can neither crash a long-lived
// monitoring loop nor make a completed task appear to fail.
package notify

import (
	"context"
	"time"

	"missionctl/pkg/logx"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

// Publisher delivers messages to the shared result channel.
type Publisher interface {
	// PublishResult emits the final mission verdict with the full task list.
	PublishResult(ctx context.Context, m *mission.Mission)

	// Notify emits a progress notification for the mission's user.
	Notify(ctx context.Context, missionID, notificationType, message string)
}

// ChannelPublisher resolves mission → user routing through the mission
// store and emits envelopes on a buffered result channel.
type ChannelPublisher struct {
	store    persistence.MissionStore
	results  chan<- *proto.Envelope
	recorder metrics.Recorder
	logger   *logx.Logger
}

func NewChannelPublisher(store persistence.MissionStore, results chan<- *proto.Envelope, recorder metrics.Recorder) *ChannelPublisher {
	return &ChannelPublisher{
		store:    store,
		results:  results,
		recorder: recorder,
		logger:   logx.NewLogger("notify"),
	}
}

// PublishResult emits a MISSION_RESULT envelope. Failures are logged and
// swallowed.
func (p *ChannelPublisher) PublishResult(ctx context.Context, m *mission.Mission) {
	env, err := proto.NewEnvelope(proto.MsgKindMissionResult, "orchestrator", m.UserID, &proto.MissionResultPayload{
		MissionID:   m.MissionID,
		UserID:      m.UserID,
		Status:      m.Status,
		Tasks:       m.Tasks,
		CompletedAt: m.UpdatedAt,
	})
	if err != nil {
		p.logger.Error("build result for mission %s: %v", m.MissionID, err)
		return
	}
	p.emit(ctx, env)
}

// Notify resolves the mission's user and emits a NOTIFICATION envelope.
// A mission that cannot be resolved is logged and the notification dropped.
func (p *ChannelPublisher) Notify(ctx context.Context, missionID, notificationType, message string) {
	m, err := p.store.Get(ctx, missionID)
	if err != nil {
		p.logger.Warn("cannot resolve user for mission %s, dropping %s notification: %v",
			missionID, notificationType, err)
		return
	}

	env, err := proto.NewEnvelope(proto.MsgKindNotification, "orchestrator", m.UserID, &proto.NotificationPayload{
		MissionID:        missionID,
		UserID:           m.UserID,
		NotificationType: notificationType,
		Message:          message,
		Timestamp:        time.Now().UTC(),
		Status:           proto.NotificationStatus,
	})
	if err != nil {
		p.logger.Error("build notification for mission %s: %v", missionID, err)
		return
	}
	p.emit(ctx, env)
}

func (p *ChannelPublisher) emit(ctx context.Context, env *proto.Envelope) {
	select {
	case p.results <- env:
		p.recorder.RecordPublish(env.Kind.String())
		p.logger.Debug("published %s %s to %s", env.Kind, env.ID, env.ToAgent)
	case <-ctx.Done():
		p.logger.Warn("context cancelled, dropping %s %s", env.Kind, env.ID)
	default:
		p.logger.Warn("result channel full, dropping %s %s", env.Kind, env.ID)
	}
}
