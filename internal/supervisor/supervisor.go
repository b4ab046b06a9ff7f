// Package supervisor applies restart policy to monitoring loops. At startup
// it sweeps the lingering monitor records left by a previous process and
// decides, per record, whether to resume the loop or reclaim the record.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"missionctl/pkg/logx"
	"missionctl/pkg/mission"
	"missionctl/pkg/monitor"
	"missionctl/pkg/notify"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

// RecoveryAction is the policy decision for one lingering record.
type RecoveryAction int

const (
	// ResumeLoop relaunches the monitoring loop from the record.
	ResumeLoop RecoveryAction = iota
	// ReclaimRecord deletes an expired record and fails its task.
	ReclaimRecord
)

// Supervisor recovers monitoring state across process restarts.
type Supervisor struct {
	store     persistence.MonitorStore
	monitors  *monitor.Supervisor
	publisher notify.Publisher
	completer monitor.TaskCompleter
	logger    *logx.Logger
}

func New(store persistence.MonitorStore, monitors *monitor.Supervisor, publisher notify.Publisher, completer monitor.TaskCompleter) *Supervisor {
	return &Supervisor{
		store:     store,
		monitors:  monitors,
		publisher: publisher,
		completer: completer,
		logger:    logx.NewLogger("supervisor"),
	}
}

// Decide returns the recovery action for one record.
func Decide(rec *mission.MonitorRecord, now time.Time) RecoveryAction {
	if now.After(rec.Expiry) {
		return ReclaimRecord
	}
	return ResumeLoop
}

// Recover sweeps all lingering records and applies the policy. Returns the
// number of loops resumed.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return 0, logx.Wrap(err, "list monitor records")
	}
	if len(records) == 0 {
		return 0, nil
	}
	s.logger.Info("found %d lingering monitor record(s)", len(records))

	now := time.Now().UTC()
	resumed := 0
	for i := range records {
		rec := records[i]
		switch Decide(&rec, now) {
		case ReclaimRecord:
			s.reclaim(ctx, &rec)
		case ResumeLoop:
			if err := s.monitors.Resume(ctx, &rec); err != nil {
				s.logger.Error("resume %s: %v", rec.MissionID, err)
				continue
			}
			resumed++
		}
	}
	return resumed, nil
}

// reclaim disposes of a record whose loop can no longer meaningfully
// continue: the deadline passed while no process was polling.
func (s *Supervisor) reclaim(ctx context.Context, rec *mission.MonitorRecord) {
	s.logger.Warn("reclaiming expired record %s (started %s, expired %s)",
		rec.MissionID, rec.StartTime.Format(time.RFC3339), rec.Expiry.Format(time.RFC3339))

	if err := s.store.DeleteRecord(ctx, rec.MissionID); err != nil {
		s.logger.Warn("delete expired record %s: %v", rec.MissionID, err)
	}

	msg := fmt.Sprintf("monitoring expired during an outage without reaching target %d", rec.TargetValue)
	s.publisher.Notify(ctx, rec.MissionID, proto.NotificationTypeTimeout, msg)

	if rec.TaskID == "" {
		return
	}
	err := s.completer.HandleCompletion(ctx, &proto.TaskCompletionPayload{
		MissionID:   rec.MissionID,
		TaskID:      rec.TaskID,
		Status:      mission.StatusFailed,
		Result:      map[string]any{"error": msg},
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("fail task %s/%s for expired record: %v", rec.MissionID, rec.TaskID, err)
	}
}
