// Package completion turns per-task completion reports into a single,
// publish-once mission verdict.
package completion

import (
	"context"
	"errors"

	"missionctl/pkg/logx"
	"missionctl/pkg/metrics"
	"missionctl/pkg/notify"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

// Aggregator applies task completion reports and resolves missions.
//
// Delivery is at-least-once and unordered, so HandleCompletion is safe to
// call any number of times with the same report, from any number of
// goroutines. The mission store's conditional writes carry the idempotency;
// the aggregator itself holds no state between calls.
type Aggregator struct {
	store     persistence.MissionStore
	publisher notify.Publisher
	recorder  metrics.Recorder
	logger    *logx.Logger
}

func NewAggregator(store persistence.MissionStore, publisher notify.Publisher, recorder metrics.Recorder) *Aggregator {
	return &Aggregator{
		store:     store,
		publisher: publisher,
		recorder:  recorder,
		logger:    logx.NewLogger("completion"),
	}
}

// HandleEnvelope decodes and applies a TASK_COMPLETION envelope.
func (a *Aggregator) HandleEnvelope(ctx context.Context, env *proto.Envelope) error {
	p, err := env.DecodeTaskCompletion()
	if err != nil {
		return logx.Wrap(err, "reject completion "+env.ID)
	}
	return a.HandleCompletion(ctx, p)
}

// HandleCompletion records one task's terminal status, then checks whether
// the mission as a whole is resolved. Exactly one caller wins the mission
// transition and publishes the result; everyone else sees a no-op.
func (a *Aggregator) HandleCompletion(ctx context.Context, p *proto.TaskCompletionPayload) error {
	err := a.store.UpdateTaskStatus(ctx, p.MissionID, p.TaskID, p.Status, p.Result)
	switch {
	case errors.Is(err, persistence.ErrTerminalConflict):
		// A different terminal status is already recorded. First writer
		// wins; drop this report and still run the aggregation check, since
		// the mission may be resolvable regardless.
		a.logger.Warn("task %s/%s already terminal, dropping duplicate %s report",
			p.MissionID, p.TaskID, p.Status)
	case errors.Is(err, persistence.ErrMissionNotFound), errors.Is(err, persistence.ErrTaskNotFound):
		a.logger.Warn("completion for unknown task %s/%s: %v", p.MissionID, p.TaskID, err)
		return err
	case err != nil:
		return logx.Errorf("record completion %s/%s: %w", p.MissionID, p.TaskID, err)
	default:
		a.logger.Debug("task %s/%s recorded %s", p.MissionID, p.TaskID, p.Status)
	}

	return a.resolveIfDone(ctx, p.MissionID)
}

// resolveIfDone re-reads the mission and, if every task is terminal,
// attempts the conditional mission transition. The store's compare-and-set
// is the linearization point: concurrent callers race it, one wins, and
// only the winner publishes.
func (a *Aggregator) resolveIfDone(ctx context.Context, missionID string) error {
	m, err := a.store.Get(ctx, missionID)
	if err != nil {
		return logx.Errorf("re-read mission %s: %w", missionID, err)
	}
	if !m.AllTerminal() {
		return nil
	}

	verdict := m.Overall()
	won, err := a.store.CompleteMission(ctx, missionID, verdict)
	if err != nil {
		return logx.Errorf("complete mission %s: %w", missionID, err)
	}
	if !won {
		a.logger.Debug("mission %s already resolved, skipping publish", missionID)
		return nil
	}

	a.recorder.RecordMissionResolved(string(verdict))
	a.logger.Info("mission %s resolved %s (%d tasks)", missionID, verdict, len(m.Tasks))

	// Re-read so the published result carries the post-transition status.
	resolved, err := a.store.Get(ctx, missionID)
	if err != nil {
		resolved = m
		resolved.Status = verdict
	}
	a.publisher.PublishResult(ctx, resolved)
	return nil
}
