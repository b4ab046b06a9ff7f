package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"missionctl/pkg/config"
	"missionctl/pkg/logx"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/notify"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

// TaskCompleter receives the terminal task report when a monitoring loop
// finishes. The completion aggregator satisfies this.
type TaskCompleter interface {
	HandleCompletion(ctx context.Context, p *proto.TaskCompletionPayload) error
}

// Supervisor runs monitoring loops, one goroutine per watched mission.
type Supervisor struct {
	store     persistence.MonitorStore
	querier   StatusQuerier
	publisher notify.Publisher
	completer TaskCompleter
	recorder  metrics.Recorder
	cfg       config.MonitorConfig
	logger    *logx.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewSupervisor(cfg config.MonitorConfig, store persistence.MonitorStore, querier StatusQuerier, publisher notify.Publisher, completer TaskCompleter, recorder metrics.Recorder) *Supervisor {
	return &Supervisor{
		store:     store,
		querier:   querier,
		publisher: publisher,
		completer: completer,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logx.NewLogger("monitor"),
		active:    make(map[string]struct{}),
	}
}

// StartMonitoring persists a fresh checkpoint record and launches the
// polling loop. The record hits the store before the first poll so that a
// process replaced mid-loop leaves a resumable trail.
func (s *Supervisor) StartMonitoring(ctx context.Context, missionID, taskID string, target int) error {
	if err := s.claim(missionID); err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := &mission.MonitorRecord{
		MissionID:   missionID,
		TaskID:      taskID,
		TargetValue: target,
		State:       mission.MonitorStateMonitoring,
		RetryCount:  0,
		StartTime:   now,
		Expiry:      now.Add(s.cfg.Timeout() + s.cfg.RecordTTL()),
	}
	if err := s.store.PutRecord(ctx, rec); err != nil {
		s.release(missionID)
		return logx.Wrap(err, "checkpoint monitor record "+missionID)
	}

	if err := ValidateTransition(StateStarting, StatePolling); err != nil {
		s.release(missionID)
		return err
	}
	s.logger.Info("monitoring %s: target %d, timeout %s", missionID, target, s.cfg.Timeout())

	s.wg.Add(1)
	go s.run(ctx, rec)
	return nil
}

// Resume re-enters POLLING from a persisted record, keeping the original
// start time so the overall deadline is unaffected by the restart.
func (s *Supervisor) Resume(ctx context.Context, rec *mission.MonitorRecord) error {
	if err := s.claim(rec.MissionID); err != nil {
		return err
	}
	s.logger.Info("resuming %s: target %d, started %s, %d retries so far",
		rec.MissionID, rec.TargetValue, rec.StartTime.Format(time.RFC3339), rec.RetryCount)

	s.wg.Add(1)
	go s.run(ctx, rec)
	return nil
}

// Stop waits for all loops to finish their current iteration, or for ctx to
// expire. Records of still-running loops stay in the store for resumption.
func (s *Supervisor) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: %w", ctx.Err())
	}
}

// Active returns the mission IDs with a live loop in this process.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) claim(missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[missionID]; ok {
		return fmt.Errorf("mission %s is already being monitored", missionID)
	}
	s.active[missionID] = struct{}{}
	return nil
}

func (s *Supervisor) release(missionID string) {
	s.mu.Lock()
	delete(s.active, missionID)
	s.mu.Unlock()
}

// run drives the loop until a terminal state. ctx cancellation suspends the
// loop without deleting the record; the next process resumes it.
func (s *Supervisor) run(ctx context.Context, rec *mission.MonitorRecord) {
	defer s.wg.Done()
	defer s.release(rec.MissionID)

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	state := StatePolling
	for !state.IsTerminal() {
		select {
		case <-ctx.Done():
			s.logger.Info("suspending %s in %s, record retained for resume", rec.MissionID, state)
			return
		case <-ticker.C:
			next := s.step(ctx, rec)
			if err := ValidateTransition(state, next); err != nil {
				s.logger.Error("%s: %v", rec.MissionID, err)
				next = StateErrored
			}
			state = next
		}
	}
	s.finish(ctx, rec, state)
}

// step executes one poll iteration and returns the next state.
func (s *Supervisor) step(ctx context.Context, rec *mission.MonitorRecord) State {
	// Cancel check: the record is the loop's lease. Gone means someone
	// cancelled the mission out from under us.
	if _, err := s.store.GetRecord(ctx, rec.MissionID); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return StateCancelled
		}
		s.logger.Warn("lease check for %s: %v", rec.MissionID, err)
	}

	// Deadline check precedes the query so a hung external system cannot
	// stretch the loop past its overall timeout.
	if time.Since(rec.StartTime) >= s.cfg.Timeout() {
		return StateTimedOut
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout())
	started := time.Now()
	obs, err := s.querier.Query(qctx, rec.MissionID)
	cancel()
	s.recorder.ObserveQueryDuration(time.Since(started))

	if err != nil {
		rec.RetryCount++
		s.recorder.RecordMonitorPoll("query_error")
		s.logger.Warn("query %s failed (%d/%d): %v", rec.MissionID, rec.RetryCount, s.cfg.MaxRetries, err)
		s.checkpoint(ctx, rec)
		if rec.RetryCount >= s.cfg.MaxRetries {
			return StateErrored
		}
		return StatePolling
	}

	// A successful query wipes the consecutive-failure count.
	rec.RetryCount = 0
	rec.LastObservedValue = &obs.Value
	s.checkpoint(ctx, rec)

	if !obs.AtRest {
		// In motion: the value cannot be trusted against the target.
		s.recorder.RecordMonitorPoll("stale_value")
		s.logger.Debug("%s observed %d in motion, ignoring", rec.MissionID, obs.Value)
		return StatePolling
	}

	s.recorder.RecordMonitorPoll("observed")
	if obs.Value == rec.TargetValue {
		return StateArrived
	}
	s.logger.Debug("%s at %d, target %d", rec.MissionID, obs.Value, rec.TargetValue)
	return StatePolling
}

// checkpoint rewrites the record so crash recovery resumes from the latest
// iteration, not the last transition.
func (s *Supervisor) checkpoint(ctx context.Context, rec *mission.MonitorRecord) {
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			// Cancelled under us; the next cancel check exits the loop.
			return
		}
		s.logger.Warn("checkpoint %s: %v", rec.MissionID, err)
	}
}

// finish runs the terminal exit: delete the record, notify, and report the
// task result so the mission can resolve.
func (s *Supervisor) finish(ctx context.Context, rec *mission.MonitorRecord, state State) {
	s.recorder.RecordMonitorOutcome(state.String())

	if state == StateCancelled {
		// The record is already gone and whoever deleted it owns the
		// mission's fate. Exit without a sound.
		s.logger.Info("monitoring %s cancelled, record deleted externally", rec.MissionID)
		return
	}

	// Best effort: a stale record is reclaimable via its expiry.
	if err := s.store.DeleteRecord(ctx, rec.MissionID); err != nil {
		s.logger.Warn("delete record %s: %v", rec.MissionID, err)
	}

	taskStatus := mission.StatusFailed
	var notifType, message string
	switch state {
	case StateArrived:
		taskStatus = mission.StatusCompleted
		notifType = proto.NotificationTypeArrival
		message = fmt.Sprintf("arrived at target %d", rec.TargetValue)
	case StateTimedOut:
		notifType = proto.NotificationTypeTimeout
		message = fmt.Sprintf("gave up after %s without reaching target %d", s.cfg.Timeout(), rec.TargetValue)
	case StateErrored:
		notifType = proto.NotificationTypeError
		message = fmt.Sprintf("aborted after %d consecutive status query failures", rec.RetryCount)
	}

	s.logger.Info("monitoring %s finished %s: %s", rec.MissionID, state, message)
	s.publisher.Notify(ctx, rec.MissionID, notifType, message)

	result := map[string]any{"monitor_state": state.String(), "target_value": rec.TargetValue}
	if rec.LastObservedValue != nil {
		result["last_observed_value"] = *rec.LastObservedValue
	}
	if state != StateArrived {
		result["error"] = message
	}
	err := s.completer.HandleCompletion(ctx, &proto.TaskCompletionPayload{
		MissionID:   rec.MissionID,
		TaskID:      rec.TaskID,
		Status:      taskStatus,
		Result:      result,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("report monitoring result for %s/%s: %v", rec.MissionID, rec.TaskID, err)
	}
}
