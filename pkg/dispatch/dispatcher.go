// Package dispatch owns mission intake and task fan-out.
//
// The dispatcher accepts MISSION and TASK_COMPLETION envelopes on a single
// buffered input channel, persists mission state before any task leaves the
// process, and routes each task to its agent's per-agent channel. Agents
// attach and detach at runtime; a task addressed to an agent that is not
// attached fails immediately rather than queueing forever.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"missionctl/pkg/completion"
	"missionctl/pkg/config"
	"missionctl/pkg/eventlog"
	"missionctl/pkg/logx"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/persistence"
	"missionctl/pkg/proto"
)

// Dispatcher routes missions to agents and completions to the aggregator.
type Dispatcher struct {
	store      persistence.MissionStore
	aggregator *completion.Aggregator
	eventLog   *eventlog.Writer
	recorder   metrics.Recorder
	logger     *logx.Logger
	cfg        config.DispatchConfig

	inputCh  chan *proto.Envelope
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu         sync.RWMutex
	agentChans map[string]chan *proto.Envelope
	running    bool
}

// NewDispatcher wires the dispatcher to its stores and sinks. The event log
// is optional; pass nil to skip message journaling.
func NewDispatcher(cfg config.DispatchConfig, store persistence.MissionStore, aggregator *completion.Aggregator, eventLog *eventlog.Writer, recorder metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		store:      store,
		aggregator: aggregator,
		eventLog:   eventLog,
		recorder:   recorder,
		logger:     logx.NewLogger("dispatcher"),
		cfg:        cfg,
		inputCh:    make(chan *proto.Envelope, cfg.QueueSize),
		shutdown:   make(chan struct{}),
		agentChans: make(map[string]chan *proto.Envelope),
	}
}

// Attach registers an agent and returns the channel its task dispatches
// arrive on. Re-attaching an agent ID replaces (and closes) the old channel.
func (d *Dispatcher) Attach(agentID string) <-chan *proto.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.agentChans[agentID]; ok {
		close(old)
	}
	ch := make(chan *proto.Envelope, d.cfg.AgentQueueSize)
	d.agentChans[agentID] = ch
	d.logger.Info("attached agent: %s", agentID)
	return ch
}

// Detach unregisters an agent and closes its dispatch channel. Tasks for a
// detached agent fail at dispatch time like any unknown agent.
func (d *Dispatcher) Detach(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.agentChans[agentID]; ok {
		close(ch)
		delete(d.agentChans, agentID)
		d.logger.Info("detached agent: %s", agentID)
	}
}

// Start launches the message processor.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.messageProcessor(ctx)

	d.logger.Info("dispatcher started")
	return nil
}

// Stop drains the processor and closes all agent channels. Blocks until the
// processor exits or ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}

	d.mu.Lock()
	for id, ch := range d.agentChans {
		close(ch)
		delete(d.agentChans, id)
	}
	d.mu.Unlock()

	d.logger.Info("dispatcher stopped")
	return nil
}

// DispatchMessage enqueues an envelope for processing. Non-blocking; a full
// input queue is a hard error so that backpressure is visible to callers.
func (d *Dispatcher) DispatchMessage(env *proto.Envelope) error {
	if err := env.Validate(); err != nil {
		return logx.Wrap(err, "reject message")
	}
	select {
	case d.inputCh <- env:
		return nil
	default:
		return logx.Errorf("input queue full, dropping %s %s", env.Kind, env.ID)
	}
}

func (d *Dispatcher) messageProcessor(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case env := <-d.inputCh:
			d.processMessage(ctx, env)
		case <-d.shutdown:
			// Drain whatever was accepted before shutdown.
			for {
				select {
				case env := <-d.inputCh:
					d.processMessage(ctx, env)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// processMessage routes on the envelope kind decided at the boundary.
func (d *Dispatcher) processMessage(ctx context.Context, env *proto.Envelope) {
	d.journal(env)

	switch env.Kind {
	case proto.MsgKindMission:
		if err := d.handleMission(ctx, env); err != nil {
			d.logger.Error("mission %s failed: %v", env.ID, err)
		}
	case proto.MsgKindTaskCompletion:
		if err := d.aggregator.HandleEnvelope(ctx, env); err != nil {
			d.logger.Error("completion %s failed: %v", env.ID, err)
		}
	default:
		d.logger.Warn("unexpected %s message %s from %s, dropping", env.Kind, env.ID, env.FromAgent)
	}
}

// handleMission persists the mission, then fans its tasks out to agents.
// Persist-before-dispatch: no task may leave the process before the mission
// row exists, or a fast completion could reference an unknown mission.
func (d *Dispatcher) handleMission(ctx context.Context, env *proto.Envelope) error {
	p, err := env.DecodeMission()
	if err != nil {
		return err
	}

	m := d.buildMission(p)
	if err := d.store.Put(ctx, m); err != nil {
		return logx.Wrap(err, "persist mission "+m.MissionID)
	}
	if err := d.store.UpdateMissionStatus(ctx, m.MissionID, mission.StatusInProgress); err != nil {
		return logx.Wrap(err, "mark mission in progress")
	}

	d.recorder.RecordMissionIngested()
	d.logger.Info("mission %s accepted from %s (%d tasks)", m.MissionID, env.FromAgent, len(m.Tasks))

	for i := range m.Tasks {
		d.dispatchTask(ctx, m, &m.Tasks[i])
	}
	return nil
}

// buildMission normalizes an inbound payload into a pending mission,
// generating any identifiers the planner left blank.
func (d *Dispatcher) buildMission(p *proto.MissionPayload) *mission.Mission {
	now := time.Now().UTC()
	m := &mission.Mission{
		MissionID: p.MissionID,
		UserID:    p.UserID,
		Status:    mission.StatusPending,
		Tasks:     p.Tasks,
		CreatedAt: p.CreatedAt,
		UpdatedAt: now,
	}
	if m.MissionID == "" {
		m.MissionID = mission.GenerateMissionID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	for i := range m.Tasks {
		if m.Tasks[i].TaskID == "" {
			m.Tasks[i].TaskID = mission.GenerateTaskID()
		}
		m.Tasks[i].Status = mission.StatusPending
	}
	return m
}

// dispatchTask hands one task to its agent's channel, or fails it in place
// when the agent is unknown or its queue is full.
func (d *Dispatcher) dispatchTask(ctx context.Context, m *mission.Mission, t *mission.Task) {
	env, err := proto.NewEnvelope(proto.MsgKindTaskDispatch, "dispatcher", t.Agent, &proto.TaskDispatchPayload{
		MissionID:  m.MissionID,
		TaskID:     t.TaskID,
		Agent:      t.Agent,
		Action:     t.Action,
		Parameters: t.Parameters,
		Status:     mission.StatusPending,
	})
	if err != nil {
		d.failTask(ctx, m.MissionID, t, fmt.Sprintf("build dispatch: %v", err))
		return
	}

	d.mu.RLock()
	ch, ok := d.agentChans[t.Agent]
	d.mu.RUnlock()
	if !ok {
		d.failTask(ctx, m.MissionID, t, "no such agent: "+t.Agent)
		return
	}

	select {
	case ch <- env:
		if err := d.store.UpdateTaskStatus(ctx, m.MissionID, t.TaskID, mission.StatusInProgress, nil); err != nil {
			d.logger.Warn("mark task %s in progress: %v", t.TaskID, err)
		}
		d.recorder.RecordTaskDispatched(t.Agent, "dispatched")
		d.journal(env)
		d.logger.Debug("dispatched task %s to %s", t.TaskID, t.Agent)
	default:
		d.failTask(ctx, m.MissionID, t, "agent queue full: "+t.Agent)
	}
}

// failTask records an immediate terminal failure for an undispatchable task.
// Routed through the aggregator so a mission whose last pending task just
// failed still resolves and publishes.
func (d *Dispatcher) failTask(ctx context.Context, missionID string, t *mission.Task, reason string) {
	d.recorder.RecordTaskDispatched(t.Agent, "failed")
	d.logger.Warn("task %s undispatchable: %s", t.TaskID, reason)

	err := d.aggregator.HandleCompletion(ctx, &proto.TaskCompletionPayload{
		MissionID:   missionID,
		TaskID:      t.TaskID,
		Status:      mission.StatusFailed,
		Result:      map[string]any{"error": reason},
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		d.logger.Error("record dispatch failure for task %s: %v", t.TaskID, err)
	}
}

func (d *Dispatcher) journal(env *proto.Envelope) {
	if d.eventLog == nil {
		return
	}
	if err := d.eventLog.WriteEnvelope(env); err != nil {
		d.logger.Warn("event log write failed for %s: %v", env.ID, err)
	}
}

// AttachedAgents returns the IDs of currently attached agents.
func (d *Dispatcher) AttachedAgents() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.agentChans))
	for id := range d.agentChans {
		ids = append(ids, id)
	}
	return ids
}
