// Package agent implements in-process worker agents. A Worker drains its
// dispatch channel, executes the action registered for each task's verb,
// and reports a terminal completion back to the dispatcher.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"missionctl/pkg/logx"
	"missionctl/pkg/mission"
	"missionctl/pkg/proto"
)

// Result is the outcome of executing one task action.
type Result struct {
	Status mission.Status
	Output map[string]any
	// Async marks a handoff: the action started a long-running process
	// that will report the task's completion itself, so the worker must
	// not send one.
	Async bool
}

// ActionExecutor runs one action verb.
type ActionExecutor interface {
	Execute(ctx context.Context, task *proto.TaskDispatchPayload) Result
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, task *proto.TaskDispatchPayload) Result

func (f ExecutorFunc) Execute(ctx context.Context, task *proto.TaskDispatchPayload) Result {
	return f(ctx, task)
}

// CompletionSink accepts the worker's outbound completion envelopes.
// The dispatcher satisfies this.
type CompletionSink interface {
	DispatchMessage(env *proto.Envelope) error
}

// Worker is one named agent executing tasks from its dispatch channel.
type Worker struct {
	id     string
	sink   CompletionSink
	logger *logx.Logger

	mu        sync.RWMutex
	executors map[string]ActionExecutor

	wg sync.WaitGroup
}

func NewWorker(id string, sink CompletionSink) *Worker {
	return &Worker{
		id:        id,
		sink:      sink,
		logger:    logx.NewLogger(id),
		executors: make(map[string]ActionExecutor),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Register binds an executor to an action verb, replacing any previous one.
func (w *Worker) Register(action string, ex ActionExecutor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.executors[action] = ex
}

// Start launches the task loop. It exits when the dispatch channel closes
// or ctx is cancelled.
func (w *Worker) Start(ctx context.Context, tasks <-chan *proto.Envelope) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case env, ok := <-tasks:
				if !ok {
					w.logger.Info("dispatch channel closed, worker exiting")
					return
				}
				w.handle(ctx, env)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the task loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) handle(ctx context.Context, env *proto.Envelope) {
	task, err := env.DecodeTaskDispatch()
	if err != nil {
		w.logger.Error("reject dispatch %s: %v", env.ID, err)
		return
	}

	w.mu.RLock()
	ex, ok := w.executors[task.Action]
	w.mu.RUnlock()

	var res Result
	if !ok {
		res = Result{
			Status: mission.StatusFailed,
			Output: map[string]any{"error": fmt.Sprintf("unknown action %q", task.Action)},
		}
		w.logger.Warn("task %s names unknown action %q", task.TaskID, task.Action)
	} else {
		res = ex.Execute(ctx, task)
	}

	if res.Async {
		w.logger.Debug("task %s handed off, completion deferred", task.TaskID)
		return
	}
	if !res.Status.IsTerminal() {
		w.logger.Error("executor for %q returned non-terminal status %q, failing task %s",
			task.Action, res.Status, task.TaskID)
		res.Status = mission.StatusFailed
	}
	w.report(task, res)
}

func (w *Worker) report(task *proto.TaskDispatchPayload, res Result) {
	env, err := proto.NewEnvelope(proto.MsgKindTaskCompletion, w.id, "dispatcher", &proto.TaskCompletionPayload{
		MissionID:   task.MissionID,
		TaskID:      task.TaskID,
		Status:      res.Status,
		Result:      res.Output,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		w.logger.Error("build completion for task %s: %v", task.TaskID, err)
		return
	}
	if err := w.sink.DispatchMessage(env); err != nil {
		w.logger.Error("report completion for task %s: %v", task.TaskID, err)
	}
}
