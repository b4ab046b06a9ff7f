package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"missionctl/pkg/mission"
	"missionctl/pkg/monitor"
	"missionctl/pkg/proto"
)

// MonitorStarter launches a resumable monitoring loop for a task.
// The monitoring supervisor satisfies this.
type MonitorStarter interface {
	StartMonitoring(ctx context.Context, missionID, taskID string, target int) error
}

// NewAwaitExecutor returns an executor for "await"-style verbs: actions
// that succeed only once an external system reaches a target value. The
// executor hands the goal to the monitoring supervisor and defers the
// task's completion to the loop's terminal state.
//
// The target is read from the task's "target_value" parameter.
func NewAwaitExecutor(starter MonitorStarter) ActionExecutor {
	return ExecutorFunc(func(ctx context.Context, task *proto.TaskDispatchPayload) Result {
		target, err := intParam(task.Parameters, "target_value")
		if err != nil {
			return Result{
				Status: mission.StatusFailed,
				Output: map[string]any{"error": err.Error()},
			}
		}
		if err := starter.StartMonitoring(ctx, task.MissionID, task.TaskID, target); err != nil {
			return Result{
				Status: mission.StatusFailed,
				Output: map[string]any{"error": fmt.Sprintf("start monitoring: %v", err)},
			}
		}
		return Result{Async: true}
	})
}

// intParam extracts an integer parameter, tolerating the float64 and
// json.Number shapes JSON decoding produces.
func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter %q", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q is not an integer: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q has unsupported type %T", key, raw)
	}
}

// compile-time check that the supervisor satisfies MonitorStarter.
var _ MonitorStarter = (*monitor.Supervisor)(nil)
