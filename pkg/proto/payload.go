package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"missionctl/pkg/mission"
)

// MissionPayload is the inbound mission message from the planner.
type MissionPayload struct {
	MissionID string         `json:"mission_id"`
	UserID    string         `json:"user_id"`
	Tasks     []mission.Task `json:"tasks"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskDispatchPayload is the outbound per-task message to an agent.
type TaskDispatchPayload struct {
	MissionID  string         `json:"mission_id"`
	TaskID     string         `json:"task_id"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     mission.Status `json:"status"` // always "pending" at dispatch
}

// TaskCompletionPayload is the inbound completion report from an agent.
// Delivery is at-least-once and unordered; handlers must be idempotent.
type TaskCompletionPayload struct {
	MissionID   string         `json:"mission_id"`
	TaskID      string         `json:"task_id"`
	Status      mission.Status `json:"status"` // completed or failed
	Result      map[string]any `json:"result,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// MissionResultPayload is the final, publish-once mission verdict.
type MissionResultPayload struct {
	MissionID   string         `json:"mission_id"`
	UserID      string         `json:"user_id"`
	Status      mission.Status `json:"status"`
	Tasks       []mission.Task `json:"tasks"`
	CompletedAt time.Time      `json:"completed_at"`
}

// NotificationPayload is a progress update for the mission's user context,
// distinguishable from a final result by status "notification".
type NotificationPayload struct {
	MissionID        string    `json:"mission_id"`
	UserID           string    `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	Status           string    `json:"status"` // always "notification"
}

// Notification type values emitted by the monitoring supervisor.
const (
	NotificationTypeArrival = "arrival"
	NotificationTypeTimeout = "timeout"
	NotificationTypeError   = "error"
)

// NotificationStatus is the fixed status tag on notification payloads.
const NotificationStatus = "notification"

func (e *Envelope) decode(kind MsgKind, dest any) error {
	if e.Kind != kind {
		return fmt.Errorf("cannot decode %s payload from %s envelope", kind, e.Kind)
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return nil
}

// DecodeMission extracts the mission payload from a MISSION envelope.
func (e *Envelope) DecodeMission() (*MissionPayload, error) {
	var p MissionPayload
	if err := e.decode(MsgKindMission, &p); err != nil {
		return nil, err
	}
	if p.MissionID == "" {
		return nil, fmt.Errorf("mission payload missing mission_id")
	}
	return &p, nil
}

// DecodeTaskDispatch extracts the dispatch payload from a TASK_DISPATCH envelope.
func (e *Envelope) DecodeTaskDispatch() (*TaskDispatchPayload, error) {
	var p TaskDispatchPayload
	if err := e.decode(MsgKindTaskDispatch, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeTaskCompletion extracts the completion payload from a TASK_COMPLETION envelope.
func (e *Envelope) DecodeTaskCompletion() (*TaskCompletionPayload, error) {
	var p TaskCompletionPayload
	if err := e.decode(MsgKindTaskCompletion, &p); err != nil {
		return nil, err
	}
	if p.MissionID == "" || p.TaskID == "" {
		return nil, fmt.Errorf("completion payload missing mission_id or task_id")
	}
	if !p.Status.IsTerminal() {
		return nil, fmt.Errorf("completion payload carries non-terminal status %q", p.Status)
	}
	return &p, nil
}

// DecodeMissionResult extracts the result payload from a MISSION_RESULT envelope.
func (e *Envelope) DecodeMissionResult() (*MissionResultPayload, error) {
	var p MissionResultPayload
	if err := e.decode(MsgKindMissionResult, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeNotification extracts the notification payload from a NOTIFICATION envelope.
func (e *Envelope) DecodeNotification() (*NotificationPayload, error) {
	var p NotificationPayload
	if err := e.decode(MsgKindNotification, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
