// Package proto defines the message model shared by the orchestrator core.
//
// Every message on the transport is an Envelope whose Kind is decided once,
// at the boundary where the message is built or parsed. Components route on
// Envelope.Kind and decode the payload into the matching typed struct; the
// kind is never re-derived from payload contents downstream.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MsgKind discriminates the payload type carried by an Envelope.
type MsgKind string

const (
	MsgKindMission        MsgKind = "MISSION"         // Planner → orchestrator: a mission to run
	MsgKindTaskDispatch   MsgKind = "TASK_DISPATCH"   // Orchestrator → agent: one task to execute
	MsgKindTaskCompletion MsgKind = "TASK_COMPLETION" // Agent → orchestrator: terminal task report
	MsgKindMissionResult  MsgKind = "MISSION_RESULT"  // Orchestrator → user context: final verdict
	MsgKindNotification   MsgKind = "NOTIFICATION"    // Progress update, not a final result
)

// Envelope is the transport frame for all orchestrator messages.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      MsgKind         `json:"kind"`
	FromAgent string          `json:"from_agent"`
	ToAgent   string          `json:"to_agent"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope of the given kind with a serialized payload.
func NewEnvelope(kind MsgKind, fromAgent, toAgent string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Envelope{
		ID:        "msg-" + uuid.New().String(),
		Kind:      kind,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses and validates an envelope from wire bytes.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope ID is required")
	}
	if e.FromAgent == "" {
		return fmt.Errorf("from_agent is required")
	}
	if e.ToAgent == "" {
		return fmt.Errorf("to_agent is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if _, ok := ValidateKind(string(e.Kind)); !ok {
		return fmt.Errorf("invalid message kind: %q", e.Kind)
	}
	return nil
}

// ValidateKind reports whether s already names a valid message kind.
func ValidateKind(s string) (MsgKind, bool) {
	switch MsgKind(s) {
	case MsgKindMission, MsgKindTaskDispatch, MsgKindTaskCompletion, MsgKindMissionResult, MsgKindNotification:
		return MsgKind(s), true
	default:
		return "", false
	}
}

// ParseKind parses a string into a MsgKind, accepting any casing.
func ParseKind(s string) (MsgKind, error) {
	if kind, ok := ValidateKind(strings.ToUpper(s)); ok {
		return kind, nil
	}
	return "", fmt.Errorf("unknown message kind: %q", s)
}

func (k MsgKind) String() string {
	return string(k)
}
