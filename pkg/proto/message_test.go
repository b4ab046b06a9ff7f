package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/pkg/mission"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := &TaskCompletionPayload{
		MissionID:   "m-1",
		TaskID:      "t-1",
		Status:      mission.StatusCompleted,
		Result:      map[string]any{"door": "unlocked"},
		CompletedAt: time.Now().UTC(),
	}

	env, err := NewEnvelope(MsgKindTaskCompletion, "agent-psim", "orchestrator", payload)
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)

	data, err := env.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, MsgKindTaskCompletion, parsed.Kind)

	decoded, err := parsed.DecodeTaskCompletion()
	require.NoError(t, err)
	assert.Equal(t, "m-1", decoded.MissionID)
	assert.Equal(t, mission.StatusCompleted, decoded.Status)
	assert.Equal(t, "unlocked", decoded.Result["door"])
}

func TestEnvelopeValidation(t *testing.T) {
	env, err := NewEnvelope(MsgKindMission, "planner", "orchestrator", &MissionPayload{MissionID: "m-1"})
	require.NoError(t, err)
	assert.NoError(t, env.Validate())

	env.Kind = "BOGUS"
	assert.Error(t, env.Validate())

	env.Kind = MsgKindMission
	env.FromAgent = ""
	assert.Error(t, env.Validate())
}

func TestDecodeKindMismatch(t *testing.T) {
	env, err := NewEnvelope(MsgKindMission, "planner", "orchestrator", &MissionPayload{MissionID: "m-1"})
	require.NoError(t, err)

	_, err = env.DecodeTaskCompletion()
	assert.Error(t, err, "decoding a completion from a MISSION envelope must fail")
}

func TestDecodeCompletionRejectsNonTerminal(t *testing.T) {
	env, err := NewEnvelope(MsgKindTaskCompletion, "agent", "orchestrator", &TaskCompletionPayload{
		MissionID: "m-1",
		TaskID:    "t-1",
		Status:    mission.StatusInProgress,
	})
	require.NoError(t, err)

	_, err = env.DecodeTaskCompletion()
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("task_completion")
	require.NoError(t, err)
	assert.Equal(t, MsgKindTaskCompletion, kind)

	_, err = ParseKind("telemetry")
	assert.Error(t, err)
}
