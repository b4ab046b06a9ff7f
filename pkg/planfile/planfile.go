// Package planfile loads operator-authored mission plans from YAML.
package planfile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"missionctl/pkg/mission"
	"missionctl/pkg/proto"
)

// Plan is the on-disk mission definition.
type Plan struct {
	MissionID string     `yaml:"mission_id,omitempty"`
	UserID    string     `yaml:"user_id"`
	Tasks     []PlanTask `yaml:"tasks"`
}

// PlanTask is one task entry in a plan file.
type PlanTask struct {
	TaskID     string         `yaml:"task_id,omitempty"`
	Agent      string         `yaml:"agent"`
	Action     string         `yaml:"action"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates plan YAML.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan is submittable.
func (p *Plan) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("plan missing user_id")
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	for i, t := range p.Tasks {
		if t.Agent == "" {
			return fmt.Errorf("task %d missing agent", i)
		}
		if t.Action == "" {
			return fmt.Errorf("task %d missing action", i)
		}
	}
	return nil
}

// ToPayload converts the plan into a submittable mission payload,
// generating any identifiers the author left blank.
func (p *Plan) ToPayload() *proto.MissionPayload {
	payload := &proto.MissionPayload{
		MissionID: p.MissionID,
		UserID:    p.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if payload.MissionID == "" {
		payload.MissionID = mission.GenerateMissionID()
	}
	for _, t := range p.Tasks {
		task := mission.Task{
			TaskID:     t.TaskID,
			Agent:      t.Agent,
			Action:     t.Action,
			Parameters: t.Parameters,
			Status:     mission.StatusPending,
		}
		if task.TaskID == "" {
			task.TaskID = mission.GenerateTaskID()
		}
		payload.Tasks = append(payload.Tasks, task)
	}
	return payload
}
