// Package plan defines the executable plan model and the manager that
// produces plans from templates or a language model.
package plan

import (
	"encoding/json"
	"fmt"

	"task-orchestrator/pkg/capabilities"
)

// Plan sources.
const (
	SourceTemplate = "template"
	SourceModel    = "model"
)

// SubTaskDefinition is one unit of work assigned to a worker role.
// SubTaskInput is intentionally schema-free at this layer; validation of its
// keys belongs to the individual tool.
type SubTaskDefinition struct {
	AssignedAgentRole string                 `json:"assigned_agent_role"`
	ToolName          string                 `json:"tool_name"`
	SubTaskInput      map[string]interface{} `json:"sub_task_input"`
	NarrativeStep     string                 `json:"narrative_step"`
}

// Stage is an unordered set of sub-tasks scheduled in parallel. Stages are
// strictly sequential.
type Stage []SubTaskDefinition

// Plan is the persisted form of a generated plan.
type Plan struct {
	PlanID   string  `json:"plan_id"`
	Stages   []Stage `json:"stages"`
	Source   string  `json:"source"`
	Template string  `json:"template,omitempty"`
	Revision int     `json:"revision"`
}

// FailedStepInfo is the structured failure record handed from a failed
// execution attempt into plan revision.
type FailedStepInfo struct {
	StageIndex   int               `json:"stage_index"`
	SubTaskID    string            `json:"sub_task_id"`
	Definition   SubTaskDefinition `json:"definition"`
	ErrorKind    string            `json:"error_kind"`
	ErrorDetails string            `json:"error_details"`
}

// ParseStages decodes a plan body. The canonical shape is an array of arrays
// of sub-task objects; a flat array of sub-task objects is accepted and
// normalized to one single-task stage per element.
func ParseStages(raw []byte) ([]Stage, error) {
	var stages []Stage
	if err := json.Unmarshal(raw, &stages); err == nil {
		return stages, nil
	}

	var flat []SubTaskDefinition
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("plan body is neither an array of stages nor a flat array of sub-tasks: %w", err)
	}
	stages = make([]Stage, 0, len(flat))
	for _, def := range flat {
		stages = append(stages, Stage{def})
	}
	return stages, nil
}

// ValidateStages checks a decoded plan against the capabilities registry.
// The plan must be a non-empty array of non-empty stages; every sub-task
// must name a known role, a tool that role exposes, a structured input and a
// non-empty narrative step.
func ValidateStages(stages []Stage, registry *capabilities.Registry) error {
	if len(stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	for stageIdx, stage := range stages {
		if len(stage) == 0 {
			return fmt.Errorf("stage %d is empty", stageIdx)
		}
		for taskIdx, def := range stage {
			where := fmt.Sprintf("stage %d sub-task %d", stageIdx, taskIdx)
			if !registry.HasRole(def.AssignedAgentRole) {
				return fmt.Errorf("%s: unknown agent role %q", where, def.AssignedAgentRole)
			}
			if !registry.HasTool(def.AssignedAgentRole, def.ToolName) {
				return fmt.Errorf("%s: role %q does not expose tool %q", where, def.AssignedAgentRole, def.ToolName)
			}
			if def.SubTaskInput == nil {
				return fmt.Errorf("%s: sub_task_input must be an object", where)
			}
			if def.NarrativeStep == "" {
				return fmt.Errorf("%s: narrative_step must be non-empty", where)
			}
		}
	}
	return nil
}
