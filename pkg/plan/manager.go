package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"task-orchestrator/internal/llm"
	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/capabilities"
	"task-orchestrator/pkg/memory"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// Manager produces validated plans, trying templates first and falling back
// to the language model.
type Manager struct {
	adapter   llm.ModelAdapter
	registry  *capabilities.Registry
	templates []Template
	logger    utils.ExtendedLogger
}

// NewManager creates a plan manager.
func NewManager(adapter llm.ModelAdapter, registry *capabilities.Registry, templates []Template, logger utils.ExtendedLogger) *Manager {
	return &Manager{
		adapter:   adapter,
		registry:  registry,
		templates: templates,
		logger:    logger,
	}
}

// GenerateRequest carries everything planning or replanning needs.
type GenerateRequest struct {
	UserTaskString           string
	MemoryContextForPlanning string
	CurrentWorkingContext    *memory.CurrentWorkingContext

	// Revision inputs, set when regenerating after a failed execution.
	IsRevision               bool
	RevisionAttempt          int
	StructuredFailedStepInfo *FailedStepInfo
	PreviousPlan             *Plan
	LastExecutionContext     string
	LatestKeyFindings        []memory.KeyFinding
	LatestErrorsEncountered  []memory.ErrorRecord

	// Model overrides the adapter's default planning model when set.
	Model string
}

// GenerateResult is the outcome of one planning attempt. On validation
// failure Success is false and RawResponse carries the model output for the
// journal.
type GenerateResult struct {
	Success     bool
	Plan        *Plan
	Message     string
	RawResponse string
}

// GeneratePlan returns a validated plan for the request. Template matches
// never touch the model; otherwise the model is prompted and its response is
// parsed and validated against the capabilities registry.
func (m *Manager) GeneratePlan(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.UserTaskString == "" {
		return &GenerateResult{Success: false, Message: "user task is empty"}, nil
	}

	if !req.IsRevision {
		if result := m.tryTemplates(req.UserTaskString); result != nil {
			return result, nil
		}
	}

	prompt := m.buildPlanningPrompt(req)
	params := llm.CallParams{Model: req.Model}
	response, err := m.adapter.GenerateText(ctx, prompt, params)
	if err != nil {
		return nil, fmt.Errorf("planning model call failed: %w", err)
	}

	body := llm.StripCodeFences(response)
	stages, err := ParseStages([]byte(body))
	if err != nil {
		m.logger.Warnf("Planning response did not parse as a plan: %v", err)
		return &GenerateResult{
			Success:     false,
			Message:     fmt.Sprintf("model response is not a valid plan: %v", err),
			RawResponse: response,
		}, nil
	}
	if err := ValidateStages(stages, m.registry); err != nil {
		m.logger.Warnf("Planning response failed validation: %v", err)
		return &GenerateResult{
			Success:     false,
			Message:     fmt.Sprintf("plan validation failed: %v", err),
			RawResponse: response,
		}, nil
	}

	generated := &Plan{
		PlanID:   uuid.NewString(),
		Stages:   stages,
		Source:   SourceModel,
		Revision: req.RevisionAttempt,
	}
	m.logger.Infof("Generated model plan %s with %d stage(s)", generated.PlanID, len(stages))
	return &GenerateResult{Success: true, Plan: generated, RawResponse: response}, nil
}

// tryTemplates returns an instantiated template plan, or nil when no template
// matches.
func (m *Manager) tryTemplates(userTask string) *GenerateResult {
	for i := range m.templates {
		tmpl := &m.templates[i]
		stages, ok := tmpl.Match(userTask)
		if !ok {
			continue
		}
		if err := ValidateStages(stages, m.registry); err != nil {
			m.logger.Warnf("Template %q matched but produced an invalid plan: %v", tmpl.Name, err)
			continue
		}
		m.logger.Infof("Template %q matched user task", tmpl.Name)
		return &GenerateResult{
			Success: true,
			Plan: &Plan{
				PlanID:   uuid.NewString(),
				Stages:   stages,
				Source:   SourceTemplate,
				Template: tmpl.Name,
			},
		}
	}
	return nil
}

// subTaskSchemaJSON renders the sub-task JSON schema for the planning prompt.
func subTaskSchemaJSON() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&SubTaskDefinition{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (m *Manager) buildPlanningPrompt(req GenerateRequest) string {
	var b strings.Builder

	b.WriteString("You are the planning component of a multi-agent task orchestrator.\n")
	b.WriteString("Decompose the user task into an executable plan.\n\n")

	b.WriteString("## Available agent roles and tools\n")
	b.WriteString(m.registry.Describe())
	b.WriteString("\n")

	b.WriteString("## User task\n")
	b.WriteString(req.UserTaskString)
	b.WriteString("\n\n")

	if req.MemoryContextForPlanning != "" {
		b.WriteString("## Task context\n")
		b.WriteString(req.MemoryContextForPlanning)
		b.WriteString("\n\n")
	}

	if cwc := req.CurrentWorkingContext; cwc != nil && cwc.SummaryOfProgress != "" {
		b.WriteString("## Current working context\n")
		b.WriteString("Progress: " + cwc.SummaryOfProgress + "\n")
		if cwc.NextObjective != "" {
			b.WriteString("Next objective: " + cwc.NextObjective + "\n")
		}
		b.WriteString("\n")
	}

	if req.IsRevision {
		m.writeRevisionSections(&b, req)
	}

	b.WriteString("## Output format\n")
	b.WriteString("Respond with ONLY a JSON array of stages. Each stage is a JSON array of sub-task objects.\n")
	b.WriteString("Stages run sequentially; sub-tasks within a stage run in parallel.\n")
	b.WriteString("Each sub-task object must match this schema:\n")
	b.WriteString(subTaskSchemaJSON())
	b.WriteString("\nUse only the roles and tools listed above. Do not include any prose outside the JSON.\n")

	return b.String()
}

// writeRevisionSections adds the prior failure evidence to a replanning
// prompt.
func (m *Manager) writeRevisionSections(b *strings.Builder, req GenerateRequest) {
	b.WriteString(fmt.Sprintf("## Revision request (attempt %d)\n", req.RevisionAttempt))
	b.WriteString("The previous plan failed during execution. Produce a revised plan that avoids the failure.\n\n")

	if info := req.StructuredFailedStepInfo; info != nil {
		b.WriteString("### Failed step\n")
		b.WriteString(fmt.Sprintf("Stage %d, role %q, tool %q: %s\n", info.StageIndex, info.Definition.AssignedAgentRole, info.Definition.ToolName, info.Definition.NarrativeStep))
		b.WriteString(fmt.Sprintf("Failure (%s): %s\n\n", info.ErrorKind, info.ErrorDetails))
	}

	if req.PreviousPlan != nil {
		if data, err := json.MarshalIndent(req.PreviousPlan.Stages, "", "  "); err == nil {
			b.WriteString("### Previous plan\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}

	if req.LastExecutionContext != "" {
		b.WriteString("### Prior execution context\n")
		b.WriteString(req.LastExecutionContext)
		b.WriteString("\n\n")
	}

	if len(req.LatestKeyFindings) > 0 {
		b.WriteString("### Findings so far\n")
		for _, finding := range req.LatestKeyFindings {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", finding.SourceToolName, finding.DataString()))
		}
		b.WriteString("\n")
	}

	if len(req.LatestErrorsEncountered) > 0 {
		b.WriteString("### Errors so far\n")
		for _, record := range req.LatestErrorsEncountered {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", record.SourceToolName, record.ErrorMessage))
		}
		b.WriteString("\n")
	}
}
