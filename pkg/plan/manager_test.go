package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-orchestrator/internal/llm"
	"task-orchestrator/pkg/capabilities"
	"task-orchestrator/pkg/logger"
)

// scriptedAdapter returns canned planning responses and counts calls.
type scriptedAdapter struct {
	responses []string
	calls     int
	err       error
}

func (s *scriptedAdapter) GenerateText(ctx context.Context, prompt string, params llm.CallParams) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedAdapter) CompleteChat(ctx context.Context, messages []llm.ChatMessage, params llm.CallParams) (string, error) {
	return s.GenerateText(ctx, "", params)
}

func (s *scriptedAdapter) GetTokenizer() llm.Tokenizer {
	return func(text string) int { return (len(text) + 3) / 4 }
}

func (s *scriptedAdapter) GetMaxContextTokens() int { return 8192 }

func (s *scriptedAdapter) GetServiceName() string { return "scripted" }

func (s *scriptedAdapter) PrepareContextForModel(ctx context.Context, contextParts []string, opts llm.PrepareOptions) (*llm.ContextHandle, error) {
	return nil, nil
}

var _ llm.ModelAdapter = (*scriptedAdapter)(nil)

func testRegistry(t *testing.T) *capabilities.Registry {
	t.Helper()
	registry, err := capabilities.NewRegistry([]capabilities.Role{
		{Name: "ResearchAgent", Tools: []capabilities.Tool{{Name: "WebSearchTool"}, {Name: "WebFetchTool"}}},
		{Name: "UtilityAgent", Tools: []capabilities.Tool{{Name: "CalculatorTool"}}},
	})
	require.NoError(t, err)
	return registry
}

func weatherTemplate(t *testing.T) Template {
	t.Helper()
	tmpl := Template{
		Name:       "weather_query",
		Pattern:    "weather in (.*)",
		Parameters: map[string]int{"QUERY": 0, "LOCATION": 1},
		Steps: []Stage{
			{
				{
					AssignedAgentRole: "ResearchAgent",
					ToolName:          "WebSearchTool",
					SubTaskInput:      map[string]interface{}{"query": "{{QUERY}}"},
					NarrativeStep:     "Search for the weather in {{LOCATION}}",
				},
			},
		},
	}
	return tmpl
}

func newTestManager(t *testing.T, adapter llm.ModelAdapter, templates []Template) *Manager {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	return NewManager(adapter, testRegistry(t), templates, log)
}

func TestTemplateHitSkipsModel(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"should never be used"}}
	manager := newTestManager(t, adapter, []Template{weatherTemplate(t)})

	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{
		UserTaskString: "what is the weather in London",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Zero(t, adapter.calls)
	assert.Equal(t, SourceTemplate, result.Plan.Source)
	assert.Equal(t, "weather_query", result.Plan.Template)
	require.Len(t, result.Plan.Stages, 1)
	require.Len(t, result.Plan.Stages[0], 1)

	subTask := result.Plan.Stages[0][0]
	assert.Equal(t, "weather in London", subTask.SubTaskInput["query"])
	assert.Equal(t, "Search for the weather in London", subTask.NarrativeStep)
}

func TestModelPlanWithCodeFences(t *testing.T) {
	body := `[[{"assigned_agent_role":"ResearchAgent","tool_name":"WebSearchTool","sub_task_input":{"query":"x"},"narrative_step":"search"}]]`
	adapter := &scriptedAdapter{responses: []string{"```json\n" + body + "\n```"}}
	manager := newTestManager(t, adapter, nil)

	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{
		UserTaskString: "find x",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, SourceModel, result.Plan.Source)
	assert.Equal(t, 1, adapter.calls)
	require.Len(t, result.Plan.Stages, 1)
}

func TestFlatArrayNormalizedToStages(t *testing.T) {
	body := `[
		{"assigned_agent_role":"ResearchAgent","tool_name":"WebSearchTool","sub_task_input":{"query":"x"},"narrative_step":"search"},
		{"assigned_agent_role":"UtilityAgent","tool_name":"CalculatorTool","sub_task_input":{"expression":"2+2"},"narrative_step":"add"}
	]`
	adapter := &scriptedAdapter{responses: []string{body}}
	manager := newTestManager(t, adapter, nil)

	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{UserTaskString: "do two things"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Plan.Stages, 2)
	assert.Len(t, result.Plan.Stages[0], 1)
	assert.Len(t, result.Plan.Stages[1], 1)
}

func TestInvalidRoleRejected(t *testing.T) {
	body := `[[{"assigned_agent_role":"GhostAgent","tool_name":"WebSearchTool","sub_task_input":{},"narrative_step":"x"}]]`
	adapter := &scriptedAdapter{responses: []string{body}}
	manager := newTestManager(t, adapter, nil)

	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{UserTaskString: "task"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "unknown agent role")
	assert.Equal(t, body, result.RawResponse)
}

func TestUnparseableResponseRejected(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"I cannot plan this."}}
	manager := newTestManager(t, adapter, nil)

	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{UserTaskString: "task"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.RawResponse)
}

func TestModelErrorPropagates(t *testing.T) {
	adapter := &scriptedAdapter{err: fmt.Errorf("model unavailable after 3 attempts")}
	manager := newTestManager(t, adapter, nil)

	_, err := manager.GeneratePlan(context.Background(), GenerateRequest{UserTaskString: "task"})
	require.Error(t, err)
}

func TestRevisionPromptCarriesFailure(t *testing.T) {
	body := `[[{"assigned_agent_role":"ResearchAgent","tool_name":"WebFetchTool","sub_task_input":{"url":"https://example.com"},"narrative_step":"fetch instead"}]]`
	adapter := &scriptedAdapter{responses: []string{body}}
	manager := newTestManager(t, adapter, []Template{weatherTemplate(t)})

	previous := &Plan{
		PlanID: "plan-a",
		Stages: []Stage{{{
			AssignedAgentRole: "ResearchAgent",
			ToolName:          "WebSearchTool",
			SubTaskInput:      map[string]interface{}{"query": "weather in London"},
			NarrativeStep:     "search",
		}}},
	}
	result, err := manager.GeneratePlan(context.Background(), GenerateRequest{
		// The user task would match the weather template, but revisions
		// must never take the template path.
		UserTaskString:  "what is the weather in London",
		IsRevision:      true,
		RevisionAttempt: 1,
		PreviousPlan:    previous,
		StructuredFailedStepInfo: &FailedStepInfo{
			StageIndex:   0,
			SubTaskID:    "sub-1",
			Definition:   previous.Stages[0][0],
			ErrorKind:    "SubTaskFailed",
			ErrorDetails: "search backend down",
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 1, adapter.calls)
	assert.Equal(t, SourceModel, result.Plan.Source)
	assert.Equal(t, 1, result.Plan.Revision)
	assert.Equal(t, "WebFetchTool", result.Plan.Stages[0][0].ToolName)
}

func TestLoadTemplatesFromDir(t *testing.T) {
	dir := t.TempDir()
	tmpl := weatherTemplate(t)
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather_query.json"), data, 0644))

	templates, err := LoadTemplates(dir)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	stages, ok := templates[0].Match("weather in Paris")
	require.True(t, ok)
	assert.Equal(t, "weather in Paris", stages[0][0].SubTaskInput["query"])
}

func TestLoadTemplatesMissingDir(t *testing.T) {
	templates, err := LoadTemplates(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestValidateStages(t *testing.T) {
	registry := testRegistry(t)

	assert.Error(t, ValidateStages(nil, registry))
	assert.Error(t, ValidateStages([]Stage{{}}, registry))
	assert.Error(t, ValidateStages([]Stage{{{
		AssignedAgentRole: "ResearchAgent",
		ToolName:          "CalculatorTool",
		SubTaskInput:      map[string]interface{}{},
		NarrativeStep:     "wrong tool for role",
	}}}, registry))
	assert.Error(t, ValidateStages([]Stage{{{
		AssignedAgentRole: "ResearchAgent",
		ToolName:          "WebSearchTool",
		SubTaskInput:      map[string]interface{}{},
	}}}, registry))
	assert.NoError(t, ValidateStages([]Stage{{{
		AssignedAgentRole: "ResearchAgent",
		ToolName:          "WebSearchTool",
		SubTaskInput:      map[string]interface{}{"query": "x"},
		NarrativeStep:     "search",
	}}}, registry))
}
