package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-orchestrator/internal/llm"
	"task-orchestrator/pkg/capabilities"
	"task-orchestrator/pkg/contextbuilder"
	"task-orchestrator/pkg/dispatch"
	"task-orchestrator/pkg/executor"
	"task-orchestrator/pkg/journal"
	"task-orchestrator/pkg/logger"
	"task-orchestrator/pkg/memory"
	"task-orchestrator/pkg/plan"
)

// routingAdapter routes model calls to scripted responses by recognizing the
// phase-specific system prompts.
type routingAdapter struct {
	mu sync.Mutex

	planResponses []string
	planCalls     int

	cwcResponse string
	cwcCalls    int

	synthResponse string
	synthErr      error
	synthCalls    int

	deciderResponse string
	deciderCalls    int
}

func (a *routingAdapter) GenerateText(ctx context.Context, prompt string, params llm.CallParams) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case strings.Contains(prompt, "planning component of a multi-agent task orchestrator"):
		a.planCalls++
		if len(a.planResponses) == 0 {
			return "", fmt.Errorf("no planning response scripted")
		}
		idx := a.planCalls - 1
		if idx >= len(a.planResponses) {
			idx = len(a.planResponses) - 1
		}
		return a.planResponses[idx], nil

	case strings.Contains(prompt, "working context of a long-running task"):
		a.cwcCalls++
		if a.cwcResponse == "" {
			return "", fmt.Errorf("no working-context response scripted")
		}
		return a.cwcResponse, nil

	case strings.Contains(prompt, "final synthesis component"):
		a.synthCalls++
		if a.synthErr != nil {
			return "", a.synthErr
		}
		return a.synthResponse, nil

	case strings.Contains(prompt, "decision assistant"):
		a.deciderCalls++
		if a.deciderResponse == "" {
			return "", fmt.Errorf("no decider response scripted")
		}
		return a.deciderResponse, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

func (a *routingAdapter) CompleteChat(ctx context.Context, messages []llm.ChatMessage, params llm.CallParams) (string, error) {
	return "", fmt.Errorf("not used")
}

func (a *routingAdapter) GetTokenizer() llm.Tokenizer {
	return func(text string) int { return (len(text) + 3) / 4 }
}

func (a *routingAdapter) GetMaxContextTokens() int { return 200000 }

func (a *routingAdapter) GetServiceName() string { return "routing" }

func (a *routingAdapter) PrepareContextForModel(ctx context.Context, contextParts []string, opts llm.PrepareOptions) (*llm.ContextHandle, error) {
	return nil, nil
}

var _ llm.ModelAdapter = (*routingAdapter)(nil)

const cwcResponseJSON = `{"summaryOfProgress":"All steps done.","nextObjective":"Deliver the answer.","confidenceScore":0.9,"identifiedEntities":["London"],"pendingQuestions":[]}`

func planJSON(stages ...[2]string) string {
	var parts []string
	for _, stage := range stages {
		parts = append(parts, fmt.Sprintf(
			`[{"assigned_agent_role":%q,"tool_name":%q,"sub_task_input":{"input":"x"},"narrative_step":"run %s"}]`,
			stage[0], stage[1], stage[1]))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

type harness struct {
	orch    *Orchestrator
	adapter *routingAdapter
	base    string
}

func newHarness(t *testing.T, adapter *routingAdapter, workerFn dispatch.WorkerFunc) *harness {
	t.Helper()
	log := logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
	store := memory.NewStore(log)
	assembler := contextbuilder.NewAssembler(store, log)

	registry, err := capabilities.NewRegistry([]capabilities.Role{
		{Name: "ResearchAgent", Tools: []capabilities.Tool{{Name: "WebSearchTool"}, {Name: "WebFetchTool"}}},
		{Name: "UtilityAgent", Tools: []capabilities.Tool{{Name: "CalculatorTool"}}},
		{Name: "WriterAgent", Tools: []capabilities.Tool{{Name: "SynthesizeAnswerTool"}}},
	})
	require.NoError(t, err)
	manager := plan.NewManager(adapter, registry, nil, log)

	dispatcher := dispatch.NewDispatcher(8, log)
	workers := dispatch.NewWorkerRegistry(dispatcher, log)
	for _, role := range []string{"ResearchAgent", "UtilityAgent", "WriterAgent"} {
		workers.RegisterWorkers(context.Background(), role, 1, workerFn)
	}
	t.Cleanup(workers.Stop)

	base := t.TempDir()
	orch, err := New(Config{SavedTasksBase: base}, Dependencies{
		Store:       store,
		Assembler:   assembler,
		Adapter:     adapter,
		LLMConfig:   llm.Config{Logger: log},
		PlanManager: manager,
		Executor:    executor.NewExecutor(dispatcher, store, log),
		Logger:      log,
	})
	require.NoError(t, err)
	return &harness{orch: orch, adapter: adapter, base: base}
}

func completingWorker(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
	return dispatch.SubTaskResult{Status: dispatch.StatusCompleted, ResultData: "result of " + msg.Definition.ToolName}
}

func (h *harness) savedState(t *testing.T, taskID string) *TaskState {
	t.Helper()
	taskDir, err := h.orch.findTaskDir(taskID)
	require.NoError(t, err)
	state, err := h.orch.loadState(taskDir)
	require.NoError(t, err)
	return state
}

func (h *harness) journalTypes(t *testing.T, taskID string) []string {
	t.Helper()
	taskDir, err := h.orch.findTaskDir(taskID)
	require.NoError(t, err)
	entries := h.orch.loadJournal(taskDir)
	types := make([]string, 0, len(entries))
	for _, entry := range entries {
		types = append(types, entry.Type)
	}
	return types
}

func TestExecuteFullPlanCompletes(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"}, [2]string{"UtilityAgent", "CalculatorTool"})},
		cwcResponse:   cwcResponseJSON,
		synthResponse: "The answer is 42.",
	}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x and compute the result",
		Mode:           ModeExecuteFullPlan,
	})

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "The answer is 42.", resp.FinalAnswer)
	require.NotNil(t, resp.CurrentWorkingContext)
	assert.Equal(t, "All steps done.", resp.CurrentWorkingContext.SummaryOfProgress)
	assert.Equal(t, 1, adapter.planCalls)
	assert.Equal(t, 1, adapter.synthCalls)

	state := h.savedState(t, resp.TaskID)
	assert.Equal(t, StatusCompleted, state.Status)
	require.Len(t, state.ExecutionContext, 2)
	assert.Equal(t, "WebSearchTool", state.ExecutionContext[0].Definition.ToolName)
	assert.Equal(t, "CalculatorTool", state.ExecutionContext[1].Definition.ToolName)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeTaskInitialized)
	assert.Contains(t, types, journal.TypePlanGenerated)
	assert.Contains(t, types, journal.TypeCWCUpdated)
	assert.Contains(t, types, journal.TypeSynthesisCompleted)
	assert.Contains(t, types, journal.TypeTaskCompleted)
}

func TestPlanOnlyStopsAfterPlanning(t *testing.T) {
	var workerInvoked atomic.Bool
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		workerInvoked.Store(true)
		return dispatch.SubTaskResult{Status: dispatch.StatusCompleted}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModePlanOnly,
	})

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, StatusPlanGenerated, resp.Status)
	require.NotNil(t, resp.Plan)
	assert.Empty(t, resp.FinalAnswer)
	assert.False(t, workerInvoked.Load())
	assert.Zero(t, adapter.cwcCalls)
	assert.Zero(t, adapter.synthCalls)

	state := h.savedState(t, resp.TaskID)
	assert.Equal(t, StatusPlanGenerated, state.Status)
	require.NotNil(t, state.Plan)
}

func TestReplanningRecoversFromFailedStep(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{
			planJSON([2]string{"ResearchAgent", "WebSearchTool"}),
			planJSON([2]string{"ResearchAgent", "WebFetchTool"}),
		},
		cwcResponse:     cwcResponseJSON,
		synthResponse:   "Recovered answer.",
		deciderResponse: `{"result": true, "reason": "fetching directly avoids the failing search backend"}`,
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		if msg.Definition.ToolName == "WebSearchTool" {
			return dispatch.SubTaskResult{Status: dispatch.StatusFailed, ErrorDetails: "search backend down"}
		}
		return dispatch.SubTaskResult{Status: dispatch.StatusCompleted, ResultData: "fetched page"}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, 2, adapter.planCalls)
	assert.Equal(t, 1, adapter.deciderCalls)
	require.NotNil(t, resp.ExecutedPlan)
	assert.Equal(t, "WebFetchTool", resp.ExecutedPlan.Stages[0][0].ToolName)

	state := h.savedState(t, resp.TaskID)
	assert.Equal(t, 1, state.RevisionCount)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeExecutionAttemptFailed)
	assert.Contains(t, types, journal.TypeReplanningStarted)
	assert.Contains(t, types, journal.TypeReplanningSuccess)
	assert.Contains(t, types, journal.TypeExecutionAttemptSuccess)
}

func TestRevisionsExhausted(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{
			planJSON([2]string{"ResearchAgent", "WebSearchTool"}),
			planJSON([2]string{"ResearchAgent", "WebFetchTool"}),
			planJSON([2]string{"UtilityAgent", "CalculatorTool"}),
		},
		deciderResponse: `{"result": true, "reason": "different tool"}`,
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		return dispatch.SubTaskResult{Status: dispatch.StatusFailed, ErrorDetails: "tool backend down"}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.False(t, resp.Success)
	assert.Equal(t, StatusFailedExecution, resp.Status)
	assert.Contains(t, resp.Message, "3 attempt(s)")
	assert.Empty(t, resp.FinalAnswer)
	require.NotNil(t, resp.ErrorSummary)
	assert.Equal(t, "CalculatorTool", resp.ErrorSummary.FailedStepTool)
	assert.Equal(t, "tool backend down", resp.ErrorSummary.ErrorMessage)
	// Initial plan plus two revisions.
	assert.Equal(t, 3, adapter.planCalls)
	assert.Zero(t, adapter.synthCalls)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeTaskFailed)
}

func TestIdenticalRevisionTerminates(t *testing.T) {
	// The model keeps answering with the plan that just failed; no decider
	// call is needed to reject it.
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		return dispatch.SubTaskResult{Status: dispatch.StatusFailed, ErrorDetails: "search backend down"}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.False(t, resp.Success)
	assert.Equal(t, StatusFailedExecution, resp.Status)
	assert.Contains(t, resp.Message, "not improved")
	assert.Equal(t, 2, adapter.planCalls)
	assert.Zero(t, adapter.deciderCalls)
	require.NotNil(t, resp.ErrorSummary)
	assert.Equal(t, "WebSearchTool", resp.ErrorSummary.FailedStepTool)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeReplanningFailed)
	assert.Contains(t, types, journal.TypeTaskFailed)
}

func TestRevisionRejectedByDecider(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{
			planJSON([2]string{"ResearchAgent", "WebSearchTool"}),
			planJSON([2]string{"ResearchAgent", "WebFetchTool"}),
		},
		deciderResponse: `{"result": false, "reason": "the revision still depends on the unreachable backend"}`,
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		return dispatch.SubTaskResult{Status: dispatch.StatusFailed, ErrorDetails: "search backend down"}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.False(t, resp.Success)
	assert.Equal(t, StatusFailedExecution, resp.Status)
	assert.Contains(t, resp.Message, "not improved")
	assert.Contains(t, resp.Message, "unreachable backend")
	assert.Equal(t, 1, adapter.deciderCalls)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeReplanningFailed)
}

func TestPlanningFailureIsTerminal(t *testing.T) {
	adapter := &routingAdapter{planResponses: []string{"I refuse to emit JSON."}}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.False(t, resp.Success)
	assert.Equal(t, StatusFailedPlanning, resp.Status)
	require.NotNil(t, resp.ErrorSummary)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypePlanningFailed)
}

func TestSynthesizeOnlyUnknownTask(t *testing.T) {
	adapter := &routingAdapter{}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		Mode:       ModeSynthesizeOnly,
		TaskToLoad: "no-such-task",
	})

	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "task state file not found")

	// No task directory may appear for a failed load.
	entries, err := os.ReadDir(h.base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSynthesizeOnlyReusesSavedExecutionContext(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
		cwcResponse:   cwcResponseJSON,
		synthResponse: "first answer",
	}
	h := newHarness(t, adapter, completingWorker)

	first := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})
	require.True(t, first.Success, first.Message)
	before := h.savedState(t, first.TaskID)

	adapter.mu.Lock()
	adapter.synthResponse = "revised answer"
	adapter.mu.Unlock()

	second := h.orch.HandleUserTask(context.Background(), Request{
		Mode:       ModeSynthesizeOnly,
		TaskToLoad: first.TaskID,
	})
	require.True(t, second.Success, second.Message)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, "revised answer", second.FinalAnswer)

	after := h.savedState(t, first.TaskID)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, before.ExecutionContext, after.ExecutionContext)
	assert.Equal(t, "revised answer", after.FinalAnswer)
}

func TestSynthesizeOnlyRequiresExecutionContext(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
	}
	h := newHarness(t, adapter, completingWorker)

	planned := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModePlanOnly,
	})
	require.True(t, planned.Success, planned.Message)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		Mode:       ModeSynthesizeOnly,
		TaskToLoad: planned.TaskID,
	})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "no execution context")
}

func TestExecutePlannedTaskRunsSavedPlan(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
		cwcResponse:   cwcResponseJSON,
		synthResponse: "planned answer",
	}
	h := newHarness(t, adapter, completingWorker)

	planned := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModePlanOnly,
	})
	require.True(t, planned.Success, planned.Message)
	require.Equal(t, 1, adapter.planCalls)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		Mode:       ModeExecutePlannedTask,
		TaskToLoad: planned.TaskID,
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "planned answer", resp.FinalAnswer)
	// The saved plan is reused, not regenerated.
	assert.Equal(t, 1, adapter.planCalls)
}

func TestSynthesisFailureStillCompletes(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
		cwcResponse:   cwcResponseJSON,
		synthErr:      fmt.Errorf("model unavailable"),
	}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.True(t, resp.Success)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Empty(t, resp.FinalAnswer)
	assert.Contains(t, resp.Message, "synthesis did not produce an answer")

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeSynthesisFailed)
}

func TestInPlanSynthesisSkipsModelCall(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON(
			[2]string{"ResearchAgent", "WebSearchTool"},
			[2]string{"WriterAgent", "SynthesizeAnswerTool"},
		)},
		cwcResponse: cwcResponseJSON,
	}
	h := newHarness(t, adapter, func(ctx context.Context, msg dispatch.SubTaskMessage) dispatch.SubTaskResult {
		if msg.Definition.ToolName == "SynthesizeAnswerTool" {
			return dispatch.SubTaskResult{Status: dispatch.StatusCompleted, ResultData: "in-plan answer"}
		}
		return dispatch.SubTaskResult{Status: dispatch.StatusCompleted, ResultData: "notes"}
	})

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x and write it up",
		Mode:           ModeExecuteFullPlan,
	})

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "in-plan answer", resp.FinalAnswer)
	assert.Zero(t, adapter.synthCalls)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeSynthesisSkipped)
}

func TestCWCDegradesToMechanicalSummary(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
		cwcResponse:   "not a json object",
		synthResponse: "answer",
	}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "find x",
		Mode:           ModeExecuteFullPlan,
	})

	require.True(t, resp.Success, resp.Message)
	require.NotNil(t, resp.CurrentWorkingContext)
	assert.Equal(t, "Executed 1 step(s), 1 completed.", resp.CurrentWorkingContext.SummaryOfProgress)

	types := h.journalTypes(t, resp.TaskID)
	assert.Contains(t, types, journal.TypeCWCUpdateDegraded)
}

func TestRequestValidation(t *testing.T) {
	adapter := &routingAdapter{}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{Mode: "BOGUS"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "unknown mode")

	resp = h.orch.HandleUserTask(context.Background(), Request{Mode: ModeExecuteFullPlan})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "user task is empty")

	resp = h.orch.HandleUserTask(context.Background(), Request{Mode: ModeSynthesizeOnly})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "task_to_load is required")
}

func TestUploadedFilesPersisted(t *testing.T) {
	adapter := &routingAdapter{
		planResponses: []string{planJSON([2]string{"ResearchAgent", "WebSearchTool"})},
	}
	h := newHarness(t, adapter, completingWorker)

	resp := h.orch.HandleUserTask(context.Background(), Request{
		UserTaskString: "summarize the attached notes",
		Mode:           ModePlanOnly,
		UploadedFiles: []UploadedFile{
			{Name: "notes.txt", Content: []byte("meeting notes")},
		},
	})
	require.True(t, resp.Success, resp.Message)

	taskDir, err := h.orch.findTaskDir(resp.TaskID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(taskDir, memory.BankDirName, memory.UploadedFilesDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "meeting notes", string(data))
}

func TestStateRoundTrip(t *testing.T) {
	adapter := &routingAdapter{}
	h := newHarness(t, adapter, completingWorker)

	dir := filepath.Join(h.base, "2026-08-24", "task-rt")
	state := &TaskState{
		TaskID:       "task-rt",
		OriginalTask: "round trip",
		Mode:         ModeExecuteFullPlan,
		Status:       StatusCompleted,
		FinalAnswer:  "done",
		Plan: &plan.Plan{
			PlanID: "plan-rt",
			Source: plan.SourceModel,
			Stages: []plan.Stage{{{
				AssignedAgentRole: "ResearchAgent",
				ToolName:          "WebSearchTool",
				SubTaskInput:      map[string]interface{}{"query": "x"},
				NarrativeStep:     "search",
			}}},
		},
	}
	require.NoError(t, h.orch.saveState(dir, state))

	loaded, err := h.orch.loadState(dir)
	require.NoError(t, err)
	assert.Equal(t, state.TaskID, loaded.TaskID)
	assert.Equal(t, state.Status, loaded.Status)
	assert.Equal(t, state.FinalAnswer, loaded.FinalAnswer)
	require.NotNil(t, loaded.Plan)
	assert.Equal(t, state.Plan.PlanID, loaded.Plan.PlanID)
	assert.Equal(t, state.Plan.Stages, loaded.Plan.Stages)

	found, err := h.orch.findTaskDir("task-rt")
	require.NoError(t, err)
	assert.Equal(t, dir, found)
}
