package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"task-orchestrator/internal/llm"
	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/contextbuilder"
	"task-orchestrator/pkg/database"
	"task-orchestrator/pkg/executor"
	"task-orchestrator/pkg/journal"
	"task-orchestrator/pkg/memory"
	"task-orchestrator/pkg/plan"

	"github.com/google/uuid"
)

// DefaultMaxRevisions bounds plan revisions after the initial attempt, so a
// task gets at most DefaultMaxRevisions+1 execution attempts.
const DefaultMaxRevisions = 2

// responseReserveTokens is held back from the model context window for the
// model's own output when budgeting assembled contexts.
const responseReserveTokens = 2048

const latestRecordsWindow = 10

// Config carries orchestrator settings.
type Config struct {
	SavedTasksBase string
	MaxRevisions   int
}

// Dependencies carries the collaborators an orchestrator drives.
type Dependencies struct {
	Store       *memory.Store
	Assembler   *contextbuilder.Assembler
	Adapter     llm.ModelAdapter
	LLMConfig   llm.Config
	PlanManager *plan.Manager
	Executor    *executor.Executor
	Index       *database.TaskIndex
	Logger      utils.ExtendedLogger
}

// Orchestrator drives one task invocation through its lifecycle phases.
type Orchestrator struct {
	store          *memory.Store
	assembler      *contextbuilder.Assembler
	adapter        llm.ModelAdapter
	llmConfig      llm.Config
	planManager    *plan.Manager
	exec           *executor.Executor
	decider        *llm.ConditionalDecider
	index          *database.TaskIndex
	logger         utils.ExtendedLogger
	savedTasksBase string
	maxRevisions   int
}

// New creates an orchestrator. The task index is optional; all index writes
// are best effort.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if cfg.SavedTasksBase == "" {
		return nil, fmt.Errorf("orchestrator: SavedTasksBase is required")
	}
	if deps.Store == nil || deps.Assembler == nil || deps.Adapter == nil || deps.PlanManager == nil || deps.Executor == nil || deps.Logger == nil {
		return nil, fmt.Errorf("orchestrator: missing required dependency")
	}
	maxRevisions := cfg.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	return &Orchestrator{
		store:          deps.Store,
		assembler:      deps.Assembler,
		adapter:        deps.Adapter,
		llmConfig:      deps.LLMConfig,
		planManager:    deps.PlanManager,
		exec:           deps.Executor,
		decider:        llm.NewConditionalDecider(deps.Adapter, deps.Logger),
		index:          deps.Index,
		logger:         deps.Logger,
		savedTasksBase: cfg.SavedTasksBase,
		maxRevisions:   maxRevisions,
	}, nil
}

// taskRun is the per-invocation working state.
type taskRun struct {
	taskID  string
	taskDir string
	state   *TaskState
	entries []journal.Entry
}

// HandleUserTask runs one task invocation to a terminal state and always
// returns a structured response. Panics are caught at this level and
// persisted as CRITICAL_ERROR best effort.
func (o *Orchestrator) HandleUserTask(ctx context.Context, req Request) (resp *Response) {
	var run *taskRun
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("Critical error while handling task: %v", r)
			resp = o.criticalFailure(run, fmt.Sprintf("critical error: %v", r))
		}
	}()

	if !req.Mode.Valid() {
		return &Response{Success: false, Message: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	switch req.Mode {
	case ModePlanOnly, ModeExecuteFullPlan:
		if strings.TrimSpace(req.UserTaskString) == "" {
			return &Response{Success: false, Message: "user task is empty"}
		}
		newRun, err := o.initializeTask(req)
		if err != nil {
			return &Response{Success: false, Message: fmt.Sprintf("task initialization failed: %v", err)}
		}
		run = newRun
		return o.runNewTask(ctx, run, req.Mode)

	case ModeExecutePlannedTask:
		loaded, failResp := o.loadSavedTask(req.TaskToLoad)
		if failResp != nil {
			return failResp
		}
		run = loaded
		if run.state.Plan == nil {
			return &Response{
				Success: false,
				Message: fmt.Sprintf("task %s has no saved plan to execute", run.taskID),
				TaskID:  run.taskID,
				Status:  run.state.Status,
			}
		}
		run.state.Mode = ModeExecutePlannedTask
		o.journalEvent(run, journal.New(journal.TypeExecutionStarted, "Executing previously saved plan"))
		return o.executeAndFinish(ctx, run)

	case ModeSynthesizeOnly:
		loaded, failResp := o.loadSavedTask(req.TaskToLoad)
		if failResp != nil {
			return failResp
		}
		run = loaded
		return o.synthesizeOnly(ctx, run)
	}

	return &Response{Success: false, Message: fmt.Sprintf("unknown mode %q", req.Mode)}
}

// initializeTask creates the task directory, persists uploads and the task
// definition, and writes the initial state.
func (o *Orchestrator) initializeTask(req Request) (*taskRun, error) {
	taskID := uuid.NewString()
	taskDir := o.newTaskDir(taskID)

	if err := o.store.InitializeTaskMemory(taskDir); err != nil {
		return nil, err
	}

	var uploadedPaths []string
	for _, file := range req.UploadedFiles {
		relPath, err := o.store.SaveUploadedFile(taskDir, file.Name, file.Content)
		if err != nil {
			return nil, fmt.Errorf("persist upload %q: %w", file.Name, err)
		}
		uploadedPaths = append(uploadedPaths, relPath)
	}

	definition := "# Task\n\n" + req.UserTaskString + "\n"
	if len(uploadedPaths) > 0 {
		definition += "\n## Uploaded files\n"
		for _, relPath := range uploadedPaths {
			definition += "- " + relPath + "\n"
		}
	}
	if err := o.store.Overwrite(taskDir, memory.TaskDefinitionFile, definition); err != nil {
		return nil, err
	}
	if err := o.store.AppendChatMessage(taskDir, "user", req.UserTaskString); err != nil {
		o.logger.Warnf("Failed to append user chat message: %v", err)
	}

	now := time.Now().UTC()
	run := &taskRun{
		taskID:  taskID,
		taskDir: taskDir,
		state: &TaskState{
			TaskID:       taskID,
			ParentTaskID: req.ParentTaskID,
			OriginalTask: req.UserTaskString,
			Mode:         req.Mode,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	o.journalEvent(run, journal.NewWithDetails(
		journal.TypeTaskInitialized,
		"Task memory initialized",
		map[string]interface{}{"task_id": taskID, "uploaded_files": len(uploadedPaths)},
	))
	if err := o.saveState(taskDir, run.state); err != nil {
		return nil, err
	}
	o.logger.Infof("Initialized task %s in %s", taskID, taskDir)
	return run, nil
}

// loadSavedTask resolves a task id to its directory and state. The second
// return value is a ready failure response when loading fails; no writes
// happen under a missing task's directory.
func (o *Orchestrator) loadSavedTask(taskID string) (*taskRun, *Response) {
	if taskID == "" {
		return nil, &Response{Success: false, Message: "task_to_load is required for this mode"}
	}
	taskDir, err := o.findTaskDir(taskID)
	if err != nil {
		return nil, &Response{Success: false, Message: err.Error()}
	}
	state, err := o.loadState(taskDir)
	if err != nil {
		return nil, &Response{Success: false, Message: err.Error()}
	}
	return &taskRun{
		taskID:  state.TaskID,
		taskDir: taskDir,
		state:   state,
		entries: o.loadJournal(taskDir),
	}, nil
}

// runNewTask runs planning and, for EXECUTE_FULL_PLAN, the remaining phases.
func (o *Orchestrator) runNewTask(ctx context.Context, run *taskRun, mode Mode) *Response {
	if failResp := o.planPhase(ctx, run); failResp != nil {
		return failResp
	}

	if mode == ModePlanOnly {
		o.recordInIndex(run)
		return &Response{
			Success:               true,
			Message:               "plan generated",
			TaskID:                run.taskID,
			OriginalTask:          run.state.OriginalTask,
			Status:                run.state.Status,
			Plan:                  run.state.Plan,
			CurrentWorkingContext: run.state.CurrentWorkingContext,
		}
	}
	return o.executeAndFinish(ctx, run)
}

// planPhase generates and persists the plan. It returns a failure response
// when planning fails, or nil on success.
func (o *Orchestrator) planPhase(ctx context.Context, run *taskRun) *Response {
	o.journalEvent(run, journal.New(journal.TypePlanningStarted, "Planning started"))

	memoryContext := o.assembleOrDegrade(run, contextbuilder.ContextSpecification{
		SystemPrompt:          "Context for task planning.",
		IncludeTaskDefinition: true,
		OriginalUserTask:      run.state.OriginalTask,
		MaxLatestKeyFindings:  latestRecordsWindow,
		MaxTokenLimit:         o.contextBudget(),
	}, "planning")

	result, err := o.planManager.GeneratePlan(ctx, plan.GenerateRequest{
		UserTaskString:           run.state.OriginalTask,
		MemoryContextForPlanning: memoryContext,
		CurrentWorkingContext:    run.state.CurrentWorkingContext,
		Model:                    o.llmConfig.ModelForPurpose("planning"),
	})
	if err != nil {
		return o.criticalFailure(run, fmt.Sprintf("planning failed: %v", err))
	}
	if !result.Success {
		run.state.Status = StatusFailedPlanning
		run.state.ErrorSummary = &ErrorSummary{Reason: result.Message}
		o.journalEvent(run, journal.NewWithDetails(
			journal.TypePlanningFailed,
			result.Message,
			map[string]interface{}{"raw_response": result.RawResponse},
		))
		o.persistTerminal(run)
		return &Response{
			Success:      false,
			Message:      "planning failed: " + result.Message,
			TaskID:       run.taskID,
			OriginalTask: run.state.OriginalTask,
			Status:       StatusFailedPlanning,
			ErrorSummary: run.state.ErrorSummary,
		}
	}

	run.state.Plan = result.Plan
	run.state.Status = StatusPlanGenerated
	o.journalEvent(run, journal.NewWithDetails(
		journal.TypePlanGenerated,
		fmt.Sprintf("Plan %s generated from %s with %d stage(s)", result.Plan.PlanID, result.Plan.Source, len(result.Plan.Stages)),
		map[string]interface{}{"plan_id": result.Plan.PlanID, "source": result.Plan.Source},
	))
	if err := o.saveState(run.taskDir, run.state); err != nil {
		o.logger.Warnf("Failed to persist state after planning: %v", err)
	}
	return nil
}

// executeAndFinish runs the execution loop with bounded replanning, then the
// CWC update and synthesis.
func (o *Orchestrator) executeAndFinish(ctx context.Context, run *taskRun) *Response {
	execResult, failResp := o.executePhase(ctx, run)
	if failResp != nil {
		return failResp
	}

	o.updateWorkingContext(ctx, run, execResult)

	finalAnswer, synthErr := o.synthesisPhase(ctx, run, execResult)
	run.state.FinalAnswer = finalAnswer
	run.state.Status = StatusCompleted
	o.journalEvent(run, journal.New(journal.TypeTaskCompleted, "Task completed"))
	o.persistTerminal(run)

	resp := &Response{
		Success:               true,
		Message:               "task completed",
		TaskID:                run.taskID,
		OriginalTask:          run.state.OriginalTask,
		Status:                StatusCompleted,
		ExecutedPlan:          run.state.Plan,
		FinalAnswer:           finalAnswer,
		CurrentWorkingContext: run.state.CurrentWorkingContext,
	}
	if synthErr != nil {
		resp.Message = fmt.Sprintf("execution completed but synthesis did not produce an answer: %v", synthErr)
	}
	return resp
}

// executePhase runs the plan, replanning on failure up to maxRevisions
// times. It returns the successful execution result, or a terminal failure
// response.
func (o *Orchestrator) executePhase(ctx context.Context, run *taskRun) (*executor.Result, *Response) {
	for attempt := 0; ; attempt++ {
		execResult, err := o.exec.ExecutePlan(ctx, executor.Request{
			Plan:         run.state.Plan,
			ParentTaskID: run.taskID,
			OriginalTask: run.state.OriginalTask,
			TaskDir:      run.taskDir,
		})
		if err != nil {
			return nil, o.criticalFailure(run, fmt.Sprintf("execution failed: %v", err))
		}

		run.entries = append(run.entries, execResult.JournalEntries...)
		o.saveJournal(run.taskDir, run.entries)
		run.state.ExecutionContext = append(run.state.ExecutionContext, execResult.ExecutionContext...)
		o.persistOutcomeRecords(run, execResult)

		if cancelled := o.cancellationResponse(ctx, run, execResult); cancelled != nil {
			return nil, cancelled
		}

		if execResult.Success {
			o.journalEvent(run, journal.New(journal.TypeExecutionAttemptSuccess, fmt.Sprintf("Execution attempt %d succeeded", attempt+1)))
			return execResult, nil
		}

		failed := execResult.FailedStepDetails
		o.journalEvent(run, journal.NewWithDetails(
			journal.TypeExecutionAttemptFailed,
			fmt.Sprintf("Execution attempt %d failed at stage %d", attempt+1, failed.StageIndex),
			map[string]interface{}{"sub_task_id": failed.SubTaskID, "error_kind": failed.ErrorKind},
		))

		if attempt >= o.maxRevisions {
			return nil, o.exhaustedRevisions(run, failed)
		}

		if failResp := o.replan(ctx, run, attempt+1, failed, execResult); failResp != nil {
			return nil, failResp
		}
	}
}

// replan asks the plan manager for a revised plan. It returns a terminal
// failure response when revision fails, or nil when a revised plan is in
// place.
func (o *Orchestrator) replan(ctx context.Context, run *taskRun, revisionAttempt int, failed *plan.FailedStepInfo, execResult *executor.Result) *Response {
	o.journalEvent(run, journal.New(journal.TypeReplanningStarted, fmt.Sprintf("Replanning, revision %d of %d", revisionAttempt, o.maxRevisions)))

	findings, err := o.store.GetLatestKeyFindings(run.taskDir, latestRecordsWindow)
	if err != nil {
		o.logger.Warnf("Failed to load findings for replanning: %v", err)
	}
	errorRecords, err := o.store.GetLatestErrorsEncountered(run.taskDir, latestRecordsWindow)
	if err != nil {
		o.logger.Warnf("Failed to load error records for replanning: %v", err)
	}

	revised, err := o.planManager.GeneratePlan(ctx, plan.GenerateRequest{
		UserTaskString:           run.state.OriginalTask,
		CurrentWorkingContext:    run.state.CurrentWorkingContext,
		IsRevision:               true,
		RevisionAttempt:          revisionAttempt,
		StructuredFailedStepInfo: failed,
		PreviousPlan:             run.state.Plan,
		LastExecutionContext:     renderExecutionContext(execResult.ExecutionContext),
		LatestKeyFindings:        findings,
		LatestErrorsEncountered:  errorRecords,
		Model:                    o.llmConfig.ModelForPurpose("planning"),
	})
	if err != nil || !revised.Success {
		message := "replanning failed"
		if err != nil {
			message = fmt.Sprintf("replanning failed: %v", err)
		} else if revised.Message != "" {
			message = "replanning failed: " + revised.Message
		}
		return o.replanFailure(run, message, failed)
	}

	if improved, reason := o.revisionImproved(ctx, failed, run.state.Plan, revised.Plan); !improved {
		message := "replanning failed: revised plan is not improved"
		if reason != "" {
			message += ": " + reason
		}
		return o.replanFailure(run, message, failed)
	}

	o.journalEvent(run, journal.NewWithDetails(
		journal.TypeReplanningSuccess,
		fmt.Sprintf("Revised plan %s accepted", revised.Plan.PlanID),
		map[string]interface{}{"plan_id": revised.Plan.PlanID},
	))
	decision := fmt.Sprintf("- %s: revised plan after failure of %q (%s): %s\n",
		time.Now().UTC().Format(time.RFC3339), failed.Definition.NarrativeStep, failed.ErrorKind, failed.ErrorDetails)
	if err := o.store.Append(run.taskDir, memory.DecisionsFile, decision); err != nil {
		o.logger.Warnf("Failed to record replanning decision: %v", err)
	}

	run.state.Plan = revised.Plan
	run.state.RevisionCount = revisionAttempt
	if err := o.saveState(run.taskDir, run.state); err != nil {
		o.logger.Warnf("Failed to persist state after replanning: %v", err)
	}
	return nil
}

// replanFailure finalizes a task whose revision was rejected.
func (o *Orchestrator) replanFailure(run *taskRun, message string, failed *plan.FailedStepInfo) *Response {
	o.journalEvent(run, journal.New(journal.TypeReplanningFailed, message))
	run.state.Status = StatusFailedExecution
	run.state.ErrorSummary = failureSummary(message, failed)
	o.journalEvent(run, journal.New(journal.TypeTaskFailed, message))
	o.persistTerminal(run)
	return &Response{
		Success:      false,
		Message:      message,
		TaskID:       run.taskID,
		OriginalTask: run.state.OriginalTask,
		Status:       StatusFailedExecution,
		ExecutedPlan: run.state.Plan,
		ErrorSummary: run.state.ErrorSummary,
	}
}

// revisionImproved judges whether a revised plan is materially different from
// the plan that just failed. A stage-for-stage identical revision is rejected
// outright; otherwise the conditional decider weighs the revision against the
// failed step. Decider failures degrade to accepting the revision.
func (o *Orchestrator) revisionImproved(ctx context.Context, failed *plan.FailedStepInfo, previous, revised *plan.Plan) (bool, string) {
	if plansEquivalent(previous, revised) {
		return false, "revised plan is identical to the failed plan"
	}

	decisionContext := fmt.Sprintf(
		"Failed step: stage %d, role %q, tool %q: %s\nFailure (%s): %s\nPrevious plan stages:\n%s\nRevised plan stages:\n%s",
		failed.StageIndex, failed.Definition.AssignedAgentRole, failed.Definition.ToolName, failed.Definition.NarrativeStep,
		failed.ErrorKind, failed.ErrorDetails, renderStagesJSON(previous), renderStagesJSON(revised))
	decision, err := o.decider.Decide(ctx, decisionContext, "Does the revised plan take a materially different approach that could avoid the failure?")
	if err != nil {
		o.logger.Warnf("Revision improvement check degraded, accepting revision: %v", err)
		return true, ""
	}
	if !decision.GetResult() {
		return false, decision.Reason
	}
	return true, ""
}

// plansEquivalent reports whether two plans carry the same stages.
func plansEquivalent(a, b *plan.Plan) bool {
	return renderStagesJSON(a) == renderStagesJSON(b)
}

func renderStagesJSON(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	data, err := json.Marshal(p.Stages)
	if err != nil {
		return fmt.Sprintf("%v", p.Stages)
	}
	return string(data)
}

// exhaustedRevisions finalizes a task whose every attempt failed.
func (o *Orchestrator) exhaustedRevisions(run *taskRun, failed *plan.FailedStepInfo) *Response {
	message := fmt.Sprintf("execution failed after %d attempt(s)", o.maxRevisions+1)
	run.state.Status = StatusFailedExecution
	run.state.ErrorSummary = failureSummary(message, failed)
	o.journalEvent(run, journal.New(journal.TypeTaskFailed, message))
	o.persistTerminal(run)
	return &Response{
		Success:      false,
		Message:      message,
		TaskID:       run.taskID,
		OriginalTask: run.state.OriginalTask,
		Status:       StatusFailedExecution,
		ExecutedPlan: run.state.Plan,
		ErrorSummary: run.state.ErrorSummary,
	}
}

// cancellationResponse finalizes the task as FAILED_EXECUTION with an
// explicit cancellation reason when the invocation context was cancelled.
func (o *Orchestrator) cancellationResponse(ctx context.Context, run *taskRun, execResult *executor.Result) *Response {
	cancelled := ctx.Err() != nil
	if !cancelled && execResult.FailedStepDetails != nil {
		cancelled = execResult.FailedStepDetails.ErrorKind == executor.ErrorKindCancelled
	}
	if !cancelled {
		return nil
	}

	reason := "task cancelled"
	if ctx.Err() != nil {
		reason = fmt.Sprintf("task cancelled: %v", ctx.Err())
	}
	run.state.Status = StatusFailedExecution
	run.state.ErrorSummary = &ErrorSummary{Reason: reason}
	o.journalEvent(run, journal.New(journal.TypeTaskCancelled, reason))
	o.persistTerminal(run)
	return &Response{
		Success:      false,
		Message:      reason,
		TaskID:       run.taskID,
		OriginalTask: run.state.OriginalTask,
		Status:       StatusFailedExecution,
		ExecutedPlan: run.state.Plan,
		ErrorSummary: run.state.ErrorSummary,
	}
}

// persistOutcomeRecords appends the execution's findings and errors to the
// memory bank. Failures here degrade to warnings.
func (o *Orchestrator) persistOutcomeRecords(run *taskRun, execResult *executor.Result) {
	for _, finding := range execResult.UpdatesForWorkingContext.KeyFindings {
		if err := o.store.AddKeyFinding(run.taskDir, finding); err != nil {
			o.logger.Warnf("Failed to persist key finding: %v", err)
		}
	}
	for _, record := range execResult.UpdatesForWorkingContext.ErrorsEncountered {
		if err := o.store.AddErrorEncountered(run.taskDir, record); err != nil {
			o.logger.Warnf("Failed to persist error record: %v", err)
		}
	}
}

// criticalFailure persists a CRITICAL_ERROR state best effort and returns
// the structured failure response.
func (o *Orchestrator) criticalFailure(run *taskRun, message string) *Response {
	resp := &Response{Success: false, Message: message, Status: StatusCriticalError}
	if run == nil {
		return resp
	}
	resp.TaskID = run.taskID
	resp.OriginalTask = run.state.OriginalTask
	run.state.Status = StatusCriticalError
	run.state.ErrorSummary = &ErrorSummary{Reason: message}
	resp.ErrorSummary = run.state.ErrorSummary
	o.journalEvent(run, journal.New(journal.TypeCriticalError, message))
	o.persistTerminal(run)
	return resp
}

// journalEvent appends and persists one journal entry.
func (o *Orchestrator) journalEvent(run *taskRun, entry journal.Entry) {
	run.entries = append(run.entries, entry)
	o.saveJournal(run.taskDir, run.entries)
	o.logger.Debugf("Journal[%s]: %s", entry.Type, entry.Message)
}

// persistTerminal writes state, journal and the task index at a terminal
// transition, all best effort.
func (o *Orchestrator) persistTerminal(run *taskRun) {
	if err := o.saveState(run.taskDir, run.state); err != nil {
		o.logger.Warnf("Failed to persist terminal state: %v", err)
	}
	o.saveJournal(run.taskDir, run.entries)
	o.recordInIndex(run)
}

// recordInIndex upserts the task into the sqlite index, best effort.
func (o *Orchestrator) recordInIndex(run *taskRun) {
	if o.index == nil {
		return
	}
	record := database.TaskRecord{
		TaskID:       run.taskID,
		ParentTaskID: run.state.ParentTaskID,
		OriginalTask: run.state.OriginalTask,
		Mode:         string(run.state.Mode),
		Status:       string(run.state.Status),
		TaskDir:      run.taskDir,
		FinalAnswer:  run.state.FinalAnswer,
		CreatedAt:    run.state.CreatedAt,
		UpdatedAt:    run.state.UpdatedAt,
	}
	if err := o.index.UpsertTask(context.Background(), record); err != nil {
		o.logger.Warnf("Failed to record task %s in index: %v", run.taskID, err)
	}
}

// contextBudget is the token budget for assembled contexts, leaving room for
// the model's response.
func (o *Orchestrator) contextBudget() int {
	budget := o.adapter.GetMaxContextTokens() - responseReserveTokens
	if budget < responseReserveTokens {
		budget = responseReserveTokens
	}
	return budget
}

// assembleOrDegrade builds a mega-context, falling back to the original task
// text with a journal entry when assembly fails.
func (o *Orchestrator) assembleOrDegrade(run *taskRun, spec contextbuilder.ContextSpecification, phase string) string {
	assembled, err := o.assembler.Assemble(run.taskDir, spec, o.adapter.GetTokenizer())
	if err != nil {
		o.logger.Warnf("Context assembly for %s degraded: %v", phase, err)
		o.journalEvent(run, journal.New(journal.TypeCWCUpdateDegraded, fmt.Sprintf("Context assembly for %s degraded: %v", phase, err)))
		return run.state.OriginalTask
	}
	return assembled.ContextString
}

// failureSummary builds an error summary from the failing step.
func failureSummary(reason string, failed *plan.FailedStepInfo) *ErrorSummary {
	summary := &ErrorSummary{Reason: reason}
	if failed != nil {
		summary.FailedStepNarrative = failed.Definition.NarrativeStep
		summary.FailedStepTool = failed.Definition.ToolName
		summary.ErrorMessage = failed.ErrorDetails
	}
	return summary
}

// renderExecutionContext renders step outcomes for prompts and summaries.
func renderExecutionContext(outcomes []executor.StepOutcome) string {
	var b strings.Builder
	for _, outcome := range outcomes {
		b.WriteString(fmt.Sprintf("Stage %d step %d [%s/%s] %s: %s",
			outcome.StageIndex, outcome.DispatchIndex,
			outcome.Definition.AssignedAgentRole, outcome.Definition.ToolName,
			outcome.Definition.NarrativeStep, outcome.Status))
		if outcome.Status == "COMPLETED" && outcome.ProcessedResultData != "" {
			b.WriteString(" => " + outcome.ProcessedResultData)
		}
		if outcome.ErrorDetails != "" {
			b.WriteString(" (error: " + outcome.ErrorDetails + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
