// Package executor runs a plan stage by stage: it dispatches every sub-task
// of a stage in parallel, collects results in dispatch order, and
// short-circuits on the first failure. It never retries a sub-task; retries
// happen at the orchestrator level via replanning.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/dispatch"
	"task-orchestrator/pkg/journal"
	"task-orchestrator/pkg/memory"
	"task-orchestrator/pkg/plan"

	"github.com/google/uuid"
)

// Error kinds recorded on failed step outcomes.
const (
	ErrorKindSubTaskFailed  = "SubTaskFailed"
	ErrorKindSubTaskTimeout = "SubTaskTimeout"
	ErrorKindCancelled      = "Cancelled"
)

// DefaultWaiterTimeout bounds the wait for one sub-task result.
const DefaultWaiterTimeout = 120 * time.Second

// DefaultSynthesisToolName marks a plan step whose output is already the
// final answer, letting the orchestrator skip its own synthesis call.
const DefaultSynthesisToolName = "SynthesizeAnswerTool"

// rawContentThreshold is the result size in bytes above which a key finding
// stores a file reference instead of inline data.
const rawContentThreshold = 4096

const rawContentPreviewLen = 200

// StepOutcome is one attempted sub-task in the execution context. Outcomes
// are appended in (stage index, dispatch index) order regardless of
// completion order.
type StepOutcome struct {
	StageIndex          int                    `json:"stage_index"`
	DispatchIndex       int                    `json:"dispatch_index"`
	SubTaskID           string                 `json:"sub_task_id"`
	Definition          plan.SubTaskDefinition `json:"definition"`
	Status              string                 `json:"status"`
	ProcessedResultData string                 `json:"processed_result_data,omitempty"`
	ErrorDetails        string                 `json:"error_details,omitempty"`
	ErrorKind           string                 `json:"error_kind,omitempty"`
}

// WorkingContextUpdates carries the findings and errors derived from step
// outcomes, for the orchestrator to persist and feed into the CWC update.
type WorkingContextUpdates struct {
	KeyFindings       []memory.KeyFinding
	ErrorsEncountered []memory.ErrorRecord
}

// Result is the outcome of one plan execution attempt.
type Result struct {
	Success                  bool
	ExecutionContext         []StepOutcome
	JournalEntries           []journal.Entry
	UpdatesForWorkingContext WorkingContextUpdates
	FinalAnswer              string
	FinalAnswerSynthesized   bool
	FailedStepDetails        *plan.FailedStepInfo
}

// Request names the inputs of one execution attempt. TaskDir enables
// raw-content offloading for oversized results; when empty, all findings are
// stored inline.
type Request struct {
	Plan         *plan.Plan
	ParentTaskID string
	OriginalTask string
	TaskDir      string
}

// Executor dispatches plan stages over the channel fabric.
type Executor struct {
	dispatcher        *dispatch.Dispatcher
	store             *memory.Store
	logger            utils.ExtendedLogger
	waiterTimeout     time.Duration
	synthesisToolName string
}

// Option configures an Executor.
type Option func(*Executor)

// WithWaiterTimeout overrides the per-sub-task wait deadline.
func WithWaiterTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.waiterTimeout = timeout
		}
	}
}

// WithSynthesisToolName overrides the tool name treated as an in-plan final
// synthesis step.
func WithSynthesisToolName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.synthesisToolName = name
		}
	}
}

// NewExecutor creates a plan executor.
func NewExecutor(dispatcher *dispatch.Dispatcher, store *memory.Store, logger utils.ExtendedLogger, opts ...Option) *Executor {
	e := &Executor{
		dispatcher:        dispatcher,
		store:             store,
		logger:            logger,
		waiterTimeout:     DefaultWaiterTimeout,
		synthesisToolName: DefaultSynthesisToolName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// dispatchedTask tracks one in-flight sub-task of a stage.
type dispatchedTask struct {
	subTaskID  string
	definition plan.SubTaskDefinition
	waiter     <-chan dispatch.SubTaskResult
	result     dispatch.SubTaskResult
	timedOut   bool
	cancelled  bool
}

// ExecutePlan runs the plan. The returned Result is always non-nil; errors
// are reserved for broken preconditions, not for sub-task failures.
func (e *Executor) ExecutePlan(ctx context.Context, req Request) (*Result, error) {
	if req.Plan == nil || len(req.Plan.Stages) == 0 {
		return nil, fmt.Errorf("executor: plan is empty")
	}

	result := &Result{Success: true}
	result.JournalEntries = append(result.JournalEntries, journal.NewWithDetails(
		journal.TypeExecutionStarted,
		fmt.Sprintf("Executing plan %s with %d stage(s)", req.Plan.PlanID, len(req.Plan.Stages)),
		map[string]interface{}{"plan_id": req.Plan.PlanID, "stages": len(req.Plan.Stages)},
	))

	for stageIdx, stage := range req.Plan.Stages {
		result.JournalEntries = append(result.JournalEntries, journal.New(
			journal.TypeStageStarted,
			fmt.Sprintf("Stage %d: dispatching %d sub-task(s)", stageIdx, len(stage)),
		))

		tasks, err := e.dispatchStage(ctx, req, stage, result)
		if err != nil {
			return nil, err
		}

		e.awaitStage(ctx, tasks)
		failed := e.collectStage(req, stageIdx, tasks, result)

		if failed != nil {
			result.Success = false
			result.FailedStepDetails = failed
			result.JournalEntries = append(result.JournalEntries, journal.NewWithDetails(
				journal.TypeStageCompleted,
				fmt.Sprintf("Stage %d failed; skipping remaining stages", stageIdx),
				map[string]interface{}{"stage_index": stageIdx, "failed_sub_task_id": failed.SubTaskID},
			))
			break
		}
		result.JournalEntries = append(result.JournalEntries, journal.New(
			journal.TypeStageCompleted,
			fmt.Sprintf("Stage %d completed", stageIdx),
		))
	}

	if result.Success {
		e.detectSynthesizedAnswer(req.Plan, result)
	}
	return result, nil
}

// dispatchStage registers waiters and enqueues every sub-task of the stage.
// Waiters are registered before dispatch so a fast worker cannot race the
// registration.
func (e *Executor) dispatchStage(ctx context.Context, req Request, stage plan.Stage, result *Result) ([]*dispatchedTask, error) {
	tasks := make([]*dispatchedTask, 0, len(stage))
	for _, def := range stage {
		subTaskID := uuid.NewString()
		waiter, err := e.dispatcher.RegisterWaiter(subTaskID)
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}

		msg := dispatch.SubTaskMessage{
			SubTaskID:    subTaskID,
			ParentTaskID: req.ParentTaskID,
			Definition:   def,
		}
		if err := e.dispatcher.Dispatch(ctx, msg); err != nil {
			e.dispatcher.CancelWaiter(subTaskID)
			for _, dispatched := range tasks {
				e.dispatcher.CancelWaiter(dispatched.subTaskID)
			}
			return nil, fmt.Errorf("executor: dispatch sub-task %s: %w", subTaskID, err)
		}

		result.JournalEntries = append(result.JournalEntries, journal.NewWithDetails(
			journal.TypeSubTaskDispatched,
			fmt.Sprintf("Dispatched %q to %s/%s", def.NarrativeStep, def.AssignedAgentRole, def.ToolName),
			map[string]interface{}{"sub_task_id": subTaskID, "role": def.AssignedAgentRole, "tool": def.ToolName},
		))
		tasks = append(tasks, &dispatchedTask{subTaskID: subTaskID, definition: def, waiter: waiter})
	}
	return tasks, nil
}

// awaitStage waits for every dispatched sub-task in parallel, each with its
// own deadline.
func (e *Executor) awaitStage(ctx context.Context, tasks []*dispatchedTask) {
	done := make(chan struct{})
	for _, task := range tasks {
		go func(task *dispatchedTask) {
			defer func() { done <- struct{}{} }()
			timer := time.NewTimer(e.waiterTimeout)
			defer timer.Stop()
			select {
			case res := <-task.waiter:
				task.result = res
			case <-timer.C:
				task.timedOut = true
				e.dispatcher.CancelWaiter(task.subTaskID)
			case <-ctx.Done():
				task.cancelled = true
				e.dispatcher.CancelWaiter(task.subTaskID)
			}
		}(task)
	}
	for range tasks {
		<-done
	}
}

// collectStage appends step outcomes in dispatch order and derives findings
// and error records. It returns the first failure in dispatch order, or nil.
func (e *Executor) collectStage(req Request, stageIdx int, tasks []*dispatchedTask, result *Result) *plan.FailedStepInfo {
	var firstFailure *plan.FailedStepInfo
	for dispatchIdx, task := range tasks {
		outcome := StepOutcome{
			StageIndex:    stageIdx,
			DispatchIndex: dispatchIdx,
			SubTaskID:     task.subTaskID,
			Definition:    task.definition,
		}

		switch {
		case task.cancelled:
			outcome.Status = dispatch.StatusFailed
			outcome.ErrorKind = ErrorKindCancelled
			outcome.ErrorDetails = "execution cancelled while awaiting result"
		case task.timedOut:
			outcome.Status = dispatch.StatusFailed
			outcome.ErrorKind = ErrorKindSubTaskTimeout
			outcome.ErrorDetails = fmt.Sprintf("no result within %s", e.waiterTimeout)
		case task.result.Completed():
			outcome.Status = dispatch.StatusCompleted
			outcome.ProcessedResultData = stringifyResultData(task.result.ResultData)
		default:
			outcome.Status = dispatch.StatusFailed
			outcome.ErrorKind = ErrorKindSubTaskFailed
			outcome.ErrorDetails = task.result.ErrorDetails
		}

		result.ExecutionContext = append(result.ExecutionContext, outcome)

		if outcome.Status == dispatch.StatusCompleted {
			result.JournalEntries = append(result.JournalEntries, journal.New(
				journal.TypeSubTaskCompleted,
				fmt.Sprintf("Sub-task %s completed (%s)", task.subTaskID, task.definition.ToolName),
			))
			result.UpdatesForWorkingContext.KeyFindings = append(
				result.UpdatesForWorkingContext.KeyFindings,
				e.buildKeyFinding(req, outcome),
			)
			continue
		}

		result.JournalEntries = append(result.JournalEntries, journal.NewWithDetails(
			journal.TypeSubTaskFailed,
			fmt.Sprintf("Sub-task %s failed: %s", task.subTaskID, outcome.ErrorDetails),
			map[string]interface{}{"sub_task_id": task.subTaskID, "error_kind": outcome.ErrorKind},
		))
		result.UpdatesForWorkingContext.ErrorsEncountered = append(
			result.UpdatesForWorkingContext.ErrorsEncountered,
			memory.ErrorRecord{
				ErrorID:             uuid.NewString(),
				SourceStepNarrative: task.definition.NarrativeStep,
				SourceToolName:      task.definition.ToolName,
				ErrorMessage:        outcome.ErrorDetails,
				Timestamp:           time.Now().UTC(),
			},
		)

		if firstFailure == nil {
			firstFailure = &plan.FailedStepInfo{
				StageIndex:   stageIdx,
				SubTaskID:    task.subTaskID,
				Definition:   task.definition,
				ErrorKind:    outcome.ErrorKind,
				ErrorDetails: outcome.ErrorDetails,
			}
		}
	}
	return firstFailure
}

// buildKeyFinding converts a successful outcome into a finding. Oversized
// results are offloaded to a raw-content file with a short preview; if the
// offload fails the finding keeps the inline data.
func (e *Executor) buildKeyFinding(req Request, outcome StepOutcome) memory.KeyFinding {
	finding := memory.KeyFinding{
		ID:                  uuid.NewString(),
		SourceStepNarrative: outcome.Definition.NarrativeStep,
		SourceToolName:      outcome.Definition.ToolName,
	}

	data := outcome.ProcessedResultData
	if e.store != nil && req.TaskDir != "" && len(data) > rawContentThreshold {
		relPath := fmt.Sprintf("raw_content/%s.txt", outcome.SubTaskID)
		if err := e.store.Overwrite(req.TaskDir, relPath, data); err != nil {
			e.logger.Warnf("Failed to offload raw content for sub-task %s: %v", outcome.SubTaskID, err)
		} else {
			preview := data
			if len(preview) > rawContentPreviewLen {
				preview = preview[:rawContentPreviewLen]
			}
			if err := finding.SetReference(relPath, preview); err == nil {
				return finding
			}
		}
	}

	if err := finding.SetInlineData(data); err != nil {
		e.logger.Warnf("Failed to encode finding data for sub-task %s: %v", outcome.SubTaskID, err)
	}
	return finding
}

// detectSynthesizedAnswer surfaces the output of an in-plan synthesis step
// as the final answer when the plan succeeded and its last step used the
// synthesis tool.
func (e *Executor) detectSynthesizedAnswer(p *plan.Plan, result *Result) {
	if len(result.ExecutionContext) == 0 {
		return
	}
	last := result.ExecutionContext[len(result.ExecutionContext)-1]
	if last.Status != dispatch.StatusCompleted || last.Definition.ToolName != e.synthesisToolName {
		return
	}
	result.FinalAnswer = last.ProcessedResultData
	result.FinalAnswerSynthesized = true
	e.logger.Infof("Plan %s produced its own final answer via %s", p.PlanID, e.synthesisToolName)
}

// stringifyResultData renders opaque result data for storage and prompts.
func stringifyResultData(data interface{}) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
