// Package orchestrator drives a task through plan, execute, context update
// and synthesis, with bounded replanning on execution failure.
package orchestrator

import (
	"time"

	"task-orchestrator/pkg/executor"
	"task-orchestrator/pkg/memory"
	"task-orchestrator/pkg/plan"
)

// Mode selects which phases of the lifecycle an invocation runs.
type Mode string

const (
	ModePlanOnly           Mode = "PLAN_ONLY"
	ModeExecuteFullPlan    Mode = "EXECUTE_FULL_PLAN"
	ModeExecutePlannedTask Mode = "EXECUTE_PLANNED_TASK"
	ModeSynthesizeOnly     Mode = "SYNTHESIZE_ONLY"
)

// Valid reports whether the mode is one of the four supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePlanOnly, ModeExecuteFullPlan, ModeExecutePlannedTask, ModeSynthesizeOnly:
		return true
	}
	return false
}

// Status is the terminal (or persisted intermediate) state of a task.
type Status string

const (
	StatusPlanGenerated   Status = "PLAN_GENERATED"
	StatusCompleted       Status = "COMPLETED"
	StatusFailedPlanning  Status = "FAILED_PLANNING"
	StatusFailedExecution Status = "FAILED_EXECUTION"
	StatusCriticalError   Status = "CRITICAL_ERROR"
)

// UploadedFile is one caller-supplied attachment. The name is sanitized to
// its base name before persistence.
type UploadedFile struct {
	Name    string
	Content []byte
}

// ErrorSummary describes why a task failed, including the failing step when
// one is known.
type ErrorSummary struct {
	Reason              string `json:"reason"`
	FailedStepNarrative string `json:"failedStepNarrative,omitempty"`
	FailedStepTool      string `json:"failedStepTool,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

// TaskState is the canonical restart point, persisted as task_state.json in
// the task directory.
type TaskState struct {
	TaskID                string                        `json:"task_id"`
	ParentTaskID          string                        `json:"parent_task_id,omitempty"`
	OriginalTask          string                        `json:"original_task"`
	Mode                  Mode                          `json:"mode"`
	Status                Status                        `json:"status"`
	Plan                  *plan.Plan                    `json:"plan,omitempty"`
	ExecutionContext      []executor.StepOutcome        `json:"execution_context,omitempty"`
	FinalAnswer           string                        `json:"final_answer,omitempty"`
	ErrorSummary          *ErrorSummary                 `json:"error_summary,omitempty"`
	CurrentWorkingContext *memory.CurrentWorkingContext `json:"current_working_context,omitempty"`
	RevisionCount         int                           `json:"revision_count"`
	CreatedAt             time.Time                     `json:"created_at"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

// Request names the inputs of one HandleUserTask invocation.
type Request struct {
	UserTaskString string
	UploadedFiles  []UploadedFile
	ParentTaskID   string
	TaskToLoad     string
	Mode           Mode
}

// Response is the structured result every invocation returns.
type Response struct {
	Success               bool                          `json:"success"`
	Message               string                        `json:"message"`
	TaskID                string                        `json:"task_id,omitempty"`
	OriginalTask          string                        `json:"original_task,omitempty"`
	Status                Status                        `json:"status,omitempty"`
	Plan                  *plan.Plan                    `json:"plan,omitempty"`
	ExecutedPlan          *plan.Plan                    `json:"executed_plan,omitempty"`
	FinalAnswer           string                        `json:"final_answer,omitempty"`
	CurrentWorkingContext *memory.CurrentWorkingContext `json:"current_working_context,omitempty"`
	ErrorSummary          *ErrorSummary                 `json:"error_summary,omitempty"`
}
