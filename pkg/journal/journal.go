// Package journal defines the typed event records appended during a task's
// lifecycle and persisted in the task directory.
package journal

import "time"

// Entry types appended by the orchestrator and the plan executor.
const (
	TypeTaskInitialized         = "TASK_INITIALIZED"
	TypePlanningStarted         = "PLANNING_STARTED"
	TypePlanGenerated           = "PLAN_GENERATED"
	TypePlanningFailed          = "PLANNING_FAILED"
	TypeExecutionStarted        = "EXECUTION_STARTED"
	TypeStageStarted            = "STAGE_STARTED"
	TypeSubTaskDispatched       = "SUB_TASK_DISPATCHED"
	TypeSubTaskCompleted        = "SUB_TASK_COMPLETED"
	TypeSubTaskFailed           = "SUB_TASK_FAILED"
	TypeStageCompleted          = "STAGE_COMPLETED"
	TypeExecutionAttemptFailed  = "EXECUTION_ATTEMPT_FAILED"
	TypeExecutionAttemptSuccess = "EXECUTION_ATTEMPT_SUCCESS"
	TypeReplanningStarted       = "REPLANNING_STARTED"
	TypeReplanningSuccess       = "REPLANNING_SUCCESS"
	TypeReplanningFailed        = "REPLANNING_FAILED"
	TypeCWCUpdated              = "CWC_UPDATED"
	TypeCWCUpdateDegraded       = "CWC_UPDATE_DEGRADED"
	TypeSynthesisStarted        = "SYNTHESIS_STARTED"
	TypeSynthesisCompleted      = "SYNTHESIS_COMPLETED"
	TypeSynthesisSkipped        = "SYNTHESIS_SKIPPED"
	TypeSynthesisFailed         = "SYNTHESIS_FAILED"
	TypeTaskCompleted           = "TASK_COMPLETED"
	TypeTaskFailed              = "TASK_FAILED"
	TypeTaskCancelled           = "TASK_CANCELLED"
	TypeCriticalError           = "CRITICAL_ERROR"
)

// Entry is one journal record. Details carries event-specific structured
// fields.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// New creates an entry stamped with the current UTC time.
func New(entryType, message string) Entry {
	return Entry{Timestamp: time.Now().UTC(), Type: entryType, Message: message}
}

// NewWithDetails creates a detailed entry stamped with the current UTC time.
func NewWithDetails(entryType, message string, details map[string]interface{}) Entry {
	entry := New(entryType, message)
	entry.Details = details
	return entry
}
