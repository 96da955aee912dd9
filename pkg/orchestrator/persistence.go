package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"task-orchestrator/pkg/journal"
)

// Task directory file names. The task directory lives at
// <savedTasksBase>/<YYYY-MM-DD>/<task_id>/ and the date segment is always the
// task's creation date.
const (
	TaskStateFile = "task_state.json"
	JournalFile   = "orchestrator_journal.json"

	taskDateLayout = "2006-01-02"
)

// ErrTaskNotFound is wrapped by loadTask when no saved task matches the id.
var errTaskNotFound = fmt.Errorf("task state file not found")

// newTaskDir returns the directory for a freshly created task.
func (o *Orchestrator) newTaskDir(taskID string) string {
	return filepath.Join(o.savedTasksBase, time.Now().UTC().Format(taskDateLayout), taskID)
}

// findTaskDir locates an existing task directory by scanning the date
// directories under the saved-tasks base.
func (o *Orchestrator) findTaskDir(taskID string) (string, error) {
	entries, err := os.ReadDir(o.savedTasksBase)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", errTaskNotFound, taskID)
		}
		return "", fmt.Errorf("scan saved tasks: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(o.savedTasksBase, entry.Name(), taskID)
		if _, err := os.Stat(filepath.Join(candidate, TaskStateFile)); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errTaskNotFound, taskID)
}

// saveState persists the task state snapshot. Write failures are surfaced;
// callers on critical-error paths treat them as best effort.
func (o *Orchestrator) saveState(taskDir string, state *TaskState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, TaskStateFile), data, 0644); err != nil {
		return fmt.Errorf("write task state: %w", err)
	}
	return nil
}

// loadState reads a persisted task state snapshot.
func (o *Orchestrator) loadState(taskDir string) (*TaskState, error) {
	//nolint:gosec // G304: path is derived from the saved-tasks base
	data, err := os.ReadFile(filepath.Join(taskDir, TaskStateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", errTaskNotFound, taskDir)
		}
		return nil, fmt.Errorf("read task state: %w", err)
	}
	var state TaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse task state: %w", err)
	}
	return &state, nil
}

// saveJournal persists the full journal array for the run.
func (o *Orchestrator) saveJournal(taskDir string, entries []journal.Entry) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		o.logger.Warnf("Failed to encode journal: %v", err)
		return
	}
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		o.logger.Warnf("Failed to create task dir for journal: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(taskDir, JournalFile), data, 0644); err != nil {
		o.logger.Warnf("Failed to write journal: %v", err)
	}
}

// loadJournal reads a persisted journal, returning nil when absent.
func (o *Orchestrator) loadJournal(taskDir string) []journal.Entry {
	//nolint:gosec // G304: path is derived from the saved-tasks base
	data, err := os.ReadFile(filepath.Join(taskDir, JournalFile))
	if err != nil {
		return nil
	}
	var entries []journal.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		o.logger.Warnf("Ignoring corrupt journal in %s: %v", taskDir, err)
		return nil
	}
	return entries
}
