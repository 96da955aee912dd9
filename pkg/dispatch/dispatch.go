// Package dispatch provides the in-process channel fabric between the plan
// executor and worker agents: a per-role sub-task channel and a results path
// demultiplexed by sub-task id through one-shot waiters.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"task-orchestrator/internal/utils"
	"task-orchestrator/pkg/plan"
)

// Sub-task result statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// SubTaskMessage is one dispatched unit of work.
type SubTaskMessage struct {
	SubTaskID    string                 `json:"sub_task_id"`
	ParentTaskID string                 `json:"parent_task_id"`
	Definition   plan.SubTaskDefinition `json:"definition"`
}

// SubTaskResult is one worker response. ResultData is opaque to the
// orchestrator.
type SubTaskResult struct {
	SubTaskID    string      `json:"sub_task_id"`
	Status       string      `json:"status"`
	ResultData   interface{} `json:"result_data,omitempty"`
	ErrorDetails string      `json:"error_details,omitempty"`
}

// Completed reports whether the result carries a success status.
func (r SubTaskResult) Completed() bool {
	return r.Status == StatusCompleted
}

const defaultQueueSize = 16

// Dispatcher owns one buffered sub-task channel per agent role and the
// one-shot waiter map for results. Any worker consuming a role's channel
// receives each message exactly once; channel semantics provide the
// single-delivery guarantee.
type Dispatcher struct {
	mu           sync.Mutex
	roleChannels map[string]chan SubTaskMessage
	waiters      map[string]chan SubTaskResult
	queueSize    int
	logger       utils.ExtendedLogger
}

// NewDispatcher creates a dispatcher. queueSize <= 0 selects the default
// per-role buffer of 16 messages.
func NewDispatcher(queueSize int, logger utils.ExtendedLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		roleChannels: make(map[string]chan SubTaskMessage),
		waiters:      make(map[string]chan SubTaskResult),
		queueSize:    queueSize,
		logger:       logger,
	}
}

// RoleChannel returns the sub-task channel for a role, creating it on first
// use. Workers range over this channel.
func (d *Dispatcher) RoleChannel(role string) <-chan SubTaskMessage {
	return d.roleChannel(role)
}

func (d *Dispatcher) roleChannel(role string) chan SubTaskMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.roleChannels[role]
	if !ok {
		ch = make(chan SubTaskMessage, d.queueSize)
		d.roleChannels[role] = ch
	}
	return ch
}

// Dispatch enqueues a message on its role channel, blocking until the channel
// accepts it or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, msg SubTaskMessage) error {
	if msg.SubTaskID == "" {
		return fmt.Errorf("dispatch: message has no sub_task_id")
	}
	ch := d.roleChannel(msg.Definition.AssignedAgentRole)
	select {
	case ch <- msg:
		d.logger.Debugf("Dispatched sub-task %s to role %s", msg.SubTaskID, msg.Definition.AssignedAgentRole)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: %w", ctx.Err())
	}
}

// RegisterWaiter registers a one-shot waiter for a sub-task id and returns
// the channel the single result will arrive on. Registering an already
// registered id is an error.
func (d *Dispatcher) RegisterWaiter(subTaskID string) (<-chan SubTaskResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.waiters[subTaskID]; exists {
		return nil, fmt.Errorf("dispatch: waiter for sub-task %s already registered", subTaskID)
	}
	ch := make(chan SubTaskResult, 1)
	d.waiters[subTaskID] = ch
	return ch, nil
}

// CancelWaiter removes a waiter that will no longer be serviced, typically
// after a timeout. Late results for the id are then dropped.
func (d *Dispatcher) CancelWaiter(subTaskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiters, subTaskID)
}

// PendingWaiters returns the number of registered waiters still awaiting a
// result.
func (d *Dispatcher) PendingWaiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// DeliverResult resolves the one-shot waiter for the result's sub-task id.
// It reports false when no waiter is registered; an unmatched result never
// disturbs other waiters.
func (d *Dispatcher) DeliverResult(result SubTaskResult) bool {
	d.mu.Lock()
	ch, ok := d.waiters[result.SubTaskID]
	if ok {
		delete(d.waiters, result.SubTaskID)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Warnf("Dropping result for unregistered sub-task id %s", result.SubTaskID)
		return false
	}
	ch <- result
	return true
}
