package dispatch

import (
	"context"
	"sync"

	"task-orchestrator/internal/utils"
)

// WorkerFunc handles one sub-task message and returns its result. The
// implementation is the external collaborator boundary: web search,
// calculators and other concrete tools live behind it.
type WorkerFunc func(ctx context.Context, msg SubTaskMessage) SubTaskResult

// WorkerRegistry runs worker goroutines against a dispatcher's role
// channels and delivers their results back.
type WorkerRegistry struct {
	dispatcher *Dispatcher
	logger     utils.ExtendedLogger

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels []context.CancelFunc
}

// NewWorkerRegistry creates a worker registry over the dispatcher.
func NewWorkerRegistry(dispatcher *Dispatcher, logger utils.ExtendedLogger) *WorkerRegistry {
	return &WorkerRegistry{dispatcher: dispatcher, logger: logger}
}

// RegisterWorkers starts count goroutines consuming the role's channel with
// fn. Each message is handled by exactly one of them.
func (wr *WorkerRegistry) RegisterWorkers(ctx context.Context, role string, count int, fn WorkerFunc) {
	if count <= 0 {
		count = 1
	}
	workerCtx, cancel := context.WithCancel(ctx)
	wr.mu.Lock()
	wr.cancels = append(wr.cancels, cancel)
	wr.mu.Unlock()

	ch := wr.dispatcher.RoleChannel(role)
	for i := 0; i < count; i++ {
		wr.wg.Add(1)
		go func() {
			defer wr.wg.Done()
			wr.consume(workerCtx, role, ch, fn)
		}()
	}
	wr.logger.Infof("Registered %d worker(s) for role %s", count, role)
}

func (wr *WorkerRegistry) consume(ctx context.Context, role string, ch <-chan SubTaskMessage, fn WorkerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			result := fn(ctx, msg)
			result.SubTaskID = msg.SubTaskID
			if !wr.dispatcher.DeliverResult(result) {
				wr.logger.Warnf("Worker for role %s produced a result nobody was waiting for (sub-task %s)", role, msg.SubTaskID)
			}
		}
	}
}

// Stop cancels all workers and waits for them to drain.
func (wr *WorkerRegistry) Stop() {
	wr.mu.Lock()
	cancels := wr.cancels
	wr.cancels = nil
	wr.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	wr.wg.Wait()
}
