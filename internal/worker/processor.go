package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"async-task-api/internal/config"
	"async-task-api/internal/models"
	"async-task-api/internal/queue"
	"async-task-api/internal/store"
	"async-task-api/internal/telemetry"
)

// ErrCancelled is returned by a handler that observed the cancel flag at one
// of its checkpoints. The processor turns it into the cancelled transition.
var ErrCancelled = errors.New("task cancelled")

// Handler executes one task type and returns its result. Every handler must
// poll Execution.Cancelled at its checkpoints and return ErrCancelled
// promptly when set; a handler that ignores the flag makes cancellation
// unbounded.
type Handler func(ctx context.Context, exec *Execution) (any, error)

// Execution is the view a handler gets of its task: the snapshot taken at
// dispatch plus the store hooks for progress and cancellation checkpoints.
type Execution struct {
	Task  models.Task
	store *store.Store
}

// Cancelled is the cooperative cancellation checkpoint.
func (e *Execution) Cancelled() bool {
	return e.store.CancelRequested(e.Task.ID)
}

// SetProgress publishes in-flight progress for pollers.
func (e *Execution) SetProgress(progress models.Progress) {
	e.store.SetProgress(e.Task.ID, progress)
}

// Processor drives the worker pool: a fixed number of goroutines dequeue task
// ids, dispatch on type through the handler registry, and write the terminal
// transition back to the store. A task's failure never takes a worker down.
type Processor struct {
	cfg      config.Config
	queue    *queue.MemoryQueue
	store    *store.Store
	handlers map[string]Handler
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewProcessor builds a processor with the built-in handlers registered.
func NewProcessor(cfg config.Config, q *queue.MemoryQueue, st *store.Store, logger *slog.Logger) *Processor {
	p := &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	registerBuiltins(p, cfg)
	return p
}

// RegisterHandler binds a handler to a task type, replacing any previous one.
// Not safe to call once Start has run.
func (p *Processor) RegisterHandler(taskType string, handler Handler) {
	if taskType == "" || handler == nil {
		return
	}
	p.handlers[taskType] = handler
}

// Start launches the configured number of workers. They run until ctx is
// cancelled or the queue is closed and drained.
func (p *Processor) Start(ctx context.Context) {
	count := p.cfg.Concurrency
	if count <= 0 {
		count = 1
	}
	p.logger.Info("starting workers", "count", count)
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) run(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Debug("worker stopping", "worker_id", workerID, "reason", err)
			return
		}
		p.process(ctx, workerID, id)
		telemetry.QueueDepthGauge.Set(float64(p.queue.Depth()))
	}
}

func (p *Processor) process(ctx context.Context, workerID int, id uuid.UUID) {
	task, err := p.store.Get(id)
	if err != nil {
		return
	}
	if task.Status == models.StatusCancelled {
		// Cancelled while still queued; nothing to acknowledge.
		return
	}

	task, err = p.store.Transition(id, models.StatusProcessing, nil, "")
	if err != nil {
		// Lost a race with a cancel between Get and Transition.
		return
	}

	logger := p.logger.With("task_id", id, "task_type", task.Type, "worker_id", workerID)
	logger.Info("processing task")
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	result, err := p.execute(ctx, &Execution{Task: task, store: p.store})
	switch {
	case errors.Is(err, ErrCancelled):
		_, _ = p.store.Transition(id, models.StatusCancelled, nil, "cancelled during processing")
		telemetry.TasksCancelled.Inc()
		logger.Info("task cancelled")
	case err != nil:
		_, _ = p.store.Transition(id, models.StatusFailed, nil, err.Error())
		telemetry.TasksFailed.Inc()
		logger.Error("task failed", "error", err)
	default:
		_, _ = p.store.Transition(id, models.StatusCompleted, result, "")
		telemetry.TasksCompleted.Inc()
		logger.Info("task completed")
	}
}

// execute dispatches on task type and contains any panic from the handler so
// the worker loop survives to pick up the next id.
func (p *Processor) execute(ctx context.Context, exec *Execution) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, ok := p.handlers[exec.Task.Type]
	if !ok {
		return nil, fmt.Errorf("no handler registered for type %q", exec.Task.Type)
	}
	return handler(ctx, exec)
}
