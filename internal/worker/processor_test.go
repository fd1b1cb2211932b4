package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"async-task-api/internal/config"
	"async-task-api/internal/models"
	"async-task-api/internal/queue"
	"async-task-api/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		Concurrency:     2,
		QueueSize:       32,
		TaskMinTime:     time.Millisecond,
		TaskMaxTime:     500 * time.Millisecond,
		ProgressTick:    2 * time.Millisecond,
		MaxWaitTimeout:  2 * time.Second,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *store.Store
	queue *queue.MemoryQueue
	proc  *Processor
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	st := store.New(cfg.MaxWaitTimeout)
	q := queue.New(cfg.QueueSize)
	return &fixture{store: st, queue: q, proc: NewProcessor(cfg, q, st, testLogger())}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.proc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.proc.Wait()
	})
}

func (f *fixture) submit(t *testing.T, taskType, params string) uuid.UUID {
	t.Helper()
	task := f.store.Create(taskType, json.RawMessage(params))
	require.NoError(t, f.queue.Enqueue(task.ID))
	return task.ID
}

// waitTerminal polls until the task reaches a terminal state.
func (f *fixture) waitTerminal(t *testing.T, id uuid.UUID) models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.store.Get(id)
		require.NoError(t, err)
		if models.IsTerminal(task.Status) {
			return task
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return models.Task{}
}

func (f *fixture) waitStatus(t *testing.T, id uuid.UUID, status string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.store.Get(id)
		require.NoError(t, err)
		if task.Status == status {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, status)
}

func TestComputeCompletes(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeCompute, `{"numbers":[1,2,3],"duration_ms":10}`)
	task := f.waitTerminal(t, id)

	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, float64(6), task.Result)
	assert.Empty(t, task.Error)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.FinishedAt)
}

func TestReportCompletesWithDefaultSections(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeReport, `{"title":"Monthly Report","duration_ms":10}`)
	task := f.waitTerminal(t, id)

	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, "Monthly Report: overview, details, summary", task.Result)
}

func TestUnstableFailsWithError(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeUnstable, `{"fail_ratio":1,"duration_ms":10}`)
	task := f.waitTerminal(t, id)

	assert.Equal(t, models.StatusFailed, task.Status)
	assert.NotEmpty(t, task.Error)
}

func TestUnstableCanSucceed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeUnstable, `{"fail_ratio":0,"duration_ms":10}`)
	task := f.waitTerminal(t, id)

	assert.Equal(t, models.StatusCompleted, task.Status)
}

func TestCancelDuringProcessing(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeCompute, `{"numbers":[1],"duration_ms":500}`)
	f.waitStatus(t, id, models.StatusProcessing)

	_, err := f.store.RequestCancel(id)
	require.NoError(t, err)

	task := f.waitTerminal(t, id)
	assert.Equal(t, models.StatusCancelled, task.Status)
}

func TestCancelWhileQueuedSkipsExecution(t *testing.T) {
	f := newFixture(t, testConfig())
	// No workers yet: the pool is saturated from the task's point of view.
	id := f.submit(t, models.TypeCompute, `{"numbers":[1],"duration_ms":10}`)

	got, err := f.store.RequestCancel(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	f.start(t)
	time.Sleep(50 * time.Millisecond)

	task, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, task.Status)
	assert.Nil(t, task.StartedAt, "must never pass through processing")
}

func TestConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 3
	f := newFixture(t, cfg)

	var current, peak atomic.Int32
	f.proc.RegisterHandler("blocking", func(ctx context.Context, exec *Execution) (any, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	})
	f.start(t)

	ids := make([]uuid.UUID, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, f.submit(t, "blocking", `{}`))
	}
	for _, id := range ids {
		f.waitTerminal(t, id)
	}

	assert.LessOrEqual(t, peak.Load(), int32(3), "no more than Concurrency tasks may process at once")
}

func TestHandlerPanicIsContained(t *testing.T) {
	f := newFixture(t, testConfig())
	f.proc.RegisterHandler("explosive", func(ctx context.Context, exec *Execution) (any, error) {
		panic("kaboom")
	})
	f.start(t)

	bad := f.submit(t, "explosive", `{}`)
	task := f.waitTerminal(t, bad)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "kaboom")

	// The pool keeps serving after a panic.
	good := f.submit(t, models.TypeCompute, `{"numbers":[2,2],"duration_ms":10}`)
	assert.Equal(t, models.StatusCompleted, f.waitTerminal(t, good).Status)
}

func TestUnknownTypeFails(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, "mystery", `{}`)
	task := f.waitTerminal(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "no handler registered")
}

func TestProgressAdvancesDuringProcessing(t *testing.T) {
	f := newFixture(t, testConfig())
	f.start(t)

	id := f.submit(t, models.TypeCompute, `{"numbers":[1],"duration_ms":200}`)
	f.waitStatus(t, id, models.StatusProcessing)

	deadline := time.Now().Add(2 * time.Second)
	seen := false
	for time.Now().Before(deadline) {
		task, err := f.store.Get(id)
		require.NoError(t, err)
		if task.Progress.Percent > 0 && task.Status == models.StatusProcessing {
			seen = true
			break
		}
		if models.IsTerminal(task.Status) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, seen, "expected a progress update while processing")
	f.waitTerminal(t, id)
}
