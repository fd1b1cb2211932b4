package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"async-task-api/internal/models"
)

// Sentinel errors mapped to the HTTP taxonomy by the API layer.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("task already in a terminal state")
)

// legal forward edges of the task state machine. Terminal states have none.
var transitions = map[string][]string{
	models.StatusQueued:     {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed, models.StatusCancelled},
}

func legalEdge(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// record is the authoritative copy of one task plus its coordination state.
// Mutated only under Store.mu.
type record struct {
	task            models.Task
	cancelRequested bool
	seq             uint64
	// changed is closed and replaced on every status transition and on a
	// cancel request against a processing task. Closing releases every
	// waiter at once; waiters re-read the record afterwards.
	changed chan struct{}
}

// Store owns every live task record. All mutation goes through Create,
// Transition, RequestCancel, and SetProgress so the state machine and the
// change notification stay consistent; no other component touches a record.
type Store struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*record
	seq     uint64
	maxWait time.Duration
	now     func() time.Time
}

// New builds an empty store. maxWait caps every WaitForChange timeout,
// whatever the caller requests.
func New(maxWait time.Duration) *Store {
	return &Store{
		tasks:   make(map[uuid.UUID]*record),
		maxWait: maxWait,
		now:     time.Now,
	}
}

// Create inserts a new record in status queued and returns its snapshot.
func (s *Store) Create(taskType string, parameters json.RawMessage) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := &record{
		task: models.Task{
			ID:         uuid.New(),
			Type:       taskType,
			Parameters: parameters,
			Status:     models.StatusQueued,
			Progress:   models.Progress{Message: "queued"},
			CreatedAt:  s.now().UTC(),
		},
		seq:     s.seq,
		changed: make(chan struct{}),
	}
	s.tasks[rec.task.ID] = rec
	return rec.task
}

// Discard removes a record that never reached the queue, e.g. when admission
// fails right after Create. It is not an eviction path for live tasks.
func (s *Store) Discard(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Get returns a snapshot of the task, or ErrNotFound. An evicted id is
// indistinguishable from one that never existed.
func (s *Store) Get(id uuid.UUID) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return rec.task, nil
}

// Transition moves a task along one legal edge, stamps the relevant
// timestamp, records result or error, and signals waiters before releasing
// the lock. A waiter woken by the signal always observes the updated record.
func (s *Store) Transition(id uuid.UUID, status string, result any, errMsg string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	if !legalEdge(rec.task.Status, status) {
		return rec.task, ErrInvalidTransition
	}

	now := s.now().UTC()
	rec.task.Status = status
	switch status {
	case models.StatusProcessing:
		rec.task.StartedAt = &now
		rec.task.Progress = models.Progress{Message: "processing"}
	case models.StatusCompleted:
		rec.task.FinishedAt = &now
		rec.task.Result = result
		rec.task.Progress.Percent = 100
		rec.task.Progress.Message = "done"
		rec.task.Progress.EtaSeconds = nil
	case models.StatusFailed, models.StatusCancelled:
		rec.task.FinishedAt = &now
		rec.task.Error = errMsg
		rec.task.Progress.EtaSeconds = nil
	}
	rec.signal()
	return rec.task, nil
}

// RequestCancel cancels a queued task immediately. For a processing task it
// only sets the cancel flag; the running worker acknowledges at its next
// checkpoint and performs the cancelled transition itself. Cancelling a
// terminal task returns the record with ErrAlreadyTerminal so the caller can
// report the no-op.
func (s *Store) RequestCancel(id uuid.UUID) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	if models.IsTerminal(rec.task.Status) {
		return rec.task, ErrAlreadyTerminal
	}

	rec.cancelRequested = true
	if rec.task.Status == models.StatusQueued {
		now := s.now().UTC()
		rec.task.Status = models.StatusCancelled
		rec.task.Error = "cancelled before processing"
		rec.task.FinishedAt = &now
	}
	rec.signal()
	return rec.task, nil
}

// CancelRequested is the cooperative cancellation checkpoint read.
func (s *Store) CancelRequested(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	return ok && rec.cancelRequested
}

// SetProgress updates in-flight observability fields. It deliberately does
// not signal waiters: only status transitions wake long-pollers.
func (s *Store) SetProgress(id uuid.UUID, progress models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok || rec.task.Status != models.StatusProcessing {
		return
	}
	rec.task.Progress = progress
}

// WaitForChange returns the current record immediately when the task is
// terminal or no wait was requested. Otherwise it blocks until the task's
// next status transition, the timeout, or ctx cancellation, and returns the
// freshest record it can observe. Timing out is a normal outcome, not an
// error. The timeout is capped at the store's maximum.
func (s *Store) WaitForChange(ctx context.Context, id uuid.UUID, timeout time.Duration) (models.Task, error) {
	if timeout > s.maxWait {
		timeout = s.maxWait
	}

	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.Task{}, ErrNotFound
	}
	snapshot := rec.task
	changed := rec.changed
	s.mu.Unlock()

	if timeout <= 0 || models.IsTerminal(snapshot.Status) {
		return snapshot, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-changed:
		if fresh, err := s.Get(id); err == nil {
			return fresh, nil
		}
		return snapshot, nil
	case <-timer.C:
		return snapshot, nil
	case <-ctx.Done():
		return snapshot, ctx.Err()
	}
}

// List returns a snapshot of tasks in creation order, optionally filtered by
// status and capped at limit (0 means no cap). It never blocks transitions
// beyond the single map copy.
func (s *Store) List(statusFilter string, limit int) []models.Task {
	type entry struct {
		seq  uint64
		task models.Task
	}

	s.mu.Lock()
	entries := make([]entry, 0, len(s.tasks))
	for _, rec := range s.tasks {
		entries = append(entries, entry{seq: rec.seq, task: rec.task})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]models.Task, 0, len(entries))
	for _, e := range entries {
		if statusFilter != "" && e.task.Status != statusFilter {
			continue
		}
		out = append(out, e.task)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Sweep evicts terminal records whose finished_at is older than retention and
// returns how many were removed. Notification channels die with the record;
// no waiter can exist on a terminal task.
func (s *Store) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-retention)
	evicted := 0
	for id, rec := range s.tasks {
		if !models.IsTerminal(rec.task.Status) {
			continue
		}
		if rec.task.FinishedAt != nil && rec.task.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			evicted++
		}
	}
	return evicted
}

// Len reports how many records are live, terminal or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (r *record) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}
