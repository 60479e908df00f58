package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// Store defaults.
const (
	DefaultTTL          = 10 * time.Minute
	DefaultPollInterval = time.Second
	DefaultMaxTTL       = 24 * time.Hour
)

// RunFunc is the work behind a task. The returned value becomes the payload
// of tasks/result. ctx is cancelled by tasks/cancel.
type RunFunc func(ctx context.Context) (json.RawMessage, error)

// StatusFunc is called after every status change, outside the store lock.
type StatusFunc func(task protocol.Task)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDefaultTTL sets the TTL given to tasks whose request did not ask for one.
func WithDefaultTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.defaultTTL = d }
}

// WithMaxTTL caps requested TTLs.
func WithMaxTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.maxTTL = d }
}

// WithPollInterval sets the advisory poll interval advertised on tasks.
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.pollInterval = d }
}

// WithStatusFunc installs a hook for status changes.
func WithStatusFunc(fn StatusFunc) StoreOption {
	return func(s *Store) { s.onStatus = fn }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger logging.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// ResultError fails a task while still giving tasks/result a payload, for
// work whose failure is itself a result, such as a tool call with isError.
type ResultError struct {
	Payload json.RawMessage
	Message string
}

func (e *ResultError) Error() string { return e.Message }

// FailWithResult returns a ResultError for payload.
func FailWithResult(payload json.RawMessage, message string) error {
	return &ResultError{Payload: payload, Message: message}
}

type taskIDKey struct{}

// TaskIDFromContext returns the id of the task whose work runs under ctx.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok
}

type storedTask struct {
	task   protocol.Task
	result json.RawMessage
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Store is the receiver side of the task subsystem. It owns task state,
// runs the work behind each task and keeps results until the TTL expires.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*storedTask

	defaultTTL   time.Duration
	maxTTL       time.Duration
	pollInterval time.Duration
	onStatus     StatusFunc
	logger       logging.Logger
	now          func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		tasks:        make(map[string]*storedTask),
		defaultTTL:   DefaultTTL,
		maxTTL:       DefaultMaxTTL,
		pollInterval: DefaultPollInterval,
		logger:       logging.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Component("TaskStore"))
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	return s
}

// Start creates a working task and runs fn in the background. A nil
// requested TTL gets the default; larger ones are capped.
func (s *Store) Start(meta protocol.TaskMetadata, fn RunFunc) protocol.Task {
	ttl := s.defaultTTL
	if meta.TTL != nil && *meta.TTL > 0 {
		ttl = min(time.Duration(*meta.TTL)*time.Millisecond, s.maxTTL)
	}
	now := s.now().UTC()
	ctx, cancel := context.WithCancel(s.baseCtx)
	st := &storedTask{
		task: protocol.Task{
			TaskID:        uuid.NewString(),
			Status:        protocol.TaskStatusWorking,
			CreatedAt:     now,
			LastUpdatedAt: now,
			TTL:           protocol.Millis(ttl),
			PollInterval:  protocol.Millis(s.pollInterval),
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}

	s.mu.Lock()
	s.tasks[st.task.TaskID] = st
	snapshot := st.task
	s.mu.Unlock()

	s.logger.Debug("task started", logging.TaskID(snapshot.TaskID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := s.run(context.WithValue(ctx, taskIDKey{}, snapshot.TaskID), fn)
		if ctx.Err() != nil && s.isCancelled(snapshot.TaskID) {
			return
		}
		var resultErr *ResultError
		switch {
		case errors.As(err, &resultErr):
			s.finish(snapshot.TaskID, protocol.TaskStatusFailed, resultErr.Message, resultErr.Payload, nil)
			return
		case err != nil:
			s.finish(snapshot.TaskID, protocol.TaskStatusFailed, err.Error(), nil, err)
			return
		}
		s.finish(snapshot.TaskID, protocol.TaskStatusCompleted, "", result, nil)
	}()
	return snapshot
}

func (s *Store) run(ctx context.Context, fn RunFunc) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("task panicked", logging.Any("panic", rec))
			err = mcperrors.InternalError(fmt.Errorf("task panic: %v", rec))
		}
	}()
	return fn(ctx)
}

func (s *Store) isCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	return ok && st.task.Status == protocol.TaskStatusCancelled
}

// Get returns the current snapshot.
func (s *Store) Get(id string) (protocol.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.lookupLocked(id)
	if err != nil {
		return protocol.Task{}, err
	}
	return st.task, nil
}

// List returns one page of tasks, oldest first.
func (s *Store) List(cursor string, limit int) ([]protocol.Task, string, error) {
	s.mu.Lock()
	now := s.now()
	all := make([]protocol.Task, 0, len(s.tasks))
	for _, st := range s.tasks {
		if !st.task.Expired(now) {
			all = append(all, st.task)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].TaskID < all[j].TaskID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return pagination.Page(all, cursor, limit)
}

// SetStatus moves a running task to a non-terminal status, for example
// input_required.
func (s *Store) SetStatus(id string, status protocol.TaskStatus, message string) (protocol.Task, error) {
	if status.IsTerminal() {
		return protocol.Task{}, mcperrors.ValidationErrorf("terminal status %q is set by the task's own outcome", status)
	}
	return s.transition(id, status, message)
}

// Cancel cancels a task that is still running. Terminal tasks are rejected
// with an invalid params error.
func (s *Store) Cancel(id, reason string) (protocol.Task, error) {
	s.mu.Lock()
	st, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return protocol.Task{}, err
	}
	if st.task.Status.IsTerminal() {
		status := st.task.Status
		s.mu.Unlock()
		return protocol.Task{}, mcperrors.InvalidParams(fmt.Sprintf("task %s already %s", id, status))
	}
	if reason == "" {
		reason = "cancelled by requestor"
	}
	snapshot := s.applyLocked(st, protocol.TaskStatusCancelled, reason)
	st.err = mcperrors.Cancelled(string(protocol.MethodTasksCancel), reason)
	close(st.done)
	cancel := st.cancel
	s.mu.Unlock()

	cancel()
	s.notify(snapshot)
	return snapshot, nil
}

// Result blocks until the task is terminal and returns its payload. A
// failed task returns its error; a cancelled one a cancellation error.
func (s *Store) Result(ctx context.Context, id string) (json.RawMessage, error) {
	s.mu.Lock()
	st, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	done := st.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return st.result, st.err
}

// Sweep removes tasks whose TTL passed and returns how many were removed.
// Still-running expired tasks are cancelled.
func (s *Store) Sweep() int {
	now := s.now()
	var cancels []context.CancelFunc
	removed := 0

	s.mu.Lock()
	for id, st := range s.tasks {
		if st.task.Expired(now) {
			delete(s.tasks, id)
			removed++
			if !st.task.Status.IsTerminal() {
				cancels = append(cancels, st.cancel)
			}
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired tasks", logging.Int("count", n))
			}
		}
	}
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels every running task and waits for them to return.
func (s *Store) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Store) lookupLocked(id string) (*storedTask, error) {
	st, ok := s.tasks[id]
	if !ok || st.task.Expired(s.now()) {
		return nil, mcperrors.InvalidParams(fmt.Sprintf("unknown task %q", id))
	}
	return st, nil
}

func (s *Store) transition(id string, status protocol.TaskStatus, message string) (protocol.Task, error) {
	s.mu.Lock()
	st, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return protocol.Task{}, err
	}
	if !st.task.Status.CanTransitionTo(status) {
		from := st.task.Status
		s.mu.Unlock()
		return protocol.Task{}, mcperrors.InvalidTransition(id, string(from), string(status))
	}
	snapshot := s.applyLocked(st, status, message)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

func (s *Store) finish(id string, status protocol.TaskStatus, message string, result json.RawMessage, runErr error) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if !ok || st.task.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	snapshot := s.applyLocked(st, status, message)
	st.result = result
	st.err = runErr
	close(st.done)
	s.mu.Unlock()

	s.logger.Debug("task finished", logging.TaskID(id), logging.String("status", string(status)))
	s.notify(snapshot)
}

// applyLocked sets the status and bumps lastUpdatedAt without letting it
// go backwards.
func (s *Store) applyLocked(st *storedTask, status protocol.TaskStatus, message string) protocol.Task {
	now := s.now().UTC()
	if now.Before(st.task.LastUpdatedAt) {
		now = st.task.LastUpdatedAt
	}
	st.task.Status = status
	st.task.StatusMessage = message
	st.task.LastUpdatedAt = now
	return st.task
}

func (s *Store) notify(task protocol.Task) {
	if s.onStatus != nil {
		s.onStatus(task)
	}
}
