package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// Source says where a task snapshot came from. On equal timestamps a later
// source outranks an earlier one.
type Source int

const (
	// SourceCreate is the snapshot returned by a task-augmented request.
	SourceCreate Source = iota
	// SourcePoll is a tasks/get, tasks/list or tasks/cancel answer.
	SourcePoll
	// SourceNotification is a pushed notifications/tasks/status.
	SourceNotification
)

func (s Source) String() string {
	switch s {
	case SourceCreate:
		return "create"
	case SourcePoll:
		return "poll"
	case SourceNotification:
		return "notification"
	default:
		return "unknown"
	}
}

type entry struct {
	task    protocol.Task
	source  Source
	known   bool
	waiters int
	done    chan struct{}
}

// Registry is the local view of remote tasks. Every snapshot, whatever its
// source, goes through Merge so polls and pushes can race safely.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.WithFields(logging.Component("TaskRegistry")),
	}
}

// Merge folds a snapshot into the registry and returns the stored result and
// whether anything changed. The rules, in order:
//
//   - a terminal status is never replaced
//   - a snapshot older than the stored one is ignored
//   - on equal timestamps a terminal snapshot wins, then the higher Source
//   - otherwise the status must be a legal transition
//
// lastUpdatedAt never moves backwards.
func (r *Registry) Merge(task protocol.Task, source Source) (protocol.Task, bool, error) {
	if task.TaskID == "" {
		return protocol.Task{}, false, mcperrors.RequiredFieldMissing("taskId")
	}
	if !task.Status.IsValid() {
		return protocol.Task{}, false, mcperrors.InvalidEnum("status", task.Status, []string{
			string(protocol.TaskStatusWorking), string(protocol.TaskStatusInputRequired),
			string(protocol.TaskStatusCompleted), string(protocol.TaskStatusFailed),
			string(protocol.TaskStatusCancelled),
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[task.TaskID]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.entries[task.TaskID] = e
	}
	if !e.known {
		r.store(e, task, source)
		return e.task, true, nil
	}

	cur := e.task
	logger := r.logger.WithFields(logging.TaskID(task.TaskID), logging.String("source", source.String()))

	switch {
	case cur.Status.IsTerminal():
		if task.Status != cur.Status {
			logger.Debug("ignoring update to terminal task",
				logging.String("status", string(cur.Status)),
				logging.String("update", string(task.Status)))
		}
		return cur, false, nil
	case task.LastUpdatedAt.Before(cur.LastUpdatedAt):
		if task.Status.IsTerminal() {
			// A terminal answer is final even when it carries an older clock.
			task.LastUpdatedAt = cur.LastUpdatedAt
			break
		}
		logger.Debug("ignoring stale task snapshot")
		return cur, false, nil
	case task.LastUpdatedAt.Equal(cur.LastUpdatedAt) && !task.Status.IsTerminal() && source < e.source:
		return cur, false, nil
	}

	if !cur.Status.CanTransitionTo(task.Status) {
		logger.Warn("ignoring invalid task transition",
			logging.String("from", string(cur.Status)),
			logging.String("to", string(task.Status)))
		return cur, false, mcperrors.InvalidTransition(task.TaskID, string(cur.Status), string(task.Status))
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = cur.CreatedAt
	}
	r.store(e, task, source)
	return e.task, true, nil
}

func (r *Registry) store(e *entry, task protocol.Task, source Source) {
	e.task = task
	e.source = source
	e.known = true
	if task.Status.IsTerminal() {
		close(e.done)
	}
}

// Get returns the stored snapshot for id.
func (r *Registry) Get(id string) (protocol.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.known {
		return protocol.Task{}, false
	}
	return e.task, true
}

// All returns every known task, oldest first.
func (r *Registry) All() []protocol.Task {
	r.mu.Lock()
	out := make([]protocol.Task, 0, len(r.entries))
	for _, e := range r.entries {
		if e.known {
			out = append(out, e.task)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until the task reaches a terminal status. It may be called
// before the registry has heard of the task, and it keeps waiting when the
// task is forgotten or pruned meanwhile.
func (r *Registry) Wait(ctx context.Context, id string) (protocol.Task, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.entries[id] = e
	}
	e.waiters++
	done := e.done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		e.waiters--
		if e.waiters == 0 && !e.known && r.entries[id] == e {
			delete(r.entries, id)
		}
		r.mu.Unlock()
	}()

	select {
	case <-done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return e.task, nil
	case <-ctx.Done():
		return protocol.Task{}, ctx.Err()
	}
}

// Forget drops a task.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		r.remove(id, e)
	}
}

// Prune drops every task whose TTL has passed at now and returns how many
// were removed.
func (r *Registry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.known && e.task.Expired(now) {
			r.remove(id, e)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("pruned expired tasks", logging.Int("count", n))
	}
	return n
}

// remove drops the snapshot of e. An unfinished entry with blocked waiters
// stays behind as a placeholder so a later snapshot still wakes them.
func (r *Registry) remove(id string, e *entry) {
	if e.waiters > 0 && !e.task.Status.IsTerminal() {
		e.task = protocol.Task{}
		e.known = false
		return
	}
	delete(r.entries, id)
}

// Len returns the number of known tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.known {
			n++
		}
	}
	return n
}
