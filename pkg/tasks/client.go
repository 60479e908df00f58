package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
)

// Client tracks tasks created on the peer of a session. It does not poll on
// its own; pollInterval is left to the caller.
type Client struct {
	session     *session.Session
	registry    *Registry
	logger      logging.Logger
	group       singleflight.Group
	unsubscribe func()
}

// NewClient subscribes to notifications/tasks/status on s and returns a
// client feeding both pushes and poll answers into one registry.
func NewClient(s *session.Session, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Client{
		session:  s,
		registry: NewRegistry(logger),
		logger:   logger.WithFields(logging.Component("TaskClient")),
	}
	c.unsubscribe = s.OnNotification(protocol.MethodTaskStatus, c.handleStatus)
	return c
}

// Registry exposes the local task view.
func (c *Client) Registry() *Registry { return c.registry }

// Close stops listening for status notifications.
func (c *Client) Close() {
	c.unsubscribe()
}

// Track registers the snapshot returned by a task-augmented request.
func (c *Client) Track(task protocol.Task) (protocol.Task, error) {
	merged, _, err := c.registry.Merge(task, SourceCreate)
	return merged, err
}

// Get polls the task once and returns the merged snapshot. Concurrent calls
// for the same id share one request; that request is detached from every
// caller's ctx, so each caller still returns by its own deadline.
func (c *Client) Get(ctx context.Context, id string) (protocol.Task, error) {
	start := time.Now()
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (interface{}, error) {
		res, err := session.Call[protocol.GetTaskResult](shared, c.session, protocol.MethodTasksGet, protocol.GetTaskParams{TaskID: id})
		if err != nil {
			return nil, err
		}
		return c.merge(res.Task, SourcePoll)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return protocol.Task{}, res.Err
		}
		return res.Val.(protocol.Task), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Task{}, mcperrors.Timeout(string(protocol.MethodTasksGet), time.Since(start).Round(time.Millisecond))
		}
		return protocol.Task{}, mcperrors.Cancelled(string(protocol.MethodTasksGet), "request cancelled by caller")
	}
}

// List fetches one page of tasks and merges every entry.
func (c *Client) List(ctx context.Context, cursor string) ([]protocol.Task, string, error) {
	params := protocol.ListTasksParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	res, err := session.Call[protocol.ListTasksResult](ctx, c.session, protocol.MethodTasksList, params)
	if err != nil {
		return nil, "", err
	}
	page := make([]protocol.Task, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		merged, err := c.merge(t, SourcePoll)
		if err != nil {
			c.logger.WithError(err).Warn("skipping invalid task in list", logging.TaskID(t.TaskID))
			continue
		}
		page = append(page, merged)
	}
	return page, res.NextCursor, nil
}

// Cancel asks the peer to cancel the task. Cancelling a task that already
// finished is a no-op: the terminal snapshot is returned without an error.
func (c *Client) Cancel(ctx context.Context, id, reason string) (protocol.Task, error) {
	if task, ok := c.registry.Get(id); ok && task.Status.IsTerminal() {
		return task, nil
	}

	params := protocol.CancelTaskParams{TaskID: id, Reason: reason}
	res, err := session.Call[protocol.CancelTaskResult](ctx, c.session, protocol.MethodTasksCancel, params)
	if err == nil {
		return c.merge(res.Task, SourcePoll)
	}
	if !mcperrors.IsRemote(err) || !mcperrors.IsCode(err, mcperrors.CodeInvalidParams) {
		return protocol.Task{}, err
	}

	// The peer rejects cancelling a finished task; confirm that is why.
	if task, ok := c.registry.Get(id); ok && task.Status.IsTerminal() {
		return task, nil
	}
	task, getErr := c.Get(ctx, id)
	if getErr != nil || !task.Status.IsTerminal() {
		return protocol.Task{}, err
	}
	c.logger.Debug("cancel of finished task ignored",
		logging.TaskID(id),
		logging.String("status", string(task.Status)))
	return task, nil
}

// Result blocks on tasks/result and returns the raw payload of the original
// request.
func (c *Client) Result(ctx context.Context, id string) (json.RawMessage, error) {
	return c.session.SendRequest(ctx, protocol.MethodTasksResult, protocol.TaskResultParams{TaskID: id})
}

// Wait blocks until the registry sees the task reach a terminal status.
func (c *Client) Wait(ctx context.Context, id string) (protocol.Task, error) {
	return c.registry.Wait(ctx, id)
}

func (c *Client) merge(task protocol.Task, source Source) (protocol.Task, error) {
	merged, _, err := c.registry.Merge(task, source)
	if err != nil && errors.Is(err, mcperrors.ErrInvalidTransition) {
		// The registry keeps its snapshot; the peer's answer is just stale.
		return merged, nil
	}
	return merged, err
}

func (c *Client) handleStatus(_ context.Context, n *protocol.Notification) error {
	var params protocol.TaskStatusNotificationParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return mcperrors.InvalidParams("malformed task status: " + err.Error())
	}
	merged, changed, err := c.registry.Merge(params.Task, SourceNotification)
	if err != nil {
		return err
	}
	if changed {
		c.logger.Debug("task status pushed",
			logging.TaskID(merged.TaskID),
			logging.String("status", string(merged.Status)))
	}
	return nil
}
