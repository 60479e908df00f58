package server

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

func (c *Conn) getTask(_ context.Context, params *protocol.GetTaskParams) (*protocol.GetTaskResult, error) {
	if params.TaskID == "" {
		return nil, mcperrors.InvalidParams("taskId is required")
	}
	task, err := c.store.Get(params.TaskID)
	if err != nil {
		return nil, err
	}
	return &protocol.GetTaskResult{Task: task}, nil
}

func (c *Conn) listTasks(_ context.Context, params *protocol.ListTasksParams) (*protocol.ListTasksResult, error) {
	page, next, err := c.store.List(params.Cursor, c.server.pageSize)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []protocol.Task{}
	}
	return &protocol.ListTasksResult{
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
		Tasks:           page,
	}, nil
}

func (c *Conn) cancelTask(_ context.Context, params *protocol.CancelTaskParams) (*protocol.CancelTaskResult, error) {
	if params.TaskID == "" {
		return nil, mcperrors.InvalidParams("taskId is required")
	}
	task, err := c.store.Cancel(params.TaskID, params.Reason)
	if err != nil {
		return nil, err
	}
	return &protocol.CancelTaskResult{Task: task}, nil
}

// taskResult blocks until the task is terminal and answers with the payload
// of the original request, tagged with the related task.
func (c *Conn) taskResult(ctx context.Context, params *protocol.TaskResultParams) (json.RawMessage, error) {
	if params.TaskID == "" {
		return nil, mcperrors.InvalidParams("taskId is required")
	}
	raw, err := c.store.Result(ctx, params.TaskID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, mcperrors.Cancelled(string(protocol.MethodTasksResult), "request cancelled while waiting")
		}
		return nil, err
	}
	return withRelatedTask(raw, params.TaskID)
}

func withRelatedTask(raw json.RawMessage, taskID string) (json.RawMessage, error) {
	meta, err := protocol.ParamsMeta(raw)
	if err != nil {
		return nil, mcperrors.InternalError(err)
	}
	if err := meta.Set(protocol.RelatedTaskMetaKey, protocol.RelatedTask{TaskID: taskID}); err != nil {
		return nil, mcperrors.InternalError(err)
	}
	out, err := protocol.WithParamsMeta(raw, meta)
	if err != nil {
		// Payloads that are not objects cannot carry _meta.
		return raw, nil
	}
	return out, nil
}
