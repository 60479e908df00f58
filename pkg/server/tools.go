package server

import (
	"context"
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/tasks"
	"github.com/ajitpratap0/mcp-engine-go/pkg/utils"
)

// ToolHandler runs a tool call. Arguments have already been validated
// against the tool's input schema.
//
// A returned MCP error is sent to the client as a protocol error. Any other
// error is a tool-level failure and becomes a result with isError set.
type ToolHandler func(ctx context.Context, req *ToolRequest) (*protocol.CallToolResult, error)

// ToolRequest is one invocation of a tool.
type ToolRequest struct {
	Name      string
	Arguments json.RawMessage
	// TaskID is set when the call runs as a task.
	TaskID string
	Conn   *Conn
}

// Bind decodes the arguments into v.
func (r *ToolRequest) Bind(v interface{}) error {
	if len(r.Arguments) == 0 || string(r.Arguments) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Arguments, v); err != nil {
		return mcperrors.InvalidParams(fmt.Sprintf("arguments of %s: %v", r.Name, err))
	}
	return nil
}

// TextResult is a successful result holding one text block.
func TextResult(text string) *protocol.CallToolResult {
	return &protocol.CallToolResult{Content: protocol.Contents{protocol.NewTextContent(text)}}
}

// ErrorResult is a tool-level failure carrying message.
func ErrorResult(message string) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: protocol.Contents{protocol.NewTextContent(message)},
		IsError: true,
	}
}

type registeredTool struct {
	tool    protocol.Tool
	schema  *utils.CompiledSchema
	handler ToolHandler
}

// toolRegistry keeps tools in registration order so that pages are stable.
type toolRegistry struct {
	order  []string
	byName map[string]*registeredTool
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{byName: make(map[string]*registeredTool)}
}

func (r *toolRegistry) put(rt *registeredTool) {
	if _, exists := r.byName[rt.tool.Name]; !exists {
		r.order = append(r.order, rt.tool.Name)
	}
	r.byName[rt.tool.Name] = rt
}

func (r *toolRegistry) remove(name string) bool {
	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *toolRegistry) list() []protocol.Tool {
	out := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].tool)
	}
	return out
}

var taskSupportLevels = []string{
	protocol.TaskSupportForbidden, protocol.TaskSupportOptional, protocol.TaskSupportRequired,
}

// AddTool registers a tool, replacing one with the same name. A missing
// input schema accepts any object. Initialized clients are sent
// notifications/tools/list_changed.
func (s *Server) AddTool(tool protocol.Tool, handler ToolHandler) error {
	var errs []mcperrors.MCPError
	if tool.Name == "" {
		errs = append(errs, mcperrors.RequiredFieldMissing("name"))
	}
	if handler == nil {
		errs = append(errs, mcperrors.RequiredFieldMissing("handler"))
	}
	if tool.Execution != nil && tool.Execution.TaskSupport != "" {
		valid := false
		for _, level := range taskSupportLevels {
			valid = valid || tool.Execution.TaskSupport == level
		}
		if !valid {
			errs = append(errs, mcperrors.InvalidEnum("execution.taskSupport", tool.Execution.TaskSupport, taskSupportLevels))
		}
	}
	if err := mcperrors.CombineValidationErrors(errs); err != nil {
		return err
	}

	if len(tool.InputSchema) == 0 {
		tool.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	schema, err := utils.CompileSchema(tool.InputSchema)
	if err != nil {
		return mcperrors.ValidationErrorf("input schema of %s: %v", tool.Name, err)
	}

	s.mu.Lock()
	s.tools.put(&registeredTool{tool: tool, schema: schema, handler: handler})
	s.mu.Unlock()

	s.logger.Debug("tool registered", logging.String("tool", tool.Name))
	s.broadcast(context.Background(), protocol.MethodToolsListChanged, nil)
	return nil
}

// AddToolFunc registers a tool whose arguments decode into In. When the
// tool has no input schema, one is inferred from In.
func AddToolFunc[In any](s *Server, tool protocol.Tool, fn func(ctx context.Context, args In) (*protocol.CallToolResult, error)) error {
	if len(tool.InputSchema) == 0 {
		schema, err := utils.SchemaFor[In]()
		if err != nil {
			return mcperrors.ValidationErrorf("input schema of %s: %v", tool.Name, err)
		}
		tool.InputSchema = schema
	}
	return s.AddTool(tool, func(ctx context.Context, req *ToolRequest) (*protocol.CallToolResult, error) {
		var args In
		if err := req.Bind(&args); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	})
}

// RemoveTool unregisters a tool and reports whether it existed.
func (s *Server) RemoveTool(name string) bool {
	s.mu.Lock()
	removed := s.tools.remove(name)
	s.mu.Unlock()
	if removed {
		s.broadcast(context.Background(), protocol.MethodToolsListChanged, nil)
	}
	return removed
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []protocol.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools.list()
}

func (s *Server) lookupTool(name string) (*registeredTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.tools.byName[name]
	return rt, ok
}

func (c *Conn) listTools(_ context.Context, params *protocol.ListToolsParams) (*protocol.ListToolsResult, error) {
	page, next, err := pagination.Page(c.server.Tools(), params.Cursor, c.server.pageSize)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = []protocol.Tool{}
	}
	return &protocol.ListToolsResult{
		PaginatedResult: protocol.PaginatedResult{NextCursor: next},
		Tools:           page,
	}, nil
}

// callTool answers tools/call. With task metadata the call is started as a
// task and a CreateTaskResult is returned at once.
func (c *Conn) callTool(ctx context.Context, params *protocol.CallToolParams) (interface{}, error) {
	if params.Name == "" {
		return nil, mcperrors.InvalidParams("tool name is required")
	}
	rt, ok := c.server.lookupTool(params.Name)
	if !ok {
		return nil, mcperrors.InvalidParams(fmt.Sprintf("unknown tool %q", params.Name))
	}
	if err := rt.schema.Validate(params.Arguments); err != nil {
		return nil, mcperrors.InvalidParams(fmt.Sprintf("invalid arguments for %s: %v", params.Name, err))
	}

	switch support := rt.tool.TaskSupport(); {
	case params.Task != nil && support == protocol.TaskSupportForbidden:
		return nil, mcperrors.InvalidParams(fmt.Sprintf("tool %s does not support task execution", params.Name))
	case params.Task == nil && support == protocol.TaskSupportRequired:
		return nil, mcperrors.InvalidParams(fmt.Sprintf("tool %s must be called as a task", params.Name))
	}

	req := &ToolRequest{Name: params.Name, Arguments: params.Arguments, Conn: c}
	if params.Task == nil {
		return invokeTool(ctx, rt, req)
	}

	task := c.store.Start(*params.Task, func(ctx context.Context) (json.RawMessage, error) {
		req.TaskID, _ = tasks.TaskIDFromContext(ctx)
		res, err := invokeTool(ctx, rt, req)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(res)
		if err != nil {
			return nil, mcperrors.InternalError(err)
		}
		if res.IsError {
			return nil, tasks.FailWithResult(raw, resultMessage(res))
		}
		return raw, nil
	})
	c.logger.Debug("tool call started as task",
		logging.String("tool", params.Name), logging.TaskID(task.TaskID))
	return &protocol.CreateTaskResult{Task: task}, nil
}

func invokeTool(ctx context.Context, rt *registeredTool, req *ToolRequest) (*protocol.CallToolResult, error) {
	res, err := rt.handler(ctx, req)
	if err != nil {
		if mcperrors.IsMCPError(err) {
			return nil, err
		}
		return ErrorResult(err.Error()), nil
	}
	if res == nil {
		res = &protocol.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = protocol.Contents{}
	}
	return res, nil
}

// resultMessage picks the first text block as the status message of a
// failed task.
func resultMessage(res *protocol.CallToolResult) string {
	for _, c := range res.Content {
		if text, ok := c.(protocol.TextContent); ok {
			return text.Text
		}
	}
	return "tool reported an error"
}
