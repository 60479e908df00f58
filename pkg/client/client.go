package client

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-engine-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/tasks"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// SamplingHandler answers sampling/createMessage requests from the server.
type SamplingHandler func(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)

// Client is the initiating side of a connection.
type Client struct {
	info        protocol.Implementation
	logger      logging.Logger
	sessionOpts []session.Option
	sampling    SamplingHandler

	mu         sync.RWMutex
	roots      []protocol.Root
	advertised bool

	session *session.Session
	tasks   *tasks.Client
}

// Option configures a Client.
type Option func(*Client)

// WithClientInfo sets the implementation sent in clientInfo.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.info = protocol.Implementation{Name: name, Version: version}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver installs session hooks for metrics and tracing.
func WithObserver(observer session.Observer) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, session.WithObserver(observer))
	}
}

// WithTimeout bounds every request that does not set its own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, session.WithDefaultTimeout(d))
	}
}

// WithSupportedVersions sets the protocol revisions offered, preferred first.
func WithSupportedVersions(versions ...string) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, session.WithSupportedVersions(versions...))
	}
}

// WithRoots advertises the roots capability and answers roots/list with
// roots. Invalid roots are dropped when the client is built.
func WithRoots(roots ...protocol.Root) Option {
	return func(c *Client) {
		c.roots = append(c.roots, roots...)
		c.advertised = true
	}
}

// WithSamplingHandler advertises the sampling capability and routes
// sampling/createMessage to h.
func WithSamplingHandler(h SamplingHandler) Option {
	return func(c *Client) {
		c.sampling = h
	}
}

// FromConfig applies the identity and session settings of cfg.
func FromConfig(cfg *config.Config) Option {
	return func(c *Client) {
		c.info = cfg.Implementation()
		c.sessionOpts = append(c.sessionOpts, cfg.SessionOptions()...)
	}
}

// New creates a client. Call Connect and then Initialize before using it.
func New(opts ...Option) *Client {
	c := &Client{
		info:   protocol.Implementation{Name: "mcp-engine-client", Version: "0.0.0"},
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.Component("Client"))
	c.roots = c.validRoots(c.roots)

	sessionOpts := append([]session.Option{session.WithLogger(c.logger)}, c.sessionOpts...)
	c.session = session.New(sessionOpts...)
	c.tasks = tasks.NewClient(c.session, c.logger)

	if c.advertised {
		c.session.OnRequest(protocol.MethodRootsList, session.Handle(c.listRoots))
	}
	if c.sampling != nil {
		c.session.OnRequest(protocol.MethodSamplingCreateMessage, session.Handle(c.createMessage))
	}
	return c
}

func (c *Client) validRoots(roots []protocol.Root) []protocol.Root {
	out := make([]protocol.Root, 0, len(roots))
	for _, r := range roots {
		if err := r.Validate(); err != nil {
			c.logger.WithError(err).Warn("dropping invalid root", logging.String("uri", r.URI))
			continue
		}
		out = append(out, r)
	}
	return out
}

// Connect attaches the client to a transport and starts receiving.
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	return c.session.Connect(ctx, t)
}

// Close stops task tracking and closes the session.
func (c *Client) Close() error {
	c.tasks.Close()
	return c.session.Close()
}

// Session exposes the underlying session.
func (c *Client) Session() *session.Session { return c.session }

// Tasks exposes the task tracker fed by polls and status notifications.
func (c *Client) Tasks() *tasks.Client { return c.tasks }

// Initialize runs the handshake, advertising roots and sampling when they
// were configured.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{ClientInfo: c.info}
	if c.advertised {
		params.Capabilities.Roots = &protocol.RootsCapability{ListChanged: true}
	}
	if c.sampling != nil {
		params.Capabilities.Sampling = &protocol.EmptyCapability{}
	}
	return c.session.Initialize(ctx, params)
}

// ServerInfo returns the server implementation once initialized.
func (c *Client) ServerInfo() (protocol.Implementation, bool) {
	n, ok := c.session.Negotiated()
	return n.ServerInfo, ok
}

// ServerCapabilities returns what the server advertised once initialized.
func (c *Client) ServerCapabilities() (protocol.ServerCapabilities, bool) {
	n, ok := c.session.Negotiated()
	return n.ServerCapabilities, ok
}

// require fails with CapabilityRequired when the server did not advertise
// the capability the method depends on.
func (c *Client) require(method protocol.Method, capability string, has func(protocol.ServerCapabilities) bool) error {
	n, ok := c.session.Negotiated()
	if !ok {
		return mcperrors.NotInitialized(string(method))
	}
	if !has(n.ServerCapabilities) {
		return mcperrors.CapabilityRequired(capability)
	}
	return nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.session.SendRequest(ctx, protocol.MethodPing, nil)
	return err
}

// ListTools fetches one page of tools.
func (c *Client) ListTools(ctx context.Context, cursor string) ([]protocol.Tool, string, error) {
	err := c.require(protocol.MethodToolsList, "tools", func(caps protocol.ServerCapabilities) bool {
		return caps.Tools != nil
	})
	if err != nil {
		return nil, "", err
	}
	params := protocol.ListToolsParams{PaginatedParams: protocol.PaginatedParams{Cursor: cursor}}
	res, err := session.Call[protocol.ListToolsResult](ctx, c.session, protocol.MethodToolsList, params)
	if err != nil {
		return nil, "", err
	}
	return res.Tools, res.NextCursor, nil
}

// ListAllTools follows cursors until the last page. A tool name seen twice
// is kept once.
func (c *Client) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	return pagination.FetchAll[protocol.Tool](ctx, c.ListTools, func(t protocol.Tool) string { return t.Name })
}

// CallTool invokes a tool and waits for its result. Tool-level failures are
// returned as a result with IsError set, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}, opts ...session.RequestOption) (*protocol.CallToolResult, error) {
	params, err := toolParams(name, args)
	if err != nil {
		return nil, err
	}
	err = c.require(protocol.MethodToolsCall, "tools", func(caps protocol.ServerCapabilities) bool {
		return caps.Tools != nil
	})
	if err != nil {
		return nil, err
	}
	return session.Call[protocol.CallToolResult](ctx, c.session, protocol.MethodToolsCall, params, opts...)
}

// CallToolAsTask asks the server to run the call as a task and returns the
// created task, already tracked. A zero ttl leaves the lifetime to the
// server.
func (c *Client) CallToolAsTask(ctx context.Context, name string, args interface{}, ttl time.Duration) (protocol.Task, error) {
	params, err := toolParams(name, args)
	if err != nil {
		return protocol.Task{}, err
	}
	if err := c.require(protocol.MethodToolsCall, "tasks.requests.tools.call", protocol.ServerCapabilities.SupportsToolTasks); err != nil {
		return protocol.Task{}, err
	}
	params.Task = &protocol.TaskMetadata{}
	if ttl > 0 {
		ms := ttl.Milliseconds()
		params.Task.TTL = &ms
	}
	res, err := session.Call[protocol.CreateTaskResult](ctx, c.session, protocol.MethodToolsCall, params)
	if err != nil {
		return protocol.Task{}, err
	}
	return c.tasks.Track(res.Task)
}

func toolParams(name string, args interface{}) (protocol.CallToolParams, error) {
	if name == "" {
		return protocol.CallToolParams{}, mcperrors.RequiredFieldMissing("name")
	}
	params := protocol.CallToolParams{Name: name}
	switch a := args.(type) {
	case nil:
	case json.RawMessage:
		params.Arguments = a
	default:
		raw, err := json.Marshal(a)
		if err != nil {
			return protocol.CallToolParams{}, mcperrors.InvalidParams("arguments: " + err.Error())
		}
		params.Arguments = raw
	}
	return params, nil
}

func (c *Client) requireTasks(method protocol.Method) error {
	return c.require(method, "tasks", func(caps protocol.ServerCapabilities) bool {
		return caps.Tasks != nil
	})
}

// GetTask polls a task once.
func (c *Client) GetTask(ctx context.Context, id string) (protocol.Task, error) {
	if err := c.requireTasks(protocol.MethodTasksGet); err != nil {
		return protocol.Task{}, err
	}
	return c.tasks.Get(ctx, id)
}

// ListTasks fetches one page of the server's tasks.
func (c *Client) ListTasks(ctx context.Context, cursor string) ([]protocol.Task, string, error) {
	if err := c.require(protocol.MethodTasksList, "tasks.list", protocol.ServerCapabilities.SupportsTaskList); err != nil {
		return nil, "", err
	}
	return c.tasks.List(ctx, cursor)
}

// CancelTask asks the server to cancel a task.
func (c *Client) CancelTask(ctx context.Context, id, reason string) (protocol.Task, error) {
	if err := c.require(protocol.MethodTasksCancel, "tasks.cancel", protocol.ServerCapabilities.SupportsTaskCancel); err != nil {
		return protocol.Task{}, err
	}
	return c.tasks.Cancel(ctx, id, reason)
}

// TaskResult blocks until the task ends and decodes the tool result it
// produced.
func (c *Client) TaskResult(ctx context.Context, id string) (*protocol.CallToolResult, error) {
	if err := c.requireTasks(protocol.MethodTasksResult); err != nil {
		return nil, err
	}
	raw, err := c.tasks.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	var res protocol.CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, mcperrors.InvalidParams("malformed task result: " + err.Error())
	}
	return &res, nil
}

// Complete asks the server for argument completions.
func (c *Client) Complete(ctx context.Context, params protocol.CompleteParams) (*protocol.Completion, error) {
	err := c.require(protocol.MethodComplete, "completions", func(caps protocol.ServerCapabilities) bool {
		return caps.Completions != nil
	})
	if err != nil {
		return nil, err
	}
	res, err := session.Call[protocol.CompleteResult](ctx, c.session, protocol.MethodComplete, params)
	if err != nil {
		return nil, err
	}
	return &res.Completion, nil
}

// SetLogLevel sets the minimum level of notifications/message the server
// sends.
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LoggingLevel) error {
	err := c.require(protocol.MethodLoggingSetLevel, "logging", func(caps protocol.ServerCapabilities) bool {
		return caps.Logging != nil
	})
	if err != nil {
		return err
	}
	_, err = c.session.SendRequest(ctx, protocol.MethodLoggingSetLevel, protocol.SetLevelParams{Level: level})
	return err
}

// OnLogMessage calls fn for every notifications/message from the server.
func (c *Client) OnLogMessage(fn func(protocol.LoggingMessageParams)) (unsubscribe func()) {
	return c.session.OnNotification(protocol.MethodLoggingMessage, func(_ context.Context, n *protocol.Notification) error {
		var params protocol.LoggingMessageParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return mcperrors.InvalidParams("malformed log message: " + err.Error())
		}
		fn(params)
		return nil
	})
}

// OnToolsChanged calls fn whenever the server reports a new tool list.
func (c *Client) OnToolsChanged(fn func()) (unsubscribe func()) {
	return c.session.OnNotification(protocol.MethodToolsListChanged, func(context.Context, *protocol.Notification) error {
		fn()
		return nil
	})
}

// Roots returns a copy of the roots served to roots/list.
func (c *Client) Roots() []protocol.Root {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.roots)
}

// SetRoots replaces the served roots and, once initialized, tells the server
// the list changed. Every root must be a file:// URI.
func (c *Client) SetRoots(ctx context.Context, roots ...protocol.Root) error {
	if !c.advertised {
		return mcperrors.CapabilityRequired("roots")
	}
	var errs []mcperrors.MCPError
	for _, r := range roots {
		if err := r.Validate(); err != nil {
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				errs = append(errs, mcpErr)
			}
		}
	}
	if err := mcperrors.CombineValidationErrors(errs); err != nil {
		return err
	}

	c.mu.Lock()
	c.roots = slices.Clone(roots)
	c.mu.Unlock()

	if !c.session.IsInitialized() {
		return nil
	}
	return c.session.SendNotification(ctx, protocol.MethodRootsListChanged, nil)
}

func (c *Client) listRoots(context.Context, *struct{}) (*protocol.ListRootsResult, error) {
	return &protocol.ListRootsResult{Roots: c.Roots()}, nil
}

func (c *Client) createMessage(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	if len(params.Messages) == 0 {
		return nil, mcperrors.InvalidParams("messages must not be empty")
	}
	if params.ModelPreferences != nil {
		if err := params.ModelPreferences.Validate(); err != nil {
			return nil, mcperrors.InvalidParams(err.Error())
		}
	}
	return c.sampling(ctx, params)
}
