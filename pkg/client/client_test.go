package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-engine-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/server"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
	"github.com/ajitpratap0/mcp-engine-go/pkg/utils"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T, opts ...server.ServerOption) *server.Server {
	t.Helper()
	srv := server.New(append([]server.ServerOption{
		server.WithLogger(logging.Nop()),
		server.WithName("test-server"),
		server.WithVersion("1.2.3"),
		server.WithRequestTimeout(5 * time.Second),
	}, opts...)...)
	err := server.AddToolFunc(srv, protocol.Tool{
		Name:      "echo",
		Execution: &protocol.ToolExecution{TaskSupport: protocol.TaskSupportOptional},
	}, func(_ context.Context, args echoArgs) (*protocol.CallToolResult, error) {
		return server.TextResult(args.Text), nil
	})
	require.NoError(t, err)
	return srv
}

// serve runs srv over an in-memory pipe and returns the connected client
// end, not yet initialized.
func serve(t *testing.T, srv *server.Server, opts ...Option) *Client {
	t.Helper()
	serverEnd, clientEnd := transport.NewPipe()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, serverEnd) }()

	c := New(append([]Option{
		WithLogger(logging.Nop()),
		WithClientInfo("test-client", "0.1.0"),
		WithTimeout(5 * time.Second),
	}, opts...)...)
	require.NoError(t, c.Connect(context.Background(), clientEnd))
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return c
}

// connect serves and initializes, then waits for the server side of the
// handshake to finish.
func connect(t *testing.T, srv *server.Server, opts ...Option) (*Client, *server.Conn) {
	t.Helper()
	c := serve(t, srv, opts...)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	var conn *server.Conn
	require.Eventually(t, func() bool {
		conns := srv.Conns()
		if len(conns) != 1 || !conns[0].Session().IsInitialized() {
			return false
		}
		conn = conns[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return c, conn
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, code), "error %v does not carry code %d", err, code)
}

func firstText(t *testing.T, res *protocol.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(protocol.TextContent)
	require.True(t, ok, "first block is %T", res.Content[0])
	return text.Text
}

func TestInitialize(t *testing.T) {
	c := serve(t, newTestServer(t, server.WithInstructions("be brief")))
	ctx := context.Background()

	_, _, err := c.ListTools(ctx, "")
	requireCode(t, err, mcperrors.CodeNotInitialized)

	res, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "be brief", res.Instructions)

	info, ok := c.ServerInfo()
	require.True(t, ok)
	assert.Equal(t, "test-server", info.Name)
	assert.Equal(t, "1.2.3", info.Version)

	caps, ok := c.ServerCapabilities()
	require.True(t, ok)
	assert.NotNil(t, caps.Tools)
	assert.True(t, caps.SupportsToolTasks())

	assert.NoError(t, c.Ping(ctx))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Name = "configured-client"
	cfg.Version = "9.9.9"

	_, conn := connect(t, newTestServer(t), FromConfig(cfg))
	negotiated, ok := conn.Session().Negotiated()
	require.True(t, ok)
	assert.Equal(t, "configured-client", negotiated.ClientInfo.Name)
	assert.Equal(t, "9.9.9", negotiated.ClientInfo.Version)
}

func TestListToolsPagination(t *testing.T) {
	srv := newTestServer(t, server.WithPageSize(2))
	for _, name := range []string{"beta", "gamma"} {
		require.NoError(t, srv.AddTool(protocol.Tool{Name: name},
			func(context.Context, *server.ToolRequest) (*protocol.CallToolResult, error) {
				return server.TextResult(""), nil
			}))
	}
	c, _ := connect(t, srv)
	ctx := context.Background()

	page, next, err := c.ListTools(ctx, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "echo", page[0].Name)
	assert.Equal(t, "beta", page[1].Name)
	require.NotEmpty(t, next)

	page, next, err = c.ListTools(ctx, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "gamma", page[0].Name)
	assert.Empty(t, next)

	all, err := c.ListAllTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, tool := range all {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"echo", "beta", "gamma"}, names)

	_, _, err = c.ListTools(ctx, "not-a-cursor")
	requireCode(t, err, mcperrors.CodeInvalidParams)
}

func TestCallTool(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.AddTool(protocol.Tool{Name: "broken"},
		func(context.Context, *server.ToolRequest) (*protocol.CallToolResult, error) {
			return nil, errors.New("disk full")
		}))
	require.NoError(t, srv.AddTool(protocol.Tool{Name: "quota"},
		func(context.Context, *server.ToolRequest) (*protocol.CallToolResult, error) {
			return server.ErrorResult("quota exceeded"), nil
		}))
	c, _ := connect(t, srv)
	ctx := context.Background()

	res, err := c.CallTool(ctx, "echo", echoArgs{Text: "hello"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", firstText(t, res))

	res, err = c.CallTool(ctx, "echo", json.RawMessage(`{"text":"raw"}`))
	require.NoError(t, err)
	assert.Equal(t, "raw", firstText(t, res))

	res, err = c.CallTool(ctx, "broken", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "disk full", firstText(t, res))

	res, err = c.CallTool(ctx, "quota", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "quota exceeded", firstText(t, res))

	tests := []struct {
		name string
		tool string
		args interface{}
		code int
	}{
		{"unknown tool", "missing", nil, mcperrors.CodeInvalidParams},
		{"schema violation", "echo", map[string]int{"text": 3}, mcperrors.CodeInvalidParams},
		{"empty name", "", nil, mcperrors.CodeValidationError},
		{"unencodable arguments", "echo", make(chan int), mcperrors.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CallTool(ctx, tt.tool, tt.args)
			if !mcperrors.IsCode(err, tt.code) {
				t.Errorf("CallTool() error = %v, want code %d", err, tt.code)
			}
		})
	}
}

func TestCallToolAsTask(t *testing.T) {
	c, _ := connect(t, newTestServer(t))
	ctx := context.Background()

	task, err := c.CallToolAsTask(ctx, "echo", echoArgs{Text: "deferred"}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, task.TaskID)
	require.NotNil(t, task.TTL)
	assert.Equal(t, int64(60_000), *task.TTL)

	tracked, ok := c.Tasks().Registry().Get(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, task.TaskID, tracked.TaskID)

	res, err := c.TaskResult(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "deferred", firstText(t, res))

	got, err := c.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, got.Status)

	listed, next, err := c.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, listed, 1)
	assert.Equal(t, task.TaskID, listed[0].TaskID)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done, err := c.Tasks().Wait(waitCtx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCompleted, done.Status)
}

func TestCancelTask(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.AddTool(protocol.Tool{
		Name:      "slow",
		Execution: &protocol.ToolExecution{TaskSupport: protocol.TaskSupportRequired},
	}, func(ctx context.Context, _ *server.ToolRequest) (*protocol.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	c, _ := connect(t, srv)
	ctx := context.Background()

	task, err := c.CallToolAsTask(ctx, "slow", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusWorking, task.Status)

	cancelled, err := c.CancelTask(ctx, task.TaskID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCancelled, cancelled.Status)

	_, err = c.TaskResult(ctx, task.TaskID)
	requireCode(t, err, mcperrors.CodeOperationCancelled)

	// A second cancel leaves the finished task as it is.
	again, err := c.CancelTask(ctx, task.TaskID, "")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCancelled, again.Status)
	assert.Equal(t, "no longer needed", again.StatusMessage)

	_, err = c.CancelTask(ctx, "missing", "")
	requireCode(t, err, mcperrors.CodeInvalidParams)
}

// bareServer answers the handshake with no capabilities at all.
func bareServer(t *testing.T) *Client {
	t.Helper()
	serverEnd, clientEnd := transport.NewPipe()
	peer := session.New(
		session.WithLogger(logging.Nop()),
		session.WithInitializeHandler(func(context.Context, *protocol.InitializeParams) (*protocol.InitializeResult, error) {
			return &protocol.InitializeResult{ServerInfo: protocol.Implementation{Name: "bare", Version: "1"}}, nil
		}),
	)
	require.NoError(t, peer.Connect(context.Background(), serverEnd))
	t.Cleanup(func() { _ = peer.Close() })

	c := New(WithLogger(logging.Nop()), WithTimeout(5*time.Second))
	require.NoError(t, c.Connect(context.Background(), clientEnd))
	t.Cleanup(func() { _ = c.Close() })
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)
	return c
}

func TestCapabilityGating(t *testing.T) {
	c := bareServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"ListTools", func() error { _, _, err := c.ListTools(ctx, ""); return err }},
		{"ListAllTools", func() error { _, err := c.ListAllTools(ctx); return err }},
		{"CallTool", func() error { _, err := c.CallTool(ctx, "echo", nil); return err }},
		{"CallToolAsTask", func() error { _, err := c.CallToolAsTask(ctx, "echo", nil, 0); return err }},
		{"GetTask", func() error { _, err := c.GetTask(ctx, "t1"); return err }},
		{"ListTasks", func() error { _, _, err := c.ListTasks(ctx, ""); return err }},
		{"CancelTask", func() error { _, err := c.CancelTask(ctx, "t1", ""); return err }},
		{"TaskResult", func() error { _, err := c.TaskResult(ctx, "t1"); return err }},
		{"Complete", func() error { _, err := c.Complete(ctx, protocol.CompleteParams{}); return err }},
		{"SetLogLevel", func() error { return c.SetLogLevel(ctx, protocol.LoggingLevelDebug) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, mcperrors.ErrCapabilityRequired) {
				t.Errorf("%s() error = %v, want capability required", tt.name, err)
			}
		})
	}

	assert.NoError(t, c.Ping(ctx), "ping needs no capability")
}

func TestComplete(t *testing.T) {
	provider := server.CompletionFunc(func(_ context.Context, params *protocol.CompleteParams) (*protocol.Completion, error) {
		return &protocol.Completion{Values: []string{params.Argument.Value + "-one", params.Argument.Value + "-two"}}, nil
	})
	c, _ := connect(t, newTestServer(t, server.WithCompletionProvider(provider)))

	completion, err := c.Complete(context.Background(), protocol.CompleteParams{
		Ref:      protocol.CompletionReference{Type: protocol.RefTypePrompt, Name: "greeting"},
		Argument: protocol.CompletionArgument{Name: "style", Value: "warm"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"warm-one", "warm-two"}, completion.Values)

	_, err = c.Complete(context.Background(), protocol.CompleteParams{
		Ref: protocol.CompletionReference{Type: protocol.RefTypePrompt, Name: "greeting"},
	})
	requireCode(t, err, mcperrors.CodeInvalidParams)
}

func TestLogMessages(t *testing.T) {
	c, conn := connect(t, newTestServer(t))
	ctx := context.Background()

	messages := make(chan protocol.LoggingMessageParams, 4)
	unsubscribe := c.OnLogMessage(func(msg protocol.LoggingMessageParams) { messages <- msg })
	defer unsubscribe()

	require.NoError(t, c.SetLogLevel(ctx, protocol.LoggingLevelError))
	require.NoError(t, conn.Log(ctx, protocol.LoggingLevelInfo, "worker", "started"))
	require.NoError(t, conn.Log(ctx, protocol.LoggingLevelCritical, "worker", "crashed"))

	select {
	case msg := <-messages:
		assert.Equal(t, protocol.LoggingLevelCritical, msg.Level)
		assert.Equal(t, "worker", msg.Logger)
		assert.JSONEq(t, `"crashed"`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no log message delivered")
	}

	err := c.SetLogLevel(ctx, "loud")
	requireCode(t, err, mcperrors.CodeInvalidParams)
}

func TestOnToolsChanged(t *testing.T) {
	srv := newTestServer(t)
	c, _ := connect(t, srv)

	changed := make(chan struct{}, 1)
	c.OnToolsChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	require.NoError(t, srv.AddTool(protocol.Tool{Name: "late"},
		func(context.Context, *server.ToolRequest) (*protocol.CallToolResult, error) {
			return server.TextResult("late"), nil
		}))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no list_changed notification")
	}
	tools, err := c.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestRoots(t *testing.T) {
	c, conn := connect(t, newTestServer(t), WithRoots(
		protocol.Root{URI: "file:///srv/project", Name: "project"},
		protocol.Root{URI: "https://example.com"},
	))
	ctx := context.Background()

	require.Len(t, c.Roots(), 1, "invalid root kept")

	negotiated, _ := conn.Session().Negotiated()
	require.NotNil(t, negotiated.ClientCapabilities.Roots)
	assert.True(t, negotiated.ClientCapabilities.Roots.ListChanged)

	res, err := session.Call[protocol.ListRootsResult](ctx, conn.Session(), protocol.MethodRootsList, nil)
	require.NoError(t, err)
	require.Len(t, res.Roots, 1)
	assert.Equal(t, "file:///srv/project", res.Roots[0].URI)

	changed := make(chan struct{}, 1)
	conn.Session().OnNotification(protocol.MethodRootsListChanged, func(context.Context, *protocol.Notification) error {
		changed <- struct{}{}
		return nil
	})

	require.NoError(t, c.SetRoots(ctx,
		protocol.Root{URI: "file:///srv/a"},
		protocol.Root{URI: "file:///srv/b"},
	))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no roots list_changed notification")
	}
	res, err = session.Call[protocol.ListRootsResult](ctx, conn.Session(), protocol.MethodRootsList, nil)
	require.NoError(t, err)
	assert.Len(t, res.Roots, 2)

	err = c.SetRoots(ctx, protocol.Root{URI: "ftp://nope"}, protocol.Root{})
	requireCode(t, err, mcperrors.CodeValidationError)
	assert.Len(t, c.Roots(), 2)
}

func TestSetRootsWithoutCapability(t *testing.T) {
	c := New(WithLogger(logging.Nop()))
	err := c.SetRoots(context.Background(), protocol.Root{URI: "file:///tmp"})
	assert.ErrorIs(t, err, mcperrors.ErrCapabilityRequired)
}

func TestSamplingHandler(t *testing.T) {
	handler := func(_ context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
		return &protocol.CreateMessageResult{
			Model:      "stub-model",
			StopReason: "endTurn",
			SamplingMessage: protocol.SamplingMessage{
				Role:    protocol.RoleAssistant,
				Content: protocol.NewTextContent("echo: " + params.SystemPrompt),
			},
		}, nil
	}
	_, conn := connect(t, newTestServer(t), WithSamplingHandler(handler))
	ctx := context.Background()

	negotiated, _ := conn.Session().Negotiated()
	assert.NotNil(t, negotiated.ClientCapabilities.Sampling)

	res, err := session.Call[protocol.CreateMessageResult](ctx, conn.Session(), protocol.MethodSamplingCreateMessage,
		protocol.CreateMessageParams{
			Messages:     []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.NewTextContent("hi")}},
			SystemPrompt: "terse",
			MaxTokens:    16,
		})
	require.NoError(t, err)
	assert.Equal(t, "stub-model", res.Model)
	assert.Equal(t, protocol.RoleAssistant, res.Role)
	text, ok := res.Content.(protocol.TextContent)
	require.True(t, ok)
	assert.Equal(t, "echo: terse", text.Text)

	_, err = conn.Session().SendRequest(ctx, protocol.MethodSamplingCreateMessage,
		protocol.CreateMessageParams{MaxTokens: 16})
	requireCode(t, err, mcperrors.CodeInvalidParams)
}

func TestCloseLeavesNoGoroutines(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t).SetAllowedGrowth(2).Start()

	srv := newTestServer(t, server.WithSweepInterval(10*time.Millisecond))
	serverEnd, clientEnd := transport.NewPipe()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), serverEnd) }()

	c := New(WithLogger(logging.Nop()))
	require.NoError(t, c.Connect(context.Background(), clientEnd))
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)
	_, err = c.CallTool(context.Background(), "echo", echoArgs{Text: "bye"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the client closed")
	}
	detector.Check()
}
