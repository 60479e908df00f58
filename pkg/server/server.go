package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-engine-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/tasks"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// DefaultSweepInterval is how often expired tasks are removed.
const DefaultSweepInterval = 30 * time.Second

// Server holds the tools and settings shared by every connection. Each call
// to Serve runs one connection with its own session and task store.
type Server struct {
	name              string
	version           string
	instructions      string
	logger            logging.Logger
	observer          session.Observer
	supportedVersions []string
	requestTimeout    time.Duration
	pageSize          int
	taskOptions       []tasks.StoreOption
	sweepInterval     time.Duration
	completions       CompletionProvider
	middleware        []transport.Middleware

	mu    sync.RWMutex
	tools *toolRegistry
	conns map[*Conn]struct{}
}

// ServerOption defines options for creating a server
type ServerOption func(*Server)

// WithName sets the server name
func WithName(name string) ServerOption {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithInstructions sets the usage hint returned by initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithLogger sets the logger used by the server and its sessions.
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver installs an observer on every connection's session.
func WithObserver(observer session.Observer) ServerOption {
	return func(s *Server) {
		s.observer = observer
	}
}

// WithSupportedVersions restricts the protocol versions the server accepts,
// most preferred first.
func WithSupportedVersions(versions ...string) ServerOption {
	return func(s *Server) {
		if len(versions) > 0 {
			s.supportedVersions = versions
		}
	}
}

// WithRequestTimeout bounds server-initiated requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithPageSize sets the page size of list endpoints.
func WithPageSize(n int) ServerOption {
	return func(s *Server) {
		s.pageSize = n
	}
}

// WithTaskOptions configures the task store of every connection.
func WithTaskOptions(opts ...tasks.StoreOption) ServerOption {
	return func(s *Server) {
		s.taskOptions = append(s.taskOptions, opts...)
	}
}

// WithSweepInterval sets how often expired tasks are swept.
func WithSweepInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithCompletionProvider enables completion/complete.
func WithCompletionProvider(provider CompletionProvider) ServerOption {
	return func(s *Server) {
		s.completions = provider
	}
}

// WithMiddleware wraps every served transport, first middleware outermost.
func WithMiddleware(middleware ...transport.Middleware) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// FromConfig applies the identity, session, task and pagination sections of
// cfg. Options given after it override individual values.
func FromConfig(cfg *config.Config) ServerOption {
	return func(s *Server) {
		s.name = cfg.Name
		s.version = cfg.Version
		s.requestTimeout = cfg.Session.RequestTimeout
		if len(cfg.Session.ProtocolVersions) > 0 {
			s.supportedVersions = cfg.Session.ProtocolVersions
		}
		s.pageSize = cfg.Pagination.PageSize
		s.taskOptions = append(s.taskOptions,
			tasks.WithDefaultTTL(cfg.Tasks.DefaultTTL),
			tasks.WithMaxTTL(cfg.Tasks.MaxTTL),
			tasks.WithPollInterval(cfg.Tasks.PollInterval),
		)
		if cfg.Tasks.SweepInterval > 0 {
			s.sweepInterval = cfg.Tasks.SweepInterval
		}
	}
}

// New creates a new MCP server
func New(options ...ServerOption) *Server {
	s := &Server{
		name:              "mcp-engine",
		version:           "0.0.0",
		logger:            logging.Default(),
		supportedVersions: protocol.SupportedVersions(),
		pageSize:          pagination.DefaultLimit,
		sweepInterval:     DefaultSweepInterval,
		tools:             newToolRegistry(),
		conns:             make(map[*Conn]struct{}),
	}
	for _, option := range options {
		option(s)
	}
	s.logger = s.logger.WithFields(logging.Component("Server"), logging.String("server", s.name))
	return s
}

// Info returns the implementation info sent during the handshake.
func (s *Server) Info() protocol.Implementation {
	return protocol.Implementation{Name: s.name, Version: s.version}
}

// Capabilities returns what the server advertises during the handshake.
func (s *Server) Capabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		Logging: &protocol.EmptyCapability{},
		Tools:   &protocol.ListChangedCapability{ListChanged: true},
		Tasks: &protocol.TasksCapability{
			List:   &protocol.EmptyCapability{},
			Cancel: &protocol.EmptyCapability{},
			Requests: &protocol.TaskRequestsCapability{
				Tools: &protocol.ToolsTaskCapability{Call: &protocol.EmptyCapability{}},
			},
		},
	}
	if s.completions != nil {
		caps.Completions = &protocol.EmptyCapability{}
	}
	return caps
}

// Serve runs one connection over t until the peer disconnects or ctx is
// cancelled. Tasks started on the connection are cancelled when it ends.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	if len(s.middleware) > 0 {
		t = transport.ChainMiddleware(s.middleware...).Wrap(t)
	}
	conn := s.newConn()
	if err := conn.session.Connect(ctx, t); err != nil {
		conn.store.Close()
		return err
	}
	s.track(conn)
	defer s.untrack(conn)

	logger := s.logger.WithFields(logging.SessionID(conn.session.ID()))
	logger.Debug("connection opened")

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	g.Go(func() error {
		return conn.store.RunSweeper(gctx, s.sweepInterval)
	})
	g.Go(func() error {
		defer stop()
		select {
		case <-conn.session.Done():
		case <-gctx.Done():
			_ = conn.session.Close()
			<-conn.session.Done()
		}
		return nil
	})
	err := g.Wait()
	conn.store.Close()
	logger.Debug("connection closed")

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return ctxErr
	}
	return err
}

// Conns returns the connections currently being served.
func (s *Server) Conns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) initialize(_ context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	if params.ClientInfo.Name == "" {
		return nil, mcperrors.InvalidParams("clientInfo.name is required")
	}
	return &protocol.InitializeResult{
		Capabilities: s.Capabilities(),
		ServerInfo:   s.Info(),
		Instructions: s.instructions,
	}, nil
}

// broadcast sends a notification to every initialized connection.
func (s *Server) broadcast(ctx context.Context, method protocol.Method, params interface{}) {
	for _, c := range s.Conns() {
		if !c.session.IsInitialized() {
			continue
		}
		if err := c.session.SendNotification(ctx, method, params); err != nil {
			s.logger.WithError(err).Debug("failed to broadcast",
				logging.Method(string(method)), logging.SessionID(c.session.ID()))
		}
	}
}
