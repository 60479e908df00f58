package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/tasks"
)

// statusNoticeTimeout bounds a notifications/tasks/status write.
const statusNoticeTimeout = 5 * time.Second

// Conn is one client connection: its session, the tasks it created and the
// logging level it asked for.
type Conn struct {
	server  *Server
	session *session.Session
	store   *tasks.Store
	logger  logging.Logger

	mu       sync.Mutex
	logLevel protocol.LoggingLevel
}

func (s *Server) newConn() *Conn {
	opts := []session.Option{
		session.WithLogger(s.logger),
		session.WithObserver(s.observer),
		session.WithSupportedVersions(s.supportedVersions...),
		session.WithInitializeHandler(s.initialize),
	}
	if s.requestTimeout > 0 {
		opts = append(opts, session.WithDefaultTimeout(s.requestTimeout))
	}
	c := &Conn{
		server:   s,
		session:  session.New(opts...),
		logLevel: protocol.LoggingLevelInfo,
	}
	c.logger = s.logger.WithFields(logging.SessionID(c.session.ID()))

	storeOpts := append([]tasks.StoreOption{tasks.WithStoreLogger(c.logger)}, s.taskOptions...)
	storeOpts = append(storeOpts, tasks.WithStatusFunc(c.pushStatus))
	c.store = tasks.NewStore(storeOpts...)

	c.register()
	return c
}

func (c *Conn) register() {
	s := c.session
	s.OnRequest(protocol.MethodToolsList, session.Handle(c.listTools))
	s.OnRequest(protocol.MethodToolsCall, session.Handle(c.callTool))
	s.OnRequest(protocol.MethodTasksGet, session.Handle(c.getTask))
	s.OnRequest(protocol.MethodTasksList, session.Handle(c.listTasks))
	s.OnRequest(protocol.MethodTasksCancel, session.Handle(c.cancelTask))
	s.OnRequest(protocol.MethodTasksResult, session.Handle(c.taskResult))
	s.OnRequest(protocol.MethodLoggingSetLevel, session.Handle(c.setLevel))
	if c.server.completions != nil {
		s.OnRequest(protocol.MethodComplete, session.Handle(c.complete))
	}
}

// Session returns the connection's session, for server-initiated requests.
func (c *Conn) Session() *session.Session { return c.session }

// Tasks returns the connection's task store.
func (c *Conn) Tasks() *tasks.Store { return c.store }

// pushStatus tells the client about a task status change. Nothing is sent
// before the handshake completes or after the session ends.
func (c *Conn) pushStatus(task protocol.Task) {
	if !c.session.IsInitialized() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusNoticeTimeout)
	defer cancel()
	params := protocol.TaskStatusNotificationParams{Task: task}
	if err := c.session.SendNotification(ctx, protocol.MethodTaskStatus, params); err != nil {
		c.logger.WithError(err).Debug("failed to push task status", logging.TaskID(task.TaskID))
	}
}

// LogLevel returns the minimum level of logging notifications.
func (c *Conn) LogLevel() protocol.LoggingLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logLevel
}

// Log sends a notifications/message record when level passes the level the
// client set. data is encoded as JSON.
func (c *Conn) Log(ctx context.Context, level protocol.LoggingLevel, logger string, data interface{}) error {
	if !c.LogLevel().Enabled(level) {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	params := protocol.LoggingMessageParams{Level: level, Logger: logger, Data: raw}
	return c.session.SendNotification(ctx, protocol.MethodLoggingMessage, params)
}

func (c *Conn) setLevel(_ context.Context, params *protocol.SetLevelParams) (protocol.EmptyResult, error) {
	if err := validateLevel(params.Level); err != nil {
		return protocol.EmptyResult{}, err
	}
	c.mu.Lock()
	c.logLevel = params.Level
	c.mu.Unlock()
	c.logger.Debug("logging level set", logging.String("level", string(params.Level)))
	return protocol.EmptyResult{}, nil
}

var loggingLevels = []string{
	string(protocol.LoggingLevelDebug), string(protocol.LoggingLevelInfo),
	string(protocol.LoggingLevelNotice), string(protocol.LoggingLevelWarning),
	string(protocol.LoggingLevelError), string(protocol.LoggingLevelCritical),
	string(protocol.LoggingLevelAlert), string(protocol.LoggingLevelEmergency),
}

func validateLevel(level protocol.LoggingLevel) error {
	for _, l := range loggingLevels {
		if string(level) == l {
			return nil
		}
	}
	return mcperrors.InvalidParams(fmt.Sprintf("unknown logging level %q", level))
}
