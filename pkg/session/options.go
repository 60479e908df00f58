package session

import (
	"slices"
	"time"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCodec sets the codec used for every frame.
func WithCodec(codec *protocol.Codec) Option {
	return func(s *Session) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithObserver installs hooks for metrics and tracing.
func WithObserver(observer Observer) Option {
	return func(s *Session) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithDefaultTimeout bounds every outbound request that does not carry its
// own WithTimeout option. Zero disables the default.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.defaultTimeout = d
	}
}

// WithSupportedVersions sets the protocol revisions this side accepts,
// preferred first. The first entry is offered by Initialize.
func WithSupportedVersions(versions ...string) Option {
	return func(s *Session) {
		if len(versions) > 0 {
			s.supportedVersions = slices.Clone(versions)
		}
	}
}

// WithInitializeHandler makes the session answer inbound initialize
// requests. Only the receiving side of the handshake sets it.
func WithInitializeHandler(handler InitializeHandler) Option {
	return func(s *Session) {
		s.initHandler = handler
	}
}

// WithID sets the identifier used in logs. A random one is used otherwise.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// RequestOption adjusts a single outbound request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout  time.Duration
	progress ProgressFunc
}

// ProgressFunc receives progress notifications for one request.
type ProgressFunc func(protocol.ProgressParams)

// WithTimeout bounds how long the request waits for its response.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.timeout = d
	}
}

// WithProgress attaches a progress token to the request and routes matching
// notifications/progress to fn until the request resolves.
func WithProgress(fn ProgressFunc) RequestOption {
	return func(c *requestConfig) {
		c.progress = fn
	}
}
