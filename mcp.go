package mcp

import (
	"github.com/ajitpratap0/mcp-engine-go/pkg/client"
	"github.com/ajitpratap0/mcp-engine-go/pkg/config"
	"github.com/ajitpratap0/mcp-engine-go/pkg/observability"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/server"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

// Version is the engine release.
const Version = "0.4.0"

// LatestProtocolVersion is the revision offered first during the handshake.
const LatestProtocolVersion = protocol.LatestVersion

// Constructors for the core components.
var (
	NewClient = client.New
	NewServer = server.New

	NewStdioTransport = transport.NewStdioTransport
	NewPipe           = transport.NewPipe

	NewObservability = observability.NewProvider
	LoadConfig       = config.Load
)

// Client options
var (
	WithClientInfo      = client.WithClientInfo
	WithClientLogger    = client.WithLogger
	WithClientObserver  = client.WithObserver
	WithClientTimeout   = client.WithTimeout
	WithClientRoots     = client.WithRoots
	WithSamplingHandler = client.WithSamplingHandler
	ClientFromConfig    = client.FromConfig
)

// Server options
var (
	WithServerName         = server.WithName
	WithServerVersion      = server.WithVersion
	WithServerInstructions = server.WithInstructions
	WithServerLogger       = server.WithLogger
	WithServerObserver     = server.WithObserver
	WithServerMiddleware   = server.WithMiddleware
	WithCompletionProvider = server.WithCompletionProvider
	ServerFromConfig       = server.FromConfig
)
