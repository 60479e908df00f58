package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

func exerciseEcho(t *testing.T, tr transport.Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := session.New(session.WithLogger(logging.Nop()))
	require.NoError(t, client.Connect(context.Background(), tr))
	defer client.Close()

	_, err := client.Initialize(ctx, protocol.InitializeParams{ClientInfo: testClientInfo})
	require.NoError(t, err)

	res, err := session.Call[protocol.CallToolResult](ctx, client, protocol.MethodToolsCall,
		protocol.CallToolParams{Name: "echo", Arguments: []byte(`{"text":"over the wire"}`)})
	require.NoError(t, err)
	assert.Equal(t, "over the wire", firstText(t, res))
}

func TestWebSocketHandler(t *testing.T) {
	srv := newTestServer()
	addEcho(t, srv, "")

	httpSrv := httptest.NewServer(srv.WebSocketHandler(transport.DefaultTransportConfig(transport.TransportTypeWebSocket)))
	defer httpSrv.Close()

	endpoint := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	tr, err := transport.DialWebSocket(context.Background(), endpoint,
		transport.DefaultTransportConfig(transport.TransportTypeWebSocket))
	require.NoError(t, err)

	exerciseEcho(t, tr)
}

func TestSSEServer(t *testing.T) {
	srv := newTestServer()
	addEcho(t, srv, "")

	sseSrv := srv.SSEServer("/message", transport.DefaultTransportConfig(transport.TransportTypeSSE))
	httpSrv := httptest.NewServer(srv.SSEHandler(sseSrv, "/sse", "/message"))
	t.Cleanup(func() {
		_ = sseSrv.Close()
		httpSrv.Close()
	})

	tr, err := transport.DialSSE(context.Background(), httpSrv.URL+"/sse",
		transport.DefaultTransportConfig(transport.TransportTypeSSE))
	require.NoError(t, err)

	exerciseEcho(t, tr)
}
