package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
	"github.com/ajitpratap0/mcp-engine-go/pkg/observability"
)

func TestObservedRoundTrip(t *testing.T) {
	provider, err := NewObservability(observability.ObservabilityConfig{
		EnableMetrics: true,
		MetricsConfig: observability.MetricsConfig{ServiceName: "facade-test"},
	}, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(WithServerLogger(logging.Nop()), WithServerObserver(provider.Observer()))
	serverEnd, clientEnd := NewPipe()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, serverEnd) }()

	c := NewClient(WithClientLogger(logging.Nop()), WithClientTimeout(5*time.Second))
	require.NoError(t, c.Connect(ctx, clientEnd))
	_, err = c.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Close())
	<-served

	families, err := provider.Metrics().Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["mcp_requests_total"], "inbound requests not counted: %v", names)
}
