package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine-go/pkg/session"
	"github.com/ajitpratap0/mcp-engine-go/pkg/transport"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return testutil.ToFloat64(vec.WithLabelValues(labels...))
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(MetricsConfig{ServiceName: "test"})
	require.NoError(t, err)
	return m
}

func TestMetricsAreIsolatedPerInstance(t *testing.T) {
	// Two instances must not collide on a shared registry.
	a := newTestMetrics(t)
	b := newTestMetrics(t)

	a.ObserveDropped(session.DropMalformed)
	assert.Equal(t, 1.0, counterValue(t, a.dropped, session.DropMalformed))
	assert.Equal(t, 0.0, counterValue(t, b.dropped, session.DropMalformed))
}

func TestMetricsStartRequest(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	_, finish := m.StartRequest(ctx, session.Outbound, protocol.MethodToolsCall)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight.WithLabelValues("outbound")))
	finish(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("outbound")))

	_, finish = m.StartRequest(ctx, session.Outbound, protocol.MethodToolsCall)
	finish(mcperrors.Timeout("tools/call", time.Second))
	_, finish = m.StartRequest(ctx, session.Inbound, protocol.MethodToolsCall)
	finish(mcperrors.InvalidParams("bad"))

	assert.Equal(t, 1.0, counterValue(t, m.requestsTotal, "outbound", "tools/call", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, m.requestsTotal, "outbound", "tools/call", OutcomeTimeout))
	assert.Equal(t, 1.0, counterValue(t, m.requestsTotal, "inbound", "tools/call", OutcomeError))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestMetricsObserveFrame(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveFrame(transport.DirectionOutbound, 10, time.Millisecond, nil)
	m.ObserveFrame(transport.DirectionOutbound, 5, 0, nil)
	m.ObserveFrame(transport.DirectionInbound, 7, 0, errors.New("broken"))

	assert.Equal(t, 2.0, counterValue(t, m.framesTotal, "outbound", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, m.framesTotal, "inbound", OutcomeError))
	assert.Equal(t, 15.0, counterValue(t, m.frameBytes, "outbound"))
	assert.Equal(t, 0.0, counterValue(t, m.frameBytes, "inbound"))
}

func TestMetricsSessionTraffic(t *testing.T) {
	clientMetrics := newTestMetrics(t)
	serverMetrics := newTestMetrics(t)
	client, server := observedPair(t, clientMetrics, serverMetrics, nil)

	server.OnRequest("fail", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, mcperrors.InvalidParams("always")
	})

	ctx := context.Background()
	_, err := client.SendRequest(ctx, protocol.MethodPing, nil)
	require.NoError(t, err)
	_, err = client.SendRequest(ctx, "fail", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, clientMetrics.requestsTotal, "outbound", "initialize", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, clientMetrics.requestsTotal, "outbound", "ping", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, clientMetrics.requestsTotal, "outbound", "fail", OutcomeRemoteError))
	assert.Equal(t, 1.0, counterValue(t, clientMetrics.notifications, "outbound", "notifications/initialized"))

	assert.Equal(t, 1.0, counterValue(t, serverMetrics.requestsTotal, "inbound", "ping", OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, serverMetrics.requestsTotal, "inbound", "fail", OutcomeError))
	assert.Eventually(t, func() bool {
		return counterValue(t, serverMetrics.notifications, "inbound", "notifications/initialized") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMetricsHandler(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveDropped(session.DropUnmatchedResponse)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mcp_dropped_messages_total{reason="unmatched_response",service="test"} 1`), body)
}

func TestMetricsServer(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{MetricsAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx), "second start")
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))
}
