package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// flakyTransport fails the first failures sends with err.
type flakyTransport struct {
	*MockTransport
	mu       sync.Mutex
	failures int
	attempts int
	err      error
}

func (f *flakyTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.MockTransport.Send(ctx, frame)
}

func (f *flakyTransport) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func fastReliability() ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:         3,
		InitialRetryDelay:  time.Millisecond,
		MaxRetryDelay:      5 * time.Millisecond,
		RetryBackoffFactor: 2,
	}
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return MiddlewareFunc(func(next Transport) Transport {
			return &taggingTransport{middlewareTransport: middlewareTransport{next: next}, name: name, order: &order}
		})
	}

	base := NewMockTransport()
	wrapped := ChainMiddleware(tag("outer"), tag("inner")).Wrap(base)
	require.NoError(t, wrapped.Send(context.Background(), []byte("x")))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, 1, base.SentCount())
}

type taggingTransport struct {
	middlewareTransport
	name  string
	order *[]string
}

func (tt *taggingTransport) Send(ctx context.Context, frame []byte) error {
	*tt.order = append(*tt.order, tt.name)
	return tt.middlewareTransport.Send(ctx, frame)
}

func TestReliabilityMiddlewareRetries(t *testing.T) {
	flaky := &flakyTransport{
		MockTransport: NewMockTransport(),
		failures:      2,
		err:           mcperrors.TransportError("Test", "write", errors.New("broken pipe")),
	}
	tr := NewReliabilityMiddleware(fastReliability(), nil).Wrap(flaky)

	require.NoError(t, tr.Send(context.Background(), []byte("frame")))
	assert.Equal(t, 3, flaky.Attempts())
	assert.Equal(t, 1, flaky.SentCount())
}

func TestReliabilityMiddlewareExhausted(t *testing.T) {
	flaky := &flakyTransport{
		MockTransport: NewMockTransport(),
		failures:      100,
		err:           mcperrors.TransportError("Test", "write", errors.New("broken pipe")),
	}
	tr := NewReliabilityMiddleware(fastReliability(), nil).Wrap(flaky)

	err := tr.Send(context.Background(), []byte("frame"))
	require.Error(t, err)
	assert.Equal(t, 4, flaky.Attempts(), "one attempt plus MaxRetries retries")
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryTransport))
}

func TestReliabilityMiddlewareDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"closed", ErrClosed},
		{"connection closed", mcperrors.ConnectionClosed(nil)},
		{"validation", mcperrors.ValidationError("bad frame")},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flaky := &flakyTransport{MockTransport: NewMockTransport(), failures: 100, err: tt.err}
			tr := NewReliabilityMiddleware(fastReliability(), nil).Wrap(flaky)

			err := tr.Send(context.Background(), []byte("frame"))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, flaky.Attempts())
		})
	}
}

func TestReliabilityMiddlewareCircuitBreaker(t *testing.T) {
	config := fastReliability()
	config.MaxRetries = 0
	config.CircuitBreaker = CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	}
	rm := NewReliabilityMiddleware(config, nil).(*ReliabilityMiddleware)

	flaky := &flakyTransport{
		MockTransport: NewMockTransport(),
		failures:      2,
		err:           mcperrors.TransportError("Test", "write", errors.New("broken pipe")),
	}
	tr := rm.Wrap(flaky)
	ctx := context.Background()

	assert.Error(t, tr.Send(ctx, []byte("1")))
	assert.Equal(t, circuitClosed, rm.circuitBreaker.currentState())
	assert.Error(t, tr.Send(ctx, []byte("2")))
	assert.Equal(t, circuitOpen, rm.circuitBreaker.currentState())

	err := tr.Send(ctx, []byte("3"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, flaky.Attempts(), "an open circuit does not touch the transport")

	// Once the timeout elapses a trial call is let through and closes the circuit.
	rm.circuitBreaker.mu.Lock()
	rm.circuitBreaker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	rm.circuitBreaker.mu.Unlock()

	require.NoError(t, tr.Send(ctx, []byte("4")))
	assert.Equal(t, circuitClosed, rm.circuitBreaker.currentState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newReliabilityCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.recordFailure()
	}
	assert.False(t, cb.canMakeCall())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.canMakeCall())
	assert.Equal(t, circuitHalfOpen, cb.currentState())

	cb.recordFailure()
	assert.Equal(t, circuitOpen, cb.currentState())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.canMakeCall())
	cb.recordSuccess()
	assert.Equal(t, circuitHalfOpen, cb.currentState(), "two successes are needed")
	cb.recordSuccess()
	assert.Equal(t, circuitClosed, cb.currentState())
}

type frameRecord struct {
	direction string
	size      int
	err       error
}

func TestObservabilityMiddleware(t *testing.T) {
	var (
		mu      sync.Mutex
		records []frameRecord
	)
	observer := FrameObserverFunc(func(direction string, size int, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, frameRecord{direction, size, err})
	})

	var buf bytes.Buffer
	logger := logging.New(&buf, logging.FormatJSON)
	logger.SetLevel(logging.DebugLevel)

	config := ObservabilityConfig{EnableMetrics: true, EnableLogging: true, LogPayloads: true, Observer: observer}
	base := NewMockTransport()
	tr := NewObservabilityMiddleware(config, logger).Wrap(base)
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, []byte(`{"a":1}`)))
	require.NoError(t, base.InjectString(`{"b":22}`))
	_, err := tr.Receive(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	base.FailSends(boom)
	assert.ErrorIs(t, tr.Send(ctx, []byte(`{}`)), boom)

	// A closed transport is the end of the stream, not a failed frame.
	require.NoError(t, base.Close())
	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 3)
	assert.Equal(t, frameRecord{DirectionOutbound, 7, nil}, records[0])
	assert.Equal(t, frameRecord{DirectionInbound, 8, nil}, records[1])
	assert.Equal(t, DirectionOutbound, records[2].direction)
	assert.ErrorIs(t, records[2].err, boom)

	var first map[string]interface{}
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Equal(t, "frame", first["message"])
	assert.Equal(t, "outbound", first["direction"])
	assert.Equal(t, `{"a":1}`, first["payload"])
}

func TestMiddlewareBuilder(t *testing.T) {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.Features.EnableReliability = true
	config.Features.EnableObservability = true

	middleware := NewMiddlewareBuilder(config).Build()
	require.Len(t, middleware, 2)
	assert.IsType(t, &ObservabilityMiddleware{}, middleware[0])
	assert.IsType(t, &ReliabilityMiddleware{}, middleware[1])

	config.Features.EnableReliability = false
	config.Features.EnableObservability = false
	assert.Empty(t, NewMiddlewareBuilder(config).Build())
}
