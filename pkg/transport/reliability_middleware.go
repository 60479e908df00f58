package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// ErrCircuitOpen is returned by Send while the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ReliabilityMiddleware retries failed sends with exponential backoff and
// stops sending for a while after repeated failures. Receive and Close pass
// through untouched; a frame is only retried when the failure means it was
// not written.
type ReliabilityMiddleware struct {
	config         ReliabilityConfig
	circuitBreaker *reliabilityCircuitBreaker
	logger         logging.Logger
}

// NewReliabilityMiddleware creates a new reliability middleware
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.Nop()
	}
	rm := &ReliabilityMiddleware{
		config: config,
		logger: logger.WithFields(logging.Component("ReliabilityMiddleware")),
	}

	if config.CircuitBreaker.Enabled {
		rm.circuitBreaker = newReliabilityCircuitBreaker(config.CircuitBreaker)
	}

	return rm
}

// Wrap implements the Middleware interface
func (rm *ReliabilityMiddleware) Wrap(transport Transport) Transport {
	return &reliabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          rm,
	}
}

// reliabilityTransport wraps a transport with reliability features
type reliabilityTransport struct {
	middlewareTransport
	middleware *ReliabilityMiddleware
}

func (rm *ReliabilityMiddleware) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if rm.config.InitialRetryDelay > 0 {
		exp.InitialInterval = rm.config.InitialRetryDelay
	}
	if rm.config.MaxRetryDelay > 0 {
		exp.MaxInterval = rm.config.MaxRetryDelay
	}
	if rm.config.RetryBackoffFactor > 0 {
		exp.Multiplier = rm.config.RetryBackoffFactor
	}
	exp.RandomizationFactor = 0.1
	exp.Reset()
	return exp
}

// Send wraps the underlying Send with circuit breaking and retries
func (rt *reliabilityTransport) Send(ctx context.Context, frame []byte) error {
	rm := rt.middleware

	if rm.circuitBreaker != nil && !rm.circuitBreaker.canMakeCall() {
		return mcperrors.TransportError("ReliabilityMiddleware", "circuit_breaker_check", ErrCircuitOpen)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := rt.middlewareTransport.Send(ctx, frame)
		if err == nil {
			return struct{}{}, nil
		}
		if !isRetryableError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		rm.logger.Debug("retrying send",
			logging.Int("attempt", attempt),
			logging.Duration("delay", next),
			logging.ErrorField(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(rm.newBackOff()),
		backoff.WithMaxTries(uint(max(rm.config.MaxRetries, 0)+1)),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	if rm.circuitBreaker != nil {
		if err == nil {
			rm.circuitBreaker.recordSuccess()
		} else if !IsClosed(err) && ctx.Err() == nil {
			rm.circuitBreaker.recordFailure()
		}
	}

	if err != nil && attempt > 1 && isRetryableError(err) {
		rm.logger.Warn("send failed after retries", logging.Int("attempts", attempt), logging.ErrorField(err))
		return mcperrors.TransportError("ReliabilityMiddleware", "retry_exhausted", err).
			WithDetail(fmt.Sprintf("failed after %d attempts", attempt))
	}
	return err
}

// isRetryableError reports whether a failed send may be attempted again.
// A closed connection or an ended context never recovers by retrying.
func isRetryableError(err error) bool {
	if err == nil || IsClosed(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, mcperrors.ErrConnectionClosed) {
		return false
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		return mcpErr.Category() == mcperrors.CategoryTransport
	}
	return true
}

// reliabilityCircuitBreaker implements a simple circuit breaker
type reliabilityCircuitBreaker struct {
	config    CircuitBreakerConfig
	state     circuitState
	failures  int
	successes int
	lastError time.Time
	now       func() time.Time
	mu        sync.Mutex
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newReliabilityCircuitBreaker(config CircuitBreakerConfig) *reliabilityCircuitBreaker {
	return &reliabilityCircuitBreaker{
		config: config,
		state:  circuitClosed,
		now:    time.Now,
	}
}

func (cb *reliabilityCircuitBreaker) canMakeCall() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed, circuitHalfOpen:
		return true
	case circuitOpen:
		if cb.now().Sub(cb.lastError) > cb.config.Timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true
		}
	}
	return false
}

func (cb *reliabilityCircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == circuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = circuitClosed
		}
	}
}

func (cb *reliabilityCircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = cb.now()
	cb.failures++

	if cb.state == circuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = circuitOpen
	}
}

func (cb *reliabilityCircuitBreaker) currentState() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
