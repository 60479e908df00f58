package transport

import (
	"context"
	"sync"
)

// MockTransport is a scriptable Transport for tests. It records every frame
// sent through it and delivers frames injected with Inject to Receive.
type MockTransport struct {
	inbound *frameQueue

	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	onSend   func(frame []byte)
	sentCond chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMockTransport creates an open mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		inbound:  newFrameQueue(),
		sentCond: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Send records frame. It fails with the error set by FailSends, or with
// ErrClosed after Close.
func (m *MockTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, copyFrame(frame))
	hook := m.onSend
	close(m.sentCond)
	m.sentCond = make(chan struct{})
	m.mu.Unlock()

	if hook != nil {
		hook(copyFrame(frame))
	}
	return nil
}

// Receive returns the next injected frame.
func (m *MockTransport) Receive(ctx context.Context) ([]byte, error) {
	return m.inbound.pop(ctx)
}

// Close unblocks Receive and fails later sends.
func (m *MockTransport) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.inbound.close(true)
	})
	return nil
}

// Inject queues a frame for Receive.
func (m *MockTransport) Inject(frame []byte) error {
	return m.inbound.push(copyFrame(frame))
}

// InjectString is Inject for string literals.
func (m *MockTransport) InjectString(frame string) error {
	return m.Inject([]byte(frame))
}

// OnSend installs a hook run after each recorded frame, outside the lock.
// Tests use it to answer requests.
func (m *MockTransport) OnSend(hook func(frame []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = hook
}

// FailSends makes every later Send return err. A nil err restores sending.
func (m *MockTransport) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of every recorded frame.
func (m *MockTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of recorded frames.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// WaitForSent blocks until at least n frames were recorded or ctx ends.
func (m *MockTransport) WaitForSent(ctx context.Context, n int) ([][]byte, error) {
	for {
		m.mu.Lock()
		if len(m.sent) >= n {
			out := make([][]byte, len(m.sent))
			copy(out, m.sent)
			m.mu.Unlock()
			return out, nil
		}
		wait := m.sentCond
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
