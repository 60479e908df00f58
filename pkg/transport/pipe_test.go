package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	ctx := context.Background()
	for _, frame := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(ctx, []byte(frame)))
	}

	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestPipeCopiesFrames(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	buf := []byte("original")
	require.NoError(t, a.Send(context.Background(), buf))
	copy(buf, "mutated!")

	got, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestPipeClose(t *testing.T) {
	a, b := NewPipe()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, []byte("last")))
	require.NoError(t, a.Close())

	// Frames sent before Close still reach the peer.
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", string(got))

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	err = b.Send(ctx, []byte("late"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = a.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())
}

func TestPipeCloseUnblocksReceive(t *testing.T) {
	a, b := NewPipe()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
	_ = a.Close()
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestPipeConcurrentSenders(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	const senders, perSender = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_ = a.Send(context.Background(), []byte("x"))
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < senders*perSender; i++ {
		_, err := b.Receive(ctx)
		require.NoError(t, err)
	}
}

func TestMockTransport(t *testing.T) {
	m := NewMockTransport()
	ctx := context.Background()

	require.NoError(t, m.InjectString(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	frame, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"ping"`)

	var hooked []string
	m.OnSend(func(frame []byte) { hooked = append(hooked, string(frame)) })
	require.NoError(t, m.Send(ctx, []byte("a")))
	require.NoError(t, m.Send(ctx, []byte("b")))
	assert.Equal(t, 2, m.SentCount())
	assert.Equal(t, []string{"a", "b"}, hooked)

	boom := errors.New("boom")
	m.FailSends(boom)
	assert.ErrorIs(t, m.Send(ctx, []byte("c")), boom)
	m.FailSends(nil)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.ErrorIs(t, m.Send(ctx, []byte("d")), ErrClosed)
	_, err = m.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockTransportWaitForSent(t *testing.T) {
	m := NewMockTransport()
	defer m.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = m.Send(context.Background(), []byte("first"))
		_ = m.Send(context.Background(), []byte("second"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frames, err := m.WaitForSent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = m.WaitForSent(short, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrameQueueDropOnClose(t *testing.T) {
	q := newFrameQueue()
	require.NoError(t, q.push([]byte("a")))
	require.NoError(t, q.push([]byte("b")))
	assert.Equal(t, 2, q.len())

	q.close(true)
	assert.Equal(t, 0, q.len())
	_, err := q.pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.push([]byte("c")), ErrClosed)
}
