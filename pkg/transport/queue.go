package transport

import (
	"context"
	"sync"
)

// frameQueue is an unbounded FIFO of frames with a single consumer. Writers
// never block, so two peers that send to each other from their receive
// loops cannot deadlock.
type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	ready  chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(frame []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	q.signal()
	return nil
}

// pop returns the next frame. Frames queued before close are still
// delivered; after that pop fails with ErrClosed.
func (q *frameQueue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// close stops further pushes. With drop set, frames still queued are
// discarded so the consumer sees ErrClosed immediately.
func (q *frameQueue) close(drop bool) {
	q.mu.Lock()
	q.closed = true
	if drop {
		q.frames = nil
	}
	q.mu.Unlock()
	q.signal()
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *frameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
