package transport

import (
	"context"
	"sync"
)

// PipeTransport is one end of an in-memory connection created by NewPipe.
// Frames are copied on Send, so callers may reuse their buffers.
type PipeTransport struct {
	in        *frameQueue
	out       *frameQueue
	closeOnce sync.Once
}

// NewPipe returns two connected transports. Whatever one side sends the other
// receives, in order. Closing either side closes the connection for both.
func NewPipe() (*PipeTransport, *PipeTransport) {
	ab := newFrameQueue()
	ba := newFrameQueue()
	return &PipeTransport{in: ba, out: ab}, &PipeTransport{in: ab, out: ba}
}

// Send queues frame for the peer.
func (p *PipeTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.out.push(copyFrame(frame))
}

// Receive returns the next frame sent by the peer.
func (p *PipeTransport) Receive(ctx context.Context) ([]byte, error) {
	return p.in.pop(ctx)
}

// Close shuts both directions. The peer still receives frames that were
// sent before Close and then sees ErrClosed.
func (p *PipeTransport) Close() error {
	p.closeOnce.Do(func() {
		p.in.close(true)
		p.out.close(false)
	})
	return nil
}
