package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/ajitpratap0/mcp-engine-go/pkg/logging"
)

// StdioTransport frames messages as newline-delimited JSON over a reader and
// a writer, normally the process's stdin and stdout.
type StdioTransport struct {
	reader io.Reader
	writer *bufio.Writer
	closer io.Closer // writer side, closed on Close when set
	logger logging.Logger

	writeMu sync.Mutex
	frames  *frameQueue

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
	readDone  chan struct{}
}

// NewStdioTransport creates a transport over r and w and starts reading.
// A nil r or w selects os.Stdin or os.Stdout. When w is not os.Stdout and
// implements io.Closer it is closed with the transport, which lets the peer
// observe end of stream.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...StdioOption) *StdioTransport {
	config := DefaultTransportConfig(TransportTypeStdio)
	config.StdioReader = r
	config.StdioWriter = w
	for _, opt := range opts {
		opt(&config)
	}
	return newStdioTransport(config)
}

// StdioOption adjusts a stdio transport.
type StdioOption func(*TransportConfig)

// WithStdioLogger sets the transport logger.
func WithStdioLogger(logger logging.Logger) StdioOption {
	return func(c *TransportConfig) { c.Logger = logger }
}

// WithStdioMaxMessageSize bounds a single line.
func WithStdioMaxMessageSize(n int) StdioOption {
	return func(c *TransportConfig) { c.Performance.MaxMessageSize = n }
}

func newStdioTransport(config TransportConfig) *StdioTransport {
	reader := config.StdioReader
	writer := config.StdioWriter
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxSize := config.Performance.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	t := &StdioTransport{
		reader:   reader,
		writer:   bufio.NewWriter(writer),
		logger:   logger.WithFields(logging.Component("StdioTransport")),
		frames:   newFrameQueue(),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	if c, ok := writer.(io.Closer); ok && writer != os.Stdout {
		t.closer = c
	}

	go t.readLoop(maxSize)
	return t
}

// readLoop scans lines until EOF, a read error or Close. A monitor goroutine
// closes the reader on shutdown so a blocked Scan returns.
func (t *StdioTransport) readLoop(maxSize int) {
	defer close(t.readDone)

	var g errgroup.Group
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		scanner := bufio.NewScanner(t.reader)
		scanner.Buffer(make([]byte, 0, min(64*1024, maxSize)), maxSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if err := t.frames.push(copyFrame(line)); err != nil {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return mcperrors.TransportError("StdioTransport", "scan_input", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-t.done:
			if closer, ok := t.reader.(io.Closer); ok {
				_ = closer.Close()
			}
		case <-scannerDone:
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		select {
		case <-t.done:
		default:
			t.logger.WithError(err).Warn("stdio read failed")
		}
	}
	t.readErr = err
	t.frames.close(false)
}

// Send writes frame followed by a newline and flushes.
func (t *StdioTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if bytes.IndexByte(frame, '\n') >= 0 {
		return mcperrors.TransportError("StdioTransport", "send_message",
			errors.New("frame contains a newline"))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(frame); err != nil {
		return mcperrors.TransportError("StdioTransport", "write_data", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportError("StdioTransport", "write_newline", err)
	}
	if err := t.writer.Flush(); err != nil {
		return mcperrors.TransportError("StdioTransport", "flush_output", err)
	}
	return nil
}

// Receive returns the next line. At end of input it returns ErrClosed, or
// the read error that ended the stream.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	frame, err := t.frames.pop(ctx)
	if err == nil {
		return frame, nil
	}
	if errors.Is(err, ErrClosed) {
		select {
		case <-t.done:
			return nil, ErrClosed
		case <-t.readDone:
		}
		select {
		case <-t.done:
			return nil, ErrClosed
		default:
		}
		if t.readErr != nil {
			return nil, t.readErr
		}
	}
	return nil, err
}

// Close stops reading, flushes pending output and closes the writer when the
// transport owns it.
func (t *StdioTransport) Close() error {
	var flushErr error
	t.closeOnce.Do(func() {
		close(t.done)
		t.frames.close(true)

		t.writeMu.Lock()
		flushErr = t.writer.Flush()
		if t.closer != nil {
			if err := t.closer.Close(); err != nil && flushErr == nil {
				flushErr = err
			}
		}
		t.writeMu.Unlock()
	})
	if flushErr != nil {
		return mcperrors.TransportError("StdioTransport", "flush_on_stop", flushErr)
	}
	return nil
}
