package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// WriterSink writes each payload followed by an optional delimiter.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	delim  []byte
	closed bool
}

// NewWriter wraps w. Close does not close w.
func NewWriter(w io.Writer, delimiter string) *WriterSink {
	return &WriterSink{w: w, delim: []byte(delimiter)}
}

// NewStdout writes to standard output.
func NewStdout(delimiter string) *WriterSink {
	return NewWriter(os.Stdout, delimiter)
}

// OpenFile appends to path, creating it if needed. Close closes the file.
func OpenFile(path, delimiter string) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	s := NewWriter(f, delimiter)
	s.closer = f
	return s, nil
}

func (s *WriterSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(msg.Payload); err != nil {
		return err
	}
	if len(s.delim) > 0 {
		if _, err := s.w.Write(s.delim); err != nil {
			return err
		}
	}
	return nil
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
