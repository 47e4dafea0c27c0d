// Package bufiox bridges a transport that delivers data in discrete frames
// (a WebREPL websocket message) to the blocking byte-stream io.Reader the
// raw-mode REPL protocol (pkg/board) expects. It has exactly one consumer,
// pkg/board/webrepl: a background goroutine writes each incoming websocket
// frame as it arrives, while board.Session reads byte-by-byte looking for
// prompt markers.
package bufiox

import (
	"bytes"
	"io"
	"sync"
)

// Stream is a single-writer, single-reader byte queue. Write never blocks
// and appends to an unbounded buffer; raw-mode REPL exchanges are small and
// are drained promptly by the reader, so there's no eviction policy to get
// right here. Read blocks until data is available or the stream is closed.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

// NewStream returns an empty, open Stream.
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write implements io.Writer. It returns io.ErrClosedPipe once Close has
// been called.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.buf.Write(p)
	if n > 0 {
		s.cond.Signal()
	}
	return n, err
}

// Read implements io.Reader. It blocks until the buffer has data, then
// returns whatever is available (not necessarily len(p) bytes). It returns
// io.EOF once Close has been called and the buffer has drained.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.buf.Len() == 0 {
		return 0, io.EOF
	}
	return s.buf.Read(p)
}

// Close marks the stream closed: pending and future Reads drain the
// remaining buffer then return io.EOF; Write starts returning
// io.ErrClosedPipe.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.closed = true
	s.cond.Broadcast()
	return nil
}
