package board

import (
	"bytes"
	"sync"
)

// fakeChannel is an in-memory Channel driven by a script of canned replies,
// the same "testable seam" approach as a fake CommandExecutor: the real
// serial/websocket transport is replaced with something synchronous and
// inspectable.
type fakeChannel struct {
	mu      sync.Mutex
	written bytes.Buffer
	reader  *bytes.Reader
	closed  bool
}

func newFakeChannel(scripted string) *fakeChannel {
	return &fakeChannel{reader: bytes.NewReader([]byte(scripted))}
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}
