package transfer

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/arduino/upy-packager/pkg/board"
)

// fakeChannel simulates a raw-mode MicroPython interpreter: it parses each
// incoming statement well enough to drive the CRC-validated write protocol
// and accumulates bytes written to the simulated destination file.
type fakeChannel struct {
	out          bytes.Buffer // replies queued for Read
	written      bytes.Buffer // bytes "written" to the destination file
	corruptOnce  bool         // if set, the next buf validation fails once then heals
	corrupted    bool
	neverPassCRC bool   // if set, every buf validation fails
	lastBuf      []byte // remote "buf" variable set by the last "buf = b'...'" statement
	pending      bytes.Buffer
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) Read(p []byte) (int, error) {
	return c.out.Read(p)
}

// Write mimics a raw-mode MicroPython interpreter byte for byte: control
// bytes (ctrlA/ctrlB) arrive alone and get an immediate banner/prompt;
// statement text and the ctrlD that executes it arrive as two separate
// Write calls, matching Session.ExecStatement.
func (c *fakeChannel) Write(p []byte) (int, error) {
	if len(p) == 1 && p[0] == 0x01 {
		c.out.WriteString("raw REPL; CTRL-B to exit\r\n>")
		return len(p), nil
	}
	if len(p) == 1 && p[0] == 0x02 {
		c.out.WriteString(">>> ")
		return len(p), nil
	}
	if len(p) == 1 && p[0] == 0x04 {
		c.exec(c.pending.String())
		c.pending.Reset()
		return len(p), nil
	}
	c.pending.Write(p)
	return len(p), nil
}

func (c *fakeChannel) exec(stmt string) {
	switch {
	case strings.Contains(stmt, "def validate_crc"):
		c.reply("", "")
	case strings.HasPrefix(stmt, "f = open("):
		c.reply("", "")
	case strings.HasPrefix(stmt, "buf = "):
		payload := extractBytesLiteral(stmt)
		c.lastBuf = payload
		ok := validateCRC(payload) && !c.neverPassCRC
		if c.corruptOnce && !c.corrupted {
			ok = false
			c.corrupted = true
		}
		if ok {
			c.reply("1", "")
		} else {
			c.reply("0", "")
		}
	case strings.HasPrefix(stmt, "f.write("):
		if len(c.lastBuf) >= 4 {
			c.written.Write(c.lastBuf[:len(c.lastBuf)-4])
		}
		c.reply("", "")
	case strings.HasPrefix(stmt, "f.close("):
		c.reply("", "")
	default:
		c.reply("", "")
	}
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) reply(stdout, stderr string) {
	c.out.WriteString("OK")
	c.out.WriteString(stdout)
	c.out.WriteByte(0x04)
	c.out.WriteString(stderr)
	c.out.WriteByte(0x04)
}

func validateCRC(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	payload, sum := data[:len(data)-4], data[len(data)-4:]
	return crc32.ChecksumIEEE(payload) == binary.BigEndian.Uint32(sum)
}

// extractBytesLiteral parses the b'\xHH...' literal embedded in stmt back
// into raw bytes.
func extractBytesLiteral(stmt string) []byte {
	start := strings.Index(stmt, "b'")
	if start < 0 {
		return nil
	}
	rest := stmt[start+2:]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return nil
	}
	lit := rest[:end]
	var out []byte
	for i := 0; i < len(lit); i += 4 {
		v, _ := strconv.ParseUint(lit[i+2:i+4], 16, 8)
		out = append(out, byte(v))
	}
	return out
}

func TestWriteFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "mod.py")
	payload := bytes.Repeat([]byte("arduino-upy-packager-payload "), 50)
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatalf("WriteFile setup failed: %v", err)
	}

	ch := newFakeChannel()
	s := &board.Session{}
	s.Open(ch)
	w := &Writer{Session: s}

	var percents []int
	if err := w.WriteFile(local, "/lib/mod.py", func(p int) {
		percents = append(percents, p)
	}); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if !bytes.Equal(ch.written.Bytes(), payload) {
		t.Fatalf("written bytes mismatch: got %d bytes, want %d bytes", ch.written.Len(), len(payload))
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("progress callback = %v, want final 100", percents)
	}
}

func TestWriteFile_ShrinksOnCorruption(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "mod.py")
	payload := bytes.Repeat([]byte("x"), 600)
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatalf("WriteFile setup failed: %v", err)
	}

	ch := newFakeChannel()
	ch.corruptOnce = true
	s := &board.Session{}
	s.Open(ch)
	w := &Writer{Session: s}

	var shrunkTo int
	w.OnShrink = func(n int) { shrunkTo = n }

	if err := w.WriteFile(local, "/lib/mod.py", nil); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if shrunkTo != initialChunkSize/2 {
		t.Fatalf("OnShrink called with %d, want %d", shrunkTo, initialChunkSize/2)
	}
	if !bytes.Equal(ch.written.Bytes(), payload) {
		t.Fatalf("written bytes mismatch after recovery: got %d bytes, want %d bytes", ch.written.Len(), len(payload))
	}
}

func TestWriteFile_ChunkCorruptionError(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "mod.py")
	if err := os.WriteFile(local, []byte("short payload"), 0o644); err != nil {
		t.Fatalf("WriteFile setup failed: %v", err)
	}

	ch := newFakeChannel()
	ch.neverPassCRC = true
	s := &board.Session{}
	s.Open(ch)
	w := &Writer{Session: s}

	err := w.WriteFile(local, "/lib/mod.py", nil)
	var corruptErr *ChunkCorruptionError
	if err == nil {
		t.Fatal("WriteFile() succeeded, want ChunkCorruptionError")
	}
	if !asChunkCorruptionError(err, &corruptErr) {
		t.Fatalf("WriteFile() error = %v, want *ChunkCorruptionError", err)
	}
}

func asChunkCorruptionError(err error, target **ChunkCorruptionError) bool {
	if e, ok := err.(*ChunkCorruptionError); ok {
		*target = e
		return true
	}
	return false
}

func TestQuotePythonBytes(t *testing.T) {
	got := board.QuotePythonBytes([]byte{0x00, 0xff, 0x41})
	want := `b'\x00\xff\x41'`
	if got != want {
		t.Fatalf("QuotePythonBytes() = %q, want %q", got, want)
	}
}
