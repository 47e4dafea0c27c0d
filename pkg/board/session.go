// Package board implements the raw-REPL session façade (C6) and the board
// inspector (C7): the serial/websocket-agnostic protocol for driving a
// MicroPython interpreter as a machine-controlled subprocess rather than a
// human terminal.
package board

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ctrlA = 0x01 // enter raw REPL
	ctrlB = 0x02 // exit raw REPL
	ctrlC = 0x03 // interrupt running program
	ctrlD = 0x04 // in raw mode, execute the pasted buffer
)

// PromptTimeout is returned when no interpreter prompt arrives within the
// configured window.
var PromptTimeout = errors.New("prompt timeout")

// ProtocolError is returned when a raw reply doesn't match the documented
// framing.
var ProtocolError = errors.New("unexpected reply framing")

// Channel is the duplex byte stream a Session drives. Both the serial
// collaborator and pkg/board/webrepl satisfy it.
type Channel interface {
	io.Reader
	io.Writer
	Close() error
}

// Reply is a parsed raw-mode reply: stdout and stderr, already stripped of
// the "OK" prefix, the two 0x04 separators, and the trailing prompt.
type Reply struct {
	Stdout string
	Stderr string
}

// Session drives one Channel at a time. Every operation blocks until its
// reply is fully consumed; no pipelining is supported, matching the
// concurrency model's single-outstanding-statement rule.
type Session struct {
	ch     Channel
	r      *bufio.Reader
	isOpen bool
}

// Open installs ch as the session's active channel. Establishing the
// underlying byte stream (dialing a serial port, opening a websocket) is a
// collaborator's concern; Session only ever drives an already-open Channel.
func (s *Session) Open(ch Channel) {
	s.ch = ch
	s.r = bufio.NewReader(ch)
	s.isOpen = true
}

// Close closes the underlying channel.
func (s *Session) Close() error {
	if !s.isOpen {
		return nil
	}
	s.isOpen = false
	return s.ch.Close()
}

// IsOpen reports whether a channel is currently installed.
func (s *Session) IsOpen() bool {
	return s.isOpen
}

// WaitForPrompt reads until a friendly-REPL prompt (">>> ") appears,
// interrupting any running program first. It fails with PromptTimeout if
// none arrives within timeout.
func (s *Session) WaitForPrompt(ctx context.Context, timeout time.Duration) error {
	if _, err := s.ch.Write([]byte{ctrlC}); err != nil {
		return errors.Wrap(err, "interrupting")
	}
	done := make(chan error, 1)
	go func() {
		done <- s.readUntil(">>> ")
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(PromptTimeout, err.Error())
		}
		return nil
	case <-time.After(timeout):
		return PromptTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnterRawMode switches the interpreter into raw execution mode.
func (s *Session) EnterRawMode() error {
	if _, err := s.ch.Write([]byte{ctrlA}); err != nil {
		return errors.Wrap(ProtocolError, err.Error())
	}
	return s.readUntil("raw REPL; CTRL-B to exit\r\n>")
}

// ExitRawMode returns the interpreter to its friendly REPL.
func (s *Session) ExitRawMode() error {
	if _, err := s.ch.Write([]byte{ctrlB}); err != nil {
		return errors.Wrap(ProtocolError, err.Error())
	}
	return s.readUntil(">>> ")
}

// ExecStatement sends text as a single raw-mode program and returns its
// parsed reply.
func (s *Session) ExecStatement(text string) (Reply, error) {
	if _, err := s.ch.Write([]byte(text)); err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	if _, err := s.ch.Write([]byte{ctrlD}); err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	return s.readReply()
}

// ExecFile reads hostPath and executes its contents as a single raw-mode
// program.
func (s *Session) ExecFile(hostPath string, readFile func(string) ([]byte, error)) (Reply, error) {
	body, err := readFile(hostPath)
	if err != nil {
		return Reply{}, errors.Wrap(err, "reading host file")
	}
	return s.ExecStatement(string(body))
}

// RemoveFile removes devicePath through a raw-mode os.remove call.
func (s *Session) RemoveFile(devicePath string) error {
	reply, err := s.ExecStatement("import os\nos.remove(" + QuotePythonString(devicePath) + ")\n")
	if err != nil {
		return err
	}
	if reply.Stderr != "" {
		return errors.Errorf("removing %s: %s", devicePath, reply.Stderr)
	}
	return nil
}

// readReply consumes the "OK" <stdout> 0x04 <stderr> 0x04 framing described
// in §4.6. The '>' prompt the board prints after each raw-mode reply is
// skipped when it precedes the next reply's "OK". Any reply not starting
// with "OK" is a ProtocolError.
func (s *Session) readReply() (Reply, error) {
	first, err := s.r.ReadByte()
	if err == nil && first == '>' {
		first, err = s.r.ReadByte()
	}
	if err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	second, err := s.r.ReadByte()
	if err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	if prefix := []byte{first, second}; string(prefix) != "OK" {
		return Reply{}, errors.Wrapf(ProtocolError, "reply did not start with OK: %q", prefix)
	}
	stdout, err := s.r.ReadString(ctrlD)
	if err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	stdout = strings.TrimSuffix(stdout, string(rune(ctrlD)))
	stderr, err := s.r.ReadString(ctrlD)
	if err != nil {
		return Reply{}, errors.Wrap(ProtocolError, err.Error())
	}
	stderr = strings.TrimSuffix(stderr, string(rune(ctrlD)))
	return Reply{
		Stdout: strings.TrimSuffix(stdout, "\r\n"),
		Stderr: strings.TrimSuffix(stderr, "\r\n"),
	}, nil
}

// readUntil blocks until marker has been seen in the stream, discarding
// everything up to and including it.
func (s *Session) readUntil(marker string) error {
	var seen bytes.Buffer
	m := []byte(marker)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		seen.WriteByte(b)
		if seen.Len() > len(m) {
			seen.Next(seen.Len() - len(m))
		}
		if bytes.Equal(seen.Bytes(), m) {
			return nil
		}
	}
}

// QuotePythonString quotes s as a single-quoted Python string literal,
// escaping embedded quotes and backslashes. Every remote statement that
// interpolates a host-supplied value (paths, archive names) must go
// through this rather than raw string concatenation.
func QuotePythonString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// QuotePythonBytes renders data as a Python bytes literal (b'\x..\x..'),
// the wire format for any binary payload (chunk+CRC, an expected digest)
// sent down to the board inside a raw-mode statement.
func QuotePythonBytes(data []byte) string {
	var b strings.Builder
	b.WriteByte('b')
	b.WriteByte('\'')
	for _, c := range data {
		fmt.Fprintf(&b, "\\x%02x", c)
	}
	b.WriteByte('\'')
	return b.String()
}
