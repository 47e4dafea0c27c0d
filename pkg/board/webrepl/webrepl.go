// Package webrepl binds the board session façade (pkg/board) to a
// WebREPL websocket instead of a serial port. MicroPython boards that
// expose WebREPL speak the same raw-mode protocol over a websocket
// connection carrying the same byte stream a serial link would; only the
// framing of the transport differs.
package webrepl

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/arduino/upy-packager/internal/bufiox"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Channel adapts a WebREPL websocket connection to board.Channel. Reads are
// served from a byte stream that a background goroutine keeps filled as
// websocket messages (which arrive as discrete frames, not a byte stream)
// come in; Writes are sent as individual binary messages.
type Channel struct {
	conn   *websocket.Conn
	stream *bufiox.Stream
	done   chan struct{}
}

// Dial opens a WebREPL connection to addr (host:port or a full ws(s):// URL)
// and authenticates with password, mirroring the WebREPL login prompt.
func Dial(addr, password string) (*Channel, error) {
	u := addr
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		u = "ws://" + addr + "/"
	}
	if _, err := url.Parse(u); err != nil {
		return nil, errors.Wrapf(err, "invalid webrepl address %q", addr)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{})
	if err != nil {
		return nil, errors.Wrap(err, "dialing webrepl")
	}
	c := &Channel{
		conn:   conn,
		stream: bufiox.NewStream(),
		done:   make(chan struct{}),
	}
	go c.pump()
	if password != "" {
		if err := c.login(password); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// pump copies incoming websocket messages into the buffered pipe until the
// connection closes.
func (c *Channel) pump() {
	defer close(c.done)
	defer c.stream.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := c.stream.Write(data); err != nil {
			return
		}
	}
}

func (c *Channel) login(password string) error {
	buf := make([]byte, 64)
	n, err := c.stream.Read(buf)
	if err != nil {
		return errors.Wrap(err, "reading webrepl password prompt")
	}
	if !strings.Contains(string(buf[:n]), "Password") {
		return errors.New("unexpected webrepl login prompt")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, []byte(password+"\r"))
}

// Read implements board.Channel.
func (c *Channel) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

// Write implements board.Channel.
func (c *Channel) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements board.Channel.
func (c *Channel) Close() error {
	return c.conn.Close()
}
