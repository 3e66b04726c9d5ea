package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"beam/relay/internal/protocol"
)

const (
	writeTimeout  = 5 * time.Second
	readTimeout   = 60 * time.Second
	pingInterval  = 54 * time.Second
	sendBuffer    = 64
	maxFrameBytes = 1 << 20
)

var errSendBufferFull = errors.New("ws: send buffer full")

// conn adapts one gorilla websocket connection to core.Channel. Sends
// are queued on a buffered channel drained by the write pump, so Send
// never blocks the caller; a full buffer is reported as a failed send
// and left to the endpoint's queue-and-flush handling.
type conn struct {
	ws  *websocket.Conn
	out chan []byte

	closeOnce sync.Once
	done      chan struct{}

	// closeCode records the relay-issued close status, if any, so the
	// read loop can account for the disconnect with the right code.
	closeCode atomic.Int64
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:   ws,
		out:  make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues one outbound message without blocking.
func (c *conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("ws: connection closed")
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close delivers code as the websocket close status and tears the
// connection down. Subsequent calls are no-ops.
func (c *conn) Close(code protocol.CloseCode) error {
	c.closeOnce.Do(func() {
		c.closeCode.Store(int64(code))
		close(c.done)
		msg := websocket.FormatCloseMessage(int(code), "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

// issuedCloseCode returns the relay-issued close status, or the code the
// peer closed with, or 1006 for an abnormal drop.
func (c *conn) issuedCloseCode(readErr error) protocol.CloseCode {
	if code := c.closeCode.Load(); code != 0 {
		return protocol.CloseCode(code)
	}
	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		return protocol.CloseCode(closeErr.Code)
	}
	return protocol.CloseCode(websocket.CloseAbnormalClosure)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
