package wt

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"

	"beam/relay/internal/protocol"
)

const (
	writeTimeout = 2 * time.Second
	sendBuffer   = 64
)

var errSendBufferFull = errors.New("wt: send buffer full")

// conn adapts one WebTransport session to core.Channel. Outbound
// messages are newline-delimited JSON on the session's control stream,
// queued on a buffered channel drained by the write pump so Send never
// blocks the caller; close codes travel as the session error code.
type conn struct {
	sess   *webtransport.Session
	stream *webtransport.Stream
	out    chan []byte

	closeOnce sync.Once
	done      chan struct{}
	closeCode atomic.Int64
}

func newConn(sess *webtransport.Session, stream *webtransport.Stream) *conn {
	c := &conn{
		sess:   sess,
		stream: stream,
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues one outbound message without blocking.
func (c *conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("wt: session closed")
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close ends the session, delivering code as the session error.
// Subsequent calls are no-ops.
func (c *conn) Close(code protocol.CloseCode) error {
	c.closeOnce.Do(func() {
		c.closeCode.Store(int64(code))
		close(c.done)
		_ = c.sess.CloseWithError(webtransport.SessionErrorCode(code), "")
	})
	return nil
}

// issuedCloseCode returns the relay-issued close status, or zero when
// the peer dropped on its own.
func (c *conn) issuedCloseCode() protocol.CloseCode {
	return protocol.CloseCode(c.closeCode.Load())
}

func (c *conn) writePump() {
	for {
		select {
		case data := <-c.out:
			_ = c.stream.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.stream.Write(append(data, '\n')); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
