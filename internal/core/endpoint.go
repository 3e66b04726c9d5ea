package core

import (
	"log/slog"
	"sync"

	"beam/relay/internal/protocol"
)

// maxPending is the number of encoded messages buffered for a
// disconnected endpoint awaiting reconnection. Past this the oldest
// entries are evicted.
const maxPending = 512

// Channel is the transport-facing side of one live connection. The core
// never owns the underlying connection; it only binds and unbinds it.
// Send and Close are best-effort from the core's perspective: callers
// that intend fire-and-forget discard the error explicitly.
type Channel interface {
	// Send queues one outbound message. It must not block on anything
	// other than momentary transport backpressure.
	Send(data []byte) error
	// Close terminates the connection with a close status. Closing an
	// already-gone connection is not an error.
	Close(code protocol.CloseCode) error
}

// Endpoint is one addressable identity inside a room: the owner or a
// named participant. At most one live channel is bound at a time; a new
// binding supersedes (and closes) the previous one. Messages delivered
// while no channel is bound are queued and flushed on the next bind.
type Endpoint struct {
	name string // empty for the owner

	mu      sync.Mutex
	ch      Channel
	pending [][]byte
}

// Name returns the endpoint's display name, empty for the owner.
func (e *Endpoint) Name() string {
	return e.name
}

// Bound reports whether a live channel is currently attached.
func (e *Endpoint) Bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch != nil
}

// Bind attaches ch as the endpoint's live channel. Any previous channel
// is closed with an overridden status, best-effort. Queued messages are
// flushed to the new channel in delivery order.
func (e *Endpoint) Bind(ch Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ch != nil {
		_ = e.ch.Close(protocol.CodeOverridden)
	}
	e.ch = ch

	for len(e.pending) > 0 {
		data := e.pending[0]
		e.pending = e.pending[1:]
		if err := ch.Send(data); err != nil {
			// New channel is already failing; put the message back and
			// let the next bind retry.
			e.pending = append([][]byte{data}, e.pending...)
			return
		}
	}
	e.pending = nil
}

// unbindIf detaches ch if it is still the bound channel. A connection
// that was superseded must not detach its successor.
func (e *Endpoint) unbindIf(ch Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == ch {
		e.ch = nil
	}
}

// closeChannel closes the bound channel with code, best-effort, and
// detaches it.
func (e *Endpoint) closeChannel(code protocol.CloseCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		_ = e.ch.Close(code)
		e.ch = nil
	}
}

// Deliver encodes and delivers one message to the endpoint, queueing it
// if no channel is bound or the send fails.
func (e *Endpoint) Deliver(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("drop undeliverable message", "type", msg.Type, "err", err)
		return
	}
	e.deliver(data)
}

func (e *Endpoint) deliver(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ch != nil {
		if err := e.ch.Send(data); err == nil {
			return
		}
	}
	if len(e.pending) >= maxPending {
		e.pending = e.pending[1:]
	}
	e.pending = append(e.pending, data)
}
