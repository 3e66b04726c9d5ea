package core

import (
	"log/slog"

	"beam/relay/internal/protocol"
)

// HandleFrame processes one inbound frame from an admitted session.
// Frames are processed in arrival order for a given session; a malformed
// frame is dropped without affecting the connection, and privileged
// commands from non-owner senders are silently ignored.
func (s *Session) HandleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		slog.Debug("drop malformed frame", "room", s.room.Code(), "err", err)
		return
	}

	switch frame.Cmd {
	case protocol.CmdDiscard:
		// Keepalive no-op.

	case protocol.CmdSend:
		a, err := protocol.ParseAddressed(frame.Payload)
		if err != nil {
			slog.Debug("drop malformed send", "room", s.room.Code(), "err", err)
			return
		}
		s.route(a)

	case protocol.CmdSendBatch:
		batch, err := protocol.ParseBatch(frame.Payload)
		if err != nil {
			slog.Debug("drop malformed batch", "room", s.room.Code(), "err", err)
			return
		}
		for _, a := range batch {
			s.route(a)
		}

	case protocol.CmdLock:
		if s.Owner() {
			s.room.setLocked(true)
		}
	case protocol.CmdUnlock:
		if s.Owner() {
			s.room.setLocked(false)
		}
	case protocol.CmdP2POn:
		if s.Owner() {
			s.room.setP2P(true)
		}
	case protocol.CmdP2POff:
		if s.Owner() {
			s.room.setP2P(false)
		}

	default:
		// Unknown commands are ignored so old clients stay usable
		// across additions to the command set.
	}
}

// route resolves one addressed message and delivers it. Delivery is
// fire-and-forget: a missing recipient or dead channel is swallowed, the
// sender is never told.
func (s *Session) route(a protocol.Addressed) {
	msg := protocol.Message{
		Type:    protocol.TypeRelay,
		From:    s.senderName(),
		Content: a.Content,
	}

	switch to := a.To.(type) {
	case float64: // JSON numbers decode as float64
		switch int(to) {
		case protocol.ToOwner:
			s.deliverToOwner(msg)
		case protocol.ToBroadcast:
			s.broadcast(msg)
		}
	case string:
		s.deliverToParticipant(to, msg)
	}
}

func (s *Session) deliverToOwner(msg protocol.Message) {
	s.room.relayed.Add(1)
	s.room.owner.Deliver(msg)
}

func (s *Session) deliverToParticipant(name string, msg protocol.Message) {
	p := s.room.Participant(name)
	if p == nil {
		return
	}
	s.room.relayed.Add(1)
	p.Deliver(msg)
}

// broadcast delivers to every participant and notifies the owner once.
// Recipients are collected inside the room's critical section and
// delivered outside it, so a slow channel never holds the room lock.
func (s *Session) broadcast(msg protocol.Message) {
	s.room.relayed.Add(1)
	s.room.mu.Lock()
	targets := s.room.pool.list()
	s.room.mu.Unlock()

	for _, p := range targets {
		p.Deliver(msg)
	}
	s.room.owner.Deliver(msg)
}
