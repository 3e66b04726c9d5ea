package core

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"beam/relay/internal/protocol"
)

// Params are the three identity inputs extracted from a channel-open
// request. HasName distinguishes an absent name parameter from a present
// but empty one; only the latter is a malformed registration.
type Params struct {
	Code    string
	Name    string
	HasName bool
	Token   string
}

// Rejection is a refused admission, carried as an error so transports
// can match it with errors.As and close the channel with the exact code.
type Rejection struct {
	Code protocol.CloseCode
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected (close code %d)", int(r.Code))
}

// Session is one admitted connection bound to an identity inside a room.
// The transport calls HandleFrame for every inbound frame and Disconnect
// exactly once when the connection ends.
type Session struct {
	registry    *Registry
	room        *Room
	endpoint    *Endpoint
	participant *Participant // nil when the session is the owner
	ch          Channel

	closed atomic.Bool
}

// Owner reports whether the session holds the privileged owner identity.
func (s *Session) Owner() bool {
	return s.participant == nil
}

// Room returns the session's room.
func (s *Session) Room() *Room {
	return s.room
}

func (s *Session) senderName() string {
	if s.participant != nil {
		return s.participant.Name()
	}
	return ""
}

// Admit runs the one-time admission protocol for a freshly opened
// channel. Intent is classified from the presence of name and token:
// name alone registers a new participant, name plus token resumes an
// existing one, token alone binds the owner. Every failure is returned
// as a *Rejection whose code the transport delivers as the close status.
func Admit(reg *Registry, params Params, ip string, ch Channel) (*Session, error) {
	room := reg.Lookup(params.Code)
	if room == nil {
		return nil, &Rejection{Code: protocol.CodeRoomNotFound}
	}

	sess := &Session{registry: reg, room: room, ch: ch}
	registering := params.HasName && params.Token == ""
	reconnecting := params.HasName && params.Token != ""
	ownerConnecting := !params.HasName && params.Token != ""

	switch {
	case registering:
		p, err := room.register(params.Name, ip, ch)
		if err != nil {
			return nil, err
		}
		p.Deliver(protocol.Message{Type: protocol.TypeToken, Token: p.Token()})
		sess.participant = p
		sess.endpoint = &p.Endpoint

	case reconnecting:
		p, err := room.reconnect(params.Name, params.Token, ch)
		if err != nil {
			return nil, err
		}
		sess.participant = p
		sess.endpoint = &p.Endpoint

	case ownerConnecting:
		owner, err := room.connectOwner(params.Token, ch)
		if err != nil {
			return nil, err
		}
		sess.endpoint = owner

	default:
		// Neither a name nor a token: no identity to admit under.
		return nil, &Rejection{Code: protocol.CodeNameEmpty}
	}

	return sess, nil
}

// Disconnect accounts for the end of the session's connection. code is
// the close status the channel terminated with; relay-issued codes
// (override, room closing, rejections) suppress the departure
// announcement. When the room goes idle the reaper clock starts.
// Safe to call more than once; only the first call has effect.
func (s *Session) Disconnect(code protocol.CloseCode) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	// A superseded connection must not detach its successor's channel.
	s.endpoint.unbindIf(s.ch)

	if idle := s.room.connClosed(s.senderName(), code); idle {
		s.registry.ScheduleReap(s.room)
	}
	slog.Debug("session ended", "room", s.room.Code(), "name", s.senderName(), "code", int(code))
}
