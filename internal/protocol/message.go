package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types sent by the relay.
const (
	TypeToken     = "su"         // reconnection token, sent once to a new participant
	TypeRoster    = "userlist"   // full participant list, sent to a newly bound owner
	TypeJoin      = "userappend" // a brand-new participant registered
	TypeReconnect = "userjoin"   // a known participant reconnected
	TypeLeft      = "userleft"   // a participant's connection dropped
	TypeRelay     = "msg"        // relayed application content
)

// Message is the JSON envelope for everything the relay sends. Content is
// opaque to the relay and forwarded verbatim.
type Message struct {
	Type    string          `json:"type"`
	Token   string          `json:"su,omitempty"`
	User    string          `json:"user,omitempty"`
	Users   []string        `json:"users,omitempty"`
	From    string          `json:"from,omitempty"`
	Content json.RawMessage `json:"am,omitempty"`
}

// Encode marshals a message for the wire. Marshal failure is a programming
// error (the envelope contains no unmarshalable types) but is surfaced
// anyway rather than panicking.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Addressed is one routed message inside a send or send-batch frame.
// To is 1 for the owner, 2 for all participants, or a participant name.
type Addressed struct {
	To      any             `json:"to"`
	Content json.RawMessage `json:"content"`
}

// Routing targets for Addressed.To.
const (
	ToOwner     = 1
	ToBroadcast = 2
)

// ErrFrameEmpty is returned for a zero-length inbound frame.
var ErrFrameEmpty = errors.New("empty frame")

// Frame is one decoded inbound frame: a command byte and its payload.
type Frame struct {
	Cmd     Command
	Payload []byte
}

// DecodeFrame splits a raw inbound frame into command byte and payload.
// The payload slice aliases data; callers must not retain it past the
// read-loop iteration.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrFrameEmpty
	}
	return Frame{Cmd: Command(data[0]), Payload: data[1:]}, nil
}

// ParseAddressed decodes a send payload.
func ParseAddressed(payload []byte) (Addressed, error) {
	var a Addressed
	if err := json.Unmarshal(payload, &a); err != nil {
		return Addressed{}, fmt.Errorf("parse addressed message: %w", err)
	}
	return a, nil
}

// ParseBatch decodes a send-batch payload into its ordered parts.
func ParseBatch(payload []byte) ([]Addressed, error) {
	var batch []Addressed
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	return batch, nil
}
