package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte{byte(CmdSend), '{', '}'})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Cmd != CmdSend || string(f.Payload) != "{}" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	if _, err := DecodeFrame(nil); !errors.Is(err, ErrFrameEmpty) {
		t.Fatalf("expected ErrFrameEmpty, got %v", err)
	}

	// A bare command byte carries an empty payload.
	f, err = DecodeFrame([]byte{byte(CmdLock)})
	if err != nil {
		t.Fatalf("decode bare command: %v", err)
	}
	if f.Cmd != CmdLock || len(f.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestParseAddressedTargets(t *testing.T) {
	a, err := ParseAddressed([]byte(`{"to":1,"content":{"x":1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n, ok := a.To.(float64); !ok || int(n) != ToOwner {
		t.Fatalf("numeric target: got %#v", a.To)
	}

	a, err = ParseAddressed([]byte(`{"to":"alice","content":"hi"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name, ok := a.To.(string); !ok || name != "alice" {
		t.Fatalf("named target: got %#v", a.To)
	}

	if _, err := ParseAddressed([]byte(`nope`)); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestParseBatchKeepsOrder(t *testing.T) {
	batch, err := ParseBatch([]byte(`[{"to":1,"content":1},{"to":2,"content":2},{"to":"bob","content":3}]`))
	if err != nil {
		t.Fatalf("parse batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(batch))
	}
	for i, a := range batch {
		if string(a.Content) != string(rune('1'+i)) {
			t.Fatalf("entry %d out of order: %s", i, a.Content)
		}
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	data, err := Encode(Message{Type: TypeLeft, User: "alice"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected only type and user on the wire, got %s", data)
	}
	for _, key := range []string{"type", "user"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing %q in %s", key, data)
		}
	}
}

func TestRelayedCodes(t *testing.T) {
	for _, code := range []CloseCode{CodeRoomNotFound, CodeOverridden, CodeRoomClosing, CodeBanned} {
		if !code.Relayed() {
			t.Fatalf("code %d should read as relay-issued", code)
		}
	}
	for _, code := range []CloseCode{1000, 1001, 1006} {
		if code.Relayed() {
			t.Fatalf("transport code %d should not read as relay-issued", code)
		}
	}
}
