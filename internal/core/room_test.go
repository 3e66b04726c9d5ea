package core

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"beam/relay/internal/protocol"
)

func TestRoomRegisterAnnouncesAndBinds(t *testing.T) {
	r := newTestRoom(0)
	ownerCh := &fakeChannel{}
	r.owner.Bind(ownerCh)

	ch := &fakeChannel{}
	p, err := r.register("alice", "10.0.0.1", ch)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Name() != "alice" {
		t.Fatalf("name: got %q", p.Name())
	}
	if p.Token() == "" {
		t.Fatal("expected a reconnection token")
	}
	if !p.Bound() {
		t.Fatal("expected channel bound after register")
	}
	if r.ParticipantCount() != 1 {
		t.Fatalf("participant count: got %d, want 1", r.ParticipantCount())
	}

	msg := lastMessage(t, ownerCh)
	if msg.Type != protocol.TypeJoin || msg.User != "alice" {
		t.Fatalf("owner announcement: got %+v", msg)
	}
}

func TestRoomRegisterRejections(t *testing.T) {
	r := newTestRoom(1)
	if _, err := r.register("alice", "10.0.0.1", &fakeChannel{}); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	if _, err := r.register("bob", "10.0.0.2", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeRoomFull {
		t.Fatalf("expected room-full, got %v", err)
	}

	r.capacity = 2
	if _, err := r.register("alice", "10.0.0.3", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeNameTaken {
		t.Fatalf("expected name-taken, got %v", err)
	}
	if _, err := r.register("", "10.0.0.3", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeNameEmpty {
		t.Fatalf("expected name-empty, got %v", err)
	}

	r.setLocked(true)
	if _, err := r.register("carol", "10.0.0.4", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeRoomLocked {
		t.Fatalf("expected locked, got %v", err)
	}
}

func TestRoomRegisterBansRapidAttempts(t *testing.T) {
	r := newTestRoom(0)
	// The fake clock never advances, so every attempt lands in the same
	// strike window.
	clk := newFakeClock()
	r.joins.now = clk.now

	for i, name := range []string{"a", "b", "c"} {
		if _, err := r.register(name, "10.0.0.9", &fakeChannel{}); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := r.register("d", "10.0.0.9", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeBanned {
		t.Fatalf("expected ban once strikes run out, got %v", err)
	}

	// Another address is unaffected.
	if _, err := r.register("d", "10.0.0.10", &fakeChannel{}); err != nil {
		t.Fatalf("register from clean address: %v", err)
	}
}

func TestRoomReconnectVerifiesToken(t *testing.T) {
	r := newTestRoom(0)
	first := &fakeChannel{}
	p, err := r.register("alice", "10.0.0.1", first)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.reconnect("bob", p.Token(), &fakeChannel{}); rejectionCode(t, err) != protocol.CodeNameNotFound {
		t.Fatalf("expected name-not-found, got %v", err)
	}
	if _, err := r.reconnect("alice", "wrong", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeTokenMismatch {
		t.Fatalf("expected token-mismatch, got %v", err)
	}
	if !p.Bound() {
		t.Fatal("failed reconnect must leave the existing binding intact")
	}

	second := &fakeChannel{}
	if _, err := r.reconnect("alice", p.Token(), second); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := first.lastClose(); got != protocol.CodeOverridden {
		t.Fatalf("superseded channel close code: got %d, want %d", got, protocol.CodeOverridden)
	}
}

func TestRoomReconnectFlushesPendingInOrder(t *testing.T) {
	r := newTestRoom(0)
	p, err := r.register("alice", "10.0.0.1", &fakeChannel{failSend: true})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	p.Deliver(protocol.Message{Type: protocol.TypeRelay, Content: json.RawMessage(`"one"`)})
	p.Deliver(protocol.Message{Type: protocol.TypeRelay, Content: json.RawMessage(`"two"`)})

	fresh := &fakeChannel{}
	if _, err := r.reconnect("alice", p.Token(), fresh); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	msgs := fresh.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 flushed messages, got %d", len(msgs))
	}
	if string(msgs[0].Content) != `"one"` || string(msgs[1].Content) != `"two"` {
		t.Fatalf("flush order wrong: %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestRoomOwnerConnect(t *testing.T) {
	r := newTestRoom(0)

	if _, err := r.connectOwner("wrong", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeOwnerMismatch {
		t.Fatalf("expected owner-mismatch, got %v", err)
	}

	// No participants yet: no roster.
	empty := &fakeChannel{}
	if _, err := r.connectOwner(r.OwnerSecret(), empty); err != nil {
		t.Fatalf("connect owner: %v", err)
	}
	if len(empty.messages(t)) != 0 {
		t.Fatalf("expected no roster for empty room, got %d messages", len(empty.messages(t)))
	}

	if _, err := r.register("bob", "10.0.0.1", &fakeChannel{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.register("alice", "10.0.0.2", &fakeChannel{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rebind := &fakeChannel{}
	if _, err := r.connectOwner(r.OwnerSecret(), rebind); err != nil {
		t.Fatalf("reconnect owner: %v", err)
	}
	msg := lastMessage(t, rebind)
	if msg.Type != protocol.TypeRoster {
		t.Fatalf("expected roster, got %+v", msg)
	}
	if len(msg.Users) != 2 || msg.Users[0] != "alice" || msg.Users[1] != "bob" {
		t.Fatalf("roster should list names sorted: %v", msg.Users)
	}
}

func TestRoomP2PAnnouncesJoinsToParticipants(t *testing.T) {
	r := newTestRoom(0)
	aliceCh := &fakeChannel{}
	if _, err := r.register("alice", "10.0.0.1", aliceCh); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	r.setP2P(true)
	if _, err := r.register("bob", "10.0.0.2", &fakeChannel{}); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	msg := lastMessage(t, aliceCh)
	if msg.Type != protocol.TypeJoin || msg.User != "bob" {
		t.Fatalf("expected bob's join announced to alice, got %+v", msg)
	}
}

func TestRoomConnClosedAnnouncesDeparture(t *testing.T) {
	r := newTestRoom(0)
	ownerCh := &fakeChannel{}
	r.owner.Bind(ownerCh)
	if _, err := r.register("alice", "10.0.0.1", &fakeChannel{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A peer-initiated close is announced.
	if idle := r.connClosed("alice", 1001); idle {
		t.Fatal("room should not be idle while the owner is connected")
	}
	msg := lastMessage(t, ownerCh)
	if msg.Type != protocol.TypeLeft || msg.User != "alice" {
		t.Fatalf("expected departure announcement, got %+v", msg)
	}

	// A relay-issued close (override, teardown) is not.
	before := len(ownerCh.messages(t))
	_ = r.connClosed("alice", protocol.CodeOverridden)
	if got := len(ownerCh.messages(t)); got != before {
		t.Fatalf("override close must not be announced, got %d new messages", got-before)
	}
}

func TestRoomCloseEvictsEveryone(t *testing.T) {
	r := newTestRoom(0)
	ownerCh := &fakeChannel{}
	if _, err := r.connectOwner(r.OwnerSecret(), ownerCh); err != nil {
		t.Fatalf("connect owner: %v", err)
	}
	aliceCh := &fakeChannel{}
	if _, err := r.register("alice", "10.0.0.1", aliceCh); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.close()

	if ownerCh.lastClose() != protocol.CodeRoomClosing {
		t.Fatalf("owner close code: got %d", ownerCh.lastClose())
	}
	if aliceCh.lastClose() != protocol.CodeRoomClosing {
		t.Fatalf("participant close code: got %d", aliceCh.lastClose())
	}

	// A dead room refuses everything.
	if _, err := r.register("bob", "10.0.0.2", &fakeChannel{}); rejectionCode(t, err) != protocol.CodeRoomNotFound {
		t.Fatalf("expected not-found from dead room, got %v", err)
	}
	if _, err := r.connectOwner(r.OwnerSecret(), &fakeChannel{}); rejectionCode(t, err) != protocol.CodeRoomNotFound {
		t.Fatalf("expected not-found from dead room, got %v", err)
	}
}

func newTestRoom(capacity int) *Room {
	return newRoom("TEST", capacity, "10.0.0.250", DefaultJoinLimits())
}

// fakeChannel records sends and closes for assertions.
type fakeChannel struct {
	mu       sync.Mutex
	sent     [][]byte
	closes   []protocol.CloseCode
	failSend bool
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close(code protocol.CloseCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes = append(c.closes, code)
	return nil
}

func (c *fakeChannel) lastClose() protocol.CloseCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) == 0 {
		return 0
	}
	return c.closes[len(c.closes)-1]
}

func (c *fakeChannel) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.sent))
	for _, data := range c.sent {
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode sent message %q: %v", data, err)
		}
		out = append(out, msg)
	}
	return out
}

func lastMessage(t *testing.T, c *fakeChannel) protocol.Message {
	t.Helper()
	msgs := c.messages(t)
	if len(msgs) == 0 {
		t.Fatal("expected at least one message")
	}
	return msgs[len(msgs)-1]
}

func rejectionCode(t *testing.T, err error) protocol.CloseCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected a rejection, got nil error")
	}
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected *Rejection, got %T: %v", err, err)
	}
	return rej.Code
}
