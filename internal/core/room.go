package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"beam/relay/internal/protocol"
)

// Room is one relay session: a short code, one privileged owner and a
// bounded set of named participants. All mutable state is guarded by mu;
// rooms are fully independent of each other, so no cross-room ordering
// exists.
type Room struct {
	code        string
	ownerSecret string
	capacity    int // <= 0 means unbounded; bounds participants only
	ownerIP     string

	joins *JoinLimiter

	mu     sync.Mutex
	dead   bool
	locked bool
	p2p    bool
	owner  Endpoint
	pool   pool
	active int

	// Idle-reap bookkeeping: reapGen invalidates a scheduled teardown
	// that lost the race against a new connection.
	reapGen   uint64
	reapTimer *time.Timer

	relayed atomic.Uint64
}

func newRoom(code string, capacity int, ownerIP string, limits JoinLimitConfig) *Room {
	return &Room{
		code:        code,
		ownerSecret: uuid.NewString(),
		capacity:    capacity,
		ownerIP:     ownerIP,
		joins:       NewJoinLimiter(limits),
		pool:        newPool(),
	}
}

// Code returns the room's registry code, including any prefix.
func (r *Room) Code() string {
	return r.code
}

// OwnerSecret returns the secret required for owner operations.
func (r *Room) OwnerSecret() string {
	return r.ownerSecret
}

// OwnerIP returns the address that created the room.
func (r *Room) OwnerIP() string {
	return r.ownerIP
}

// Locked reports whether the owner has locked the room.
func (r *Room) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

func (r *Room) setLocked(locked bool) {
	r.mu.Lock()
	r.locked = locked
	r.mu.Unlock()
	slog.Debug("room lock changed", "room", r.code, "locked", locked)
}

func (r *Room) setP2P(on bool) {
	r.mu.Lock()
	r.p2p = on
	r.mu.Unlock()
	slog.Debug("room p2p mode changed", "room", r.code, "p2p", on)
}

// Participant returns the named identity, or nil.
func (r *Room) Participant(name string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.get(name)
}

// ParticipantCount returns the number of registered identities,
// connected or not.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.count()
}

// ActiveConnections returns the number of currently-bound live channels
// across the owner and all participants.
func (r *Room) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// register admits a brand-new participant identity. Checks run in
// protocol order; the first violated precondition wins. On success the
// channel is bound, the join is announced to the owner (and to existing
// participants in p2p mode) and the active-connection count is bumped.
func (r *Room) register(name, ip string, ch Channel) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.dead:
		return nil, &Rejection{Code: protocol.CodeRoomNotFound}
	case r.locked:
		return nil, &Rejection{Code: protocol.CodeRoomLocked}
	case r.capacity > 0 && r.pool.count() >= r.capacity:
		return nil, &Rejection{Code: protocol.CodeRoomFull}
	case r.pool.get(name) != nil:
		return nil, &Rejection{Code: protocol.CodeNameTaken}
	case name == "":
		return nil, &Rejection{Code: protocol.CodeNameEmpty}
	}
	if !r.joins.Allow(ip) {
		return nil, &Rejection{Code: protocol.CodeBanned}
	}

	announcement := protocol.Message{Type: protocol.TypeJoin, User: name}
	r.owner.Deliver(announcement)
	if r.p2p {
		for _, other := range r.pool.list() {
			other.Deliver(announcement)
		}
	}

	p := newParticipant(name)
	p.Bind(ch)
	r.pool.add(p)
	r.connOpenedLocked()

	slog.Info("participant registered", "room", r.code, "name", name, "participants", r.pool.count())
	return p, nil
}

// reconnect rebinds an existing identity to a new channel after token
// verification. A failed check leaves the existing binding untouched; a
// successful one supersedes it and announces the reconnect to the owner.
func (r *Room) reconnect(name, token string, ch Channel) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return nil, &Rejection{Code: protocol.CodeRoomNotFound}
	}
	p := r.pool.get(name)
	if p == nil {
		return nil, &Rejection{Code: protocol.CodeNameNotFound}
	}
	if p.Token() != token {
		return nil, &Rejection{Code: protocol.CodeTokenMismatch}
	}

	p.Bind(ch)
	r.owner.Deliver(protocol.Message{Type: protocol.TypeReconnect, User: name})
	r.connOpenedLocked()

	slog.Info("participant reconnected", "room", r.code, "name", name)
	return p, nil
}

// connectOwner binds a channel as the privileged owner identity. If
// participants already exist the owner receives the full roster.
func (r *Room) connectOwner(secret string, ch Channel) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return nil, &Rejection{Code: protocol.CodeRoomNotFound}
	}
	if secret != r.ownerSecret {
		return nil, &Rejection{Code: protocol.CodeOwnerMismatch}
	}

	r.owner.Bind(ch)
	if r.pool.count() > 0 {
		r.owner.Deliver(protocol.Message{Type: protocol.TypeRoster, Users: r.pool.names()})
	}
	r.connOpenedLocked()

	slog.Info("owner connected", "room", r.code)
	return &r.owner, nil
}

func (r *Room) connOpenedLocked() {
	r.active++
	r.cancelReapLocked()
}

// connClosed accounts for one closed connection and reports whether the
// room just went idle. Departures caused by relay-issued closes are not
// announced.
func (r *Room) connClosed(name string, code protocol.CloseCode) (idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return false
	}
	r.active--
	if name != "" && !code.Relayed() {
		r.owner.Deliver(protocol.Message{Type: protocol.TypeLeft, User: name})
		slog.Debug("participant disconnected", "room", r.code, "name", name, "code", int(code))
	}
	return r.active == 0
}

func (r *Room) cancelReapLocked() {
	r.reapGen++
	if r.reapTimer != nil {
		r.reapTimer.Stop()
		r.reapTimer = nil
	}
}

// armReap schedules fire after grace unless the room regains a
// connection first. The generation check at fire time makes the
// schedule/cancel race safe: a stale timer that already slipped past
// Stop sees a newer generation and gives up.
func (r *Room) armReap(grace time.Duration, fire func(*Room)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead || r.active > 0 {
		return
	}
	r.reapGen++
	gen := r.reapGen
	if r.reapTimer != nil {
		r.reapTimer.Stop()
	}
	r.reapTimer = time.AfterFunc(grace, func() {
		if r.reapStillDue(gen) {
			fire(r)
		}
	})
	slog.Debug("room idle, teardown scheduled", "room", r.code, "grace", grace)
}

func (r *Room) reapStillDue(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dead && r.reapGen == gen && r.active == 0
}

// close marks the room dead and force-closes every channel with a
// room-closing status, best-effort. Safe to call once only, enforced by
// the caller (the registry).
func (r *Room) close() {
	r.mu.Lock()
	r.dead = true
	r.cancelReapLocked()
	participants := r.pool.list()
	r.mu.Unlock()

	r.owner.closeChannel(protocol.CodeRoomClosing)
	for _, p := range participants {
		p.closeChannel(protocol.CodeRoomClosing)
	}
}

// Snapshot is a read-only view of a room for inspection surfaces.
type Snapshot struct {
	Code         string   `json:"code"`
	Participants []string `json:"participants"`
	Locked       bool     `json:"locked"`
	Capacity     int      `json:"capacity"`
	Active       int      `json:"active_connections"`
}

// Snapshot returns the room's current state for read-only display.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Code:         r.code,
		Participants: r.pool.names(),
		Locked:       r.locked,
		Capacity:     r.capacity,
		Active:       r.active,
	}
}
