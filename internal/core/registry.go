package core

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 4
)

// Registry owns the process-wide code → room table. Creation, lookup and
// destruction are serialized so code-collision checks stay atomic with
// insertion. It also drives idle reclamation: an idle room is torn down
// after the grace period unless a connection arrives first.
type Registry struct {
	owners *OwnershipLimiter
	limits JoinLimitConfig
	grace  time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry. owners is charged one slot per
// live room; limits tunes each room's join limiter; grace is the idle
// window before an unconnected room is reclaimed.
func NewRegistry(owners *OwnershipLimiter, limits JoinLimitConfig, grace time.Duration) *Registry {
	return &Registry{
		owners: owners,
		limits: limits,
		grace:  grace,
		rooms:  make(map[string]*Room),
	}
}

// Create allocates a room under a fresh collision-free code, charges the
// owner's IP one ownership slot, and starts the idle-reap clock (a room
// nobody ever connects to is reclaimed like any other idle room).
// capacity <= 0 means unbounded.
func (g *Registry) Create(capacity int, prefix, ownerIP string) *Room {
	g.mu.Lock()
	code := prefix + g.freeCodeLocked(prefix)
	room := newRoom(code, capacity, ownerIP, g.limits)
	g.rooms[code] = room
	g.mu.Unlock()

	g.owners.Own(ownerIP)
	room.armReap(g.grace, g.reap)

	slog.Info("room created", "room", code, "capacity", capacity, "owner_ip", ownerIP)
	return room
}

// freeCodeLocked draws uniform random codes until one is unused. The
// code space (26^4 per prefix) is large relative to any sane number of
// live rooms, so retries are rare; exhausting it would be a deployment
// error, not a runtime fault.
func (g *Registry) freeCodeLocked(prefix string) string {
	letters := big.NewInt(int64(len(codeAlphabet)))
	for {
		buf := make([]byte, codeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, letters)
			if err != nil {
				// crypto/rand never fails on supported platforms.
				panic("registry: read random: " + err.Error())
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		if _, taken := g.rooms[prefix+string(buf)]; !taken {
			return string(buf)
		}
	}
}

// Lookup returns the live room under code, or nil. Pure read.
func (g *Registry) Lookup(code string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[code]
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Snapshots returns read-only views of all live rooms.
func (g *Registry) Snapshots() []Snapshot {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}

// Destroy removes code from the table. A missing code is a caller bug
// (double free), logged and swallowed rather than propagated.
func (g *Registry) Destroy(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[code]; !ok {
		slog.Error("destroy of unknown room, did an earlier check fail?", "room", code)
		return
	}
	delete(g.rooms, code)
}

// Teardown closes a room and releases everything it holds: the registry
// entry, the owner's ownership slot, and every live channel.
func (g *Registry) Teardown(room *Room) {
	g.Destroy(room.Code())
	g.owners.Disown(room.OwnerIP())
	room.close()
	slog.Info("room closed", "room", room.Code())
}

// ScheduleReap starts the idle clock for a room that just lost its last
// connection. Scheduling is idempotent against concurrent admissions:
// the room re-checks its state both when arming and when firing.
func (g *Registry) ScheduleReap(room *Room) {
	room.armReap(g.grace, g.reap)
}

func (g *Registry) reap(room *Room) {
	slog.Info("idle grace expired, reclaiming room", "room", room.Code())
	g.Teardown(room)
}

// Stats reports live totals plus the number of frames relayed since the
// previous call.
func (g *Registry) Stats() (rooms, participants, active int, relayed uint64) {
	g.mu.RLock()
	snapshot := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		snapshot = append(snapshot, r)
	}
	g.mu.RUnlock()

	rooms = len(snapshot)
	for _, r := range snapshot {
		participants += r.ParticipantCount()
		active += r.ActiveConnections()
		relayed += r.relayed.Swap(0)
	}
	return rooms, participants, active, relayed
}
