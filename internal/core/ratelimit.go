package core

import (
	"sync"
	"time"
)

// OwnershipLimiter caps how many rooms a single IP may own at once. A
// room occupies a slot from creation until teardown; the cap itself is
// enforced by the caller (the create endpoint), not here.
type OwnershipLimiter struct {
	max int

	mu    sync.Mutex
	owned map[string]int
}

// NewOwnershipLimiter returns a limiter allowing max rooms per IP.
func NewOwnershipLimiter(max int) *OwnershipLimiter {
	return &OwnershipLimiter{max: max, owned: make(map[string]int)}
}

// Owns returns the number of rooms currently owned by ip.
func (l *OwnershipLimiter) Owns(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owned[ip]
}

// AtCap reports whether ip has reached the ownership cap.
func (l *OwnershipLimiter) AtCap(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owned[ip] >= l.max
}

// Own records one more room owned by ip.
func (l *OwnershipLimiter) Own(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owned[ip]++
}

// Disown releases one ownership slot for ip. The count never goes
// negative and zero-count entries are dropped to keep the map bounded.
func (l *OwnershipLimiter) Disown(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.owned[ip]; n > 1 {
		l.owned[ip] = n - 1
	} else {
		delete(l.owned, ip)
	}
}

// JoinLimitConfig tunes the per-room registration strike limiter.
type JoinLimitConfig struct {
	// MaxStrikes is the number of strikes inside one window that
	// triggers a ban.
	MaxStrikes int
	// Window is the strike-accumulation window.
	Window time.Duration
	// BanFor is how long an IP stays banned once it strikes out.
	BanFor time.Duration
}

// DefaultJoinLimits mirrors the long-standing production defaults:
// three rapid attempts inside one second earn a 200-second ban.
func DefaultJoinLimits() JoinLimitConfig {
	return JoinLimitConfig{
		MaxStrikes: 3,
		Window:     time.Second,
		BanFor:     200 * time.Second,
	}
}

type joinRecord struct {
	strikes     int
	windowStart time.Time
	bannedUntil time.Time
}

// JoinLimiter tracks registration attempts per IP for one room. It is a
// sliding-strike limiter, not a token bucket: attempts inside one window
// accumulate strikes, a gap longer than the window resets them, and
// striking out earns a timed ban. Records live as long as the room.
type JoinLimiter struct {
	cfg JoinLimitConfig
	now func() time.Time

	mu      sync.Mutex
	records map[string]*joinRecord
}

// NewJoinLimiter returns a limiter with the given tuning.
func NewJoinLimiter(cfg JoinLimitConfig) *JoinLimiter {
	return &JoinLimiter{
		cfg:     cfg,
		now:     time.Now,
		records: make(map[string]*joinRecord),
	}
}

// Allow records one registration attempt from ip and reports whether it
// may proceed. A denied attempt never leaks strike state to the caller
// beyond the boolean.
func (l *JoinLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.records[ip]
	if rec == nil {
		rec = &joinRecord{}
		l.records[ip] = rec
	}

	t := l.now()
	if t.Before(rec.bannedUntil) {
		return false
	}
	rec.bannedUntil = time.Time{}

	if t.Sub(rec.windowStart) < l.cfg.Window {
		rec.strikes++
		if rec.strikes >= l.cfg.MaxStrikes {
			rec.bannedUntil = t.Add(l.cfg.BanFor)
			return false
		}
	} else {
		rec.strikes = 0
		rec.windowStart = t
	}
	return true
}
