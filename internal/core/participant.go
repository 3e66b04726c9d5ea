package core

import (
	"sort"

	"github.com/google/uuid"
)

// Participant is a named, non-privileged identity within a room. The
// name is unique within the room and immutable; the token authenticates
// later reconnections. Participants are never removed individually — a
// disconnect leaves the identity reserved until the room is destroyed.
type Participant struct {
	Endpoint
	token string
}

func newParticipant(name string) *Participant {
	p := &Participant{token: uuid.NewString()}
	p.name = name
	return p
}

// Token returns the reconnection secret issued at registration.
func (p *Participant) Token() string {
	return p.token
}

// pool maps participant names to identities for one room. It is guarded
// by the owning room's mutex.
type pool struct {
	byName map[string]*Participant
}

func newPool() pool {
	return pool{byName: make(map[string]*Participant)}
}

func (pl *pool) get(name string) *Participant {
	return pl.byName[name]
}

func (pl *pool) add(p *Participant) {
	pl.byName[p.Name()] = p
}

func (pl *pool) count() int {
	return len(pl.byName)
}

func (pl *pool) list() []*Participant {
	out := make([]*Participant, 0, len(pl.byName))
	for _, p := range pl.byName {
		out = append(out, p)
	}
	return out
}

func (pl *pool) names() []string {
	out := make([]string, 0, len(pl.byName))
	for name := range pl.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
