package peer

import (
	"sync/atomic"
)

type Role int

const (
	RoleIdle Role = iota
	RoleHost
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleFollower:
		return "follower"
	default:
		return "idle"
	}
}

// ParseRole accepts "idle", "host" and "follow"/"follower". Anything else is idle.
func ParseRole(s string) Role {
	switch s {
	case "host", "server":
		return RoleHost
	case "follow", "follower", "client":
		return RoleFollower
	default:
		return RoleIdle
	}
}

// View is an immutable snapshot of the network session. Role is idle exactly
// when Lobby is nil.
type View struct {
	Role  Role
	Lobby *Lobby
}

func (v View) Connected() bool  { return v.Role != RoleIdle && v.Lobby != nil }
func (v View) IsHost() bool     { return v.Role == RoleHost && v.Lobby != nil }
func (v View) IsFollower() bool { return v.Role == RoleFollower && v.Lobby != nil }

func (v View) TryLobby() (*Lobby, bool) {
	if !v.Connected() {
		return nil, false
	}
	return v.Lobby, true
}

// Peer tracks the process-wide network role. Each transition installs a new
// View with a single atomic store.
type Peer struct {
	view    atomic.Pointer[View]
	changed atomic.Bool
}

func New() *Peer {
	p := &Peer{}
	p.view.Store(&View{Role: RoleIdle})
	return p
}

// View returns the current session snapshot.
func (p *Peer) View() View {
	if p == nil {
		return View{}
	}
	return *p.view.Load()
}

// Host starts an authoritative session around l.
func (p *Peer) Host(l *Lobby) {
	if l == nil {
		l = NewLobby()
	}
	p.swap(&View{Role: RoleHost, Lobby: l})
}

// Follow starts a follower session mirroring l.
func (p *Peer) Follow(l *Lobby) {
	if l == nil {
		l = NewLobby()
	}
	p.swap(&View{Role: RoleFollower, Lobby: l})
}

// Disconnect drops the session and its lobby.
func (p *Peer) Disconnect() {
	p.swap(&View{Role: RoleIdle})
}

func (p *Peer) swap(v *View) {
	prev := p.view.Swap(v)
	if prev == nil || prev.Role != v.Role || prev.Lobby != v.Lobby {
		p.changed.Store(true)
	}
}

// MarkChanged flags that the network state moved (e.g. a sync arrived).
func (p *Peer) MarkChanged() { p.changed.Store(true) }

// ConsumeChanged reports and clears the changed flag.
func (p *Peer) ConsumeChanged() bool { return p.changed.Swap(false) }
