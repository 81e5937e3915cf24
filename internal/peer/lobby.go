package peer

import (
	"sync"

	"github.com/google/uuid"
)

// Designation is one entry of the shared designation map.
type Designation struct {
	ObjectiveID string    `json:"objective_id"`
	PlayerID    uuid.UUID `json:"player_id"`
}

// Lobby holds the designation map shared by a network session.
// Only the host writes local decisions into it; followers overwrite it from
// the host's broadcasts.
type Lobby struct {
	mu   sync.RWMutex
	m    map[string]uuid.UUID
	seq  uint64
	subs map[chan Designation]struct{}
}

func NewLobby() *Lobby {
	return &Lobby{
		m:    map[string]uuid.UUID{},
		subs: map[chan Designation]struct{}{},
	}
}

// Get returns the designated player for an objective. Absent entries report
// uuid.Nil and false.
func (l *Lobby) Get(objectiveID string) (uuid.UUID, bool) {
	if l == nil {
		return uuid.Nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.m[objectiveID]
	return id, ok
}

// Set stores a designation and notifies subscribers when it differs from the
// current entry.
func (l *Lobby) Set(objectiveID string, player uuid.UUID) bool {
	if objectiveID == "" || player == uuid.Nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.m[objectiveID]; ok && cur == player {
		return false
	}
	l.m[objectiveID] = player
	l.seq++
	l.notifyLocked(Designation{ObjectiveID: objectiveID, PlayerID: player})
	return true
}

func (l *Lobby) Delete(objectiveID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[objectiveID]; !ok {
		return false
	}
	delete(l.m, objectiveID)
	l.seq++
	l.notifyLocked(Designation{ObjectiveID: objectiveID})
	return true
}

// Replace swaps the whole map, as done when a follower receives a full sync.
func (l *Lobby) Replace(full map[string]uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = make(map[string]uuid.UUID, len(full))
	for k, v := range full {
		if k == "" || v == uuid.Nil {
			continue
		}
		l.m[k] = v
	}
	l.seq++
}

// Apply merges an incremental update. A nil player id removes the entry.
func (l *Lobby) Apply(delta map[string]uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range delta {
		if k == "" {
			continue
		}
		if v == uuid.Nil {
			if _, ok := l.m[k]; ok {
				delete(l.m, k)
				n++
			}
			continue
		}
		if cur, ok := l.m[k]; ok && cur == v {
			continue
		}
		l.m[k] = v
		n++
	}
	if n > 0 {
		l.seq++
	}
	return n
}

// Reset clears every entry without notifying subscribers.
func (l *Lobby) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = map[string]uuid.UUID{}
	l.seq++
}

func (l *Lobby) Snapshot() map[string]uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]uuid.UUID, len(l.m))
	for k, v := range l.m {
		out[k] = v
	}
	return out
}

func (l *Lobby) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}

// Seq increases on every mutation.
func (l *Lobby) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Subscribe returns a channel receiving every designation change. Delivery is
// lossy: a full subscriber misses updates rather than stalling writers.
func (l *Lobby) Subscribe(buf int) chan Designation {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Designation, buf)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

func (l *Lobby) Unsubscribe(ch chan Designation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
}

func (l *Lobby) notifyLocked(d Designation) {
	for ch := range l.subs {
		select {
		case ch <- d:
		default:
		}
	}
}
