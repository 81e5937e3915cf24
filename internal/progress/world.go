package progress

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// WorldState aggregates every participant's ledger.
type WorldState struct {
	ledgers map[uuid.UUID]*Contribution
	order   []uuid.UUID
	rank    map[uuid.UUID]int
}

func NewWorldState() *WorldState {
	return &WorldState{ledgers: map[uuid.UUID]*Contribution{}, rank: map[uuid.UUID]int{}}
}

// Contribution returns the ledger for id, creating it on first sight.
// It returns nil for the empty id.
func (w *WorldState) Contribution(id uuid.UUID) *Contribution {
	if id == uuid.Nil {
		return nil
	}
	if c := w.ledgers[id]; c != nil {
		return c
	}
	c := NewContribution(id)
	w.ledgers[id] = c
	w.rank[id] = len(w.order)
	w.order = append(w.order, id)
	return c
}

func (w *WorldState) Lookup(id uuid.UUID) (*Contribution, bool) {
	c, ok := w.ledgers[id]
	return c, ok
}

// Players returns participant ids in first-seen order.
func (w *WorldState) Players() []uuid.UUID {
	return append([]uuid.UUID(nil), w.order...)
}

// Rank is the first-seen position of a participant, or -1 if unknown.
func (w *WorldState) Rank(id uuid.UUID) int {
	if r, ok := w.rank[id]; ok {
		return r
	}
	return -1
}

func (w *WorldState) Len() int { return len(w.order) }

// Merge folds a ledger pushed by another peer into the world.
func (w *WorldState) Merge(c *Contribution) bool {
	if c == nil || c.PlayerID() == uuid.Nil {
		return false
	}
	_, known := w.ledgers[c.PlayerID()]
	changed := w.Contribution(c.PlayerID()).Merge(c)
	return changed || !known
}

// CompletionistsOf lists participants that completed the objective, earliest first.
// It always reads the live ledgers.
func (w *WorldState) CompletionistsOf(objectiveID string) []uuid.UUID {
	type done struct {
		id   uuid.UUID
		at   time.Time
		rank int
	}
	var list []done
	for i, id := range w.order {
		if at, ok := w.ledgers[id].AdvancementTime(objectiveID); ok {
			list = append(list, done{id: id, at: at, rank: i})
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.Before(list[j].at)
		}
		return list[i].rank < list[j].rank
	})
	out := make([]uuid.UUID, 0, len(list))
	for _, d := range list {
		out = append(out, d.id)
	}
	return out
}

// Snapshot returns deep copies of every ledger in first-seen order.
func (w *WorldState) Snapshot() []*Contribution {
	out := make([]*Contribution, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.ledgers[id].Clone())
	}
	return out
}
