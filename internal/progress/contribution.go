package progress

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrMissingPlayerID is returned when a ledger record carries no usable participant id.
var ErrMissingPlayerID = errors.New("contribution: missing player id")

// FlagGodApple is the special marker the ingestion path sets for the enchanted apple pickup.
const FlagGodApple = "god_apple"

// CriterionKey identifies one criterion of one advancement.
type CriterionKey struct {
	Advancement string
	Criterion   string
}

// Contribution is one participant's append-only progress ledger.
type Contribution struct {
	playerID uuid.UUID

	advancements map[string]time.Time
	criteria     map[CriterionKey]time.Time
	itemCounts   map[string]int
	itemsDropped map[string]int
	blocksPlaced map[string]struct{}
	flags        map[string]bool
}

func NewContribution(playerID uuid.UUID) *Contribution {
	return &Contribution{
		playerID:     playerID,
		advancements: map[string]time.Time{},
		criteria:     map[CriterionKey]time.Time{},
		itemCounts:   map[string]int{},
		itemsDropped: map[string]int{},
		blocksPlaced: map[string]struct{}{},
		flags:        map[string]bool{},
	}
}

func (c *Contribution) PlayerID() uuid.UUID { return c.playerID }

func (c *Contribution) CompletedCount() int { return len(c.advancements) }

// RecordAdvancement stores the first completion time of an advancement.
// Later calls for the same id never touch the stored time.
func (c *Contribution) RecordAdvancement(id string, at time.Time) bool {
	if id == "" {
		return false
	}
	if _, ok := c.advancements[id]; ok {
		return false
	}
	c.advancements[id] = at
	return true
}

func (c *Contribution) RecordCriterion(advancement, criterion string, at time.Time) bool {
	if advancement == "" || criterion == "" {
		return false
	}
	k := CriterionKey{Advancement: advancement, Criterion: criterion}
	if _, ok := c.criteria[k]; ok {
		return false
	}
	c.criteria[k] = at
	return true
}

func (c *Contribution) SetItemCount(item string, count int) bool {
	if item == "" {
		return false
	}
	prev, ok := c.itemCounts[item]
	c.itemCounts[item] = count
	return !ok || prev != count
}

func (c *Contribution) SetDropCount(item string, count int) bool {
	if item == "" {
		return false
	}
	prev, ok := c.itemsDropped[item]
	c.itemsDropped[item] = count
	return !ok || prev != count
}

func (c *Contribution) RecordBlock(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := c.blocksPlaced[id]; ok {
		return false
	}
	c.blocksPlaced[id] = struct{}{}
	return true
}

// SetFlag raises a special marker. Markers are never lowered.
func (c *Contribution) SetFlag(name string) bool {
	if name == "" || c.flags[name] {
		return false
	}
	c.flags[name] = true
	return true
}

func (c *Contribution) IncludesAdvancement(id string) bool {
	_, ok := c.advancements[id]
	return ok
}

// AdvancementTime reports when the advancement was first completed.
func (c *Contribution) AdvancementTime(id string) (time.Time, bool) {
	t, ok := c.advancements[id]
	return t, ok
}

func (c *Contribution) IncludesCriterion(advancement, criterion string) bool {
	_, ok := c.criteria[CriterionKey{Advancement: advancement, Criterion: criterion}]
	return ok
}

func (c *Contribution) CriterionTime(advancement, criterion string) (time.Time, bool) {
	t, ok := c.criteria[CriterionKey{Advancement: advancement, Criterion: criterion}]
	return t, ok
}

func (c *Contribution) IncludesBlock(id string) bool {
	_, ok := c.blocksPlaced[id]
	return ok
}

func (c *Contribution) ItemCount(item string) int { return c.itemCounts[item] }
func (c *Contribution) DropCount(item string) int { return c.itemsDropped[item] }
func (c *Contribution) HasFlag(name string) bool  { return c.flags[name] }
func (c *Contribution) CriteriaCount() int        { return len(c.criteria) }
func (c *Contribution) BlockCount() int           { return len(c.blocksPlaced) }

// Advancements returns completed advancement ids sorted by completion time, then id.
func (c *Contribution) Advancements() []string {
	out := make([]string, 0, len(c.advancements))
	for id := range c.advancements {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := c.advancements[out[i]], c.advancements[out[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i] < out[j]
	})
	return out
}

// Merge folds another ledger for the same participant into c.
// Entries already present keep their values except last-write-wins counters.
func (c *Contribution) Merge(other *Contribution) bool {
	if other == nil || other.playerID != c.playerID {
		return false
	}
	changed := false
	for id, at := range other.advancements {
		changed = c.RecordAdvancement(id, at) || changed
	}
	for k, at := range other.criteria {
		changed = c.RecordCriterion(k.Advancement, k.Criterion, at) || changed
	}
	for item, n := range other.itemCounts {
		changed = c.SetItemCount(item, n) || changed
	}
	for item, n := range other.itemsDropped {
		changed = c.SetDropCount(item, n) || changed
	}
	for id := range other.blocksPlaced {
		changed = c.RecordBlock(id) || changed
	}
	for name, on := range other.flags {
		if on {
			changed = c.SetFlag(name) || changed
		}
	}
	return changed
}

func (c *Contribution) Clone() *Contribution {
	out := NewContribution(c.playerID)
	out.Merge(c)
	return out
}
