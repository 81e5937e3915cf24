package tracker

import (
	"sort"

	"github.com/google/uuid"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

// Board is the read model published once per tick for renderers.
type Board struct {
	Tick         uint64       `json:"tick"`
	Role         string       `json:"role"`
	Participants int          `json:"participants"`
	Entries      []BoardEntry `json:"entries"`
}

type BoardEntry struct {
	ObjectiveID    string      `json:"objective_id"`
	Name           string      `json:"name,omitempty"`
	Complete       bool        `json:"complete"`
	Completionists []uuid.UUID `json:"completionists,omitempty"`

	// Criteria-bearing objectives only.
	Designated      uuid.UUID `json:"designated,omitempty"`
	Linked          bool      `json:"linked,omitempty"`
	CriteriaTotal   int       `json:"criteria_total,omitempty"`
	CriteriaDone    int       `json:"criteria_done,omitempty"`
	CriteriaPending []string  `json:"criteria_pending,omitempty"`
	HiddenRelaxed   bool      `json:"hidden_relaxed,omitempty"`
	HiddenCompact   bool      `json:"hidden_compact,omitempty"`
	HalfPercent     bool      `json:"half_percent"`
}

// Progress returns how many objectives have at least one completionist.
func (b Board) Progress() (done, total int) {
	for _, e := range b.Entries {
		total++
		if e.Complete {
			done++
		}
	}
	return done, total
}

type TickLogEntry struct {
	Tick        uint64              `json:"tick"`
	Role        string              `json:"role"`
	Invalidated bool                `json:"invalidated"`
	NetChanged  bool                `json:"net_changed"`
	Events      int                 `json:"events"`
	Merges      int                 `json:"merges"`
	Changes     []DesignationChange `json:"changes,omitempty"`
}

// LedgerSnapshot is every ledger as of the end of Tick.
type LedgerSnapshot struct {
	Tick    uint64
	Ledgers []*progress.Contribution
}

type DesignationChange struct {
	ObjectiveID string    `json:"objective_id"`
	From        uuid.UUID `json:"from"`
	To          uuid.UUID `json:"to"`
}

func sortChanges(cs []DesignationChange) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ObjectiveID < cs[j].ObjectiveID })
}

func (t *Tracker) buildBoard(tick uint64, view peer.View) *Board {
	b := &Board{Tick: tick, Role: view.Role.String(), Participants: t.world.Len(), Entries: make([]BoardEntry, 0, len(t.objectives))}
	for _, o := range t.objectives {
		e := BoardEntry{
			ObjectiveID:    o.ID(),
			Name:           o.Name(),
			Complete:       o.IsComplete(),
			Completionists: o.Completionists(),
		}
		if adv, ok := o.(*objectives.Advancement); ok {
			e.HiddenRelaxed = adv.HiddenWhenRelaxed
			e.HiddenCompact = adv.HiddenWhenCompact
			e.HalfPercent = adv.UsedInHalfPercent
			if adv.HasCriteria() {
				fillCriteria(&e, adv, view)
			}
		}
		b.Entries = append(b.Entries, e)
	}
	return b
}

func fillCriteria(e *BoardEntry, adv *objectives.Advancement, view peer.View) {
	set := adv.Criteria()
	e.Designated = adv.DesignatedPlayer(view)
	e.Linked = adv.IsLinked()
	e.CriteriaTotal = set.Count()
	if e.Designated == uuid.Nil {
		return
	}
	e.CriteriaDone = set.CompletedCount(e.Designated)
	for _, c := range set.Criteria() {
		if !set.CompletedBy(c.ID, e.Designated) {
			e.CriteriaPending = append(e.CriteriaPending, c.ID)
		}
	}
	sort.Strings(e.CriteriaPending)
}
