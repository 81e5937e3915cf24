package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventAdvancement EventKind = "advancement"
	EventCriterion   EventKind = "criterion"
	EventItemCount   EventKind = "item_count"
	EventDropCount   EventKind = "drop_count"
	EventBlock       EventKind = "block"
	EventFlag        EventKind = "flag"
)

// Event is one raw progress observation for a participant.
type Event struct {
	Kind   EventKind `json:"kind"`
	Player uuid.UUID `json:"player"`

	Advancement string    `json:"adv,omitempty"`
	Criterion   string    `json:"crit,omitempty"`
	Item        string    `json:"item,omitempty"`
	Block       string    `json:"block,omitempty"`
	Flag        string    `json:"flag,omitempty"`
	Count       int       `json:"count,omitempty"`
	At          time.Time `json:"at,omitempty"`
}

// Apply routes the event into the owning participant's ledger and reports
// whether the ledger changed.
func (w *WorldState) Apply(ev Event) (bool, error) {
	if ev.Player == uuid.Nil {
		return false, ErrMissingPlayerID
	}
	_, known := w.ledgers[ev.Player]
	c := w.Contribution(ev.Player)
	var changed bool
	switch ev.Kind {
	case EventAdvancement:
		changed = c.RecordAdvancement(ev.Advancement, ev.At)
	case EventCriterion:
		changed = c.RecordCriterion(ev.Advancement, ev.Criterion, ev.At)
	case EventItemCount:
		changed = c.SetItemCount(ev.Item, ev.Count)
	case EventDropCount:
		changed = c.SetDropCount(ev.Item, ev.Count)
	case EventBlock:
		changed = c.RecordBlock(ev.Block)
	case EventFlag:
		changed = c.SetFlag(ev.Flag)
	default:
		return !known, fmt.Errorf("progress: unknown event kind %q", ev.Kind)
	}
	return changed || !known, nil
}
