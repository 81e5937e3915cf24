package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// contributionV1 is the persisted form of a ledger.
type contributionV1 struct {
	PlayerID     string               `json:"player_id"`
	Advancements map[string]time.Time `json:"advancements,omitempty"`
	Criteria     []criterionV1        `json:"criteria,omitempty"`
	ItemCounts   map[string]int       `json:"item_counts,omitempty"`
	ItemsDropped map[string]int       `json:"items_dropped,omitempty"`
	BlocksPlaced []string             `json:"blocks_placed,omitempty"`
	Flags        []string             `json:"flags,omitempty"`
}

type criterionV1 struct {
	Advancement string    `json:"adv"`
	Criterion   string    `json:"crit"`
	At          time.Time `json:"at"`
}

func (c *Contribution) MarshalJSON() ([]byte, error) {
	rec := contributionV1{
		PlayerID:     c.playerID.String(),
		Advancements: c.advancements,
		ItemCounts:   c.itemCounts,
		ItemsDropped: c.itemsDropped,
	}
	for k, at := range c.criteria {
		rec.Criteria = append(rec.Criteria, criterionV1{Advancement: k.Advancement, Criterion: k.Criterion, At: at})
	}
	sort.Slice(rec.Criteria, func(i, j int) bool {
		if rec.Criteria[i].Advancement != rec.Criteria[j].Advancement {
			return rec.Criteria[i].Advancement < rec.Criteria[j].Advancement
		}
		return rec.Criteria[i].Criterion < rec.Criteria[j].Criterion
	})
	for id := range c.blocksPlaced {
		rec.BlocksPlaced = append(rec.BlocksPlaced, id)
	}
	sort.Strings(rec.BlocksPlaced)
	for name, on := range c.flags {
		if on {
			rec.Flags = append(rec.Flags, name)
		}
	}
	sort.Strings(rec.Flags)
	return json.Marshal(rec)
}

func (c *Contribution) UnmarshalJSON(b []byte) error {
	var rec contributionV1
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("contribution: %w", err)
	}
	if rec.PlayerID == "" {
		return ErrMissingPlayerID
	}
	id, err := uuid.Parse(rec.PlayerID)
	if err != nil {
		return fmt.Errorf("contribution: player id %q: %w", rec.PlayerID, err)
	}
	if id == uuid.Nil {
		return ErrMissingPlayerID
	}

	out := NewContribution(id)
	for adv, at := range rec.Advancements {
		out.RecordAdvancement(adv, at)
	}
	for _, cr := range rec.Criteria {
		out.RecordCriterion(cr.Advancement, cr.Criterion, cr.At)
	}
	for item, n := range rec.ItemCounts {
		out.SetItemCount(item, n)
	}
	for item, n := range rec.ItemsDropped {
		out.SetDropCount(item, n)
	}
	for _, blk := range rec.BlocksPlaced {
		out.RecordBlock(blk)
	}
	for _, f := range rec.Flags {
		out.SetFlag(f)
	}
	*c = *out
	return nil
}

// DecodeRecords decodes newline separated ledger records. A record that fails
// to decode is reported in the joined error and skipped; the rest still load.
func DecodeRecords(data []byte) ([]*Contribution, error) {
	var (
		out  []*Contribution
		errs []error
	)
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		c := &Contribution{}
		if err := json.Unmarshal(line, c); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}
