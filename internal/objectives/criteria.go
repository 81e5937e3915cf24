package objectives

import (
	"time"

	"github.com/google/uuid"

	"advtrack/internal/progress"
)

// Criterion is one sub-goal of an advancement.
type Criterion struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CriteriaSet tracks which participants satisfied each criterion of one advancement.
type CriteriaSet struct {
	owner    string
	criteria []Criterion
	index    map[string]int

	done    []map[uuid.UUID]struct{}
	closest uuid.UUID
}

func NewCriteriaSet(owner string, criteria []Criterion) *CriteriaSet {
	s := &CriteriaSet{
		owner: owner,
		index: map[string]int{},
	}
	for _, c := range criteria {
		if c.ID == "" {
			continue
		}
		if _, dup := s.index[c.ID]; dup {
			continue
		}
		s.index[c.ID] = len(s.criteria)
		s.criteria = append(s.criteria, c)
		s.done = append(s.done, map[uuid.UUID]struct{}{})
	}
	return s
}

func (s *CriteriaSet) Any() bool     { return s != nil && len(s.criteria) > 0 }
func (s *CriteriaSet) Count() int    { return len(s.criteria) }
func (s *CriteriaSet) Owner() string { return s.owner }

func (s *CriteriaSet) Criteria() []Criterion {
	return append([]Criterion(nil), s.criteria...)
}

func (s *CriteriaSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// CompletedBy reports the state computed by the last UpdateStates call.
func (s *CriteriaSet) CompletedBy(criterion string, player uuid.UUID) bool {
	i, ok := s.index[criterion]
	if !ok {
		return false
	}
	_, done := s.done[i][player]
	return done
}

// Completionists of one criterion, in no particular order.
func (s *CriteriaSet) CompletedPlayers(criterion string) []uuid.UUID {
	i, ok := s.index[criterion]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(s.done[i]))
	for id := range s.done[i] {
		out = append(out, id)
	}
	return out
}

func (s *CriteriaSet) CompletedCount(player uuid.UUID) int {
	n := 0
	for i := range s.criteria {
		if _, ok := s.done[i][player]; ok {
			n++
		}
	}
	return n
}

// ClosestToCompletion is the participant with the most satisfied criteria as
// of the last UpdateStates call, or uuid.Nil when nobody made progress.
func (s *CriteriaSet) ClosestToCompletion() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.closest
}

// UpdateStates rescans every ledger for this set's criteria.
func (s *CriteriaSet) UpdateStates(world *progress.WorldState) {
	if s == nil {
		return
	}
	for i := range s.done {
		s.done[i] = map[uuid.UUID]struct{}{}
	}
	s.closest = uuid.Nil
	if world == nil || len(s.criteria) == 0 {
		return
	}

	var (
		bestCount int
		bestFirst time.Time
		bestRank  int
	)
	for _, player := range world.Players() {
		c, ok := world.Lookup(player)
		if !ok {
			continue
		}
		count := 0
		var first time.Time
		for i, cr := range s.criteria {
			at, ok := c.CriterionTime(s.owner, cr.ID)
			if !ok {
				continue
			}
			s.done[i][player] = struct{}{}
			count++
			if !at.IsZero() && (first.IsZero() || at.Before(first)) {
				first = at
			}
		}
		if count == 0 {
			continue
		}
		rank := world.Rank(player)
		if s.closest == uuid.Nil || beats(count, first, rank, bestCount, bestFirst, bestRank) {
			s.closest = player
			bestCount, bestFirst, bestRank = count, first, rank
		}
	}
}

// beats orders candidates by count desc, earliest known first satisfaction,
// then first-seen rank. A zero time is unknown and ranks after known times.
func beats(count int, first time.Time, rank int, bestCount int, bestFirst time.Time, bestRank int) bool {
	if count != bestCount {
		return count > bestCount
	}
	switch {
	case first.IsZero() && !bestFirst.IsZero():
		return false
	case !first.IsZero() && bestFirst.IsZero():
		return true
	case !first.Equal(bestFirst):
		return first.Before(bestFirst)
	}
	return rank < bestRank
}
