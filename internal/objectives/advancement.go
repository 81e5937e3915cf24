package objectives

import (
	"fmt"

	"github.com/google/uuid"

	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

// Definition is the static data an objective is built from.
type Definition struct {
	ID   string
	Name string
	// Hidden is the raw tri-state hide specifier ("true", "false", "relaxed", "compact").
	Hidden string
	// Half marks membership in the half-percent subset. Nil means true.
	Half     *bool
	Criteria []Criterion
	// Goal forces a criteria-less plain goal instead of an advancement.
	Goal bool
}

// Advancement is an objective that may carry criteria and a designated player.
type Advancement struct {
	*Goal

	HiddenWhenRelaxed bool
	HiddenWhenCompact bool
	UsedInHalfPercent bool

	criteria *CriteriaSet

	designated uuid.UUID
	linked     bool
}

// NewAdvancement builds an advancement. When hosting, a designation already
// present in the lobby (e.g. restored from a saved session) is adopted.
func NewAdvancement(def Definition, view peer.View) *Advancement {
	a := &Advancement{
		Goal:              NewGoal(def.ID, def.Name),
		UsedInHalfPercent: def.Half == nil || *def.Half,
		criteria:          NewCriteriaSet(def.ID, def.Criteria),
	}
	a.HiddenWhenRelaxed, a.HiddenWhenCompact = ParseHideMode(def.Hidden)

	if a.HasCriteria() && view.IsHost() {
		if player, ok := view.Lobby.Get(a.ID()); ok {
			a.Designate(player, view)
		}
	}
	a.LinkDesignation()
	return a
}

func (a *Advancement) Criteria() *CriteriaSet { return a.criteria }
func (a *Advancement) HasCriteria() bool      { return a.criteria.Any() }

func (a *Advancement) LinkDesignation()   { a.linked = true }
func (a *Advancement) UnlinkDesignation() { a.linked = false }
func (a *Advancement) IsLinked() bool     { return a.linked }

// LocalDesignation is the locally held value, regardless of linking.
func (a *Advancement) LocalDesignation() uuid.UUID { return a.designated }

// Designate credits a participant. The empty id leaves the state untouched.
// While hosting, the pick is published to the lobby.
func (a *Advancement) Designate(player uuid.UUID, view peer.View) {
	if player == uuid.Nil {
		return
	}
	a.designated = player
	if view.IsHost() {
		view.Lobby.Set(a.ID(), player)
	}
}

// DesignatedPlayer answers who is credited for this advancement. A linked,
// connected follower reads the host's map; everyone else reads the local field.
func (a *Advancement) DesignatedPlayer(view peer.View) uuid.UUID {
	if a.linked && view.IsFollower() {
		player, _ := view.Lobby.Get(a.ID())
		return player
	}
	return a.designated
}

// UpdateState recomputes completion and, when something changed, designation.
func (a *Advancement) UpdateState(world *progress.WorldState, cycle Cycle) {
	a.updateCompletionists(world)
	a.criteria.UpdateStates(world)

	if !a.HasCriteria() {
		return
	}
	if !cycle.Changed() {
		return
	}

	view := cycle.View
	switch {
	case view.IsHost():
		if a.designated != uuid.Nil {
			// Re-publish so the shared map heals after an external reset.
			a.Designate(a.designated, view)
		} else {
			a.Designate(a.criteria.ClosestToCompletion(), view)
		}
	case view.IsFollower():
		// The host decides; reads go through the lobby.
	default:
		a.Designate(a.criteria.ClosestToCompletion(), view)
	}
}

// FromDefinitions builds the objective set for a ruleset.
func FromDefinitions(defs []Definition, view peer.View) ([]Objective, error) {
	seen := make(map[string]struct{}, len(defs))
	out := make([]Objective, 0, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("objectives: definition without id")
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("objectives: duplicate id %q", def.ID)
		}
		seen[def.ID] = struct{}{}
		if def.Goal {
			out = append(out, NewGoal(def.ID, def.Name))
			continue
		}
		out = append(out, NewAdvancement(def, view))
	}
	return out, nil
}
