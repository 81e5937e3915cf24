package objectives

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

// Cycle carries the per-tick state every objective update sees.
type Cycle struct {
	// Invalidated is set when new progress was ingested this tick.
	Invalidated bool
	// NetChanged is set when the network role or designation map moved.
	NetChanged bool
	// View is the network session snapshot taken once for the whole tick.
	View peer.View
}

// Changed reports whether designation has to be reconsidered this tick.
func (c Cycle) Changed() bool { return c.Invalidated || c.NetChanged }

// Objective is a trackable goal.
type Objective interface {
	ID() string
	Name() string
	UpdateState(world *progress.WorldState, cycle Cycle)
	Completionists() []uuid.UUID
	FirstCompletion() (uuid.UUID, time.Time, bool)
	IsComplete() bool
}

// Goal is an objective without criteria. It only tracks completionists.
type Goal struct {
	id   string
	name string

	completionists []uuid.UUID
	firstPlayer    uuid.UUID
	firstAt        time.Time
}

func NewGoal(id, name string) *Goal {
	if name == "" {
		name = id
	}
	return &Goal{id: id, name: name}
}

func (g *Goal) ID() string   { return g.id }
func (g *Goal) Name() string { return g.name }

func (g *Goal) Completionists() []uuid.UUID {
	return append([]uuid.UUID(nil), g.completionists...)
}

func (g *Goal) IsComplete() bool { return len(g.completionists) > 0 }

// FirstCompletion reports the earliest participant to finish and when.
func (g *Goal) FirstCompletion() (uuid.UUID, time.Time, bool) {
	if g.firstPlayer == uuid.Nil {
		return uuid.Nil, time.Time{}, false
	}
	return g.firstPlayer, g.firstAt, true
}

func (g *Goal) UpdateState(world *progress.WorldState, _ Cycle) {
	g.updateCompletionists(world)
}

func (g *Goal) updateCompletionists(world *progress.WorldState) {
	g.completionists = g.completionists[:0]
	g.firstPlayer, g.firstAt = uuid.Nil, time.Time{}
	if world == nil {
		return
	}
	g.completionists = append(g.completionists, world.CompletionistsOf(g.id)...)
	if len(g.completionists) == 0 {
		return
	}
	g.firstPlayer = g.completionists[0]
	if c, ok := world.Lookup(g.firstPlayer); ok {
		g.firstAt, _ = c.AdvancementTime(g.id)
	}
}

// ParseHideMode decodes the tri-state hide specifier: a boolean applies to
// both display modes, "relaxed" or "compact" to one. Unknown values hide nothing.
func ParseHideMode(mode string) (relaxed, compact bool) {
	s := strings.TrimSpace(mode)
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, false
	case s == "relaxed":
		return true, false
	case s == "compact":
		return false, true
	}
	return false, false
}
