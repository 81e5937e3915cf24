package tracker

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

type Config struct {
	TickRateHz int
	// SnapshotEveryTicks emits a ledger snapshot every N ticks (0 disables).
	SnapshotEveryTicks int
	// LocalPlayer is the participant whose ledger this process pushes to a host.
	LocalPlayer uuid.UUID
}

// TickLogger receives one entry per tick.
type TickLogger interface {
	WriteTick(TickLogEntry) error
}

// Store persists designation picks and ledgers so a host can restore them.
type Store interface {
	RecordDesignation(objectiveID string, player uuid.UUID)
	RecordContribution(c *progress.Contribution)
}

// Upstream forwards follower-side state to the host.
type Upstream interface {
	SendContribution(c *progress.Contribution) error
	RequestDesignation(objectiveID string, player uuid.UUID) error
}

type Tracker struct {
	cfg Config
	log *zap.Logger

	peer       *peer.Peer
	world      *progress.WorldState
	objectives []objectives.Objective
	byID       map[string]objectives.Objective

	tickLogger   TickLogger
	store        Store
	upstream     atomic.Pointer[upstreamBox]
	snapshotSink chan<- LedgerSnapshot

	tick        atomic.Uint64
	invalidated bool
	board       atomic.Pointer[Board]

	events     chan progress.Event
	merges     chan *progress.Contribution
	designate  chan designateReq
	invalidate chan struct{}
	stop       chan struct{}
}

type upstreamBox struct{ u Upstream }

type designateReq struct {
	ObjectiveID string
	Player      uuid.UUID
}

func New(cfg Config, p *peer.Peer, objs []objectives.Objective, logger *zap.Logger) (*Tracker, error) {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if p == nil {
		p = peer.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:        cfg,
		log:        logger,
		peer:       p,
		world:      progress.NewWorldState(),
		byID:       make(map[string]objectives.Objective, len(objs)),
		events:     make(chan progress.Event, 4096),
		merges:     make(chan *progress.Contribution, 256),
		designate:  make(chan designateReq, 256),
		invalidate: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	for _, o := range objs {
		if _, dup := t.byID[o.ID()]; dup {
			return nil, fmt.Errorf("tracker: duplicate objective %q", o.ID())
		}
		t.byID[o.ID()] = o
		t.objectives = append(t.objectives, o)
	}
	t.invalidated = true
	t.board.Store(&Board{})
	return t, nil
}

func (t *Tracker) SetTickLogger(l TickLogger) { t.tickLogger = l }
func (t *Tracker) SetStore(s Store)           { t.store = s }

// SetSnapshotSink receives ledger snapshots. Sends never block the loop.
func (t *Tracker) SetSnapshotSink(ch chan<- LedgerSnapshot) { t.snapshotSink = ch }

// SetUpstream installs (or with nil, clears) the follower link to the host.
func (t *Tracker) SetUpstream(u Upstream) {
	if u == nil {
		t.upstream.Store(nil)
		return
	}
	t.upstream.Store(&upstreamBox{u: u})
}

func (t *Tracker) Peer() *peer.Peer    { return t.peer }
func (t *Tracker) CurrentTick() uint64 { return t.tick.Load() }

func (t *Tracker) Objectives() []objectives.Objective {
	return append([]objectives.Objective(nil), t.objectives...)
}

// World exposes the ledgers. Only safe from the loop goroutine or before Run.
func (t *Tracker) World() *progress.WorldState { return t.world }

func (t *Tracker) Objective(id string) (objectives.Objective, bool) {
	o, ok := t.byID[id]
	return o, ok
}

// Ingest queues a progress event for the next tick.
func (t *Tracker) Ingest(ev progress.Event) bool {
	select {
	case t.events <- ev:
		return true
	default:
		t.log.Warn("event inbox full; dropping", zap.String("kind", string(ev.Kind)), zap.Stringer("player", ev.Player))
		return false
	}
}

// MergeContribution queues a remote ledger for the next tick.
func (t *Tracker) MergeContribution(c *progress.Contribution) bool {
	if c == nil {
		return false
	}
	select {
	case t.merges <- c:
		return true
	default:
		t.log.Warn("merge inbox full; dropping", zap.Stringer("player", c.PlayerID()))
		return false
	}
}

// Designate queues a manual designation for the next tick.
func (t *Tracker) Designate(objectiveID string, player uuid.UUID) bool {
	select {
	case t.designate <- designateReq{ObjectiveID: objectiveID, Player: player}:
		return true
	default:
		return false
	}
}

// Invalidate forces designation to be reconsidered on the next tick.
func (t *Tracker) Invalidate() {
	select {
	case t.invalidate <- struct{}{}:
	default:
	}
}

// Board returns the read model published by the last tick.
func (t *Tracker) Board() Board { return *t.board.Load() }

// DesignatedPlayer answers from the last published board.
func (t *Tracker) DesignatedPlayer(objectiveID string) uuid.UUID {
	b := t.board.Load()
	for _, e := range b.Entries {
		if e.ObjectiveID == objectiveID {
			return e.Designated
		}
	}
	return uuid.Nil
}

func (t *Tracker) upstreamLink() Upstream {
	if b := t.upstream.Load(); b != nil {
		return b.u
	}
	return nil
}
