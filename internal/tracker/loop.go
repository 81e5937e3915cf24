package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

func (t *Tracker) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(t.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEvents []progress.Event
	var pendingMerges []*progress.Contribution
	var pendingDesignations []designateReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case ev := <-t.events:
			pendingEvents = append(pendingEvents, ev)
		case c := <-t.merges:
			pendingMerges = append(pendingMerges, c)
		case req := <-t.designate:
			pendingDesignations = append(pendingDesignations, req)
		case <-t.invalidate:
			t.invalidated = true
		case <-ticker.C:
			t.step(pendingEvents, pendingMerges, pendingDesignations)
			pendingEvents = pendingEvents[:0]
			pendingMerges = pendingMerges[:0]
			pendingDesignations = pendingDesignations[:0]
		}
	}
}

func (t *Tracker) Stop() { close(t.stop) }

// Restore loads persisted ledgers before Run starts.
func (t *Tracker) Restore(ledgers []*progress.Contribution) int {
	n := 0
	for _, c := range ledgers {
		if t.world.Merge(c) {
			n++
		}
	}
	if n > 0 {
		t.invalidated = true
	}
	return n
}

// StepOnce drains the inboxes and advances one tick. It is meant for tests and
// offline replays; do not mix it with Run.
func (t *Tracker) StepOnce() uint64 {
	var (
		evs    []progress.Event
		merges []*progress.Contribution
		reqs   []designateReq
	)
	for {
		select {
		case ev := <-t.events:
			evs = append(evs, ev)
			continue
		case c := <-t.merges:
			merges = append(merges, c)
			continue
		case r := <-t.designate:
			reqs = append(reqs, r)
			continue
		case <-t.invalidate:
			t.invalidated = true
			continue
		default:
		}
		break
	}
	tick := t.tick.Load()
	t.step(evs, merges, reqs)
	return tick
}

func (t *Tracker) step(events []progress.Event, merges []*progress.Contribution, reqs []designateReq) {
	nowTick := t.tick.Load()

	localChanged := false
	dirty := map[uuid.UUID]struct{}{}
	for _, ev := range events {
		changed, err := t.world.Apply(ev)
		if err != nil {
			t.log.Debug("drop event", zap.Error(err), zap.String("kind", string(ev.Kind)))
			continue
		}
		if changed {
			t.invalidated = true
			dirty[ev.Player] = struct{}{}
			localChanged = localChanged || ev.Player == t.cfg.LocalPlayer
		}
	}
	for _, c := range merges {
		if t.world.Merge(c) {
			t.invalidated = true
			dirty[c.PlayerID()] = struct{}{}
		}
	}

	netChanged := t.peer.ConsumeChanged()
	// One snapshot of the session for the whole tick.
	view := t.peer.View()

	before := t.designations(view)
	for _, r := range reqs {
		t.applyDesignation(r, view)
	}

	cycle := objectives.Cycle{Invalidated: t.invalidated, NetChanged: netChanged, View: view}
	for _, o := range t.objectives {
		o.UpdateState(t.world, cycle)
	}
	t.invalidated = false

	after := t.designations(view)
	var changes []DesignationChange
	for id, to := range after {
		if from := before[id]; from != to {
			changes = append(changes, DesignationChange{ObjectiveID: id, From: from, To: to})
		}
	}
	sortChanges(changes)

	if t.store != nil && !view.IsFollower() {
		for _, ch := range changes {
			if ch.To != uuid.Nil {
				t.store.RecordDesignation(ch.ObjectiveID, ch.To)
			}
		}
		for id := range dirty {
			if c, ok := t.world.Lookup(id); ok {
				t.store.RecordContribution(c.Clone())
			}
		}
	}

	if up := t.upstreamLink(); up != nil && view.IsFollower() && t.cfg.LocalPlayer != uuid.Nil {
		if localChanged || netChanged {
			if c, ok := t.world.Lookup(t.cfg.LocalPlayer); ok {
				if err := up.SendContribution(c.Clone()); err != nil {
					t.log.Debug("push contribution", zap.Error(err))
				}
			}
		}
	}

	t.board.Store(t.buildBoard(nowTick, view))

	if t.tickLogger != nil && (cycle.Changed() || len(changes) > 0) {
		entry := TickLogEntry{
			Tick:        nowTick,
			Role:        view.Role.String(),
			Invalidated: cycle.Invalidated,
			NetChanged:  netChanged,
			Events:      len(events),
			Merges:      len(merges),
			Changes:     changes,
		}
		if err := t.tickLogger.WriteTick(entry); err != nil {
			t.log.Warn("tick log", zap.Error(err))
		}
	}

	if t.snapshotSink != nil && nowTick != 0 && t.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(t.cfg.SnapshotEveryTicks) == 0 {
			select {
			case t.snapshotSink <- LedgerSnapshot{Tick: nowTick, Ledgers: t.world.Snapshot()}:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	t.tick.Add(1)
}

func (t *Tracker) applyDesignation(r designateReq, view peer.View) {
	o, ok := t.byID[r.ObjectiveID]
	if !ok {
		t.log.Debug("designate: unknown objective", zap.String("objective", r.ObjectiveID))
		return
	}
	adv, ok := o.(*objectives.Advancement)
	if !ok || !adv.HasCriteria() {
		return
	}
	if view.IsFollower() {
		// The host owns the map; forward instead of deciding here.
		if up := t.upstreamLink(); up != nil {
			if err := up.RequestDesignation(r.ObjectiveID, r.Player); err != nil {
				t.log.Debug("forward designation", zap.Error(err))
			}
		}
		return
	}
	adv.Designate(r.Player, view)
}

func (t *Tracker) designations(view peer.View) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(t.objectives))
	for _, o := range t.objectives {
		if adv, ok := o.(*objectives.Advancement); ok && adv.HasCriteria() {
			out[adv.ID()] = adv.DesignatedPlayer(view)
		}
	}
	return out
}
