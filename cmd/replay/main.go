package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"advtrack/internal/catalog"
	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/persistence/ledger"
	persistlog "advtrack/internal/persistence/log"
	"advtrack/internal/tracker"
)

func main() {
	var (
		ledgerPath = flag.String("ledger", "", "path to .ledger.zst (default: newest under <data>/ledgers)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("configs", "./configs", "config directory")
		withTicks  = flag.Bool("ticks", true, "replay designation changes from <data>/ticks")
		fromTick   = flag.Uint64("from_tick", 0, "ignore tick log entries before this tick")
		toTick     = flag.Uint64("to_tick", 0, "ignore tick log entries after this tick (0: no limit)")
	)
	flag.Parse()

	path := *ledgerPath
	if path == "" {
		latest, err := ledger.Latest(filepath.Join(*dataDir, "ledgers"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find ledger:", err)
			os.Exit(1)
		}
		path = latest
	}
	if path != "" {
		if err := replayLedger(path, *configDir); err != nil {
			fmt.Fprintln(os.Stderr, "ledger:", err)
			os.Exit(1)
		}
	}

	if !*withTicks {
		return
	}
	files, err := persistlog.Files(filepath.Join(*dataDir, "ticks"), "ticks")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list tick logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 && path == "" {
		fmt.Fprintln(os.Stderr, "nothing to replay under", *dataDir)
		os.Exit(1)
	}
	r := newTickReplay(*fromTick, *toTick)
	for _, f := range files {
		entries, err := persistlog.ReadTicks(f)
		r.apply(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tick log:", err)
			os.Exit(1)
		}
	}
	r.print()
}

// replayLedger rebuilds the board a fresh tracker derives from a snapshot.
// Manual picks are not part of a ledger, so designations here are the
// automatic ones.
func replayLedger(path, configDir string) error {
	hdr, ledgers, err := ledger.Read(path)
	if err != nil && len(ledgers) == 0 {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledger records skipped:", err)
	}
	fmt.Printf("ledger v%d tick=%d participants=%d written=%s\n", hdr.Version, hdr.Tick, len(ledgers), hdr.WrittenAt)

	cat, err := catalog.Load(configDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	objs, err := objectives.FromDefinitions(cat.Defs, peer.View{})
	if err != nil {
		return err
	}
	tr, err := tracker.New(tracker.Config{}, nil, objs, nil)
	if err != nil {
		return err
	}
	tr.Restore(ledgers)
	tr.StepOnce()

	b := tr.Board()
	done, total := b.Progress()
	fmt.Printf("objectives complete=%d/%d\n", done, total)
	for _, e := range b.Entries {
		if e.CriteriaTotal == 0 {
			fmt.Printf("  %-48s complete=%v completionists=%d\n", e.ObjectiveID, e.Complete, len(e.Completionists))
			continue
		}
		fmt.Printf("  %-48s complete=%v criteria=%d/%d designated=%s\n", e.ObjectiveID, e.Complete, e.CriteriaDone, e.CriteriaTotal, e.Designated)
	}
	return nil
}

type tickReplay struct {
	from, to uint64

	entries int
	changes int
	// gaps counts changes whose From disagrees with the replayed value; a
	// restart or a follower's lobby moving between ticks produces them.
	gaps    int
	current map[string]uuid.UUID
}

func newTickReplay(from, to uint64) *tickReplay {
	return &tickReplay{from: from, to: to, current: map[string]uuid.UUID{}}
}

func (r *tickReplay) apply(entries []tracker.TickLogEntry) {
	for _, e := range entries {
		if e.Tick < r.from || (r.to != 0 && e.Tick > r.to) {
			continue
		}
		r.entries++
		for _, c := range e.Changes {
			r.changes++
			if r.current[c.ObjectiveID] != c.From {
				r.gaps++
			}
			if c.To == uuid.Nil {
				delete(r.current, c.ObjectiveID)
			} else {
				r.current[c.ObjectiveID] = c.To
			}
		}
	}
}

func (r *tickReplay) print() {
	fmt.Printf("tick log entries=%d changes=%d gaps=%d designations=%d\n", r.entries, r.changes, r.gaps, len(r.current))
	ids := make([]string, 0, len(r.current))
	for id := range r.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-48s %s\n", id, r.current[id])
	}
}
