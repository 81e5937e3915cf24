package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWorldState_CompletionistsOrderedByTime(t *testing.T) {
	w := NewWorldState()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	w.Contribution(a).RecordAdvancement("end/root", t0.Add(2*time.Minute))
	w.Contribution(b).RecordAdvancement("end/root", t0)
	w.Contribution(c)

	got := w.CompletionistsOf("end/root")
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("completionists: got %v want [%v %v]", got, b, a)
	}
}

func TestWorldState_CompletionistsTieUsesFirstSeen(t *testing.T) {
	w := NewWorldState()
	a, b := uuid.New(), uuid.New()
	w.Contribution(a)
	w.Contribution(b).RecordAdvancement("end/root", t0)
	w.Contribution(a).RecordAdvancement("end/root", t0)

	got := w.CompletionistsOf("end/root")
	if len(got) != 2 || got[0] != a {
		t.Fatalf("tie order: got %v want %v first", got, a)
	}
}

func TestWorldState_CompletionistsReflectLiveLedgers(t *testing.T) {
	w := NewWorldState()
	a := uuid.New()
	if got := w.CompletionistsOf("story/root"); len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
	if _, err := w.Apply(Event{Kind: EventAdvancement, Player: a, Advancement: "story/root", At: t0}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := w.CompletionistsOf("story/root"); len(got) != 1 || got[0] != a {
		t.Fatalf("expected [%v], got %v", a, got)
	}
}

func TestWorldState_ApplyReportsChanges(t *testing.T) {
	w := NewWorldState()
	a := uuid.New()
	ev := Event{Kind: EventCriterion, Player: a, Advancement: "adv", Criterion: "c1", At: t0}
	changed, err := w.Apply(ev)
	if err != nil || !changed {
		t.Fatalf("first apply: changed=%v err=%v", changed, err)
	}
	changed, err = w.Apply(ev)
	if err != nil || changed {
		t.Fatalf("repeat apply: changed=%v err=%v", changed, err)
	}
	if _, err := w.Apply(Event{Kind: EventBlock, Block: "minecraft:stone"}); !errors.Is(err, ErrMissingPlayerID) {
		t.Fatalf("empty player: got %v", err)
	}
	if _, err := w.Apply(Event{Kind: "teleport", Player: a}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestWorldState_MergeAddsUnknownParticipant(t *testing.T) {
	w := NewWorldState()
	remote := NewContribution(uuid.New())
	if !w.Merge(remote) {
		t.Fatalf("merge of a new participant should count as change")
	}
	if w.Len() != 1 || w.Rank(remote.PlayerID()) != 0 {
		t.Fatalf("participant not registered")
	}
	if w.Merge(remote) {
		t.Fatalf("repeat merge should be a no-op")
	}
	if w.Contribution(uuid.Nil) != nil {
		t.Fatalf("empty id must not create a ledger")
	}
}
