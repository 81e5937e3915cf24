package objectives

import (
	"testing"

	"github.com/google/uuid"

	"advtrack/internal/peer"
	"advtrack/internal/progress"
)

func threeCriteria() Definition {
	return Definition{ID: "O", Criteria: []Criterion{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}}
}

func TestAdvancement_HostScenarioKeepsManualPick(t *testing.T) {
	w := progress.NewWorldState()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	w.Contribution(a).RecordCriterion("O", "c1", at(1))
	w.Contribution(a).RecordCriterion("O", "c2", at(2))
	w.Contribution(b).RecordCriterion("O", "c1", at(3))
	w.Contribution(c)

	p := peer.New()
	lobby := peer.NewLobby()
	p.Host(lobby)

	adv := NewAdvancement(threeCriteria(), p.View())
	adv.UpdateState(w, Cycle{Invalidated: true, View: p.View()})
	if got := adv.DesignatedPlayer(p.View()); got != a {
		t.Fatalf("auto pick: got %v want %v", got, a)
	}
	if got, _ := lobby.Get("O"); got != a {
		t.Fatalf("lobby after auto pick: got %v want %v", got, a)
	}

	adv.Designate(b, p.View())
	adv.UpdateState(w, Cycle{Invalidated: true, View: p.View()})
	if got := adv.DesignatedPlayer(p.View()); got != b {
		t.Fatalf("manual pick overwritten: got %v want %v", got, b)
	}
	if got, _ := lobby.Get("O"); got != b {
		t.Fatalf("lobby after manual pick: got %v want %v", got, b)
	}
}

func TestAdvancement_HostRepublishHealsResetMap(t *testing.T) {
	w := progress.NewWorldState()
	a := uuid.New()
	w.Contribution(a).RecordCriterion("O", "c1", at(1))

	p := peer.New()
	lobby := peer.NewLobby()
	p.Host(lobby)
	adv := NewAdvancement(threeCriteria(), p.View())
	adv.UpdateState(w, Cycle{Invalidated: true, View: p.View()})

	lobby.Reset()
	adv.UpdateState(w, Cycle{NetChanged: true, View: p.View()})
	if got, ok := lobby.Get("O"); !ok || got != a {
		t.Fatalf("re-publish: got %v ok=%v want %v", got, ok, a)
	}
}

func TestAdvancement_DesignateEmptyIsNoOp(t *testing.T) {
	p := peer.New()
	lobby := peer.NewLobby()
	p.Host(lobby)
	adv := NewAdvancement(threeCriteria(), p.View())
	a := uuid.New()
	adv.Designate(a, p.View())
	seq := lobby.Seq()

	adv.Designate(uuid.Nil, p.View())
	if adv.LocalDesignation() != a || adv.DesignatedPlayer(p.View()) != a || !adv.IsLinked() {
		t.Fatalf("state changed by empty designation")
	}
	if lobby.Seq() != seq {
		t.Fatalf("lobby touched by empty designation")
	}
}

func TestAdvancement_FollowerConvergesToHostMap(t *testing.T) {
	w := progress.NewWorldState()
	local, hostPick := uuid.New(), uuid.New()
	w.Contribution(local).RecordCriterion("O", "c1", at(1))

	p := peer.New()
	lobby := peer.NewLobby()
	p.Follow(lobby)
	adv := NewAdvancement(threeCriteria(), p.View())

	if got := adv.DesignatedPlayer(p.View()); got != uuid.Nil {
		t.Fatalf("before sync: got %v want Nil", got)
	}
	lobby.Replace(map[string]uuid.UUID{"O": hostPick})
	for i := 0; i < 3; i++ {
		adv.UpdateState(w, Cycle{Invalidated: true, View: p.View()})
		if got := adv.DesignatedPlayer(p.View()); got != hostPick {
			t.Fatalf("tick %d: got %v want %v", i, got, hostPick)
		}
	}
	if adv.LocalDesignation() != uuid.Nil {
		t.Fatalf("follower must not decide locally, got %v", adv.LocalDesignation())
	}

	adv.UnlinkDesignation()
	if got := adv.DesignatedPlayer(p.View()); got != uuid.Nil {
		t.Fatalf("unlinked follower should read local field, got %v", got)
	}
	adv.LinkDesignation()
	if got := adv.DesignatedPlayer(p.View()); got != hostPick {
		t.Fatalf("relinked: got %v want %v", got, hostPick)
	}
}

func TestAdvancement_DisconnectedReadsLocalField(t *testing.T) {
	w := progress.NewWorldState()
	a, hostPick := uuid.New(), uuid.New()
	w.Contribution(a).RecordCriterion("O", "c2", at(1))

	p := peer.New()
	lobby := peer.NewLobby()
	lobby.Set("O", hostPick)
	p.Follow(lobby)
	adv := NewAdvancement(threeCriteria(), p.View())
	if got := adv.DesignatedPlayer(p.View()); got != hostPick {
		t.Fatalf("connected: got %v want %v", got, hostPick)
	}

	p.Disconnect()
	if got := adv.DesignatedPlayer(p.View()); got != uuid.Nil {
		t.Fatalf("disconnected before tick: got %v want Nil", got)
	}
	adv.UpdateState(w, Cycle{NetChanged: true, View: p.View()})
	if got := adv.DesignatedPlayer(p.View()); got != a {
		t.Fatalf("disconnected after tick: got %v want %v", got, a)
	}
}

func TestAdvancement_IdleHeuristicOverridesManualPick(t *testing.T) {
	w := progress.NewWorldState()
	a, b := uuid.New(), uuid.New()
	w.Contribution(a).RecordCriterion("O", "c1", at(1))

	adv := NewAdvancement(threeCriteria(), peer.View{})
	adv.Designate(b, peer.View{})
	adv.UpdateState(w, Cycle{Invalidated: true})
	if got := adv.DesignatedPlayer(peer.View{}); got != a {
		t.Fatalf("idle: got %v want %v", got, a)
	}
}

func TestAdvancement_NoRecomputeWithoutInvalidation(t *testing.T) {
	w := progress.NewWorldState()
	a := uuid.New()
	adv := NewAdvancement(threeCriteria(), peer.View{})
	adv.UpdateState(w, Cycle{Invalidated: true})

	w.Contribution(a).RecordCriterion("O", "c1", at(1))
	w.Contribution(a).RecordAdvancement("O", at(2))
	adv.UpdateState(w, Cycle{})
	if adv.LocalDesignation() != uuid.Nil {
		t.Fatalf("designation moved without invalidation")
	}
	if got := adv.Completionists(); len(got) != 1 || got[0] != a {
		t.Fatalf("completionists should refresh every tick: %v", got)
	}
	if !adv.Criteria().CompletedBy("c1", a) {
		t.Fatalf("criteria should refresh every tick")
	}
	adv.UpdateState(w, Cycle{Invalidated: true})
	if adv.LocalDesignation() != a {
		t.Fatalf("designation: got %v want %v", adv.LocalDesignation(), a)
	}
}

func TestAdvancement_NoCriteriaSkipsDesignation(t *testing.T) {
	w := progress.NewWorldState()
	a := uuid.New()
	w.Contribution(a).RecordAdvancement("story/root", at(1))

	p := peer.New()
	lobby := peer.NewLobby()
	p.Host(lobby)
	adv := NewAdvancement(Definition{ID: "story/root"}, p.View())
	adv.UpdateState(w, Cycle{Invalidated: true, View: p.View()})
	if adv.LocalDesignation() != uuid.Nil || lobby.Len() != 0 {
		t.Fatalf("criteria-less advancement must not designate")
	}
	who, when, ok := adv.FirstCompletion()
	if !ok || who != a || !when.Equal(at(1)) {
		t.Fatalf("first completion: %v %v %v", who, when, ok)
	}
}

func TestNewAdvancement_HostAdoptsSavedDesignation(t *testing.T) {
	saved := uuid.New()
	lobby := peer.NewLobby()
	lobby.Set("O", saved)
	p := peer.New()
	p.Host(lobby)

	adv := NewAdvancement(threeCriteria(), p.View())
	if adv.LocalDesignation() != saved || !adv.IsLinked() {
		t.Fatalf("pre-seed: got %v linked=%v", adv.LocalDesignation(), adv.IsLinked())
	}

	// Idle construction ignores any lobby.
	idle := NewAdvancement(threeCriteria(), peer.View{Lobby: lobby})
	if idle.LocalDesignation() != uuid.Nil {
		t.Fatalf("idle should not pre-seed")
	}
}

func TestParseHideMode(t *testing.T) {
	cases := []struct {
		in               string
		relaxed, compact bool
	}{
		{"true", true, true},
		{"True", true, true},
		{"false", false, false},
		{"relaxed", true, false},
		{"compact", false, true},
		{"sometimes", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		r, cm := ParseHideMode(c.in)
		if r != c.relaxed || cm != c.compact {
			t.Fatalf("ParseHideMode(%q): got %v,%v want %v,%v", c.in, r, cm, c.relaxed, c.compact)
		}
	}
}

func TestFromDefinitions(t *testing.T) {
	off := false
	defs := []Definition{
		{ID: "story/root", Half: &off},
		threeCriteria(),
		{ID: "stat/deaths", Goal: true},
	}
	objs, err := FromDefinitions(defs, peer.View{})
	if err != nil {
		t.Fatalf("FromDefinitions: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("objectives: got %d", len(objs))
	}
	if adv := objs[0].(*Advancement); adv.UsedInHalfPercent {
		t.Fatalf("half flag should be off")
	}
	if adv := objs[1].(*Advancement); !adv.UsedInHalfPercent || !adv.HasCriteria() {
		t.Fatalf("half default or criteria wrong")
	}
	if _, ok := objs[2].(*Goal); !ok {
		t.Fatalf("expected plain goal")
	}
	if _, err := FromDefinitions([]Definition{{ID: "x"}, {ID: "x"}}, peer.View{}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}
