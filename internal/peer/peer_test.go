package peer

import (
	"testing"

	"github.com/google/uuid"
)

func TestPeer_TransitionsSwapView(t *testing.T) {
	p := New()
	if v := p.View(); v.Connected() || v.Role != RoleIdle {
		t.Fatalf("new peer should be idle: %+v", v)
	}
	p.ConsumeChanged()

	l := NewLobby()
	p.Host(l)
	v := p.View()
	if !v.IsHost() || v.IsFollower() || v.Lobby != l {
		t.Fatalf("host view: %+v", v)
	}
	if !p.ConsumeChanged() {
		t.Fatalf("host transition should mark changed")
	}
	if p.ConsumeChanged() {
		t.Fatalf("changed flag should clear on consume")
	}

	p.Disconnect()
	if _, ok := p.View().TryLobby(); ok {
		t.Fatalf("disconnected view must not expose a lobby")
	}
	// A view taken before the disconnect keeps its own lobby.
	if lob, ok := v.TryLobby(); !ok || lob != l {
		t.Fatalf("old snapshot lost its lobby")
	}

	p.Follow(nil)
	if fv := p.View(); !fv.IsFollower() || fv.Lobby == nil {
		t.Fatalf("follow should create a lobby: %+v", fv)
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{"host": RoleHost, "follow": RoleFollower, "follower": RoleFollower, "": RoleIdle, "x": RoleIdle}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Fatalf("ParseRole(%q): got %v want %v", in, got, want)
		}
	}
}

func TestLobby_SetNotifiesOnlyOnChange(t *testing.T) {
	l := NewLobby()
	ch := l.Subscribe(4)
	a := uuid.New()

	if !l.Set("adv", a) {
		t.Fatalf("first set should change")
	}
	if l.Set("adv", a) {
		t.Fatalf("same value should not change")
	}
	if l.Set("adv", uuid.Nil) {
		t.Fatalf("nil player must be refused")
	}
	if got := <-ch; got.ObjectiveID != "adv" || got.PlayerID != a {
		t.Fatalf("notification: %+v", got)
	}
	select {
	case d := <-ch:
		t.Fatalf("unexpected notification %+v", d)
	default:
	}
	l.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestLobby_ReplaceAndApply(t *testing.T) {
	l := NewLobby()
	a, b := uuid.New(), uuid.New()
	l.Replace(map[string]uuid.UUID{"x": a, "y": b, "z": uuid.Nil})
	if l.Len() != 2 {
		t.Fatalf("len: got %d want 2", l.Len())
	}
	n := l.Apply(map[string]uuid.UUID{"x": b, "y": uuid.Nil, "w": a})
	if n != 3 {
		t.Fatalf("applied: got %d want 3", n)
	}
	if got, _ := l.Get("x"); got != b {
		t.Fatalf("x: got %v want %v", got, b)
	}
	if _, ok := l.Get("y"); ok {
		t.Fatalf("y should be removed")
	}
	if got, ok := l.Get("missing"); ok || got != uuid.Nil {
		t.Fatalf("absent key should be Nil")
	}
	snap := l.Snapshot()
	snap["x"] = a
	if got, _ := l.Get("x"); got != b {
		t.Fatalf("snapshot must be a copy")
	}
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("reset should clear")
	}
}

func TestLobby_SubscriberOverflowDrops(t *testing.T) {
	l := NewLobby()
	ch := l.Subscribe(1)
	l.Set("a", uuid.New())
	l.Set("b", uuid.New())
	if len(ch) != 1 {
		t.Fatalf("buffer: got %d want 1", len(ch))
	}
	if l.Len() != 2 {
		t.Fatalf("writes must not be blocked by a slow subscriber")
	}
}
