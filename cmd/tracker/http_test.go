package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/tracker"
)

func newTestAPI(t *testing.T) (*api, *http.ServeMux) {
	t.Helper()
	defs := []objectives.Definition{
		{ID: "story/root", Name: "Minecraft"},
		{ID: "O", Name: "Two", Criteria: []objectives.Criterion{{ID: "c1"}, {ID: "c2"}}},
	}
	p := peer.New()
	objs, err := objectives.FromDefinitions(defs, p.View())
	if err != nil {
		t.Fatalf("FromDefinitions: %v", err)
	}
	tr, err := tracker.New(tracker.Config{TickRateHz: 20}, p, objs, nil)
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	a := &api{tracker: tr, log: zap.NewNop()}
	mux := http.NewServeMux()
	a.routes(mux)
	return a, mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAPI_EventsThenBoard(t *testing.T) {
	a, mux := newTestAPI(t)
	player := uuid.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)

	body := `[{"kind":"criterion","player":"` + player.String() + `","adv":"O","crit":"c1","at":"` + at + `"},
		{"kind":"advancement","player":"` + player.String() + `","adv":"story/root","at":"` + at + `"}]`
	rec := do(mux, http.MethodPost, "/v1/events", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("events: got %d want 202 (%s)", rec.Code, rec.Body.String())
	}
	a.tracker.StepOnce()

	rec = do(mux, http.MethodGet, "/v1/board", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("board: %d", rec.Code)
	}
	var resp struct {
		Done    int                  `json:"done"`
		Total   int                  `json:"total"`
		Entries []tracker.BoardEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if resp.Done != 1 || resp.Total != 2 || len(resp.Entries) != 2 {
		t.Fatalf("board: %+v", resp)
	}
	if e := resp.Entries[1]; e.Designated != player || e.CriteriaDone != 1 {
		t.Fatalf("entry: %+v", e)
	}
}

func TestAPI_EventsRejects(t *testing.T) {
	_, mux := newTestAPI(t)
	if rec := do(mux, http.MethodPost, "/v1/events", `{"kind":"flag","flag":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing player: got %d want 400", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/v1/events", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: got %d want 400", rec.Code)
	}
	if rec := do(mux, http.MethodGet, "/v1/events", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: got %d want 405", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{}`))
	req.RemoteAddr = "10.1.2.3:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote: got %d want 403", rec.Code)
	}
}

func TestAPI_Designate(t *testing.T) {
	a, mux := newTestAPI(t)
	first, pick := uuid.New(), uuid.New()
	body := `{"kind":"criterion","player":"` + first.String() + `","adv":"O","crit":"c1"}`
	if rec := do(mux, http.MethodPost, "/v1/events", body); rec.Code != http.StatusAccepted {
		t.Fatalf("events: %d", rec.Code)
	}
	a.tracker.StepOnce()

	if rec := do(mux, http.MethodPost, "/v1/designate", `{"objective_id":"nope","participant_id":"`+pick.String()+`"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown objective: got %d want 404", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/v1/designate", `{"objective_id":"O"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("nil participant: got %d want 400", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/v1/designate", `{"objective_id":"O","participant_id":"`+pick.String()+`"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("designate: got %d want 202", rec.Code)
	}
	a.tracker.StepOnce()
	if got := a.tracker.DesignatedPlayer("O"); got != pick {
		t.Fatalf("designated: got %v want %v", got, pick)
	}
}

func TestAPI_MetricsAndHealth(t *testing.T) {
	a, mux := newTestAPI(t)
	a.tracker.StepOnce()
	rec := do(mux, http.MethodGet, "/metrics", "")
	for _, want := range []string{`advtrack_tick{role="idle"} 1`, `advtrack_objectives{state="total"} 2`, "advtrack_participants 0"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("metrics missing %q:\n%s", want, rec.Body.String())
		}
	}
	if strings.Contains(rec.Body.String(), "advtrack_followers") {
		t.Fatalf("followers gauge without a host server")
	}
	if rec := do(mux, http.MethodGet, "/healthz", ""); rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

type failingTicks struct{ err error }

func (f failingTicks) WriteTick(tracker.TickLogEntry) error { return f.err }

func TestMultiTickLogger_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := multiTickLogger{a: failingTicks{}, b: failingTicks{err: boom}}
	if err := m.WriteTick(tracker.TickLogEntry{Tick: 1}); !errors.Is(err, boom) {
		t.Fatalf("got %v want boom", err)
	}
	if err := (multiTickLogger{}).WriteTick(tracker.TickLogEntry{}); err != nil {
		t.Fatalf("empty fan-out: %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1": true,
		"[::1]:80":    true,
		"10.0.0.1:80": false,
		"bogus":       false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}
