package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"advtrack/internal/persistence/indexdb"
	"advtrack/internal/progress"
	"advtrack/internal/tracker"
	"advtrack/internal/transport/ws"
)

const maxEventBody = 1 << 20

// api is the local surface: the game feeds events in, renderers read the board.
type api struct {
	tracker *tracker.Tracker
	ws      *ws.Server
	index   *indexdb.SQLiteIndex
	log     *zap.Logger
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.metrics)
	mux.HandleFunc("/v1/board", a.board)
	mux.HandleFunc("/v1/events", a.events)
	mux.HandleFunc("/v1/designate", a.designate)
	if a.ws != nil {
		mux.HandleFunc("/v1/ws", a.ws.Handler())
	}
}

func (a *api) board(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b := a.tracker.Board()
	done, total := b.Progress()
	resp := struct {
		tracker.Board
		Done  int `json:"done"`
		Total int `json:"total"`
	}{Board: b, Done: done, Total: total}
	writeJSON(rw, http.StatusOK, resp)
}

// events accepts one progress event or a JSON array of them.
func (a *api) events(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	var evs []progress.Event
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &evs)
	} else {
		var ev progress.Event
		err = json.Unmarshal(body, &ev)
		evs = append(evs, ev)
	}
	if err != nil {
		http.Error(rw, "bad event: "+err.Error(), http.StatusBadRequest)
		return
	}

	for i, ev := range evs {
		if ev.Player == uuid.Nil {
			http.Error(rw, fmt.Sprintf("event %d: %v", i, progress.ErrMissingPlayerID), http.StatusBadRequest)
			return
		}
	}

	accepted := 0
	for _, ev := range evs {
		if !a.tracker.Ingest(ev) {
			break
		}
		accepted++
	}
	status := http.StatusAccepted
	if accepted < len(evs) {
		a.log.Debug("events not queued", zap.Int("accepted", accepted), zap.Int("received", len(evs)))
		if accepted == 0 {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(rw, status, map[string]int{"accepted": accepted, "received": len(evs)})
}

type designateReq struct {
	ObjectiveID   string    `json:"objective_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

func (a *api) designate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	var req designateReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(rw, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := a.tracker.Objective(req.ObjectiveID); !ok {
		http.Error(rw, "unknown objective", http.StatusNotFound)
		return
	}
	if req.ParticipantID == uuid.Nil {
		http.Error(rw, "participant_id required", http.StatusBadRequest)
		return
	}
	if !a.tracker.Designate(req.ObjectiveID, req.ParticipantID) {
		http.Error(rw, "busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]bool{"ok": true})
}

func (a *api) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	b := a.tracker.Board()
	done, total := b.Progress()

	fmt.Fprintf(rw, "# HELP advtrack_tick Current tracker tick.\n")
	fmt.Fprintf(rw, "# TYPE advtrack_tick gauge\n")
	fmt.Fprintf(rw, "advtrack_tick{role=%q} %d\n", b.Role, a.tracker.CurrentTick())

	fmt.Fprintf(rw, "# HELP advtrack_objectives Objectives by completion.\n")
	fmt.Fprintf(rw, "# TYPE advtrack_objectives gauge\n")
	fmt.Fprintf(rw, "advtrack_objectives{state=%q} %d\n", "complete", done)
	fmt.Fprintf(rw, "advtrack_objectives{state=%q} %d\n", "total", total)

	fmt.Fprintf(rw, "# HELP advtrack_participants Participants with a ledger.\n")
	fmt.Fprintf(rw, "# TYPE advtrack_participants gauge\n")
	fmt.Fprintf(rw, "advtrack_participants %d\n", b.Participants)

	if a.ws != nil {
		fmt.Fprintf(rw, "# HELP advtrack_followers Connected followers.\n")
		fmt.Fprintf(rw, "# TYPE advtrack_followers gauge\n")
		fmt.Fprintf(rw, "advtrack_followers %d\n", a.ws.Clients())
	}
	if a.index != nil {
		s := a.index.Stats()
		fmt.Fprintf(rw, "# HELP advtrack_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE advtrack_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "advtrack_index_queue_depth %d\n", s.QueueLen)

		fmt.Fprintf(rw, "# HELP advtrack_index_dropped_total Index writes dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE advtrack_index_dropped_total counter\n")
		fmt.Fprintf(rw, "advtrack_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
		fmt.Fprintf(rw, "advtrack_index_dropped_total{kind=%q} %d\n", "designation", s.DropDesignationTotal)
		fmt.Fprintf(rw, "advtrack_index_dropped_total{kind=%q} %d\n", "contribution", s.DropContributionTotal)
		fmt.Fprintf(rw, "advtrack_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
