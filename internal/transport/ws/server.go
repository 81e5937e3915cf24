package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/progress"
	"advtrack/internal/protocol"
)

const (
	pingEvery   = 30 * time.Second
	readTimeout = 90 * time.Second
)

// Tracker is the part of the tick loop the host server feeds.
type Tracker interface {
	MergeContribution(c *progress.Contribution) bool
	Designate(objectiveID string, player uuid.UUID) bool
	Objective(id string) (objectives.Objective, bool)
}

type ServerConfig struct {
	HostID        uuid.UUID
	CatalogDigest string
	// SendQueue bounds each follower's outbound queue; the oldest message is dropped when full.
	SendQueue int
	// ResyncEvery sends the whole map to every follower (0 disables).
	ResyncEvery time.Duration
	MaxClients  int
}

// Server accepts followers for a hosted session.
type Server struct {
	cfg     ServerConfig
	peer    *peer.Peer
	lobby   *peer.Lobby
	tracker Tracker
	log     *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client
}

type client struct {
	id          uint64
	participant uuid.UUID
	conn        *websocket.Conn
	out         chan []byte
}

// NewServer binds to the lobby the peer is currently hosting.
func NewServer(cfg ServerConfig, p *peer.Peer, t Tracker, logger *zap.Logger) (*Server, error) {
	view := p.View()
	if !view.IsHost() {
		return nil, fmt.Errorf("ws: peer is not hosting")
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		peer:    p,
		lobby:   view.Lobby,
		tracker: t,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[uint64]*client{},
	}, nil
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run fans lobby changes out to followers until ctx ends.
func (s *Server) Run(ctx context.Context) {
	sub := s.lobby.Subscribe(1024)
	defer s.lobby.Unsubscribe(sub)

	var resync <-chan time.Time
	if s.cfg.ResyncEvery > 0 {
		t := time.NewTicker(s.cfg.ResyncEvery)
		defer t.Stop()
		resync = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub:
			if !ok {
				return
			}
			delta := map[string]uuid.UUID{d.ObjectiveID: d.PlayerID}
			// Coalesce whatever else is already queued.
		drain:
			for {
				select {
				case more, ok := <-sub:
					if !ok {
						break drain
					}
					delta[more.ObjectiveID] = more.PlayerID
				default:
					break drain
				}
			}
			s.broadcast(s.designations(false, delta))
		case <-resync:
			s.broadcast(s.designations(true, s.lobby.Snapshot()))
		}
	}
}

// Close ends every follower connection. http.Server.Shutdown does not reach
// hijacked connections, so callers stopping a host use this as well.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "host stopping"), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

func (s *Server) designations(full bool, entries map[string]uuid.UUID) []byte {
	b, _ := json.Marshal(protocol.DesignationsMsg{
		Type:            protocol.TypeDesignations,
		ProtocolVersion: protocol.Version,
		Full:            full,
		Seq:             s.lobby.Seq(),
		Entries:         entries,
	})
	return b
}

func (s *Server) broadcast(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		sendLatest(c.out, b)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		defer s.drop(c)
		log := s.log.With(zap.Stringer("participant", c.participant), zap.Uint64("conn", c.id))
		log.Info("follower joined")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						cancel()
						return
					}
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if e := s.handle(c, msg); e != nil {
				log.Debug("rejected message", zap.String("code", e.Code), zap.String("message", e.Message))
				b, _ := json.Marshal(e)
				sendLatest(c.out, b)
			}
		}

		cancel()
		<-writeDone
		log.Info("follower left")
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		refuse(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		refuse(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	if err := protocol.Validate(msg); err != nil {
		refuse(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.ParticipantID == uuid.Nil {
		refuse(conn, protocol.ErrBadRequest, "participant_id required")
		return nil
	}
	if v := s.peer.View(); !v.IsHost() || v.Lobby != s.lobby {
		refuse(conn, protocol.ErrNotHost, "session is not hosted here")
		return nil
	}

	c := &client{id: s.nextID.Add(1), participant: hello.ParticipantID, conn: conn, out: make(chan []byte, s.cfg.SendQueue)}
	s.mu.Lock()
	if s.cfg.MaxClients > 0 && len(s.clients) >= s.cfg.MaxClients {
		s.mu.Unlock()
		refuse(conn, protocol.ErrSessionBusy, "session full")
		return nil
	}
	s.clients[c.id] = c
	// Queue the snapshot under the lock so no delta can overtake it.
	snap := s.designations(true, s.lobby.Snapshot())
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       fmt.Sprintf("S%d", c.id),
		HostID:          s.cfg.HostID,
		CatalogDigest:   s.cfg.CatalogDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.drop(c)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, snap); err != nil {
		s.drop(c)
		return nil
	}
	return c
}

func (s *Server) handle(c *client, msg []byte) *protocol.ErrorMsg {
	if err := protocol.Validate(msg); err != nil {
		e := protocol.NewError(protocol.ErrProtoBadRequest, err.Error())
		return &e
	}
	base, _ := protocol.DecodeBase(msg)
	if base.ProtocolVersion != protocol.Version {
		e := protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version")
		return &e
	}
	switch base.Type {
	case protocol.TypeContribution:
		var m protocol.ContributionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			e := protocol.NewError(protocol.ErrBadRequest, err.Error())
			return &e
		}
		contrib := &progress.Contribution{}
		if err := json.Unmarshal(m.Contribution, contrib); err != nil {
			e := protocol.NewError(protocol.ErrBadRequest, err.Error())
			return &e
		}
		if contrib.PlayerID() != c.participant {
			e := protocol.NewError(protocol.ErrBadRequest, "contribution belongs to another participant")
			return &e
		}
		if !s.tracker.MergeContribution(contrib) {
			e := protocol.NewError(protocol.ErrInternal, "merge queue full")
			return &e
		}
	case protocol.TypeDesignate:
		var m protocol.DesignateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			e := protocol.NewError(protocol.ErrBadRequest, err.Error())
			return &e
		}
		if _, ok := s.tracker.Objective(m.ObjectiveID); !ok {
			e := protocol.NewError(protocol.ErrUnknownObj, m.ObjectiveID)
			return &e
		}
		if m.ParticipantID == uuid.Nil {
			// Designating nobody changes nothing.
			return nil
		}
		if !s.tracker.Designate(m.ObjectiveID, m.ParticipantID) {
			e := protocol.NewError(protocol.ErrInternal, "designation queue full")
			return &e
		}
	default:
		e := protocol.NewError(protocol.ErrProtoBadRequest, "unexpected "+base.Type)
		return &e
	}
	return nil
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

func refuse(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// sendLatest never blocks: when ch is full the oldest message makes room.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
