package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"advtrack/internal/peer"
	"advtrack/internal/progress"
	"advtrack/internal/protocol"
)

var ErrNotConnected = errors.New("ws: not connected to a host")

// RefusedError is returned when the host answers the handshake with ERROR.
type RefusedError struct {
	Code    string
	Message string
}

func (e *RefusedError) Error() string { return fmt.Sprintf("host refused: %s %s", e.Code, e.Message) }

type FollowerConfig struct {
	URL           string
	ParticipantID uuid.UUID
	Name          string
	// CatalogDigest is compared to the host's; a mismatch is only logged.
	CatalogDigest string
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
}

// Follower mirrors a host's designation map into the local peer.
type Follower struct {
	cfg  FollowerConfig
	peer *peer.Peer
	log  *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
}

func NewFollower(cfg FollowerConfig, p *peer.Peer, logger *zap.Logger) *Follower {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 200 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{cfg: cfg, peer: p, log: logger}
}

// Run keeps a session with the host until ctx ends, reconnecting with a
// capped exponential backoff.
func (f *Follower) Run(ctx context.Context) error {
	backoff := f.cfg.ReconnectMin
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var refused *RefusedError
		if errors.As(err, &refused) && refused.Code == protocol.ErrProtoVersion {
			return err
		}
		f.log.Warn("host session ended", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if errors.Is(err, errSessionServed) {
			backoff = f.cfg.ReconnectMin
			continue
		}
		backoff *= 2
		if backoff > f.cfg.ReconnectMax {
			backoff = f.cfg.ReconnectMax
		}
	}
}

// errSessionServed marks a session that was established before it dropped.
var errSessionServed = errors.New("session dropped")

func (f *Follower) session(ctx context.Context) error {
	conn, lobby, err := f.Dial(ctx)
	if err != nil {
		return err
	}
	err = f.serve(ctx, conn, lobby)
	return fmt.Errorf("%w: %v", errSessionServed, err)
}

// Dial connects, completes the handshake and installs a fresh lobby seeded
// from the host's snapshot. The caller owns the returned connection.
func (f *Follower) Dial(ctx context.Context) (*websocket.Conn, *peer.Lobby, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, f.cfg.URL, http.Header{})
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*websocket.Conn, *peer.Lobby, error) {
		_ = conn.Close()
		return nil, nil, err
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ParticipantID:   f.cfg.ParticipantID,
		Name:            f.cfg.Name,
	}
	if err := writeJSON(conn, hello); err != nil {
		return fail(fmt.Errorf("send HELLO: %w", err))
	}

	var welcome protocol.WelcomeMsg
	if err := readExpect(conn, protocol.TypeWelcome, &welcome); err != nil {
		return fail(err)
	}
	var snap protocol.DesignationsMsg
	if err := readExpect(conn, protocol.TypeDesignations, &snap); err != nil {
		return fail(err)
	}
	if f.cfg.CatalogDigest != "" && welcome.CatalogDigest != "" && welcome.CatalogDigest != f.cfg.CatalogDigest {
		f.log.Warn("catalog digest differs from host", zap.String("host", welcome.CatalogDigest), zap.String("local", f.cfg.CatalogDigest))
	}

	lobby := peer.NewLobby()
	lobby.Replace(snap.Entries)

	f.mu.Lock()
	f.conn = conn
	f.welcome = welcome
	f.mu.Unlock()

	f.peer.Follow(lobby)
	f.log.Info("following host", zap.Stringer("host", welcome.HostID), zap.String("session", welcome.SessionID), zap.Int("designations", lobby.Len()))
	return conn, lobby, nil
}

func (f *Follower) serve(ctx context.Context, conn *websocket.Conn, lobby *peer.Lobby) error {
	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		_ = conn.Close()
		// Only tear down the session this connection installed.
		if f.peer.View().Lobby == lobby {
			f.peer.Disconnect()
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := protocol.Validate(msg); err != nil {
			f.log.Debug("invalid message from host", zap.Error(err))
			continue
		}
		base, _ := protocol.DecodeBase(msg)
		switch base.Type {
		case protocol.TypeDesignations:
			var m protocol.DesignationsMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			if m.Full {
				lobby.Replace(m.Entries)
			} else {
				lobby.Apply(m.Entries)
			}
			f.peer.MarkChanged()
		case protocol.TypeError:
			var m protocol.ErrorMsg
			_ = json.Unmarshal(msg, &m)
			f.log.Warn("host error", zap.String("code", m.Code), zap.String("message", m.Message))
		}
	}
}

// Welcome returns the handshake of the current session, if any.
func (f *Follower) Welcome() (protocol.WelcomeMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.welcome, f.conn != nil
}

func (f *Follower) SendContribution(c *progress.Contribution) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return f.send(protocol.ContributionMsg{
		Type:            protocol.TypeContribution,
		ProtocolVersion: protocol.Version,
		Contribution:    raw,
	})
}

func (f *Follower) RequestDesignation(objectiveID string, player uuid.UUID) error {
	return f.send(protocol.DesignateMsg{
		Type:            protocol.TypeDesignate,
		ProtocolVersion: protocol.Version,
		ObjectiveID:     objectiveID,
		ParticipantID:   player,
	})
}

func (f *Follower) send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return ErrNotConnected
	}
	return writeJSON(f.conn, v)
}

func readExpect(conn *websocket.Conn, typ string, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read %s: %w", typ, err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return fmt.Errorf("read %s: %w", typ, err)
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return &RefusedError{Code: e.Code, Message: e.Message}
	}
	if base.Type != typ {
		return fmt.Errorf("expected %s, got %s", typ, base.Type)
	}
	if err := protocol.Validate(msg); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return json.Unmarshal(msg, v)
}
