package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"advtrack/internal/catalog"
	"advtrack/internal/config"
	"advtrack/internal/logging"
	"advtrack/internal/objectives"
	"advtrack/internal/peer"
	"advtrack/internal/persistence/indexdb"
	"advtrack/internal/persistence/ledger"
	persistlog "advtrack/internal/persistence/log"
	"advtrack/internal/tracker"
	"advtrack/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tracker.yaml (optional)")
		role       = flag.String("role", "", "idle, host or follow")
		listen     = flag.String("listen", "", "http listen address")
		hostURL    = flag.String("host_url", "", "host websocket url, e.g. ws://10.0.0.2:8090/v1/ws")
		player     = flag.String("player", "", "local participant uuid")
		name       = flag.String("name", "", "local participant display name")
		dataDir    = flag.String("data", "", "runtime data directory")
		configDir  = flag.String("configs", "", "config directory holding objectives.json")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		logLevel   = flag.String("log_level", "", "debug, info, warn or error")
	)
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = *role
		case "listen":
			cfg.Transport.Listen = *listen
		case "host_url":
			cfg.Transport.HostURL = *hostURL
		case "player":
			cfg.Player.ID = *player
		case "name":
			cfg.Player.Name = *name
		case "data":
			cfg.DataDir = *dataDir
		case "configs":
			cfg.ConfigDir = *configDir
		case "disable_db":
			cfg.Persistence.DisableDB = *disableDB
		case "log_level":
			cfg.Log.Level = *logLevel
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, OutputPath: cfg.Log.OutputPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tracker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	cat, err := catalog.Load(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded", zap.Int("objectives", len(cat.Defs)), zap.String("digest", cat.Digest))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	role := cfg.PeerRole()
	me := cfg.PlayerID()

	// The index only backs a host: followers mirror the host's map.
	var idx *indexdb.SQLiteIndex
	if role == peer.RoleHost && !cfg.Persistence.DisableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalog(ctx, cat); err != nil {
			logger.Warn("index catalog", zap.Error(err))
		}
	}

	// Restored picks must be in the lobby before objectives read it.
	p := peer.New()
	if role == peer.RoleHost {
		lobby := peer.NewLobby()
		if idx != nil {
			picks, err := idx.LoadDesignations(ctx)
			if err != nil {
				logger.Warn("restore designations", zap.Error(err))
			}
			lobby.Replace(picks)
			logger.Info("designations restored", zap.Int("count", lobby.Len()))
		}
		p.Host(lobby)
	}

	objs, err := objectives.FromDefinitions(cat.Defs, p.View())
	if err != nil {
		return fmt.Errorf("objectives: %w", err)
	}
	tr, err := tracker.New(tracker.Config{
		TickRateHz:         cfg.Tracker.TickRateHz,
		SnapshotEveryTicks: cfg.Tracker.SnapshotEveryTicks,
		LocalPlayer:        me,
	}, p, objs, logger.Named("tracker"))
	if err != nil {
		return err
	}

	ledgerDir := filepath.Join(cfg.DataDir, "ledgers")
	restoreLedgers(ctx, tr, ledgerDir, idx, logger)

	var ticks tracker.TickLogger
	if !cfg.Persistence.DisableTickLog {
		tickLog := persistlog.NewTickLogger(cfg.DataDir)
		defer tickLog.Close()
		ticks = tickLog
	}
	if idx != nil {
		ticks = multiTickLogger{a: ticks, b: idx}
		tr.SetStore(idx)
	}
	if ticks != nil {
		tr.SetTickLogger(ticks)
	}

	if !cfg.Persistence.DisableSnapshot {
		snapCh := make(chan tracker.LedgerSnapshot, 2)
		tr.SetSnapshotSink(snapCh)
		go writeSnapshots(ctx, snapCh, ledgerDir, idx, logger)
	}

	var wsSrv *ws.Server
	switch role {
	case peer.RoleHost:
		wsSrv, err = ws.NewServer(ws.ServerConfig{
			HostID:        me,
			CatalogDigest: cat.Digest,
			SendQueue:     cfg.Transport.SendQueue,
			ResyncEvery:   time.Duration(cfg.Transport.ResyncSeconds) * time.Second,
		}, p, tr, logger.Named("ws"))
		if err != nil {
			return err
		}
		go wsSrv.Run(ctx)
	case peer.RoleFollower:
		f := ws.NewFollower(ws.FollowerConfig{
			URL:           cfg.Transport.HostURL,
			ParticipantID: me,
			Name:          cfg.Player.Name,
			CatalogDigest: cat.Digest,
			ReconnectMin:  time.Duration(cfg.Transport.ReconnectMinMs) * time.Millisecond,
			ReconnectMax:  time.Duration(cfg.Transport.ReconnectMaxMs) * time.Millisecond,
		}, p, logger.Named("follower"))
		tr.SetUpstream(f)
		go func() {
			if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("follower stopped", zap.Error(err))
			}
		}()
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tracker loop stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	a := &api{tracker: tr, ws: wsSrv, index: idx, log: logger.Named("http")}
	a.routes(mux)

	srv := &http.Server{
		Addr:              cfg.Transport.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		if wsSrv != nil {
			wsSrv.Close()
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Transport.Listen), zap.Stringer("role", role), zap.Stringer("player", me))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-runDone
		return fmt.Errorf("listen: %w", err)
	}
	<-runDone

	// Final ledger snapshot so a restart resumes from the last tick.
	if !cfg.Persistence.DisableSnapshot && tr.World().Len() > 0 {
		path := ledger.PathFor(ledgerDir, tr.CurrentTick())
		if err := ledger.Write(path, tr.CurrentTick(), tr.World().Snapshot()); err != nil {
			logger.Warn("final snapshot", zap.Error(err))
		}
	}
	logger.Info("stopped", zap.Uint64("tick", tr.CurrentTick()))
	return nil
}

// restoreLedgers merges the newest ledger snapshot and, on a host, the
// indexed contributions. Merge is a union so overlap is harmless.
func restoreLedgers(ctx context.Context, tr *tracker.Tracker, dir string, idx *indexdb.SQLiteIndex, logger *zap.Logger) {
	if path, err := ledger.Latest(dir); err != nil {
		logger.Warn("find ledger snapshot", zap.Error(err))
	} else if path != "" {
		hdr, ledgers, err := ledger.Read(path)
		if err != nil {
			logger.Warn("ledger snapshot", zap.String("path", path), zap.Error(err))
		}
		n := tr.Restore(ledgers)
		logger.Info("ledgers restored", zap.String("path", path), zap.Uint64("tick", hdr.Tick), zap.Int("changed", n))
	}
	if idx == nil {
		return
	}
	ledgers, err := idx.LoadContributions(ctx)
	if err != nil {
		logger.Warn("indexed contributions", zap.Error(err))
	}
	if n := tr.Restore(ledgers); n > 0 {
		logger.Info("contributions restored from index", zap.Int("changed", n))
	}
}

func writeSnapshots(ctx context.Context, ch <-chan tracker.LedgerSnapshot, dir string, idx *indexdb.SQLiteIndex, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := ledger.PathFor(dir, snap.Tick)
			if err := ledger.Write(path, snap.Tick, snap.Ledgers); err != nil {
				logger.Warn("snapshot write", zap.Error(err))
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap.Tick, len(snap.Ledgers))
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiTickLogger struct {
	a tracker.TickLogger
	b tracker.TickLogger
}

func (m multiTickLogger) WriteTick(entry tracker.TickLogEntry) error {
	var errs []error
	if m.a != nil {
		errs = append(errs, m.a.WriteTick(entry))
	}
	if m.b != nil {
		errs = append(errs, m.b.WriteTick(entry))
	}
	return errors.Join(errs...)
}
