package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"advtrack/internal/catalog"
	"advtrack/internal/progress"
	"advtrack/internal/tracker"
)

// SQLiteIndex is the host's queryable record of designations, ledgers and
// logged ticks. Writes go through a single goroutine; a full queue drops.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick         atomic.Uint64
	dropDesignation  atomic.Uint64
	dropContribution atomic.Uint64
	dropSnapshot     atomic.Uint64
}

type Stats struct {
	QueueLen              int    `json:"queue_len"`
	DropTickTotal         uint64 `json:"drop_tick_total"`
	DropDesignationTotal  uint64 `json:"drop_designation_total"`
	DropContributionTotal uint64 `json:"drop_contribution_total"`
	DropSnapshotTotal     uint64 `json:"drop_snapshot_total"`
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqDesignation
	reqContribution
	reqSnapshot
)

type req struct {
	kind reqKind
	at   time.Time

	tick         tracker.TickLogEntry
	objectiveID  string
	player       uuid.UUID
	contribution *progress.Contribution
	snapshot     snapshotRow
}

type snapshotRow struct {
	Tick    uint64
	Path    string
	Ledgers int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 16384)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS designations (
			objective_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contributions (
			player_id TEXT PRIMARY KEY,
			advancements INTEGER NOT NULL,
			criteria INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			role TEXT NOT NULL,
			invalidated INTEGER NOT NULL,
			net_changed INTEGER NOT NULL,
			events INTEGER NOT NULL,
			merges INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS designation_changes (
			tick INTEGER NOT NULL,
			objective_id TEXT NOT NULL,
			from_player TEXT NOT NULL,
			to_player TEXT NOT NULL,
			PRIMARY KEY (tick, objective_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_objective_tick ON designation_changes(objective_id, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			ledgers INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueLen:              len(s.ch),
		DropTickTotal:         s.dropTick.Load(),
		DropDesignationTotal:  s.dropDesignation.Load(),
		DropContributionTotal: s.dropContribution.Load(),
		DropSnapshotTotal:     s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	r.at = time.Now().UTC()
	select {
	case s.ch <- r:
	default:
		// The JSONL logs and ledger snapshots stay authoritative.
		switch r.kind {
		case reqTick:
			s.dropTick.Add(1)
		case reqDesignation:
			s.dropDesignation.Add(1)
		case reqContribution:
			s.dropContribution.Add(1)
		case reqSnapshot:
			s.dropSnapshot.Add(1)
		}
	}
}

func (s *SQLiteIndex) WriteTick(entry tracker.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) RecordDesignation(objectiveID string, player uuid.UUID) {
	if objectiveID == "" || player == uuid.Nil {
		return
	}
	s.enqueue(req{kind: reqDesignation, objectiveID: objectiveID, player: player})
}

// RecordContribution stores c as-is; callers hand over a copy.
func (s *SQLiteIndex) RecordContribution(c *progress.Contribution) {
	if c == nil {
		return
	}
	s.enqueue(req{kind: reqContribution, contribution: c})
}

func (s *SQLiteIndex) RecordSnapshot(path string, tick uint64, ledgers int) {
	if path == "" {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{Tick: tick, Path: path, Ledgers: ledgers}})
}

// UpsertCatalog records the objective definitions the session runs with.
func (s *SQLiteIndex) UpsertCatalog(ctx context.Context, c *catalog.Catalog) error {
	if s == nil || c == nil {
		return nil
	}
	b, err := json.Marshal(c.Defs)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"objectives", c.Digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadDesignations returns the last recorded pick per objective.
func (s *SQLiteIndex) LoadDesignations(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT objective_id, player_id FROM designations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]uuid.UUID{}
	for rows.Next() {
		var obj, player string
		if err := rows.Scan(&obj, &player); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(player)
		if err != nil || id == uuid.Nil {
			continue
		}
		out[obj] = id
	}
	return out, rows.Err()
}

// LoadContributions decodes every stored ledger. Rows that fail to decode are
// skipped and reported in the returned error.
func (s *SQLiteIndex) LoadContributions(ctx context.Context) ([]*progress.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json FROM contributions ORDER BY updated_at, player_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var buf []byte
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		buf = append(buf, raw...)
		buf = append(buf, '\n')
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return progress.DecodeRecords(buf)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,role,invalidated,net_changed,events,merges,changes,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO designation_changes(tick,objective_id,from_player,to_player) VALUES(?,?,?,?)`)
	upsertDesignation, _ := s.db.Prepare(`INSERT OR REPLACE INTO designations(objective_id,player_id,updated_at) VALUES(?,?,?)`)
	upsertContribution, _ := s.db.Prepare(`INSERT OR REPLACE INTO contributions(player_id,advancements,criteria,json,updated_at) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,ledgers,recorded_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertChange, upsertDesignation, upsertContribution, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	handle := func(r req) {
		stamp := r.at.Format(time.RFC3339Nano)
		switch r.kind {
		case reqTick:
			e := r.tick
			raw, _ := json.Marshal(e)
			if !exec(insertTick, int64(e.Tick), e.Role, boolInt(e.Invalidated), boolInt(e.NetChanged),
				e.Events, e.Merges, len(e.Changes), string(raw)) {
				return
			}
			for _, ch := range e.Changes {
				if !exec(insertChange, int64(e.Tick), ch.ObjectiveID, ch.From.String(), ch.To.String()) {
					return
				}
			}
		case reqDesignation:
			exec(upsertDesignation, r.objectiveID, r.player.String(), stamp)
		case reqContribution:
			c := r.contribution
			raw, err := json.Marshal(c)
			if err != nil {
				return
			}
			exec(upsertContribution, c.PlayerID().String(), c.CompletedCount(), c.CriteriaCount(), string(raw), stamp)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Ledgers, stamp)
		}
	}

	// Quiet sessions still commit within commitMaxWait.
	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			handle(r)
			if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
				commit()
			}
		case <-flush.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
