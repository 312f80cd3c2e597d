package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/tuning"
	"ghoulrush.io/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the tick journal. Writes are
// queued and applied by one goroutine in batched transactions; the JSONL
// journal stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Frame     uint64
	Path      string
	Seed      int64
	Monsters  int
	Pending   uint64
	NextNetID uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			frame INTEGER PRIMARY KEY,
			connects INTEGER NOT NULL,
			disconnects INTEGER NOT NULL,
			created INTEGER NOT NULL,
			destroyed INTEGER NOT NULL,
			actions_accepted INTEGER NOT NULL,
			cooldown_drops INTEGER NOT NULL,
			overflow_drops INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			next_net_id INTEGER NOT NULL,
			started INTEGER NOT NULL,
			game_over INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			conn INTEGER NOT NULL,
			name TEXT NOT NULL,
			connected_frame INTEGER NOT NULL,
			disconnected_frame INTEGER,
			reason TEXT,
			player INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_conn ON sessions(conn);`,
		`CREATE TABLE IF NOT EXISTS spawns (
			net_id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			created_frame INTEGER NOT NULL,
			destroyed_frame INTEGER,
			owner INTEGER,
			x REAL NOT NULL,
			y REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_spawns_kind_frame ON spawns(kind, created_frame);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			monsters INTEGER NOT NULL,
			pending INTEGER NOT NULL,
			next_net_id INTEGER NOT NULL
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
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	var pending uint64
	for _, p := range snap.Pending {
		pending += uint64(p.Count)
	}
	r := snapshotRow{
		Frame:     snap.Header.Frame,
		Path:      path,
		Seed:      snap.Seed,
		Monsters:  len(snap.Monsters),
		Pending:   pending,
		NextNetID: snap.NextNetID,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning the server runs with, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(frame,connects,disconnects,created,destroyed,actions_accepted,cooldown_drops,overflow_drops,entities,next_net_id,started,game_over,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,conn,name,connected_frame) VALUES(?,?,?,?)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET disconnected_frame=?, reason=?, player=NULLIF(?,0) WHERE conn=? AND disconnected_frame IS NULL`)
	insertSpawn, _ := s.db.Prepare(`INSERT OR REPLACE INTO spawns(net_id,kind,created_frame,owner,x,y) VALUES(?,?,?,NULLIF(?,0),?,?)`)
	destroySpawn, _ := s.db.Prepare(`UPDATE spawns SET destroyed_frame=? WHERE net_id=? AND destroyed_frame IS NULL`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,path,seed,monsters,pending,next_net_id) VALUES(?,?,?,?,?,?)`)
	stmts := []*sql.Stmt{insertTick, insertSession, closeSession, insertSpawn, destroySpawn, insertSnapshot}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
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

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			frame := int64(t.Frame)
			raw, _ := json.Marshal(t)
			if !exec(insertTick, frame, len(t.Connects), len(t.Disconnects), len(t.Created), len(t.Destroyed),
				t.Actions.Accepted, t.Actions.CooldownDrops, t.Actions.OverflowDrops,
				t.Entities, int64(t.NextNetID), boolInt(t.Started), boolInt(t.GameOver), string(raw)) {
				continue
			}
			ok := true
			for _, c := range t.Connects {
				if ok = exec(insertSession, c.Session, int64(c.Conn), c.Name, frame); !ok {
					break
				}
			}
			for _, d := range t.Disconnects {
				if !ok {
					break
				}
				ok = exec(closeSession, frame, d.Reason, int64(d.Player), int64(d.Conn))
			}
			for _, e := range t.Created {
				if !ok {
					break
				}
				ok = exec(insertSpawn, int64(e.ID), e.Kind, frame, int64(e.Owner), e.Pos[0], e.Pos[1])
			}
			for _, id := range t.Destroyed {
				if !ok {
					break
				}
				ok = exec(destroySpawn, frame, int64(id))
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Frame), sn.Path, sn.Seed, sn.Monsters, int64(sn.Pending), int64(sn.NextNetID))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
