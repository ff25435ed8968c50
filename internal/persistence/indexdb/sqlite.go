// Package indexdb keeps a queryable SQLite copy of the audit stream. The
// JSONL audit log stays the source of truth; this index may drop rows when
// its writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Staticpast/ModeManager/internal/sim/policy"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
)

const schemaVersion = "1"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTransition atomic.Uint64
	dropDenial     atomic.Uint64
	writeErrors    atomic.Uint64
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropTransitionTotal uint64 `json:"drop_transition_total"`
	DropDenialTotal     uint64 `json:"drop_denial_total"`
	WriteErrorTotal     uint64 `json:"write_error_total"`
}

type reqKind int

const (
	reqTransition reqKind = iota + 1
	reqDenial
	reqSync
)

type req struct {
	kind reqKind

	transition transition.Event
	denial     policy.Denial
	done       chan struct{}
}

// OpenSQLite opens (creating if needed) the index at path and starts its
// writer.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
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

func openDB(path string) (*sql.DB, error) {
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
	return db, nil
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
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			from_mode TEXT NOT NULL,
			to_mode TEXT NOT NULL,
			reason TEXT NOT NULL,
			outcome TEXT NOT NULL,
			remaining INTEGER NOT NULL,
			privileged INTEGER NOT NULL,
			admin TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_user_at ON transitions(user_id, at);`,
		`CREATE TABLE IF NOT EXISTS denials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			rule TEXT NOT NULL,
			subject TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_denials_user_at ON denials(user_id, at);`,
		`CREATE INDEX IF NOT EXISTS idx_denials_rule ON denials(rule);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
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

func (s *SQLiteIndex) ObserveTransition(ev transition.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTransition, transition: ev}:
	default:
		s.dropTransition.Add(1)
	}
}

func (s *SQLiteIndex) ObserveDenial(d policy.Denial) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDenial, denial: d}:
	default:
		s.dropDenial.Add(1)
	}
}

// Sync waits until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropTransitionTotal: s.dropTransition.Load(),
		DropDenialTotal:     s.dropDenial.Load(),
		WriteErrorTotal:     s.writeErrors.Load(),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTransition, _ := s.db.Prepare(`INSERT INTO transitions(at,user_id,name,from_mode,to_mode,reason,outcome,remaining,privileged,admin) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertDenial, _ := s.db.Prepare(`INSERT INTO denials(at,user_id,name,rule,subject) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertTransition != nil {
			_ = insertTransition.Close()
		}
		if insertDenial != nil {
			_ = insertDenial.Close()
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
			s.writeErrors.Add(1)
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
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sql.Stmt, args ...any) {
		if stmt == nil {
			s.writeErrors.Add(1)
			return
		}
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			s.writeErrors.Add(1)
			_ = tx.Rollback()
			tx = nil
			return
		}
		opCount++
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()
	for {
		var r req
		select {
		case <-tick.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTransition:
			ev := r.transition
			exec(insertTransition,
				ev.At.Unix(), ev.UserID.String(), ev.Name,
				string(ev.From), string(ev.To), ev.Reason, ev.Outcome.String(),
				ev.Remaining, boolInt(ev.Privileged), ev.Admin)
		case reqDenial:
			d := r.denial
			exec(insertDenial, d.At.Unix(), d.UserID.String(), d.Name, d.Rule, d.Subject)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}
}
