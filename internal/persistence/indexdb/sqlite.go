// Package indexdb keeps a queryable sqlite index of matches and the
// divergences found in them. Writes are queued to a single writer goroutine
// and batched into transactions; the JSONL logs remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/validator"
)

var ErrNotFound = errors.New("indexdb: not found")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64

	// syncMu serializes Sync barriers.
	syncMu sync.Mutex
}

type reqKind int

const (
	reqMatchCreated reqKind = iota + 1
	reqMatchClosed
	reqFlush
	reqDivergence
	reqBarrier
)

type req struct {
	kind reqKind

	match      matchRow
	flush      flushRow
	divergence validator.Failure
	at         time.Time
	done       chan struct{}
}

type matchRow struct {
	ID          uuid.UUID
	Seed        int64
	Actions     int
	Digest      string
	ArchivePath string
}

type flushRow struct {
	MatchID uuid.UUID
	Actions int
}

// MatchRow is one indexed match.
type MatchRow struct {
	ID          uuid.UUID
	Seed        int64
	CreatedAt   time.Time
	ClosedAt    *time.Time
	Flushes     int
	Flushed     int
	Actions     int
	Digest      string
	ArchivePath string
	Divergences int
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

	s := &SQLiteIndex{
		db: db,
		// Sync flushes arrive at 20 Hz per match; the buffer absorbs bursts
		// without stalling the loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
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
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT,
			flushes INTEGER NOT NULL DEFAULT 0,
			flushed_actions INTEGER NOT NULL DEFAULT 0,
			actions INTEGER NOT NULL DEFAULT 0,
			digest TEXT NOT NULL DEFAULT '',
			archive_path TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS divergences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id TEXT NOT NULL,
			action_count INTEGER NOT NULL,
			action_type TEXT NOT NULL,
			action_json TEXT NOT NULL,
			kind TEXT NOT NULL,
			idx INTEGER NOT NULL,
			primary_value TEXT NOT NULL,
			shadow_value TEXT NOT NULL,
			context TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_divergences_match ON divergences(match_id);`,
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

// Dropped counts writes lost because the queue was full.
func (s *SQLiteIndex) Dropped() int64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) RecordMatchCreated(id uuid.UUID, seed int64) {
	s.enqueue(req{kind: reqMatchCreated, match: matchRow{ID: id, Seed: seed}, at: time.Now().UTC()})
}

// RecordMatchClosed stores the final action count, digest and archive path.
func (s *SQLiteIndex) RecordMatchClosed(id uuid.UUID, actions int, digest, archivePath string) {
	s.enqueue(req{kind: reqMatchClosed, match: matchRow{ID: id, Actions: actions, Digest: digest, ArchivePath: archivePath}, at: time.Now().UTC()})
}

func (s *SQLiteIndex) RecordFlush(id uuid.UUID, actions int) {
	s.enqueue(req{kind: reqFlush, flush: flushRow{MatchID: id, Actions: actions}})
}

func (s *SQLiteIndex) RecordDivergence(f validator.Failure) {
	s.enqueue(req{kind: reqDivergence, divergence: f, at: time.Now().UTC()})
}

// Sync waits until every write queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqBarrier, done: done}:
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

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertMatch, _ := s.db.Prepare(`INSERT OR IGNORE INTO matches(match_id,seed,created_at) VALUES(?,?,?)`)
	closeMatch, _ := s.db.Prepare(`UPDATE matches SET closed_at=?, actions=?, digest=?, archive_path=? WHERE match_id=?`)
	addFlush, _ := s.db.Prepare(`UPDATE matches SET flushes=flushes+1, flushed_actions=flushed_actions+? WHERE match_id=?`)
	insertDivergence, _ := s.db.Prepare(`INSERT INTO divergences(match_id,action_count,action_type,action_json,kind,idx,primary_value,shadow_value,context,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMatch, closeMatch, addFlush, insertDivergence} {
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
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// Readers share the single connection, so an idle open transaction is
	// committed on a timer rather than held until the next write.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case <-idle.C:
			flushIfNeeded()
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		if r.kind == reqBarrier {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqMatchCreated:
			_, err = tx.Stmt(insertMatch).Exec(r.match.ID.String(), r.match.Seed, r.at.Format(time.RFC3339Nano))
		case reqMatchClosed:
			_, err = tx.Stmt(closeMatch).Exec(r.at.Format(time.RFC3339Nano), r.match.Actions, r.match.Digest, r.match.ArchivePath, r.match.ID.String())
		case reqFlush:
			_, err = tx.Stmt(addFlush).Exec(r.flush.Actions, r.flush.MatchID.String())
		case reqDivergence:
			f := r.divergence
			_, err = tx.Stmt(insertDivergence).Exec(
				f.MatchID.String(), f.ActionCount, f.ActionType, f.ActionJSON, string(f.Kind),
				f.Index, f.Primary, f.Shadow, f.Context, r.at.Format(time.RFC3339Nano),
			)
		}
		if err != nil {
			// One bad row must not poison the batch; keep what we have.
			commit()
			continue
		}
		opCount++
		flushIfNeeded()
	}
}

// Match returns the indexed row for id.
func (s *SQLiteIndex) Match(ctx context.Context, id uuid.UUID) (MatchRow, error) {
	rows, err := s.queryMatches(ctx, `WHERE m.match_id = ?`, id.String())
	if err != nil {
		return MatchRow{}, err
	}
	if len(rows) == 0 {
		return MatchRow{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	return rows[0], nil
}

// Matches lists the most recently created matches first.
func (s *SQLiteIndex) Matches(ctx context.Context, limit int) ([]MatchRow, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryMatches(ctx, `ORDER BY m.created_at DESC LIMIT ?`, limit)
}

func (s *SQLiteIndex) queryMatches(ctx context.Context, tail string, args ...any) ([]MatchRow, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.match_id, m.seed, m.created_at, m.closed_at, m.flushes, m.flushed_actions,
		       m.actions, m.digest, m.archive_path,
		       (SELECT COUNT(*) FROM divergences d WHERE d.match_id = m.match_id)
		FROM matches m `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var (
			r       MatchRow
			id      string
			created string
			closed  sql.NullString
		)
		if err := rows.Scan(&id, &r.Seed, &created, &closed, &r.Flushes, &r.Flushed,
			&r.Actions, &r.Digest, &r.ArchivePath, &r.Divergences); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		if closed.Valid {
			t, err := time.Parse(time.RFC3339Nano, closed.String)
			if err != nil {
				return nil, err
			}
			r.ClosedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Divergences returns the failures recorded for a match in insertion order.
func (s *SQLiteIndex) Divergences(ctx context.Context, id uuid.UUID) ([]validator.Failure, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_count, action_type, action_json, kind, idx, primary_value, shadow_value, context
		FROM divergences WHERE match_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []validator.Failure
	for rows.Next() {
		f := validator.Failure{MatchID: id}
		var kind string
		if err := rows.Scan(&f.ActionCount, &f.ActionType, &f.ActionJSON, &kind, &f.Index,
			&f.Primary, &f.Shadow, &f.Context); err != nil {
			return nil, err
		}
		f.Kind = validator.Kind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}
