package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/sim/tuning"
)

var ErrClosed = errors.New("indexdb: closed")

// MaxBatch caps the rows one Events call returns.
const MaxBatch = 1000

// SQLiteIndex is a read model of navigation events. The journal stays the source of truth:
// writes are queued and dropped when the writer falls behind.
type SQLiteIndex struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	committed atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqFlush
)

type req struct {
	kind  reqKind
	event navigator.Event
	done  chan struct{}
}

// Row is one indexed event with its cursor. Cursors grow with insertion order.
type Row struct {
	Cursor uint64
	Event  navigator.Event
}

type Stats struct {
	EnqueuedTotal  uint64 `json:"enqueued_total"`
	DropTotal      uint64 `json:"drop_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
	CommittedTotal uint64 `json:"committed_total"`
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = log.Default()
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
		db:  db,
		log: logger.WithPrefix("indexdb"),
		// Bursts happen when many ships change state in one tick.
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
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			cursor INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			ship INTEGER NOT NULL,
			navigator TEXT NOT NULL,
			kind TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			target INTEGER NOT NULL,
			detail TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ship_cursor ON events(ship, cursor);`,
		`CREATE INDEX IF NOT EXISTS idx_events_target_tick ON events(target, tick);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
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

// Record queues ev. It never blocks the caller.
func (s *SQLiteIndex) Record(ev navigator.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
		s.enqueued.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
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
	if s == nil {
		return Stats{}
	}
	return Stats{
		EnqueuedTotal:  s.enqueued.Load(),
		DropTotal:      s.dropped.Load(),
		WriteFailTotal: s.failed.Load(),
		CommittedTotal: s.committed.Load(),
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
	}
}

// Dropped counts events lost to a full queue or a failed write.
func (s *SQLiteIndex) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load() + s.failed.Load()
}

// Events returns up to limit events after cursor since, oldest first, and the cursor to
// continue from. ship 0 matches every ship.
func (s *SQLiteIndex) Events(ctx context.Context, ship grid.EntityID, since uint64, limit int) ([]Row, uint64, error) {
	if s == nil || s.closed.Load() {
		return nil, since, ErrClosed
	}
	if limit <= 0 || limit > MaxBatch {
		limit = MaxBatch
	}
	q := `SELECT cursor,tick,ship,navigator,kind,from_state,to_state,target,detail FROM events WHERE cursor > ?`
	args := []any{int64(since)}
	if ship != 0 {
		q += ` AND ship = ?`
		args = append(args, int64(ship))
	}
	q += ` ORDER BY cursor LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, since, err
	}
	defer rows.Close()

	next := since
	var out []Row
	for rows.Next() {
		var (
			r              Row
			cursor, tick   int64
			shipID, target int64
			kind           string
		)
		if err := rows.Scan(&cursor, &tick, &shipID, &r.Event.Navigator, &kind, &r.Event.From, &r.Event.To, &target, &r.Event.Detail); err != nil {
			return nil, since, err
		}
		r.Cursor = uint64(cursor)
		r.Event.Tick = uint64(tick)
		r.Event.Ship = grid.EntityID(shipID)
		r.Event.Kind = navigator.EventKind(kind)
		r.Event.Target = grid.EntityID(target)
		out = append(out, r)
		next = r.Cursor
	}
	return out, next, rows.Err()
}

// UpsertTuning stores the tuning the host runs with, keyed by its digest.
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
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, err := s.db.Prepare(`INSERT INTO events(tick,ship,navigator,kind,from_state,to_state,target,detail) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare insert", "err", err)
	}
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
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
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
			s.log.Warn("commit failed", "rows", opCount, "err", err)
		} else {
			s.committed.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount))
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil || insertEvent == nil {
			s.failed.Add(1)
			continue
		}
		ev := r.event
		if _, err := tx.Stmt(insertEvent).Exec(
			int64(ev.Tick),
			int64(ev.Ship),
			ev.Navigator,
			string(ev.Kind),
			ev.From,
			ev.To,
			int64(ev.Target),
			ev.Detail,
		); err != nil {
			s.log.Warn("insert failed", "err", err)
			s.failed.Add(1)
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
