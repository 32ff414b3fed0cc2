package trace

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/pearl-OS/PearlOS-sub006/dbopen"
)

// Schema for the extraction_attempts table. Call Store.Init() or apply
// manually.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_attempts (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	doc_type TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	duration_us INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	sample TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_ts ON extraction_attempts(timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_file ON extraction_attempts(file_name);
`

// Store persists attempts to a SQLite table asynchronously.
type Store struct {
	db   *sql.DB
	ch   chan Attempt
	done chan struct{}
	once sync.Once
}

// NewStore creates a store backed by the given database connection and
// starts its flush goroutine.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan Attempt, 1024),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the extraction_attempts table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Record queues an attempt for persistence. Non-blocking; drops when the
// buffer is full so extraction never waits on the trace store.
func (s *Store) Record(a Attempt) {
	select {
	case s.ch <- a:
	default:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]Attempt, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, a)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// flushBatch writes one batch in a single transaction, retrying on
// SQLITE_BUSY. INSERT OR IGNORE keeps replayed remote batches idempotent
// (attempt IDs are unique).
func (s *Store) flushBatch(batch []Attempt) {
	if len(batch) == 0 {
		return
	}

	err := dbopen.RunTx(context.Background(), s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO extraction_attempts
			(id, file_name, doc_type, method, strategy, score, duration_us, error, sample, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range batch {
			if _, err := stmt.Exec(a.ID, a.FileName, a.DocType, a.Method, a.Strategy,
				a.Score, a.DurationUs, a.Error, a.Sample, a.Timestamp.UnixMicro()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("trace store: flush", "error", err, "attempts", len(batch))
	}
}

// Recent returns the newest attempts, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_name, doc_type, method, strategy,
		score, duration_us, COALESCE(error, ''), COALESCE(sample, ''), timestamp
		FROM extraction_attempts ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var ts int64
		if err := rows.Scan(&a.ID, &a.FileName, &a.DocType, &a.Method, &a.Strategy,
			&a.Score, &a.DurationUs, &a.Error, &a.Sample, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMicro(ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
