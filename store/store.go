// Package store persists resolved frame records in SQLite.
//
// The database runs in WAL mode so a trace can be inspected while it is
// being written. Store implements framelog.Sink.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gogpu/fencetime"
	"github.com/gogpu/fencetime/framelog"
)

var _ framelog.Sink = (*Store)(nil)

// Store manages the frame record database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and initializes the
// schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frames (
		frame                INTEGER PRIMARY KEY,
		posted               INTEGER NOT NULL,
		acquire              INTEGER,
		gpu_composition_done INTEGER,
		display_present      INTEGER,
		release              INTEGER,
		recorded_at          TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WriteRecords stores records in one transaction. Writing a frame again
// replaces its timestamps. Invalid timestamps are stored as NULL.
func (s *Store) WriteRecords(ctx context.Context, records []framelog.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO frames (frame, posted, acquire, gpu_composition_done, display_present, release, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(frame) DO UPDATE SET
				posted = excluded.posted,
				acquire = excluded.acquire,
				gpu_composition_done = excluded.gpu_composition_done,
				display_present = excluded.display_present,
				release = excluded.release,
				recorded_at = excluded.recorded_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			_, err := stmt.ExecContext(ctx,
				int64(r.Frame), r.Posted,
				nullTime(r.Times[framelog.Acquire]),
				nullTime(r.Times[framelog.GPUCompositionDone]),
				nullTime(r.Times[framelog.DisplayPresent]),
				nullTime(r.Times[framelog.Release]),
				now,
			)
			if err != nil {
				return fmt.Errorf("insert frame %d: %w", r.Frame, err)
			}
		}
		return tx.Commit()
	})
}

// Records returns up to limit records with a frame number above sinceFrame,
// in frame order. A limit <= 0 returns all of them.
func (s *Store) Records(ctx context.Context, sinceFrame uint64, limit int) ([]framelog.Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT frame, posted, acquire, gpu_composition_done, display_present, release
		 FROM frames WHERE frame > ? ORDER BY frame LIMIT ?`,
		int64(sinceFrame), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []framelog.Record
	for rows.Next() {
		var (
			r     framelog.Record
			frame int64
			times [framelog.NumEvents]sql.NullInt64
		)
		if err := rows.Scan(&frame, &r.Posted, &times[0], &times[1], &times[2], &times[3]); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Frame = uint64(frame)
		for i, t := range times {
			r.Times[i] = fencetime.SignalTimeInvalid
			if t.Valid {
				r.Times[i] = t.Int64
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored frames.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func nullTime(t int64) sql.NullInt64 {
	if !fencetime.IsValidTimestamp(t) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t, Valid: true}
}
