package snapshotstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shrtyk/rsm-core/api"
	"github.com/shrtyk/rsm-core/internal/cbreaker"
)

// SQLite is a durable api.SnapshotStore backed by a single-row
// snapshots table, grounded on the prepared-statement/EnsureSchema
// shape used elsewhere in this ecosystem for SQLite-backed stores.
// Only the newest snapshot is retained.
//
// Queries and writes run through a circuit breaker: a wedged or
// failing database trips it open so callers get a fast FAILED instead
// of piling up on a database that is not responding, giving the
// engine's snapshot-fetch backoff room to back off instead of hammering
// the driver on every retry.
type SQLite struct {
	db       *sql.DB
	writable bool
	breaker  *cbreaker.CircuitBreaker
}

// OpenSQLite opens (creating if necessary) a SQLite database at path
// and ensures the snapshots schema exists.
func OpenSQLite(path string, writable bool) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	s := &SQLite{
		db:       db,
		writable: writable,
		breaker:  cbreaker.NewCircuitBreaker(5, 2, 5*time.Second),
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			version INTEGER NOT NULL,
			blob BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type snapshotRow struct {
	found   bool
	version uint64
	blob    []byte
}

func (s *SQLite) GetSnapshot(ctx context.Context, minVersion api.LSN) (api.Status, []byte, api.SnapshotAttrs, error) {
	row, err := cbreaker.Do(ctx, s.breaker, func(ctx context.Context) (snapshotRow, error) {
		var r snapshotRow
		scanErr := s.db.QueryRowContext(ctx, `SELECT version, blob FROM snapshots WHERE id = 0`).Scan(&r.version, &r.blob)
		if scanErr == sql.ErrNoRows {
			return r, nil
		}
		if scanErr != nil {
			return r, scanErr
		}
		r.found = true
		return r, nil
	})
	if err != nil {
		if errors.Is(err, cbreaker.ErrOpenState) {
			return api.FAILED, nil, api.SnapshotAttrs{}, err
		}
		return api.FAILED, nil, api.SnapshotAttrs{}, fmt.Errorf("query snapshot: %w", err)
	}
	if !row.found {
		return api.EMPTY, nil, api.SnapshotAttrs{}, nil
	}
	if api.LSN(row.version) < minVersion {
		return api.STALE, nil, api.SnapshotAttrs{}, nil
	}
	return api.OK, row.blob, api.SnapshotAttrs{BaseVersion: api.LSN(row.version)}, nil
}

func (s *SQLite) WriteSnapshot(ctx context.Context, version api.LSN, blob []byte) (api.Status, api.LSN, error) {
	status, err := cbreaker.Do(ctx, s.breaker, func(ctx context.Context) (api.Status, error) {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return api.FAILED, fmt.Errorf("begin tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		var current uint64
		txErr = tx.QueryRowContext(ctx, `SELECT version FROM snapshots WHERE id = 0`).Scan(&current)
		switch {
		case txErr == sql.ErrNoRows:
			// no existing row, proceed to insert
		case txErr != nil:
			return api.FAILED, fmt.Errorf("query current version: %w", txErr)
		case api.LSN(current) >= version:
			return api.UPTODATE, nil
		}

		stmt, txErr := tx.PrepareContext(ctx, `
			INSERT INTO snapshots(id, version, blob) VALUES (0, ?, ?)
			ON CONFLICT(id) DO UPDATE SET version = excluded.version, blob = excluded.blob
		`)
		if txErr != nil {
			return api.FAILED, fmt.Errorf("prepare upsert: %w", txErr)
		}
		defer stmt.Close()

		if _, txErr = stmt.ExecContext(ctx, uint64(version), blob); txErr != nil {
			return api.FAILED, fmt.Errorf("upsert snapshot: %w", txErr)
		}
		if txErr = tx.Commit(); txErr != nil {
			return api.FAILED, fmt.Errorf("commit: %w", txErr)
		}
		return api.OK, nil
	})
	if err != nil {
		return api.FAILED, api.LSNInvalid, err
	}
	return status, api.LSNInvalid, nil
}

func (s *SQLite) GetDurableVersion(ctx context.Context) (api.LSN, error) {
	var version uint64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM snapshots WHERE id = 0`).Scan(&version)
	if err == sql.ErrNoRows {
		return api.LSNInvalid, nil
	}
	if err != nil {
		return api.LSNInvalid, fmt.Errorf("query durable version: %w", err)
	}
	return api.LSN(version), nil
}

func (s *SQLite) IsWritable() bool {
	return s.writable
}
