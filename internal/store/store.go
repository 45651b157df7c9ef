// Package store persists analysis runs (clusters + extents) and the
// artifact reference table in an embedded SQLite database.
//
// Geometry columns hold GeoJSON text produced by orb/geojson, which
// round-trips float64 coordinates exactly; regeneration reads back the
// same extents the initial run derived, bit for bit.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. One Store per process; safe for
// concurrent use by the prober and orchestrator.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps concurrent probe updates from blocking reads.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckReadiness reports whether the store can serve queries; the /readyz
// endpoint uses it.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.Ping(ctx)
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	created_at    TEXT NOT NULL,
	window_start  TEXT NOT NULL,
	window_end    TEXT NOT NULL,
	aoi_geojson   TEXT NOT NULL,
	eps_meters    REAL NOT NULL,
	min_members   INTEGER NOT NULL,
	buffer_meters REAL NOT NULL,
	summary_json  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_clusters (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	cluster_id      INTEGER NOT NULL,
	members_geojson TEXT NOT NULL,
	extent_geojson  TEXT NOT NULL,
	buffer_meters   REAL NOT NULL,
	PRIMARY KEY (run_id, cluster_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	cluster_id  INTEGER NOT NULL,
	path        TEXT NOT NULL,
	rendered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_refs (
	artifact_id  TEXT NOT NULL REFERENCES artifacts(id),
	position     INTEGER NOT NULL,
	ref_id       TEXT NOT NULL,
	ref_json     TEXT NOT NULL,
	resolved_url TEXT NOT NULL,
	resolved_at  TEXT NOT NULL,
	liveness     TEXT NOT NULL DEFAULT 'unknown',
	checked_at   TEXT,
	PRIMARY KEY (artifact_id, position)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// transact executes fn inside a transaction, rolling back on error.
func (s *Store) transact(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
