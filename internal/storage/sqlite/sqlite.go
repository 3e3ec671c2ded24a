// Package sqlite provides a SQLite-backed implementation of the
// storage.SnapshotStore interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/enzel-org/BestellDesk/internal/models"
	"github.com/enzel-org/BestellDesk/internal/storage"
)

// Ensure SnapshotStore implements storage.SnapshotStore
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore persists ledger snapshots in SQLite, one row per revision.
type SnapshotStore struct {
	db *sql.DB
}

// New creates a SnapshotStore at the given database path. It creates the
// parent directories and runs migrations automatically.
func New(dbPath string) (*SnapshotStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SnapshotStore{db: db}, nil
}

// Close closes the database connection.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save persists a snapshot under its revision number.
func (s *SnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	payload, err := snap.MarshalCanonical()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (revision, hash, created_at, payload) VALUES (?, ?, ?, ?)",
		snap.Revision, snap.Hash, time.Now().UnixMilli(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the highest-revision snapshot, verified against its content
// hash before it is handed out.
func (s *SnapshotStore) Latest(ctx context.Context) (*models.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM snapshots ORDER BY revision DESC LIMIT 1",
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap, err := models.UnmarshalSnapshot(payload)
	if err != nil {
		return nil, fmt.Errorf("persisted snapshot failed verification: %w", err)
	}
	return snap, nil
}

// Revisions lists all persisted revision numbers in ascending order.
func (s *SnapshotStore) Revisions(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT revision FROM snapshots ORDER BY revision ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var rev uint64
		if err := rows.Scan(&rev); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revisions: %w", err)
	}
	return out, nil
}

// Prune drops all but the newest keep revisions.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE revision NOT IN (
			SELECT revision FROM snapshots ORDER BY revision DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return nil
}
