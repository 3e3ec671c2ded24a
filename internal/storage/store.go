// Package storage provides abstractions for durable snapshot persistence.
package storage

import (
	"context"
	"errors"

	"github.com/enzel-org/BestellDesk/internal/models"
)

// ErrNoSnapshot is returned by Latest when nothing has been persisted yet.
var ErrNoSnapshot = errors.New("no snapshot persisted")

// SnapshotStore persists committed ledger snapshots. The ledger store writes
// every committed revision and keeps a bounded history for conflict
// diagnostics; older revisions may be pruned.
//
// This abstraction allows swapping storage backends (SQLite, PostgreSQL,
// etc.) without changing the ledger layer.
type SnapshotStore interface {
	// Save persists a committed snapshot under its revision number.
	Save(ctx context.Context, snap *models.Snapshot) error

	// Latest returns the highest-revision persisted snapshot, verified
	// against its content hash. Returns ErrNoSnapshot when empty.
	Latest(ctx context.Context) (*models.Snapshot, error)

	// Revisions lists all persisted revision numbers in ascending order.
	Revisions(ctx context.Context) ([]uint64, error)

	// Prune drops all but the newest keep revisions.
	Prune(ctx context.Context, keep int) error

	// Close releases any resources held by the store.
	Close() error
}
