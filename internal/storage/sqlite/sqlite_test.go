package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/enzel-org/BestellDesk/internal/models"
	"github.com/enzel-org/BestellDesk/internal/storage"
)

func snapshotAt(t *testing.T, revision uint64, restaurantName string) *models.Snapshot {
	t.Helper()
	l := &models.Ledger{
		Restaurants: []models.Restaurant{{ID: "r1", Name: restaurantName, UpdatedAt: int64(revision)}},
	}
	snap, err := models.NewSnapshot(revision, l)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap
}

func TestSnapshotStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "ledger.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	t.Run("Latest on empty store", func(t *testing.T) {
		_, err := store.Latest(ctx)
		if !errors.Is(err, storage.ErrNoSnapshot) {
			t.Errorf("expected ErrNoSnapshot, got %v", err)
		}
	})

	t.Run("Save and Latest round trip", func(t *testing.T) {
		for rev := uint64(1); rev <= 3; rev++ {
			if err := store.Save(ctx, snapshotAt(t, rev, "Pizzeria")); err != nil {
				t.Fatalf("Save revision %d failed: %v", rev, err)
			}
		}
		got, err := store.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got.Revision != 3 {
			t.Errorf("latest revision = %d, want 3", got.Revision)
		}
		if err := got.Verify(); err != nil {
			t.Errorf("restored snapshot failed verification: %v", err)
		}
	})

	t.Run("Revisions lists ascending", func(t *testing.T) {
		revs, err := store.Revisions(ctx)
		if err != nil {
			t.Fatalf("Revisions failed: %v", err)
		}
		if !reflect.DeepEqual(revs, []uint64{1, 2, 3}) {
			t.Errorf("revisions = %v, want [1 2 3]", revs)
		}
	})

	t.Run("Prune keeps newest", func(t *testing.T) {
		if err := store.Prune(ctx, 2); err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		revs, err := store.Revisions(ctx)
		if err != nil {
			t.Fatalf("Revisions failed: %v", err)
		}
		if !reflect.DeepEqual(revs, []uint64{2, 3}) {
			t.Errorf("revisions after prune = %v, want [2 3]", revs)
		}
	})

	t.Run("Reopen restores latest", func(t *testing.T) {
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		reopened, err := New(dbPath)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()

		got, err := reopened.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest after reopen failed: %v", err)
		}
		if got.Revision != 3 {
			t.Errorf("latest after reopen = %d, want 3", got.Revision)
		}
	})
}
