package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
	"github.com/enzel-org/BestellDesk/internal/ledger"
)

// seededStore returns a store holding a three-order ledger.
func seededStore(t *testing.T) *ledger.Store {
	t.Helper()
	s, err := ledger.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	r, err := s.CreateRestaurant(ctx, "Pizzeria", 250)
	if err != nil {
		t.Fatalf("CreateRestaurant failed: %v", err)
	}
	m, err := s.AddMenuItem(ctx, r.ID, "Margherita", 850, "")
	if err != nil {
		t.Fatalf("AddMenuItem failed: %v", err)
	}
	alice, err := s.CreateParticipant(ctx, "Alice")
	if err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.CreateOrder(ctx, alice.ID, r.ID, []ledger.LineInput{
			{MenuItemID: m.ID, Quantity: i + 1},
		}); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
	}
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	src := seededStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.bdk")

	snap := src.Snapshot()
	if err := Export(snap, "passphrase", path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst, err := ledger.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := Import(ctx, dst, path, "passphrase", false)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got.Hash != snap.Hash {
		t.Errorf("imported hash %s, want %s", got.Hash, snap.Hash)
	}
	if len(dst.Snapshot().Ledger.Orders) != 3 {
		t.Errorf("imported ledger has %d orders, want 3", len(dst.Snapshot().Ledger.Orders))
	}
}

// Corrupting a single byte of the archive must yield a typed error and leave
// the live ledger unchanged.
func TestImportCorruptArchive(t *testing.T) {
	src := seededStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.bdk")
	if err := Export(src.Snapshot(), "passphrase", path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	// Change one byte inside the base64 ciphertext payload.
	idx := bytes.Index(blob, []byte(`"ciphertext"`))
	if idx < 0 {
		t.Fatal("archive has no ciphertext field")
	}
	idx += len(`"ciphertext"`) + 20
	corrupted := append([]byte(nil), blob...)
	if corrupted[idx] != 'A' {
		corrupted[idx] = 'A'
	} else {
		corrupted[idx] = 'B'
	}
	if err := os.WriteFile(path, corrupted, 0o600); err != nil {
		t.Fatalf("write corrupted archive: %v", err)
	}

	dst := seededStore(t)
	before := dst.Snapshot()

	_, err = Import(ctx, dst, path, "passphrase", false)
	if err == nil {
		t.Fatal("importing a corrupted archive must fail")
	}
	var derr *cryptobox.DecryptError
	var cerr *cryptobox.CorruptArchiveError
	if !errors.As(err, &derr) && !errors.As(err, &cerr) {
		t.Errorf("expected DecryptError or CorruptArchiveError, got %v", err)
	}
	if !dst.Snapshot().Equal(before) {
		t.Error("failed import mutated the live ledger")
	}
}

func TestImportWrongPassphrase(t *testing.T) {
	src := seededStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.bdk")
	if err := Export(src.Snapshot(), "right", path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst, err := ledger.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = Import(ctx, dst, path, "wrong", false)
	var derr *cryptobox.DecryptError
	if !errors.As(err, &derr) {
		t.Errorf("expected DecryptError, got %v", err)
	}
	if dst.Revision() != 0 {
		t.Error("failed import advanced the ledger revision")
	}
}

func TestImportStaleArchive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.bdk")

	// Export an early revision, then advance the store well past it.
	s := seededStore(t)
	old := s.Snapshot()
	if err := Export(old, "pw", path); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	for _, name := range []string{"Curry House", "Taqueria"} {
		if _, err := s.CreateRestaurant(ctx, name, 0); err != nil {
			t.Fatalf("CreateRestaurant failed: %v", err)
		}
	}
	before := s.Snapshot()

	if _, err := Import(ctx, s, path, "pw", false); !errors.Is(err, ledger.ErrStaleSnapshot) {
		t.Errorf("expected ErrStaleSnapshot, got %v", err)
	}
	if !s.Snapshot().Equal(before) {
		t.Error("rejected import mutated the live ledger")
	}

	// Forced import installs the archived content at a newer revision.
	snap, err := Import(ctx, s, path, "pw", true)
	if err != nil {
		t.Fatalf("forced Import failed: %v", err)
	}
	if snap.Revision <= before.Revision {
		t.Errorf("forced import revision %d did not advance past %d", snap.Revision, before.Revision)
	}
	if got := len(s.Snapshot().Ledger.Restaurants); got != 1 {
		t.Errorf("forced import left %d restaurants, want the archive's 1", got)
	}
}
