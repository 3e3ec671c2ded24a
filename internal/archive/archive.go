// Package archive moves encrypted ledger snapshots to and from local files.
//
// Export writes exactly one encrypted archive representing the full ledger
// at the moment of export. Import decrypts, verifies and replaces the ledger
// wholesale or not at all - merging is the sync engine's job, never import's.
package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
	"github.com/enzel-org/BestellDesk/internal/ledger"
	"github.com/enzel-org/BestellDesk/internal/models"
)

// Export encrypts the snapshot under the passphrase and writes it to path.
func Export(snap *models.Snapshot, passphrase, path string) error {
	env, err := cryptobox.Encrypt(snap, passphrase)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	blob, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// Import reads an archive, decrypts it and replaces the store's ledger with
// the contained snapshot.
//
// The decrypted snapshot's content hash is verified, and an archive older
// than the store's current revision is rejected unless force is set. On any
// failure the live ledger is left untouched.
func Import(ctx context.Context, store *ledger.Store, path, passphrase string, force bool) (*models.Snapshot, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	env, err := cryptobox.ParseEnvelope(blob)
	if err != nil {
		return nil, err
	}
	snap, err := cryptobox.Decrypt(env, passphrase)
	if err != nil {
		return nil, err
	}
	return store.Replace(ctx, snap, force)
}
