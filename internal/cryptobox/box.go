// Package cryptobox encrypts and decrypts ledger snapshots.
//
// A key is derived from the passphrase with argon2id using a fresh random
// salt, and the snapshot's canonical serialization is sealed with AES-256-GCM
// under a fresh random nonce. The nonce is always generated inside Encrypt
// and never accepted from a caller, so nonce reuse under one key cannot
// happen by construction.
//
// Decryption fails closed: a wrong passphrase, a flipped bit anywhere in the
// ciphertext, an unsupported version or a malformed envelope all return an
// error and never partial data. The passphrase itself is never stored; the
// derived key is zeroized once the operation completes.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/enzel-org/BestellDesk/internal/models"
)

// FormatVersion is the current envelope format. Older application builds
// refuse newer envelopes instead of guessing.
const FormatVersion = 1

const (
	kdfArgon2id  = "argon2id"
	cipherAESGCM = "aes-256-gcm"

	saltLen = 16
	keyLen  = 32

	// Upper bounds on envelope-supplied KDF costs. A forged envelope must
	// fail to decrypt, not exhaust memory deriving its key.
	maxKDFMemoryKiB = 1 << 20 // 1 GiB
	maxKDFTime      = 16
)

// KDFParams are the argon2id cost parameters recorded in the envelope.
type KDFParams struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DefaultKDFParams matches the parameters the archive format has used since
// version 1.
var DefaultKDFParams = KDFParams{MemoryKiB: 19456, Time: 2, Parallelism: 1}

// Envelope is the versioned encrypted archive: everything needed to decrypt
// except the passphrase. Binary fields serialize as base64. The GCM
// authentication tag rides at the tail of Ciphertext.
//
// PlaintextRevision and PlaintextHash duplicate the encrypted snapshot's
// version information so staleness can be checked before replacing a ledger.
type Envelope struct {
	Version           int    `json:"version"`
	KDF               string `json:"kdf"`
	MemoryKiB         uint32 `json:"m_cost"`
	Time              uint32 `json:"t_cost"`
	Parallelism       uint8  `json:"p_cost"`
	Salt              []byte `json:"salt"`
	Cipher            string `json:"cipher"`
	Nonce             []byte `json:"nonce"`
	Ciphertext        []byte `json:"ciphertext"`
	PlaintextRevision uint64 `json:"plaintext_revision"`
	PlaintextHash     string `json:"plaintext_hash"`
}

// Marshal serializes the envelope for storage or transport.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return b, nil
}

// ParseEnvelope parses and structurally validates a serialized envelope.
func ParseEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, &CorruptArchiveError{Detail: fmt.Sprintf("not a valid envelope: %v", err)}
	}
	if len(e.Salt) == 0 || len(e.Nonce) == 0 || len(e.Ciphertext) == 0 {
		return nil, &CorruptArchiveError{Detail: "envelope is missing salt, nonce or ciphertext"}
	}
	return &e, nil
}

// Encrypt seals the snapshot under a key derived from the passphrase.
func Encrypt(snap *models.Snapshot, passphrase string) (*Envelope, error) {
	return encryptWithParams(snap, passphrase, DefaultKDFParams)
}

func encryptWithParams(snap *models.Snapshot, passphrase string, params KDFParams) (*Envelope, error) {
	plaintext, err := snap.MarshalCanonical()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt, params)
	defer zeroize(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Envelope{
		Version:           FormatVersion,
		KDF:               kdfArgon2id,
		MemoryKiB:         params.MemoryKiB,
		Time:              params.Time,
		Parallelism:       params.Parallelism,
		Salt:              salt,
		Cipher:            cipherAESGCM,
		Nonce:             nonce,
		Ciphertext:        aead.Seal(nil, nonce, plaintext, nil),
		PlaintextRevision: snap.Revision,
		PlaintextHash:     snap.Hash,
	}, nil
}

// Decrypt opens the envelope with a key derived from the passphrase and
// returns the verified snapshot. Any failure leaves nothing loaded.
func Decrypt(env *Envelope, passphrase string) (*models.Snapshot, error) {
	if env.Version != FormatVersion {
		return nil, &DecryptError{Reason: fmt.Sprintf("unsupported archive version %d", env.Version)}
	}
	if env.KDF != kdfArgon2id || env.Cipher != cipherAESGCM {
		return nil, &DecryptError{Reason: fmt.Sprintf("unsupported scheme %s/%s", env.KDF, env.Cipher)}
	}
	if env.MemoryKiB == 0 || env.MemoryKiB > maxKDFMemoryKiB || env.Time == 0 || env.Time > maxKDFTime || env.Parallelism == 0 {
		return nil, &CorruptArchiveError{Detail: fmt.Sprintf(
			"kdf parameters out of range (m=%d t=%d p=%d)", env.MemoryKiB, env.Time, env.Parallelism)}
	}

	key := deriveKey(passphrase, env.Salt, KDFParams{
		MemoryKiB:   env.MemoryKiB,
		Time:        env.Time,
		Parallelism: env.Parallelism,
	})
	defer zeroize(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, &CorruptArchiveError{Detail: fmt.Sprintf("nonce length %d, want %d", len(env.Nonce), aead.NonceSize())}
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		// Wrong passphrase and tampered ciphertext are indistinguishable
		// here; both fail authentication.
		return nil, &DecryptError{Reason: "authentication failed: wrong passphrase or corrupted archive"}
	}

	snap, err := models.UnmarshalSnapshot(plaintext)
	if err != nil {
		return nil, &CorruptArchiveError{Detail: err.Error()}
	}
	if snap.Revision != env.PlaintextRevision || snap.Hash != env.PlaintextHash {
		return nil, &CorruptArchiveError{Detail: "envelope metadata does not match the decrypted snapshot"}
	}
	return snap, nil
}

func deriveKey(passphrase string, salt []byte, params KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, keyLen)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
