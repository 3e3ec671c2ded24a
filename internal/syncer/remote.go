// Package syncer reconciles the local ledger store with a remote document
// store holding the authoritative encrypted snapshot for a shared workspace.
//
// The remote document is protected by optimistic concurrency: a push carries
// the revision it expects the remote to be at and is rejected on mismatch,
// triggering a bounded pull-merge-retry cycle. Nothing ever leaves the
// process unencrypted.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
)

var (
	// ErrNotFound: the workspace has no remote document yet.
	ErrNotFound = errors.New("workspace document not found")

	// ErrConflict: the remote advanced past the expected revision.
	ErrConflict = errors.New("remote revision conflict")

	// ErrSyncBusy: another sync cycle is already in flight.
	ErrSyncBusy = errors.New("a sync operation is already running")
)

// RemoteStore is the abstract remote document store. Any backend with
// get/put/watch semantics and an atomic compare-and-swap on the revision
// satisfies the contract.
type RemoteStore interface {
	// Get fetches the workspace's current encrypted archive and its remote
	// revision. Returns ErrNotFound when the workspace document does not
	// exist yet.
	Get(ctx context.Context, workspaceID string) (*cryptobox.Envelope, int64, error)

	// Put uploads an archive if the remote is still at expectedRevision
	// (0 means "create"). Returns the new remote revision, or ErrConflict
	// when the remote has advanced.
	Put(ctx context.Context, workspaceID string, env *cryptobox.Envelope, expectedRevision int64) (int64, error)

	// Watch emits the remote revision whenever the workspace document
	// changes, until ctx is cancelled.
	Watch(ctx context.Context, workspaceID string) (<-chan int64, error)
}

// ConflictError is surfaced when the bounded retry cycle could not get a
// push accepted.
type ConflictError struct {
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("push rejected after %d attempts: %v", e.Attempts, ErrConflict)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TimeoutError is surfaced when a remote operation exceeded its deadline.
// The operation is safe to retry.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
