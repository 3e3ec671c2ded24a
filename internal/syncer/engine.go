package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
	"github.com/enzel-org/BestellDesk/internal/ledger"
	"github.com/enzel-org/BestellDesk/internal/metrics"
	"github.com/enzel-org/BestellDesk/internal/models"
)

const (
	// DefaultTimeout bounds a single remote operation.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries bounds the pull-merge-retry cycle after a push
	// conflict.
	DefaultMaxRetries = 3
)

// Engine reconciles the local ledger store with one remote workspace
// document. Only one sync operation runs at a time; a second request while
// one is active is rejected with ErrSyncBusy instead of racing.
type Engine struct {
	store     *ledger.Store
	remote    RemoteStore
	workspace string

	timeout    time.Duration
	maxRetries int

	busy sync.Mutex // single flight

	// lastRemoteRev is the remote revision observed at the last pull or
	// successful push; pushes expect the remote to still be there.
	lastRemoteRev atomic.Int64

	// lastRemoteHash is the plaintext hash of the archive the remote held
	// when last seen. Guarded by busy; every reader and writer holds it.
	lastRemoteHash string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimeout overrides the per-operation deadline.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRetries overrides the push retry bound.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// New creates a sync engine for one workspace.
func New(store *ledger.Store, remote RemoteStore, workspaceID string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		remote:     remote,
		workspace:  workspaceID,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// PullResult describes what a pull did.
type PullResult struct {
	// Merged is true when remote changes were merged into the local ledger.
	Merged bool

	// LocalRevision is the ledger revision after the pull.
	LocalRevision uint64

	// RemoteRevision is the remote document revision observed.
	RemoteRevision int64
}

// Pull fetches the remote archive and, if it is ahead of the local ledger,
// merges it in and commits the result at revision max(local, remote)+1.
// A remote archive that fails authentication is reported, never retried.
func (e *Engine) Pull(ctx context.Context, passphrase string) (PullResult, error) {
	if !e.busy.TryLock() {
		return PullResult{}, ErrSyncBusy
	}
	defer e.busy.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.pull(ctx, passphrase)
	if err != nil {
		metrics.Sync.WithLabelValues("pull", metrics.ResultError).Inc()
		return res, e.wrapTimeout(ctx, "pull", err)
	}
	metrics.Sync.WithLabelValues("pull", metrics.ResultOK).Inc()
	return res, nil
}

func (e *Engine) pull(ctx context.Context, passphrase string) (PullResult, error) {
	local := e.store.Snapshot()

	env, remoteRev, err := e.remote.Get(ctx, e.workspace)
	if errors.Is(err, ErrNotFound) {
		e.lastRemoteRev.Store(0)
		e.lastRemoteHash = ""
		return PullResult{LocalRevision: local.Revision}, nil
	}
	if err != nil {
		return PullResult{}, fmt.Errorf("pull failed: %w", err)
	}

	remoteSnap, err := cryptobox.Decrypt(env, passphrase)
	if err != nil {
		return PullResult{}, fmt.Errorf("remote archive rejected: %w", err)
	}
	e.lastRemoteRev.Store(remoteRev)
	e.lastRemoteHash = remoteSnap.Hash

	// Revision counters advance independently per replica, so only content
	// can tell whether the remote carries anything new.
	if remoteSnap.Hash == local.Hash {
		return PullResult{LocalRevision: local.Revision, RemoteRevision: remoteRev}, nil
	}

	merged := Merge(local.Ledger, remoteSnap.Ledger)
	if same, err := ledgersEqual(merged, local.Ledger); err != nil {
		return PullResult{}, err
	} else if same {
		// Remote is strictly behind; push will reconcile.
		return PullResult{LocalRevision: local.Revision, RemoteRevision: remoteRev}, nil
	}
	next := max(local.Revision, remoteSnap.Revision) + 1
	snap, err := e.store.CommitMerged(ctx, merged, next)
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to commit merged ledger: %w", err)
	}
	slog.Info("Pulled and merged remote changes",
		"workspace", e.workspace,
		"local_revision", snap.Revision,
		"remote_revision", remoteRev,
	)
	return PullResult{Merged: true, LocalRevision: snap.Revision, RemoteRevision: remoteRev}, nil
}

// Push uploads the local snapshot under optimistic concurrency. When the
// remote has advanced it pulls, merges and retries, up to the configured
// bound, then surfaces a ConflictError.
func (e *Engine) Push(ctx context.Context, passphrase string) (int64, error) {
	if !e.busy.TryLock() {
		return 0, ErrSyncBusy
	}
	defer e.busy.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rev, err := e.push(ctx, passphrase)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrConflict) {
			result = metrics.ResultConflict
		}
		metrics.Sync.WithLabelValues("push", result).Inc()
		return rev, e.wrapTimeout(ctx, "push", err)
	}
	metrics.Sync.WithLabelValues("push", metrics.ResultOK).Inc()
	return rev, nil
}

func (e *Engine) push(ctx context.Context, passphrase string) (int64, error) {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		local := e.store.Snapshot()
		if local.Hash == e.lastRemoteHash {
			// The remote already holds this exact content. Uploading again
			// would bump its revision for nothing and, with watches on,
			// ping-pong no-op syncs between replicas.
			slog.Debug("Remote already up to date, skipping push",
				"workspace", e.workspace,
				"hash", local.Hash,
			)
			return e.lastRemoteRev.Load(), nil
		}
		env, err := cryptobox.Encrypt(local, passphrase)
		if err != nil {
			return 0, fmt.Errorf("push failed: %w", err)
		}

		expected := e.lastRemoteRev.Load()
		newRev, err := e.remote.Put(ctx, e.workspace, env, expected)
		if err == nil {
			e.lastRemoteRev.Store(newRev)
			e.lastRemoteHash = local.Hash
			slog.Info("Pushed local ledger",
				"workspace", e.workspace,
				"local_revision", local.Revision,
				"remote_revision", newRev,
			)
			return newRev, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("push failed: %w", err)
		}

		slog.Warn("Push conflict, pulling and retrying",
			"workspace", e.workspace,
			"attempt", attempt,
			"expected_remote_revision", expected,
		)
		if _, err := e.pull(ctx, passphrase); err != nil {
			return 0, err
		}
	}
	return 0, &ConflictError{Attempts: e.maxRetries}
}

// Sync runs one pull-then-push cycle.
func (e *Engine) Sync(ctx context.Context, passphrase string) error {
	if !e.busy.TryLock() {
		return ErrSyncBusy
	}
	defer e.busy.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if _, err := e.pull(ctx, passphrase); err != nil {
		metrics.Sync.WithLabelValues("cycle", metrics.ResultError).Inc()
		return e.wrapTimeout(ctx, "sync", err)
	}
	if _, err := e.push(ctx, passphrase); err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrConflict) {
			result = metrics.ResultConflict
		}
		metrics.Sync.WithLabelValues("cycle", result).Inc()
		return e.wrapTimeout(ctx, "sync", err)
	}
	metrics.Sync.WithLabelValues("cycle", metrics.ResultOK).Inc()
	return nil
}

// WatchLoop subscribes to remote change notifications and runs a sync cycle
// whenever the remote advances past the last observed revision. It returns
// when ctx is cancelled.
func (e *Engine) WatchLoop(ctx context.Context, passphrase string) error {
	events, err := e.remote.Watch(ctx, e.workspace)
	if err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rev, ok := <-events:
			if !ok {
				return nil
			}
			if rev <= e.lastRemoteRev.Load() {
				continue
			}
			if err := e.Sync(ctx, passphrase); err != nil && !errors.Is(err, ErrSyncBusy) {
				slog.Error("Sync after remote change failed", "workspace", e.workspace, "error", err)
			}
		}
	}
}

func ledgersEqual(a, b *models.Ledger) (bool, error) {
	ab, err := a.CanonicalBytes()
	if err != nil {
		return false, fmt.Errorf("failed to serialize merged ledger: %w", err)
	}
	bb, err := b.CanonicalBytes()
	if err != nil {
		return false, fmt.Errorf("failed to serialize local ledger: %w", err)
	}
	return bytes.Equal(ab, bb), nil
}

// wrapTimeout converts a deadline expiry into a typed TimeoutError.
func (e *Engine) wrapTimeout(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	return err
}
