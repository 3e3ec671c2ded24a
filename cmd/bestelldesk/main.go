package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enzel-org/BestellDesk/internal/config"
	"github.com/enzel-org/BestellDesk/internal/ledger"
	"github.com/enzel-org/BestellDesk/internal/service"
	"github.com/enzel-org/BestellDesk/internal/storage/sqlite"
	"github.com/enzel-org/BestellDesk/internal/syncer"
	"github.com/enzel-org/BestellDesk/pkg/logging"
)

// passphraseEnv holds the workspace passphrase. It is never a flag so it
// cannot leak into process listings.
const passphraseEnv = "BESTELLDESK_PASSPHRASE"

func main() {
	var (
		configDir  = flag.String("config", "configs", "config directory containing base.yaml")
		envName    = flag.String("env", os.Getenv("BESTELLDESK_ENV"), "environment overlay (dev, staging, prod)")
		exportPath = flag.String("export", "", "export the ledger to an encrypted archive and exit")
		importPath = flag.String("import", "", "import an encrypted archive and exit")
		force      = flag.Bool("force", false, "allow importing an archive older than the current ledger")
	)
	flag.Parse()

	cfg, err := config.Load(*configDir, *envName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.App.LogLevel)
	if cfg.App.LogFile != "" {
		logging.SetupWithFile(level, cfg.App.LogFile)
	} else {
		logging.SetupWithLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persist, err := sqlite.New(cfg.Ledger.DBPath)
	if err != nil {
		slog.Error("Failed to open snapshot database", "path", cfg.Ledger.DBPath, "error", err)
		os.Exit(1)
	}
	defer persist.Close()

	opts := []ledger.Option{}
	if cfg.Ledger.History > 0 {
		opts = append(opts, ledger.WithHistory(cfg.Ledger.History))
	}
	store, err := ledger.Open(ctx, persist, opts...)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	slog.Info("Ledger opened", "database", cfg.Ledger.DBPath, "revision", store.Revision())

	engine, cleanup, err := buildEngine(ctx, cfg, store)
	if err != nil {
		slog.Error("Failed to set up sync", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	svc := service.New(store, engine)

	if *exportPath != "" || *importPath != "" {
		if err := runArchiveCommand(ctx, svc, *exportPath, *importPath, *force); err != nil {
			slog.Error("Archive command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, cfg, svc, engine)
}

// runArchiveCommand handles the one-shot -export / -import modes.
func runArchiveCommand(ctx context.Context, svc *service.Service, exportPath, importPath string, force bool) error {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("%s must be set", passphraseEnv)
	}
	if exportPath != "" {
		if err := svc.Export(ctx, exportPath, passphrase); err != nil {
			return err
		}
		slog.Info("Export complete", "path", exportPath)
		return nil
	}
	snap, err := svc.Import(ctx, importPath, passphrase, force)
	if err != nil {
		return err
	}
	slog.Info("Import complete", "path", importPath, "revision", snap.Revision)
	return nil
}

// buildEngine wires the configured remote backend, or returns nil for an
// offline workspace.
func buildEngine(ctx context.Context, cfg config.Config, store *ledger.Store) (*syncer.Engine, func(), error) {
	var remote syncer.RemoteStore
	var cleanup func()

	switch cfg.Sync.Remote {
	case "":
		slog.Info("No remote configured, running offline")
		return nil, nil, nil
	case "http":
		tokens := syncer.NewTokenManager(cfg.Sync.TokenSecret, cfg.Sync.TokenTTL)
		remote = syncer.NewHTTPStore(cfg.Sync.URL, tokens)
	case "mongo":
		mongoStore, err := syncer.NewMongoStore(ctx, cfg.Sync.MongoURI, cfg.Sync.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		remote = mongoStore
		cleanup = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(shutdownCtx); err != nil {
				slog.Error("Failed to disconnect mongodb", "error", err)
			}
		}
	}

	engine := syncer.New(store, remote, cfg.Sync.Workspace,
		syncer.WithTimeout(cfg.Sync.Timeout),
		syncer.WithMaxRetries(cfg.Sync.MaxRetries),
	)
	slog.Info("Sync engine ready", "remote", cfg.Sync.Remote, "workspace", cfg.Sync.Workspace)
	return engine, cleanup, nil
}

func runDaemon(ctx context.Context, cfg config.Config, svc *service.Service, engine *syncer.Engine) {
	if cfg.App.MetricsAddr != "" {
		go serveMetrics(cfg.App.MetricsAddr)
	}

	if engine == nil {
		slog.Info("Offline workspace ready, waiting for shutdown signal")
		<-ctx.Done()
		slog.Info("Shutting down")
		return
	}

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		slog.Error("Sync requires a passphrase", "env", passphraseEnv)
		os.Exit(1)
	}

	if cfg.Sync.Watch {
		go func() {
			if err := engine.WatchLoop(ctx, passphrase); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Watch loop stopped", "error", err)
			}
		}()
	}

	interval := cfg.Sync.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sync once at startup, then on every tick.
	syncOnce(ctx, svc, passphrase)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down")
			return
		case <-ticker.C:
			syncOnce(ctx, svc, passphrase)
		}
	}
}

func syncOnce(ctx context.Context, svc *service.Service, passphrase string) {
	err := svc.Sync(ctx, passphrase)
	switch {
	case err == nil:
	case errors.Is(err, syncer.ErrSyncBusy):
		slog.Debug("Sync already running, skipping tick")
	default:
		slog.Error("Sync failed", "error", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Metrics listener starting", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics listener failed", "error", err)
	}
}
