// Vitalsync is a daemon that keeps a local database of health records
// (weight, diet, exercise, sleep, steps) convergent with a remote record
// service. All mutations are local-first; a background reconciler pushes
// pending changes and pulls server state on a fixed interval.
//
// Usage:
//
//	vitalsync setup                        # interactive first-run wizard
//	vitalsync daemon [--config <path>]     # start the periodic reconciler
//	vitalsync sync-once [--config <path>]  # single reconcile pass then exit
//	vitalsync status                       # show config & database state
//	vitalsync uninstall [--purge]          # stop daemon and remove files
//	vitalsync version                      # print version
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

	"github.com/pmahlen/vitalsync/internal/config"
	"github.com/pmahlen/vitalsync/internal/health"
	"github.com/pmahlen/vitalsync/internal/record"
	"github.com/pmahlen/vitalsync/internal/remote"
	"github.com/pmahlen/vitalsync/internal/setup"
	"github.com/pmahlen/vitalsync/internal/store"
	syncp "github.com/pmahlen/vitalsync/internal/sync"
	"github.com/pmahlen/vitalsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup()
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus()
	case "uninstall":
		return runUninstall(os.Args[2:])
	case "version":
		fmt.Println("vitalsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'vitalsync' for usage", cmd)
	}
}

// printUsage shows help and hints at the config file if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "vitalsync — offline-first health record sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  vitalsync setup                      Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  vitalsync daemon [--config ...]      Run the periodic reconciler")
	fmt.Fprintln(os.Stderr, "  vitalsync sync-once [--config ...]   Single reconcile pass then exit")
	fmt.Fprintln(os.Stderr, "  vitalsync status                     Show config & database state")
	fmt.Fprintln(os.Stderr, "  vitalsync uninstall [--purge]        Stop daemon and remove files")
	fmt.Fprintln(os.Stderr, "  vitalsync version                    Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s. Run 'vitalsync setup' to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runUninstall stops the daemon and removes installed files.
func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	purge := fs.Bool("purge", false, "also remove config and the record database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	fmt.Println("Uninstalling vitalsync...")

	// 1. Stop the daemon.
	if setup.IsDaemonActive() {
		fmt.Println("  Stopping daemon...")
		if err := setup.DisableDaemon(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ Daemon stopped")
		}
	}

	// 2. Remove the systemd unit.
	if err := setup.RemoveUnit(homeDir); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ systemd unit removed")
	}

	// 3. Remove the binary.
	fmt.Println("  Removing binary...")
	if err := setup.RemoveBinary(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Binary removed")
	}

	// 4. Optional purge.
	if *purge {
		fmt.Println("  Removing config and record database...")
		if err := setup.PurgeUserData(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ User data removed")
		}
	} else {
		fmt.Println("  Config and record database kept. Remove them with:")
		fmt.Println("    vitalsync uninstall --purge")
	}

	fmt.Println()
	fmt.Println("✓ vitalsync uninstalled.")
	return nil
}

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := store.DefaultPath()

	fmt.Println("vitalsync status")
	fmt.Println("────────────────")

	if setup.IsDaemonActive() {
		fmt.Println("  Daemon:     running (systemd)")
	} else {
		fmt.Println("  Daemon:     not running")
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  Server:     %s\n", cfg.ServerURL)
			fmt.Printf("  User:       %d\n", cfg.UserID)
			fmt.Printf("  Interval:   %s\n", cfg.SyncInterval)
			if cfg.DBPath != "" {
				dbPath = cfg.DBPath
			}
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Database:   %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Database:   not found\n")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		unitPath := setup.UnitPath(homeDir)
		if _, err := os.Stat(unitPath); err == nil {
			fmt.Printf("  Unit:       %s\n", unitPath)
		} else {
			fmt.Printf("  Unit:       not installed\n")
		}
	}

	return nil
}

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"server_url", cfg.ServerURL,
		"user_id", cfg.UserID,
		"sync_interval", cfg.SyncInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Local database ------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", dbPath)

	// --- Entity syncers ------------------------------------------------------

	// All five entity clients share one connection pool.
	hc := &http.Client{}

	weight, err := newSyncer[health.WeightEntry](db, health.EntityWeight, nil, cfg, hc, logger)
	if err != nil {
		return err
	}
	diet, err := newSyncer[health.DietEntry](db, health.EntityDiet, nil, cfg, hc, logger)
	if err != nil {
		return err
	}
	exercise, err := newSyncer[health.ExerciseEntry](db, health.EntityExercise, nil, cfg, hc, logger)
	if err != nil {
		return err
	}
	sleep, err := newSyncer[health.SleepInterval](db, health.EntitySleep, health.SleepPeriod, cfg, hc, logger)
	if err != nil {
		return err
	}
	steps, err := newSyncer[health.StepCount](db, health.EntitySteps, health.StepsPeriod, cfg, hc, logger)
	if err != nil {
		return err
	}

	engine := syncp.NewEngine(
		[]syncp.Syncer{weight, diet, exercise, sleep, steps},
		[]int64{cfg.UserID},
		cfg.Workers,
		cfg.SyncInterval,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := engine.RunOnce(ctx)
		logger.Info("sync complete",
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"pulled", stats.Pulled,
			"deduped", stats.Deduped,
			"failures", stats.Failures,
		)
		return err
	}

	logger.Info("daemon starting", "sync_interval", cfg.SyncInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newSyncer builds the store, remote client, and reconciler for one entity.
func newSyncer[P any](db *store.DB, entity string, period record.PeriodFunc[P], cfg *config.Config, hc *http.Client, logger *slog.Logger) (syncp.Syncer, error) {
	st, err := store.New[P](db, entity, period)
	if err != nil {
		return nil, fmt.Errorf("initialising %s store: %w", entity, err)
	}
	client := remote.NewClient[P](cfg.ServerURL, entity, cfg.APIToken, logger, remote.WithHTTPClient(hc))
	return syncp.NewReconciler[P](entity, st, client, period, logger), nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
