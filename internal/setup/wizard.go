package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pmahlen/vitalsync/internal/config"
)

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// server connection, sync interval, config file creation, and optional daemon
// install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to vitalsync Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard will help you configure and install vitalsync.\n\n")

	// Check for existing config.
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall(ctx)
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Server connection.
	fmt.Fprintf(wiz.w, "Step 1/3 — Record Service Connection\n")

	serverURL := wiz.prompt.String("Server URL", "https://records.example.com")
	apiToken := wiz.prompt.Secret("API token")
	userID := wiz.prompt.Int("User ID")

	fmt.Fprintf(wiz.w, "  Connecting to the record service...")
	if err := PingServer(ctx, serverURL, apiToken, userID); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach the record service: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: Sync interval.
	fmt.Fprintf(wiz.w, "Step 2/3 — Sync Interval\n")

	syncStr := wiz.prompt.String("How often to reconcile with the server? (10s–1h)", "1m")
	syncInterval, parseErr := time.ParseDuration(syncStr)
	if parseErr != nil {
		syncInterval = time.Minute
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 1m)\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Write config.
	fmt.Fprintf(wiz.w, "Step 3/3 — Save Configuration\n")

	cfg := &config.Config{
		ServerURL:    serverURL,
		APIToken:     apiToken,
		UserID:       userID,
		SyncInterval: syncInterval,
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	return wiz.offerDaemonInstall(ctx)
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall(_ context.Context) error {
	if !wiz.prompt.Confirm("Install as background daemon (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping daemon install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: vitalsync daemon\n")
		fmt.Fprintf(wiz.w, "  Or install later with:     vitalsync setup\n\n")
		return nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	fmt.Fprintf(wiz.w, "\n")

	// Install binary.
	fmt.Fprintf(wiz.w, "  Installing binary to %s...\n", BinaryInstallPath())
	if err := InstallBinary(); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed\n")

	// Write systemd unit.
	if err := WriteUnit(homeDir); err != nil {
		return fmt.Errorf("writing systemd unit: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ systemd user unit written\n")

	// Enable and start.
	if err := EnableDaemon(); err != nil {
		return fmt.Errorf("enabling daemon: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Daemon enabled — running now\n")

	cfgPath, _ := config.DefaultPath()
	fmt.Fprintf(wiz.w, "\nSetup complete! vitalsync is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", cfgPath)
	fmt.Fprintf(wiz.w, "  Unit:    %s\n", UnitPath(homeDir))
	fmt.Fprintf(wiz.w, "  Status:  vitalsync status\n")
	fmt.Fprintf(wiz.w, "  Remove:  vitalsync uninstall\n\n")

	return nil
}
