package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewOnceCmd creates the "once" subcommand.
func NewOnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Execute a single workflow cycle and print its record",
		RunE:  runOnce,
	}

	addConfigFlags(cmd)
	return cmd
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}

	logger := slog.Default()

	drv, err := buildDriver(cfg, logger)
	if err != nil {
		return exitError(exitConfig, "creating driver: %v", err)
	}
	defer func() {
		_ = drv.Close(context.Background())
	}()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return exitError(exitRuntime, "opening cycle store: %v", err)
	}
	defer func() {
		_ = closeStore()
	}()

	eng, err := buildEngine(cfg, drv, store, nil, logger)
	if err != nil {
		return exitError(exitConfig, "creating engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := eng.RunOnce(ctx)
	if err != nil {
		return exitError(exitRuntime, "recording cycle: %v", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return exitError(exitRuntime, "encoding cycle record: %v", err)
	}

	if rec.Failed() {
		return exitError(exitCycle, "cycle failed: %s", rec.FailureReason)
	}
	return nil
}
