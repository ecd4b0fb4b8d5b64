package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailcycle/mailcycle/credstore"
	"github.com/mailcycle/mailcycle/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation daemon with the control API",
		RunE:  runServe,
	}

	addConfigFlags(cmd)
	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().String("otlp-endpoint", "", "OTLP trace export endpoint")
	cmd.Flags().Bool("autostart", true, "Start the cycle loop immediately")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Listen.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Listen.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("cors-origin") {
		cfg.Listen.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	if cmd.Flags().Changed("otlp-endpoint") {
		cfg.OTLP.Endpoint, _ = cmd.Flags().GetString("otlp-endpoint")
	}
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	autostart, _ := cmd.Flags().GetBool("autostart")

	logger := slog.Default()

	// Credentials are loaded once before the first cycle; their absence
	// is survivable, cycles just fail at connection confirmation until
	// the portal session is authorized.
	creds, err := credstore.New(cfg.CredentialsPath)
	if err != nil {
		return exitError(exitConfig, "resolving credential store: %v", err)
	}
	if loaded, found, err := creds.Load(); err != nil {
		logger.Warn("could not read stored credentials", "path", creds.Path(), "error", err)
	} else if !found {
		logger.Warn("no stored credentials, cycles will retry until the portal session is authorized", "path", creds.Path())
	} else if loaded.Expired(time.Now().UTC()) {
		logger.Warn("stored credentials are expired", "email", loaded.Email, "expiry", loaded.Expiry)
	} else {
		logger.Info("credentials loaded", "email", loaded.Email)
	}

	shutdownTelemetry, err := setupTelemetry(cmd.Context(), cfg.OTLP)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	events, err := buildEventHandlers()
	if err != nil {
		return fmt.Errorf("initializing observability handlers: %w", err)
	}

	drv, err := buildDriver(cfg, logger)
	if err != nil {
		return exitError(exitConfig, "creating driver: %v", err)
	}
	defer func() {
		_ = drv.Close(context.Background())
	}()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("opening cycle store: %w", err)
	}
	defer func() {
		_ = closeStore()
	}()

	eng, err := buildEngine(cfg, drv, store, events, logger)
	if err != nil {
		return exitError(exitConfig, "creating engine: %v", err)
	}

	controlServer := server.New(server.Config{
		Engine:      eng,
		CORSOrigin:  cfg.Listen.CORSOrigin,
		MaxBody:     maxBody,
		Logger:      logger,
		DriverReady: drv.Ready,
	})

	addr := net.JoinHostPort(cfg.Listen.Host, fmt.Sprintf("%d", cfg.Listen.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      controlServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if autostart {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "mailcycle daemon listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := eng.Stop(shutdownCtx); err != nil {
			logger.Error("engine shutdown", "error", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		_ = eng.Stop(context.Background())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
