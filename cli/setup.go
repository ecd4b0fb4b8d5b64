package cli

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/mailcycle/mailcycle/config"
	"github.com/mailcycle/mailcycle/driver"
	"github.com/mailcycle/mailcycle/engine"
	mcotel "github.com/mailcycle/mailcycle/otel"
)

// addConfigFlags registers the flags shared by serve and once.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to mailcycle.yaml config")
	cmd.Flags().String("portal-url", "", "Portal page to drive")
	cmd.Flags().String("driver-endpoint", "", "Remote WebDriver endpoint")
	cmd.Flags().Bool("headless", true, "Run the browser headless")
	cmd.Flags().Int("interval", 0, "Minutes between successful cycles")
	cmd.Flags().Int("retry-delay", 0, "Minutes to wait after a failed cycle")
	cmd.Flags().String("schedule", "", "Optional UTC cron expression pinning cycle wake-ups")
	cmd.Flags().String("sqlite-path", "", "Persist cycle history to this SQLite database")
	cmd.Flags().String("credentials-path", "", "Path to stored OAuth credentials")
}

// loadConfig resolves configuration from .env, the config file, the
// environment, and finally explicit flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	// Missing .env is fine; it only exists in dev setups.
	_ = godotenv.Load()

	explicitPath, _ := cmd.Flags().GetString("config")
	path, found, err := config.DiscoverPath(explicitPath)
	if err != nil {
		return config.Config{}, err
	}
	if !found {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("portal-url") {
		cfg.Driver.PortalURL, _ = cmd.Flags().GetString("portal-url")
	}
	if cmd.Flags().Changed("driver-endpoint") {
		cfg.Driver.Endpoint, _ = cmd.Flags().GetString("driver-endpoint")
	}
	if cmd.Flags().Changed("headless") {
		cfg.Driver.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if cmd.Flags().Changed("interval") {
		cfg.IntervalMinutes, _ = cmd.Flags().GetInt("interval")
	}
	if cmd.Flags().Changed("retry-delay") {
		cfg.RetryDelayMinutes, _ = cmd.Flags().GetInt("retry-delay")
	}
	if cmd.Flags().Changed("schedule") {
		cfg.Schedule, _ = cmd.Flags().GetString("schedule")
	}
	if cmd.Flags().Changed("sqlite-path") {
		cfg.SQLitePath, _ = cmd.Flags().GetString("sqlite-path")
	}
	if cmd.Flags().Changed("credentials-path") {
		cfg.CredentialsPath, _ = cmd.Flags().GetString("credentials-path")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildDriver creates the WebDriver from resolved config.
func buildDriver(cfg config.Config, logger *slog.Logger) (*driver.WebDriver, error) {
	return driver.New(driver.Config{
		Endpoint:  cfg.Driver.Endpoint,
		PortalURL: cfg.Driver.PortalURL,
		Headless:  cfg.Driver.Headless,
		Selectors: cfg.Driver.Selectors,
		Timeout:   cfg.DriverTimeout(),
		Logger:    logger,
	})
}

// buildEventHandlers wires the OpenTelemetry handlers off the global
// providers. With no SDK installed these are no-ops.
func buildEventHandlers() (engine.EventHandler, error) {
	metrics, err := mcotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("mailcycle/engine"))
	if err != nil {
		return nil, err
	}
	tracing := mcotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("mailcycle/engine"))
	return engine.CombineHandlers(metrics, tracing), nil
}

// buildStore selects the cycle store: SQLite when a path is configured,
// in-memory otherwise. The returned closer is a no-op for memory stores.
func buildStore(cfg config.Config) (engine.CycleStore, func() error, error) {
	if cfg.SQLitePath == "" {
		return engine.NewMemoryCycleStore(cfg.HistoryLimit), func() error { return nil }, nil
	}
	store, err := engine.NewSQLiteCycleStore(engine.SQLiteCycleStoreConfig{
		DSN:       cfg.SQLitePath,
		Retention: cfg.HistoryLimit,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// buildEngine assembles the engine from its parts.
func buildEngine(cfg config.Config, drv *driver.WebDriver, store engine.CycleStore, events engine.EventHandler, logger *slog.Logger) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Driver:           drv,
		Store:            store,
		Interval:         cfg.Interval(),
		RetryDelay:       cfg.RetryDelay(),
		ProgressInterval: cfg.ProgressInterval(),
		Schedule:         cfg.Schedule,
		Logger:           logger,
		Events:           events,
	})
}
