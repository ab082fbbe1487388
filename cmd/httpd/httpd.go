// Package httpd implements the harvester HTTP service.
package httpd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/harvester/internal/api"
	"github.com/jonesrussell/harvester/internal/blacklist"
	"github.com/jonesrussell/harvester/internal/config"
	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/jobs"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/schedule"
	"github.com/jonesrussell/harvester/internal/settings"
	"github.com/jonesrussell/harvester/internal/sse"
	"github.com/jonesrussell/harvester/internal/stats"
)

const (
	signalChannelBufferSize = 1
	errorChannelBufferSize  = 1
	schemaTimeout           = 30 * time.Second
)

// Command returns the serve command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the harvester HTTP service",
		Long:  "Starts the harvester API: discovery loop control, enrichment jobs, channel curation, stats, and SSE streams.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Start(cmd.Context())
		},
	}
}

// Start wires the service together and runs until interrupted.
func Start(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := sse.NewBroker(log)
	if startErr := broker.Start(ctx); startErr != nil {
		return fmt.Errorf("failed to start SSE broker: %w", startErr)
	}
	defer func() {
		_ = broker.Stop()
	}()

	channelRepo := database.NewChannelRepository(db)
	emailRepo := database.NewEmailRepository(db)

	tracker := jobs.NewTracker(log, broker)

	coordinator := enrich.NewCoordinator(
		channelRepo,
		emailRepo,
		tracker,
		newEnricher(cfg),
		log,
		enrich.WithWorkers(cfg.Enrichment.Workers),
	)

	controller := discovery.NewController(
		newDiscoverer(cfg),
		channelRepo,
		broker,
		log,
		discovery.WithRunInterval(parseDuration(cfg.Discovery.RunInterval, discovery.DefaultRunInterval)),
		discovery.WithEnrichRequester(coordinator),
	)

	settingsStore := settings.NewStore(cfg.Discovery.SettingsFile)

	scheduler := schedule.NewScheduler(log, controller, settingsStore, cfg.Discovery.Schedule)
	if schedErr := scheduler.Start(ctx); schedErr != nil {
		return fmt.Errorf("failed to start discovery schedule: %w", schedErr)
	}
	defer scheduler.Stop()

	aggregator := stats.NewAggregator(channelRepo, emailRepo, controller, tracker)
	importer := blacklist.NewImporter(channelRepo, log)

	router := api.SetupRouter(api.Handlers{
		Enrich:    api.NewEnrichHandler(coordinator, tracker, log),
		Discovery: api.NewDiscoveryHandler(controller, settingsStore, log),
		Channels:  api.NewChannelsHandler(channelRepo, importer, log),
		Stats:     api.NewStatsHandler(aggregator, log),
		Broker:    broker,
		Logger:    log,
	})

	server := api.NewServer(api.ServerConfig{
		Address:      cfg.Server.Address,
		ReadTimeout:  parseDuration(cfg.Server.ReadTimeout, 0),
		WriteTimeout: parseDuration(cfg.Server.WriteTimeout, 0),
		IdleTimeout:  parseDuration(cfg.Server.IdleTimeout, 0),
	}, router, log)

	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		errChan <- server.Start()
	}()

	return runUntilInterrupt(ctx, log, server, controller, errChan)
}

// connectDatabase opens the connection and applies the schema.
func connectDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	if schemaErr := database.EnsureSchema(schemaCtx, db); schemaErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", schemaErr)
	}

	return db, nil
}

func newDiscoverer(cfg *config.Config) *discovery.HTTPDiscoverer {
	return discovery.NewHTTPDiscoverer(
		discovery.WithBaseURL(cfg.Discovery.BackendURL),
		discovery.WithTimeout(parseDuration(cfg.Discovery.Timeout, discovery.DefaultTimeout)),
	)
}

func newEnricher(cfg *config.Config) *enrich.HTTPEnricher {
	return enrich.NewHTTPEnricher(
		enrich.WithBaseURL(cfg.Enrichment.BackendURL),
		enrich.WithTimeout(parseDuration(cfg.Enrichment.Timeout, enrich.DefaultTimeout)),
	)
}

// parseDuration parses a config duration, falling back on empty or invalid
// values.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// runUntilInterrupt blocks until a signal or server failure, then shuts the
// service down: the loop is asked to stop, the in-flight run finishes, and
// the HTTP server drains.
func runUntilInterrupt(
	ctx context.Context,
	log logger.Interface,
	server *api.Server,
	controller *discovery.Controller,
	errChan <-chan error,
) error {
	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}

	if controller.Snapshot().Running {
		controller.StopLoop(ctx)
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	log.Info("Harvester stopped")
	return nil
}
