// Package discover implements the one-shot discovery command.
package discover

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/harvester/internal/config"
	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/settings"
)

// Command returns the discover command.
func Command() *cobra.Command {
	var (
		keywords   []string
		perKeyword int
		maxAgeDays int
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a single discovery pass",
		Long:  "Runs one keyword sweep against the search backend and persists new channels. Without --keywords the persisted discovery settings are used.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), keywords, perKeyword, maxAgeDays)
		},
	}

	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "keywords to search (default: persisted settings)")
	cmd.Flags().IntVar(&perKeyword, "per-keyword", 0, "results per keyword")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "skip channels older than this")

	return cmd
}

func run(ctx context.Context, keywords []string, perKeyword, maxAgeDays int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	runSettings, err := resolveSettings(cfg, keywords, perKeyword, maxAgeDays)
	if err != nil {
		return err
	}

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if schemaErr := database.EnsureSchema(ctx, db); schemaErr != nil {
		return fmt.Errorf("failed to ensure schema: %w", schemaErr)
	}

	discoverer := discovery.NewHTTPDiscoverer(
		discovery.WithBaseURL(cfg.Discovery.BackendURL),
	)
	// No event stream for a one-shot run; the controller tolerates a nil
	// publisher.
	controller := discovery.NewController(
		discoverer,
		database.NewChannelRepository(db),
		nil,
		log,
	)

	result, err := controller.RunOnce(ctx, runSettings)
	if err != nil {
		return fmt.Errorf("discovery run failed: %w", err)
	}

	renderResult(runSettings, result)
	return nil
}

// resolveSettings merges command-line flags over the persisted settings.
func resolveSettings(cfg *config.Config, keywords []string, perKeyword, maxAgeDays int) (domain.DiscoverySettings, error) {
	store := settings.NewStore(cfg.Discovery.SettingsFile)
	runSettings, err := store.Load()
	if err != nil {
		return domain.DiscoverySettings{}, fmt.Errorf("failed to load discovery settings: %w", err)
	}

	if len(keywords) > 0 {
		runSettings.Keywords = keywords
	}
	if perKeyword > 0 {
		runSettings.PerKeyword = perKeyword
	}
	if maxAgeDays > 0 {
		runSettings.MaxAgeDays = maxAgeDays
	}

	if len(runSettings.Keywords) == 0 {
		return domain.DiscoverySettings{}, fmt.Errorf("no keywords configured: pass --keywords or save discovery settings first")
	}
	return runSettings, nil
}

func renderResult(runSettings domain.DiscoverySettings, result *domain.DiscoveryResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Keywords", "Found", "Blacklisted", "New Channels"})
	t.AppendRow(table.Row{
		len(runSettings.Keywords),
		result.FoundCount,
		result.BlacklistedCount,
		len(result.NewChannelIDs),
	})
	t.Render()
}
