// Package channels implements the channel listing command.
package channels

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/harvester/internal/config"
	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/domain"
)

const defaultListLimit = 50

// Command returns the channels command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Inspect harvested channels",
	}

	cmd.AddCommand(listCommand())

	return cmd
}

func listCommand() *cobra.Command {
	var (
		category string
		search   string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels in a formatted table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return list(cmd.Context(), category, search, limit, offset)
		},
	}

	cmd.Flags().StringVar(&category, "category", string(domain.CategoryActive), "category filter (active, archived, blacklisted)")
	cmd.Flags().StringVar(&search, "search", "", "match against title and channel id")
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}

func list(ctx context.Context, category, search string, limit, offset int) error {
	if !domain.ValidCategory(category) {
		return fmt.Errorf("invalid category: %s", category)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := database.NewChannelRepository(db)
	channels, total, err := repo.List(ctx, database.ListChannelsParams{
		Search:   search,
		Category: domain.Category(category),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	render(channels)
	fmt.Printf("%d of %d channels (%s)\n", len(channels), total, category)
	return nil
}

func connect(cfg *config.Config) (*sqlx.DB, error) {
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
	return db, nil
}

func render(channels []*domain.Channel) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Channel ID", "Title", "Status", "Subscribers", "Language", "Emails"})

	for _, ch := range channels {
		t.AppendRow(table.Row{
			ch.ChannelID,
			ch.Title,
			ch.Status,
			formatInt64(ch.Subscribers),
			formatString(ch.Language),
			formatString(ch.Emails),
		})
	}

	t.Render()
}

func formatInt64(value *int64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *value)
}

func formatString(value *string) string {
	if value == nil || *value == "" {
		return "-"
	}
	return *value
}
