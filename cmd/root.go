// Package cmd implements the command-line interface for the harvester.
// It provides the root command and subcommands for serving the API,
// running discovery, and inspecting channels.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/harvester/cmd/channels"
	"github.com/jonesrussell/harvester/cmd/discover"
	"github.com/jonesrussell/harvester/cmd/httpd"
	"github.com/jonesrussell/harvester/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Channel harvesting and curation service",
	Long:  `Discovers video channels by keyword, enriches them with contact and audience data through an external backend, and serves the curation dashboard API.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("harvester version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(httpd.Command())
	rootCmd.AddCommand(discover.Command())
	rootCmd.AddCommand(channels.Command())
}
