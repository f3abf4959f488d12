// Package cmd implements the command-line interface of the harvester.
// It provides the root command and the serve, run, trigger, sources and
// report subcommands.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the optional YAML configuration file.
	cfgFile string

	// Debug forces debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "harvester",
		Short: "Real-estate listing harvester",
		Long: `Harvests property listings from configured sources, normalizes and
filters them, and reconciles them into a canonical PostgreSQL store.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML) with sources, triggers and filter settings")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newTriggerCommand())
	rootCmd.AddCommand(newSourcesCommand())
	rootCmd.AddCommand(newReportCommand())
}
