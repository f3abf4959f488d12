package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"estate-harvester/config"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

func newSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the sources catalogue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Upsert the sources from the config file into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, store storage.Store, logger utils.Logger) error {
				if len(cfg.Sources) == 0 {
					return errors.New("no sources configured; pass --config with a sources list")
				}
				n, err := seedSources(ctx, store, cfg.Sources)
				if err != nil {
					return err
				}
				logger.Info("Sources seeded", utils.Int("count", n))
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d sources\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the sources in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, store storage.Store, _ utils.Logger) error {
				return printSources(ctx, cmd.OutOrStdout(), store)
			})
		},
	})
	return cmd
}

// withStore loads the config, opens PostgreSQL and runs fn.
func withStore(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, store storage.Store, logger utils.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = utils.Zap(logger).Sync() }()

	store, err := storage.OpenPostgres(ctx, cfg.DSN(), logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, cfg, store, logger)
}

func printSources(ctx context.Context, w io.Writer, store storage.SourceStore) error {
	sources, err := store.ListSources(ctx)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Code", "Name", "Kind", "Fetch", "Active", "Base URL"})
	for _, s := range sources {
		t.AppendRow(table.Row{s.ID, s.Code, s.Name, s.Kind, s.FetchMode, s.Active, s.BaseURL})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(sources)})
	t.Render()
	return nil
}
