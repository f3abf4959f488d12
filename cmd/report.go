package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"estate-harvester/config"
	"estate-harvester/models"
	"estate-harvester/services"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print insights over the stored listings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, store storage.Store, logger utils.Logger) error {
				return renderReport(ctx, cmd.OutOrStdout(), store, logger)
			})
		},
	}
}

// reportStore is what the insights report reads.
type reportStore interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	ListListings(ctx context.Context) ([]*models.NormalizedListing, error)
}

func renderReport(ctx context.Context, w io.Writer, store reportStore, logger utils.Logger) error {
	listings, err := store.ListListings(ctx)
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	sources, err := store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	names := make(map[int64]string, len(sources))
	for _, s := range sources {
		names[s.ID] = s.Code
	}

	insights := services.NewInsightService(logger)
	insights.Render(w, insights.Generate(listings), names)
	return nil
}
