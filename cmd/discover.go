package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newDiscoverCmd builds manifests without fetching any leaves.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [partition...]",
		Short: "Build the expected-page manifest for one or more years",
		Long: `Fetches the date and réunion pages for each partition year, extracts
the expected course pages, and persists the result as a manifest. Pages
that cannot be fetched are recorded as manifest gaps, not errors.`,
		RunE: runDiscoverCommand,
	}
}

func runDiscoverCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	for _, partition := range a.partitions(args) {
		manifest, err := a.orchestrator.Discover(cmd.Context(), partition)
		if err != nil {
			return fmt.Errorf("discover %s: %w", partition, err)
		}
		a.logger.Info("manifest written",
			zap.String("partition", partition),
			zap.String("path", a.manifests.Path(partition)),
			zap.Int("leaves", len(manifest.Leaves())),
			zap.Int("gaps", len(manifest.Gaps)),
		)
	}
	return nil
}
