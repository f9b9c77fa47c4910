// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable harvester for the zeturf results archive",
		Long: `harvester mirrors the zeturf.fr "résultats et rapports" archive into a
content-addressed local tree, one git commit per completed year. It
discovers the expected page tree into a manifest, then fetches missing
pages in adaptive batches that back off under rate limiting, so
interrupted runs always resume where they left off.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app); ok && appInstance != nil {
				appInstance.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./harvester.yaml)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	appInstance, ok := ctx.Value(appKey).(*app)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
