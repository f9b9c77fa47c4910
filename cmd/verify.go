package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newVerifyCmd audits the local tree against the manifests without touching
// the network.
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [partition...]",
		Short: "Audit the local tree against the manifests",
		Long: `Compares each partition's manifest against the local tree and reports
every page that is missing or below the minimum plausible size. Purely
local; nothing is fetched.`,
		RunE: runVerifyCommand,
	}
}

func runVerifyCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	incomplete := 0
	for _, partition := range a.partitions(args) {
		report, err := a.orchestrator.Audit(partition)
		if err != nil {
			return fmt.Errorf("audit %s: %w", partition, err)
		}
		if len(report.Missing) == 0 {
			color.Green("%s: %d/%d pages present", partition, report.Present, report.Total)
			continue
		}
		incomplete++
		color.Red("%s: %d/%d pages present, %d missing", partition, report.Present, report.Total, len(report.Missing))
		for _, node := range report.Missing {
			fmt.Printf("  missing %-5s %s\n", node.Kind, node.Location)
		}
	}

	if incomplete > 0 {
		return fmt.Errorf("%d partition(s) incomplete", incomplete)
	}
	return nil
}
