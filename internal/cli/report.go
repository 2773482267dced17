package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reportConfigPath string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the best candidate found and how the run ended",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportConfigPath, "config", "", "path to workflow.yaml (default .aurelia/config/workflow.yaml under the repo root)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	snap, cfg, err := loadSnapshot(reportConfigPath)
	if err != nil {
		return err
	}

	var succeeded, failed, aborted int
	for _, c := range snap.Candidates {
		switch c.State {
		case "succeeded":
			succeeded++
		case "failed":
			failed++
		case "aborted":
			aborted++
		}
	}

	fmt.Printf("termination condition: %s%s%g\n", cfg.Termination.Metric, cfg.Termination.Op, cfg.Termination.Threshold)
	fmt.Printf("candidates: %d total, %d succeeded, %d failed, %d aborted\n", len(snap.Candidates), succeeded, failed, aborted)
	if snap.BestSoFar != nil {
		fmt.Printf("best candidate: %d on branch %s, metrics %v\n", snap.BestSoFar.ID, snap.BestSoFar.BranchName, snap.BestSoFar.Metrics)
		satisfied := cfg.Termination.Satisfied(snap.BestSoFar.Metrics)
		fmt.Printf("termination condition satisfied: %v\n", satisfied)
	} else {
		fmt.Println("no candidate has succeeded yet")
	}
	if snap.Stopped {
		fmt.Println("runtime has stopped")
	}
	return nil
}
