package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aurelia-run/aurelia/internal/config"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/statestore"
)

var statusConfigPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot projection of the current runtime state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "path to workflow.yaml (default .aurelia/config/workflow.yaml under the repo root)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, _, err := loadSnapshot(statusConfigPath)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

// loadSnapshot replays the event log into a fresh, read-only Snapshot.
// Grounded on server/server.go's toJSON conversion of internal task state
// to a stable external shape, adapted to fold over the event log instead
// of reading a live task struct (spec §9 "status one-shot projection").
func loadSnapshot(configPath string) (statestore.Snapshot, *config.Config, error) {
	repoDir, err := os.Getwd()
	if err != nil {
		return statestore.Snapshot{}, nil, err
	}
	if root := findGitRoot(repoDir); root != "" {
		repoDir = root
	}
	if configPath == "" {
		configPath = filepath.Join(stateDir(repoDir), "config", "workflow.yaml")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return statestore.Snapshot{}, nil, err
	}

	logPath := filepath.Join(stateDir(repoDir), "events.jsonl")
	log, err := eventlog.Open(logPath)
	if err != nil {
		return statestore.Snapshot{}, nil, fmt.Errorf("opening event log: %w", err)
	}
	defer log.Close()

	events, err := log.ScanFrom(0)
	if err != nil {
		return statestore.Snapshot{}, nil, fmt.Errorf("scanning event log: %w", err)
	}
	snap := statestore.Rebuild(cfg.Termination.Metric, cfg.Termination.Comparator(), events)
	return snap, cfg, nil
}

func printSnapshot(snap statestore.Snapshot) {
	ids := make([]int64, 0, len(snap.Candidates))
	for id := range snap.Candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Printf("%-6s %-14s %-24s %s\n", "ID", "STATE", "BRANCH", "METRICS")
	for _, id := range ids {
		c := snap.Candidates[id]
		fmt.Printf("%-6d %-14s %-24s %v\n", c.ID, c.State, c.BranchName, c.Metrics)
	}

	fmt.Println()
	if snap.BestSoFar != nil {
		fmt.Printf("best so far: candidate %d (%v)\n", snap.BestSoFar.ID, snap.BestSoFar.Metrics)
	} else {
		fmt.Println("best so far: none")
	}
	fmt.Printf("consecutive failures: %d\n", snap.ConsecutiveFailure)
	fmt.Printf("stopped: %v\n", snap.Stopped)
}
