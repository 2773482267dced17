package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurelia-run/aurelia/internal/eventlog"
)

var monitorConfigPath string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Follow the event log and print each event as it is appended",
	RunE:  runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorConfigPath, "config", "", "path to workflow.yaml (default .aurelia/config/workflow.yaml under the repo root)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	repoDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if root := findGitRoot(repoDir); root != "" {
		repoDir = root
	}
	logPath := filepath.Join(stateDir(repoDir), "events.jsonl")

	log, err := eventlog.Open(logPath)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	existing, err := log.ScanFrom(0)
	if err != nil {
		_ = log.Close()
		return fmt.Errorf("scanning event log: %w", err)
	}
	var afterSeq int64 = -1
	for _, e := range existing {
		printEvent(e)
		afterSeq = e.Seq
	}
	_ = log.Close()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	return eventlog.Follow(logPath, afterSeq, func(events []eventlog.Event) {
		for _, e := range events {
			printEvent(e)
		}
	}, stop)
}

func printEvent(e eventlog.Event) {
	if e.CandidateID != nil {
		fmt.Printf("[%d] %s candidate=%d %v\n", e.Seq, e.Kind, *e.CandidateID, e.Payload)
	} else {
		fmt.Printf("[%d] %s %v\n", e.Seq, e.Kind, e.Payload)
	}
}
