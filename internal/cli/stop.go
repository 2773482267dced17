package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Send a graceful shutdown signal to the running aurelia start daemon",
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	repoDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if root := findGitRoot(repoDir); root != "" {
		repoDir = root
	}

	pid := readPID(repoDir)
	if pid == 0 {
		return fmt.Errorf("no running aurelia daemon found for %s", repoDir)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling process %d: %w (it may have already exited)", pid, err)
	}
	fmt.Printf("sent SIGTERM to aurelia daemon (pid %d); it will drain in-flight candidates before exiting\n", pid)
	return nil
}
