// Package cli is the thin cobra front end for the aurelia binary: it only
// parses flags and calls into the engine packages, per the spec's scoping
// of the CLI as an external collaborator the heartbeat orchestration engine
// does not itself implement (spec §1).
//
// Grounded on re-cinq-detergent/internal/cli: one file per subcommand, a
// package-level rootCmd with subcommands registered from each file's
// init(), and RunE funcs that load+validate config before doing anything
// else.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "aurelia",
	Short: "Autonomous code-improvement runtime",
	Long: `Aurelia runs a heartbeat loop that spawns candidate improvement attempts
against a code repository, evaluates them in isolated sandboxes, and keeps
whichever candidate scores best on the configured termination condition.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aurelia %s\n", Version)
	},
}

// setupLogging configures the default slog logger: tint's colored handler
// on a TTY, structured JSON otherwise, matching how operators actually read
// this kind of daemon's output versus how log aggregators ingest it.
func setupLogging() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{Level: slog.LevelInfo})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
