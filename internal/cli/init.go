package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultWorkflowYAML = `# Aurelia workflow configuration. See the heartbeat_interval and
# termination_condition keys below; everything else has a workable default.
heartbeat_interval: 2s
max_concurrent_tasks: 1
candidate_abandon_threshold: 5
dispatcher: default

termination_condition: accuracy>=0.9

sandbox_image: aurelia-sandbox:latest
env_allowlist:
  - PATH
  - HOME

presubmit_command: ["pixi", "run", "test"]
evaluator_command: ["pixi", "run", "evaluate"]

coder_max_turns: 40
presubmit_timeout: 5m
evaluator_timeout: 15m
container_start_timeout: 1h
git_timeout: 1m
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .aurelia/config/workflow.yaml in the current repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := os.Getwd()
		if err != nil {
			return err
		}
		if root := findGitRoot(repoDir); root != "" {
			repoDir = root
		}

		configDir := filepath.Join(stateDir(repoDir), "config")
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", configDir, err)
		}

		path := filepath.Join(configDir, "workflow.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.WriteFile(path, []byte(defaultWorkflowYAML), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("wrote %s\n", path)
		fmt.Println("edit sandbox_image, presubmit_command, and evaluator_command before running `aurelia start`")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
