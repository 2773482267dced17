package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aurelia-run/aurelia/internal/config"
)

// resolveRepo finds the git repository root from a config file path,
// mirroring re-cinq-detergent/internal/cli/helpers.go's resolveRepo.
func resolveRepo(configArg string) (string, error) {
	configPath, err := filepath.Abs(configArg)
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(filepath.Dir(configPath))
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root from %s", configPath)
	}
	return repoDir, nil
}

func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}
	return cfg, nil
}

// stateDir returns .aurelia/ under repoDir (spec §6 filesystem layout).
func stateDir(repoDir string) string {
	return filepath.Join(repoDir, ".aurelia")
}

// pidPath returns the path to the running daemon's PID file. Grounded on
// re-cinq-detergent/internal/engine/runner.go's PIDPath/WritePID/ReadPID,
// used here so `aurelia stop` has a process to signal without requiring an
// operator to hunt for it (spec's non-goal of distributed execution means
// there is always exactly one daemon per repo to find).
func pidPath(repoDir string) string {
	return filepath.Join(stateDir(repoDir), "runner.pid")
}

func writePID(repoDir string) error {
	return os.WriteFile(pidPath(repoDir), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func readPID(repoDir string) int {
	data, err := os.ReadFile(pidPath(repoDir))
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0
	}
	return pid
}

func removePID(repoDir string) {
	_ = os.Remove(pidPath(repoDir))
}
