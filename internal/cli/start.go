package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aurelia-run/aurelia/internal/candidate"
	"github.com/aurelia-run/aurelia/internal/config"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/gitutil"
	"github.com/aurelia-run/aurelia/internal/idgen"
	"github.com/aurelia-run/aurelia/internal/llmclient"
	"github.com/aurelia-run/aurelia/internal/sandbox"
	"github.com/aurelia-run/aurelia/internal/scheduler"
	"github.com/aurelia-run/aurelia/internal/signalhandler"
	"github.com/aurelia-run/aurelia/internal/stage/evaluator"
	"github.com/aurelia-run/aurelia/internal/stage/presubmit"
	"github.com/aurelia-run/aurelia/internal/statestore"
)

var (
	startConfigPath string
	startMock       bool
	startProvider   string
	startModel      string
	startTaskPrompt string
	startBaseBranch string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the heartbeat loop until the termination condition is met or it is interrupted",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVar(&startConfigPath, "config", "", "path to workflow.yaml (default .aurelia/config/workflow.yaml under the repo root)")
	startCmd.Flags().BoolVar(&startMock, "mock", false, "use a scripted mock LLM client instead of a real provider, for local dry runs")
	startCmd.Flags().StringVar(&startProvider, "provider", "", "genai provider name for the Coder Stage (required unless --mock)")
	startCmd.Flags().StringVar(&startModel, "model", "", "model name for the Coder Stage (required unless --mock)")
	startCmd.Flags().StringVar(&startTaskPrompt, "task", "improve the target metric", "task prompt handed to every candidate's Coder Stage")
	startCmd.Flags().StringVar(&startBaseBranch, "base-branch", "", "branch new candidates with no parent fork from (default the repo's current branch)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signalhandler.Context(context.Background())
	defer stop()

	repoDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if root := findGitRoot(repoDir); root != "" {
		repoDir = root
	}

	configPath := startConfigPath
	if configPath == "" {
		configPath = filepath.Join(stateDir(repoDir), "config", "workflow.yaml")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(stateDir(repoDir), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", stateDir(repoDir), err)
	}
	worktreeRoot := filepath.Join(stateDir(repoDir), "worktrees")
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", worktreeRoot, err)
	}

	log, err := eventlog.Open(filepath.Join(stateDir(repoDir), "events.jsonl"))
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer log.Close()

	if err := writePID(repoDir); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer removePID(repoDir)

	repo, err := gitutil.Open(ctx, repoDir, cfg.GitTimeout.Duration())
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	baseBranch := startBaseBranch
	if baseBranch == "" {
		baseBranch, err = repo.HeadSHA(ctx, "HEAD")
		if err != nil {
			return fmt.Errorf("resolving HEAD: %w", err)
		}
	}

	store := statestore.New(cfg.Termination.Metric, cfg.Termination.Comparator())
	ids := idgen.New(1)
	events, err := log.ScanFrom(0)
	if err != nil {
		return fmt.Errorf("scanning event log: %w", err)
	}
	seedIDGenFromEvents(events, ids)

	initialSnap := statestore.Rebuild(cfg.Termination.Metric, cfg.Termination.Comparator(), events)
	if err := cleanupOrphanedWorktrees(ctx, repo, worktreeRoot, initialSnap); err != nil {
		slog.Warn("aurelia: orphaned worktree cleanup failed", "err", err)
	}

	llm, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}

	sb := sandbox.Docker{}
	systemPrompt := "You are an autonomous software engineer improving a codebase one focused change at a time."

	runner := &candidate.Engine{
		Log:           log,
		Repo:          repo,
		WorktreeRoot:  worktreeRoot,
		SystemPrompt:  systemPrompt,
		LLM:           llm,
		CoderMaxTurns: cfg.CoderMaxTurns,
		ToolSandbox:   sb,
		SandboxImage:  cfg.SandboxImage,
		ToolEnv:       sandbox.FilterEnv(os.Environ(), cfg.EnvAllowlist),
		ToolTimeout:   cfg.ContainerStartTimeout.Duration(),
		Presubmit: &presubmit.Presubmit{
			Sandbox: sb,
			Image:   cfg.SandboxImage,
			Command: cfg.PresubmitCommand,
			Env:     sandbox.FilterEnv(os.Environ(), cfg.EnvAllowlist),
			Timeout: cfg.PresubmitTimeout.Duration(),
		},
		Evaluator: &evaluator.Evaluator{
			Sandbox: sb,
			Image:   cfg.SandboxImage,
			Command: cfg.EvaluatorCommand,
			Env:     sandbox.FilterEnv(os.Environ(), cfg.EnvAllowlist),
			Timeout: cfg.EvaluatorTimeout.Duration(),
		},
	}

	promptFor := func(parentID *int64) string { return startTaskPrompt }

	sched := scheduler.New(cfg, runner, log, store, ids, baseBranch, promptFor)

	slog.Info("aurelia: starting heartbeat loop", "repo", repoDir, "base_branch", baseBranch)
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	slog.Info("aurelia: stopped")
	return nil
}

// seedIDGenFromEvents advances ids past every candidate ID already recorded
// in the log, so a restart never reuses an ID from a prior run (spec §4.3).
func seedIDGenFromEvents(events []eventlog.Event, ids *idgen.Generator) {
	var max int64 = -1
	for _, e := range events {
		if e.CandidateID != nil && *e.CandidateID > max {
			max = *e.CandidateID
		}
	}
	if max >= 0 {
		ids.Advance(max + 1)
	}
}

// cleanupOrphanedWorktrees removes worktree directories left behind by a
// candidate that was in flight when a previous run was killed: the event
// log has no way to know whether such a candidate's worktree is still
// needed, so on startup anything not tracked as an active, non-terminal
// candidate in the replayed snapshot is reclaimed. Grounded on
// re-cinq-detergent/internal/engine/state.go's ResetActiveStatuses, adapted
// from "stale station status" to "stale .aurelia/worktrees/* directory."
func cleanupOrphanedWorktrees(ctx context.Context, repo *gitutil.Repo, worktreeRoot string, snap statestore.Snapshot) error {
	entries, err := os.ReadDir(worktreeRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(entry.Name(), "%d", &id); err != nil {
			continue
		}
		c, tracked := snap.Candidates[id]
		if tracked && !c.State.Terminal() {
			continue
		}
		path := filepath.Join(worktreeRoot, entry.Name())
		slog.Info("aurelia: reclaiming orphaned worktree", "path", path, "candidate_id", id)
		if err := repo.RemoveWorktree(ctx, path, true); err != nil {
			slog.Warn("aurelia: failed to remove orphaned worktree", "path", path, "err", err)
		}
	}
	return nil
}

// newLLMClient builds the Coder Stage's LLM collaborator: a scripted mock
// for dry runs, or a real genai-backed client (spec §4.7's Open Question on
// how the Coder Stage is driven end to end; resolved in DESIGN.md).
func newLLMClient(ctx context.Context, _ *config.Config) (llmclient.Client, error) {
	if startMock {
		return llmclient.NewMockClient(llmclient.Response{Content: "no changes needed"}), nil
	}
	if startProvider == "" || startModel == "" {
		return nil, fmt.Errorf("--provider and --model are required unless --mock is set")
	}
	systemPrompt := "You are an autonomous software engineer improving a codebase one focused change at a time."
	return llmclient.NewGenaiClient(ctx, startProvider, startModel, systemPrompt)
}
