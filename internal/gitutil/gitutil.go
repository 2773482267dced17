// Package gitutil manages per-candidate git worktrees (spec §4.4 "Git
// Worktree Manager").
//
// Grounded primarily on vsavkov-kilroy/internal/attractor/gitutil/git.go:
// the -c maintenance.auto=0 -c gc.auto=0 flag discipline for determinism,
// CommandError wrapping of stderr, and the AddWorktree/RemoveWorktree
// primitives. Branch-collision handling during worktree setup is grounded on
// maruel-caic/internal/task/runner.go's setup(), which retries with a
// suffixed branch name rather than failing outright.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandError wraps a failed git invocation with its captured stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repo wraps a checked-out repository at Dir, the shared working copy from
// which per-candidate worktrees are created.
type Repo struct {
	Dir string
	// GitTimeout bounds every git subprocess this Repo invokes (spec §4.4,
	// config's git_timeout). Zero means no deadline beyond ctx's own.
	GitTimeout time.Duration
}

// Open returns a Repo rooted at dir, verifying it is a git repository.
// gitTimeout bounds every subsequent git invocation made through the
// returned Repo; zero disables the per-command deadline.
func Open(ctx context.Context, dir string, gitTimeout time.Duration) (*Repo, error) {
	r := &Repo{Dir: dir, GitTimeout: gitTimeout}
	if _, err := r.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("gitutil: %s is not a git repository: %w", dir, err)
	}
	return r, nil
}

// withTimeout bounds ctx by r.GitTimeout, if set.
func (r *Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.GitTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.GitTimeout)
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	full := append([]string{"-c", "maintenance.auto=0", "-c", "gc.auto=0"}, args...)
	cmd := exec.CommandContext(runCtx, "git", full...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HeadSHA returns the commit SHA that branch currently points at.
func (r *Repo) HeadSHA(ctx context.Context, branch string) (string, error) {
	return r.run(ctx, "rev-parse", branch)
}

// BranchExists reports whether branch is a known local branch.
func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	_, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CreateBranchAt creates branch at startPoint, failing if it already exists.
func (r *Repo) CreateBranchAt(ctx context.Context, branch, startPoint string) error {
	_, err := r.run(ctx, "branch", branch, startPoint)
	return err
}

// WorktreePath returns the conventional worktree directory for a candidate
// branch, rooted under root (spec §6 filesystem layout:
// .aurelia/worktrees/<candidate_id>/).
func WorktreePath(root string, candidateID int64) string {
	return filepath.Join(root, fmt.Sprintf("%d", candidateID))
}

// AddWorktree creates a new worktree at path checked out to a newly created
// branch starting from parentBranch. Invariant (spec §4.4): parentBranch
// must name a succeeded candidate's branch, or the repo's base branch for
// the first candidate — callers enforce that, gitutil only wires the git
// plumbing.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, parentBranch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("gitutil: mkdir %s: %w", filepath.Dir(path), err)
	}
	branch = dedupeBranch(r, ctx, branch)
	_, err := r.run(ctx, "worktree", "add", "-b", branch, path, parentBranch)
	if err != nil {
		return fmt.Errorf("gitutil: add worktree %s from %s: %w", branch, parentBranch, err)
	}
	return nil
}

// dedupeBranch appends a numeric suffix if branch already exists, mirroring
// the teacher's setup() retry-on-collision loop rather than failing the
// whole candidate outright.
func dedupeBranch(r *Repo, ctx context.Context, branch string) string {
	if !r.BranchExists(ctx, branch) {
		return branch
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", branch, i)
		if !r.BranchExists(ctx, candidate) {
			return candidate
		}
	}
}

// RemoveWorktree removes the worktree at path (and, if force, discards any
// uncommitted changes within it). Candidates are never resumed after a
// crash (spec Non-goals), so a stale worktree found at startup is always
// safe to remove.
func (r *Repo) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(ctx, args...)
	return err
}

// PruneWorktrees removes administrative metadata for worktrees whose
// directories are gone, used during orphan cleanup at startup (spec §9).
func (r *Repo) PruneWorktrees(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}

// ListWorktrees returns the path of every registered worktree, including
// the main one, by parsing `git worktree list --porcelain`.
func (r *Repo) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// DiffNameOnly lists the files changed in path relative to base, including
// untracked files that are not ignored.
func (r *Repo) DiffNameOnly(ctx context.Context, path, base string) ([]string, error) {
	runCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var files []string
	for _, args := range [][]string{{"diff", "--name-only", base}, {"ls-files", "--others", "--exclude-standard"}} {
		cmd := exec.CommandContext(runCtx, "git", append([]string{"-C", path}, args...)...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, &CommandError{Args: cmd.Args, Stderr: stderr.String(), Err: err}
		}
		if out := strings.TrimSpace(stdout.String()); out != "" {
			files = append(files, strings.Split(out, "\n")...)
		}
	}
	return files, nil
}

// IsClean reports whether the worktree at path has no pending changes.
func IsClean(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", path, "status", "--porcelain")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, &CommandError{Args: cmd.Args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()) == "", nil
}
