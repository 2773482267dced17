package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initTestRepo creates a real local git repo with one commit on "main",
// mirroring maruel-caic/internal/task/runner_test.go's initTestRepo helper.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func TestAddWorktreeCreatesBranchAndDir(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	repo, err := Open(ctx, dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	wt := filepath.Join(t.TempDir(), "c1")
	if err := repo.AddWorktree(ctx, wt, "aurelia/c1", "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(wt, "README.md")); err != nil {
		t.Errorf("expected checked-out file in worktree: %v", err)
	}
	if !repo.BranchExists(ctx, "aurelia/c1") {
		t.Error("expected branch aurelia/c1 to exist")
	}
}

func TestAddWorktreeDedupesCollidingBranch(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	repo, err := Open(ctx, dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.CreateBranchAt(ctx, "aurelia/c1", "main"); err != nil {
		t.Fatal(err)
	}

	wt := filepath.Join(t.TempDir(), "c1")
	if err := repo.AddWorktree(ctx, wt, "aurelia/c1", "main"); err != nil {
		t.Fatal(err)
	}
	if !repo.BranchExists(ctx, "aurelia/c1-2") {
		t.Error("expected collision to be resolved to aurelia/c1-2")
	}
}

func TestRemoveWorktree(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	repo, err := Open(ctx, dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	wt := filepath.Join(t.TempDir(), "c1")
	if err := repo.AddWorktree(ctx, wt, "aurelia/c1", "main"); err != nil {
		t.Fatal(err)
	}
	if err := repo.RemoveWorktree(ctx, wt, true); err != nil {
		t.Fatal(err)
	}
	paths, err := repo.ListWorktrees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if p == wt {
			t.Errorf("expected %s to be removed from worktree list", wt)
		}
	}
}

func TestIsClean(t *testing.T) {
	ctx := context.Background()
	dir := initTestRepo(t)
	clean, err := IsClean(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Error("expected freshly committed repo to be clean")
	}

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = IsClean(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Error("expected repo with untracked file to be dirty")
	}
}
