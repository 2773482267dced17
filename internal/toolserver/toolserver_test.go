package toolserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aurelia-run/aurelia/internal/sandbox"
)

type fakeSandbox struct {
	lastSpec sandbox.Spec
	result   sandbox.Result
	err      error
}

func (f *fakeSandbox) Run(_ context.Context, spec sandbox.Spec) (sandbox.Result, error) {
	f.lastSpec = spec
	return f.result, f.err
}

func newServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Server{WorktreePath: dir, CandidateID: 1, Sandbox: &fakeSandbox{}}
}

func TestReadFileHappyPath(t *testing.T) {
	s := newServer(t)
	res, err := s.Dispatch(context.Background(), Call{Name: "read_file", Args: map[string]any{"path": "main.go"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "package main\n" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestReadFileRejectsAbsolutePath(t *testing.T) {
	s := newServer(t)
	res, err := s.Dispatch(context.Background(), Call{Name: "read_file", Args: map[string]any{"path": "/etc/passwd"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for an absolute path")
	}
}

func TestReadFileRejectsPathEscape(t *testing.T) {
	s := newServer(t)
	res, err := s.Dispatch(context.Background(), Call{Name: "read_file", Args: map[string]any{"path": "../../../../etc/passwd"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for a path escaping the worktree")
	}
}

func TestWriteFileThenReadBack(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	if _, err := s.Dispatch(ctx, Call{Name: "write_file", Args: map[string]any{"path": "out.txt", "content": "hello"}}); err != nil {
		t.Fatal(err)
	}
	res, err := s.Dispatch(ctx, Call{Name: "read_file", Args: map[string]any{"path": "out.txt"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" {
		t.Errorf("content = %q, want %q", res.Content, "hello")
	}
}

func TestRunCommandUsesSandbox(t *testing.T) {
	fs := &fakeSandbox{result: sandbox.Result{ExitCode: 0, Stdout: "ok"}}
	s := newServer(t)
	s.Sandbox = fs
	s.SandboxImage = "aurelia/sandbox:latest"
	s.Timeout = 90 * time.Second

	res, err := s.Dispatch(context.Background(), Call{Name: "run_command", Args: map[string]any{
		"command": []any{"go", "build", "./..."},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "ok" {
		t.Errorf("content = %q", res.Content)
	}
	if fs.lastSpec.Image != "aurelia/sandbox:latest" {
		t.Errorf("image = %q", fs.lastSpec.Image)
	}
	if fs.lastSpec.Timeout != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", fs.lastSpec.Timeout)
	}
}

func TestUnknownToolIsError(t *testing.T) {
	s := newServer(t)
	res, err := s.Dispatch(context.Background(), Call{Name: "delete_universe"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for an unknown tool")
	}
}
