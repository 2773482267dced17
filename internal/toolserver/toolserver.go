// Package toolserver exposes read_file/write_file/run_command tools to the
// Coder Stage's LLM-driven loop, scoped to one candidate's worktree (spec
// §4.6 "Tool Server").
//
// The path-escape discipline here follows the defensive style of
// maruel-caic/internal/task/safety.go (reject first, scan second, log
// every rejection at Warn) though the concrete check differs: safety.go
// scans diffs for secrets after the fact, while toolserver rejects an
// escaping path before any filesystem operation happens.
package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/sandbox"
)

// maxReadBytes bounds a single read_file call so a coder can't exhaust
// memory by requesting a huge generated file.
const maxReadBytes = 2 * 1024 * 1024

// Call is one tool invocation requested by the LLM client (spec §4.6, §4.7).
type Call struct {
	Name string
	Args map[string]any
}

// Result is returned to the LLM client as the tool's output.
type Result struct {
	Content string
	IsError bool
}

// Server dispatches tool calls against one candidate's worktree.
type Server struct {
	WorktreePath string
	CandidateID  int64
	Sandbox      sandbox.Sandbox
	SandboxImage string
	Env          map[string]string
	// Timeout bounds each run_command invocation's wall-clock time inside
	// the sandbox (spec §4.5), sourced from the config's
	// container_start_timeout since run_command is the Tool Server's only
	// ad-hoc, open-ended sandbox invocation.
	Timeout time.Duration

	Log *eventlog.Log
}

// Dispatch runs call and records a tool_invoked event regardless of outcome
// (spec §4.6: every tool call, successful or not, is audited).
func (s *Server) Dispatch(ctx context.Context, call Call) (Result, error) {
	var res Result
	var err error

	switch call.Name {
	case "read_file":
		res, err = s.readFile(call.Args)
	case "write_file":
		res, err = s.writeFile(call.Args)
	case "run_command":
		res, err = s.runCommand(ctx, call.Args)
	default:
		res, err = Result{IsError: true, Content: fmt.Sprintf("unknown tool %q", call.Name)}, nil
	}

	if s.Log != nil {
		cid := s.CandidateID
		_, logErr := s.Log.Append(eventlog.ToolInvoked, &cid, map[string]any{
			"tool":     call.Name,
			"is_error": res.IsError,
		})
		if logErr != nil {
			slog.Error("toolserver: failed to record tool_invoked event", "err", logErr)
		}
	}
	return res, err
}

// resolvePath resolves a coder-supplied relative path against the
// worktree root and rejects anything that would escape it, including via
// symlinks or ".." segments (spec §4.6 invariant: "no tool call can read or
// write outside the candidate's worktree").
func (s *Server) resolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		slog.Warn("toolserver: rejected absolute path", "path", rel, "worktree", s.WorktreePath)
		return "", errs.New(errs.ToolPathEscape, fmt.Sprintf("path %q must be relative to the worktree", rel))
	}
	joined := filepath.Join(s.WorktreePath, rel)
	root, err := filepath.EvalSymlinks(s.WorktreePath)
	if err != nil {
		return "", errs.Wrap(errs.ToolPathEscape, "resolving worktree root", err)
	}
	resolved := joined
	if _, statErr := os.Lstat(joined); statErr == nil {
		if real, symErr := filepath.EvalSymlinks(joined); symErr == nil {
			resolved = real
		}
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		slog.Warn("toolserver: rejected path escape attempt", "path", rel, "worktree", s.WorktreePath)
		return "", errs.New(errs.ToolPathEscape, fmt.Sprintf("path %q escapes the worktree", rel))
	}
	return joined, nil
}

func (s *Server) readFile(args map[string]any) (Result, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		return Result{IsError: true, Content: "read_file requires a non-empty path"}, nil
	}
	path, err := s.resolvePath(rel)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	if info.Size() > maxReadBytes {
		return Result{IsError: true, Content: fmt.Sprintf("file %q is %d bytes, exceeding the %d byte read limit", rel, info.Size(), maxReadBytes)}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path has already been confined to the worktree by resolvePath.
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	return Result{Content: string(data)}, nil
}

func (s *Server) writeFile(args map[string]any) (Result, error) {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if rel == "" {
		return Result{IsError: true, Content: "write_file requires a non-empty path"}, nil
	}
	path, err := s.resolvePath(rel)
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}, nil
}

func (s *Server) runCommand(ctx context.Context, args map[string]any) (Result, error) {
	raw, _ := args["command"].([]any)
	if len(raw) == 0 {
		return Result{IsError: true, Content: "run_command requires a non-empty command array"}, nil
	}
	cmd := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return Result{IsError: true, Content: "run_command arguments must all be strings"}, nil
		}
		cmd = append(cmd, s)
	}

	res, err := s.Sandbox.Run(ctx, sandbox.Spec{
		Image:        s.SandboxImage,
		WorktreePath: s.WorktreePath,
		Command:      cmd,
		Env:          s.Env,
		Timeout:      s.Timeout,
	})
	if err != nil {
		return Result{IsError: true, Content: err.Error()}, nil
	}
	out := res.Stdout
	if res.Stderr != "" {
		out += "\n--- stderr ---\n" + res.Stderr
	}
	return Result{Content: out, IsError: res.ExitCode != 0}, nil
}
