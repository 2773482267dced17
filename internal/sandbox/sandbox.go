// Package sandbox runs commands against a candidate's worktree inside a
// container (spec §4.5 "Sandboxed Execution").
//
// Generalized from maruel-caic/internal/container/container.go's MD wrapper
// (a fixed `md` CLI tied to one proprietary sandbox product) into a
// configurable `docker run` invocation: the bind-mount shape is kept (no
// container labels are set), but the command, image, environment allowlist, and timeout are all
// spec-driven rather than hardcoded.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/maruel/ksid"
)

// Spec describes one sandboxed invocation (spec §4.5).
type Spec struct {
	Image        string
	WorktreePath string
	Command      []string
	Env          map[string]string // pre-filtered by the allowlist; sandbox does not filter
	Timeout      time.Duration
}

// Result is the outcome of a sandboxed run (spec §4.5, §4.9 Presubmit,
// §4.10 Evaluator both consume this directly).
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Sandbox executes commands in isolated containers.
type Sandbox interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Docker implements Sandbox using the local `docker` CLI.
type Docker struct {
	// BindTarget is the in-container mount point for the worktree.
	// Defaults to "/workspace" if empty.
	BindTarget string
}

// Run starts a container from spec.Image with the worktree bind-mounted,
// runs spec.Command inside it, and enforces spec.Timeout as a wall-clock
// limit (spec §4.5 invariant: "a sandboxed command that exceeds its timeout
// is killed, not left running").
func (d Docker) Run(ctx context.Context, spec Spec) (Result, error) {
	target := d.BindTarget
	if target == "" {
		target = "/workspace"
	}

	name := "aurelia-" + fmt.Sprint(ksid.NewID())

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", fmt.Sprintf("%s:%s", spec.WorktreePath, target),
		"-w", target,
	}
	for k, v := range spec.Env {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	cmd := exec.CommandContext(runCtx, "docker", args...) //nolint:gosec // args are built from config-validated fields, not free-form user input.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() != nil {
		res.TimedOut = true
		_ = Kill(ctx, name)
		return res, fmt.Errorf("sandbox: command timed out after %s", spec.Timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("sandbox: docker run: %w", err)
	}
	return res, nil
}

// Kill force-stops a container by name, first asking nicely (SIGTERM via
// `docker stop`) and falling back to `docker kill` (SIGKILL) if that fails,
// mirroring the teacher's graceful-then-forceful shutdown shape in
// task/runner.go's Kill method.
func Kill(ctx context.Context, name string) error {
	stop := exec.CommandContext(ctx, "docker", "stop", "--time", "5", name)
	if err := stop.Run(); err == nil {
		return nil
	}
	kill := exec.CommandContext(ctx, "docker", "kill", name)
	var stderr bytes.Buffer
	kill.Stderr = &stderr
	if err := kill.Run(); err != nil && !strings.Contains(stderr.String(), "is not running") {
		return fmt.Errorf("sandbox: kill %s: %w: %s", name, err, stderr.String())
	}
	return nil
}

// FilterEnv returns the subset of the current process environment whose
// keys appear in allowlist, used to build Spec.Env (spec §4.5: "only
// explicitly allow-listed environment variables are forwarded into the
// sandbox").
func FilterEnv(environ []string, allowlist []string) map[string]string {
	allowed := make(map[string]bool, len(allowlist))
	for _, k := range allowlist {
		allowed[k] = true
	}
	out := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !allowed[k] {
			continue
		}
		out[k] = v
	}
	return out
}
