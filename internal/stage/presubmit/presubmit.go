// Package presubmit implements the Presubmit Stage: running a fast
// correctness gate in the sandbox before a candidate reaches evaluation
// (spec §4.9 "Presubmit Stage").
//
// Grounded on maruel-caic/internal/task/runner.go's makeDiffStatFn/diffStat
// (compute what changed) composed with the sandbox command-execution shape
// container/container.go's Ops.Diff wraps, generalized to run an arbitrary
// configured command instead of a fixed `md diff`.
package presubmit

import (
	"context"
	"fmt"
	"time"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/gitutil"
	"github.com/aurelia-run/aurelia/internal/sandbox"
)

// Result is the outcome of one presubmit run.
type Result struct {
	Passed       bool
	Output       string
	ChangedFiles []string
}

// Presubmit runs the configured presubmit command against a candidate's
// worktree.
type Presubmit struct {
	Sandbox sandbox.Sandbox
	Image   string
	Command []string
	Env     map[string]string
	Timeout time.Duration
}

// Run executes the presubmit command and reports pass/fail (spec §4.9
// invariant: a nonzero exit is a candidate-scoped failure, never an engine
// fault).
func (p *Presubmit) Run(ctx context.Context, repo *gitutil.Repo, worktreePath, baseBranch string) (Result, error) {
	if len(p.Command) == 0 {
		return Result{}, errs.New(errs.PresubmitFail, "no presubmit_command configured")
	}

	changed, err := repo.DiffNameOnly(ctx, worktreePath, baseBranch)
	if err != nil {
		return Result{}, errs.Wrap(errs.GitError, "computing presubmit diff", err)
	}
	if len(changed) == 0 {
		return Result{Passed: false, Output: "no changes to presubmit"}, nil
	}

	res, err := p.Sandbox.Run(ctx, sandbox.Spec{
		Image:        p.Image,
		WorktreePath: worktreePath,
		Command:      p.Command,
		Env:          p.Env,
		Timeout:      p.Timeout,
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.PresubmitFail, "presubmit command failed to run", err)
	}

	out := res.Stdout
	if res.Stderr != "" {
		out += "\n--- stderr ---\n" + res.Stderr
	}
	if res.TimedOut {
		return Result{}, errs.New(errs.PresubmitFail, fmt.Sprintf("presubmit command %v timed out", p.Command))
	}

	return Result{Passed: res.ExitCode == 0, Output: out, ChangedFiles: changed}, nil
}
