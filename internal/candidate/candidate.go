// Package candidate implements the Candidate Engine: the eight-state
// machine (new -> preparing -> coding -> presubmitting -> evaluating ->
// succeeded|failed, aborted reachable from any non-terminal state) that
// drives one improvement attempt through the Coder, Presubmit, and
// Evaluator stages (spec §4.10 "Candidate Engine").
//
// Grounded on maruel-caic/internal/task/runner.go's Runner.Start/Kill: one
// Go value owns one attempt end-to-end, emitting structured log events at
// each transition and resolving every failure to exactly one terminal
// event rather than letting stage errors propagate raw.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/gitutil"
	"github.com/aurelia-run/aurelia/internal/llmclient"
	"github.com/aurelia-run/aurelia/internal/sandbox"
	"github.com/aurelia-run/aurelia/internal/stage/coder"
	"github.com/aurelia-run/aurelia/internal/stage/evaluator"
	"github.com/aurelia-run/aurelia/internal/stage/presubmit"
	"github.com/aurelia-run/aurelia/internal/toolserver"
)

// Engine runs the three stages for one candidate against a shared repo and
// worktree root. It holds no per-candidate state between calls: everything
// a candidate needs is either passed into Run or read back from the event
// log by the caller (spec Non-goal: candidates are never resumed after a
// crash, so Run never needs to reconstruct where a prior attempt left off).
//
// Fields below are read-only configuration shared across every concurrent
// candidate goroutine the scheduler runs (spec §5 invariant 2: candidates
// may run with max_concurrent_tasks > 1). Run never mutates them; it builds
// a fresh Coder and Tool Server scoped to its own worktree and candidate ID
// on every call, so two candidates in flight at once never share a mutable
// WorktreePath (spec §4.4 invariant: "worktrees are single-writer by
// construction").
type Engine struct {
	Log          *eventlog.Log
	Repo         *gitutil.Repo
	WorktreeRoot string

	LLM           llmclient.Client
	CoderMaxTurns int
	ToolSandbox   sandbox.Sandbox
	SandboxImage  string
	ToolEnv       map[string]string
	ToolTimeout   time.Duration

	Presubmit *presubmit.Presubmit
	Evaluator *evaluator.Evaluator

	SystemPrompt string
}

// BranchName returns the conventional branch name for a candidate (spec §4.4).
func BranchName(id int64) string { return fmt.Sprintf("aurelia/c%d", id) }

// Run drives candidate id from new through a terminal state, emitting every
// event the state machine requires. It returns a non-nil error only for
// engine-scoped faults (spec §7): a candidate-scoped failure is captured as
// a candidate_failed event and Run returns nil, since the scheduler decides
// what a run of such failures means, not the engine.
func (e *Engine) Run(ctx context.Context, id int64, parentID *int64, parentBranch, taskPrompt string) error {
	branch := BranchName(id)
	worktreePath := gitutil.WorktreePath(e.WorktreeRoot, id)

	payload := map[string]any{"branch_name": branch, "worktree_path": worktreePath}
	if parentID != nil {
		payload["parent_id"] = *parentID
	}
	if _, err := e.Log.Append(eventlog.CandidateCreated, &id, payload); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_created", err)
	}

	if err := e.runStage(ctx, id, "preparing", func() error {
		return wrapGitErr(e.Repo.AddWorktree(ctx, worktreePath, branch, parentBranch))
	}); err != nil {
		return e.resolve(ctx, id, err)
	}

	var coderResult coder.Result
	if err := e.runStage(ctx, id, "coding", func() error {
		tools := &toolserver.Server{
			WorktreePath: worktreePath,
			CandidateID:  id,
			Sandbox:      e.ToolSandbox,
			SandboxImage: e.SandboxImage,
			Env:          e.ToolEnv,
			Timeout:      e.ToolTimeout,
			Log:          e.Log,
		}
		coderStage := &coder.Coder{LLM: e.LLM, Tools: tools, MaxTurns: e.CoderMaxTurns}
		r, err := coderStage.Run(ctx, e.SystemPrompt, taskPrompt)
		coderResult = r
		return err
	}); err != nil {
		return e.resolve(ctx, id, err)
	}
	_ = coderResult

	if err := e.runStage(ctx, id, "presubmitting", func() error {
		r, err := e.Presubmit.Run(ctx, e.Repo, worktreePath, parentBranch)
		if err != nil {
			return err
		}
		if !r.Passed {
			return errs.New(errs.PresubmitFail, "presubmit did not pass: "+r.Output)
		}
		return nil
	}); err != nil {
		return e.resolve(ctx, id, err)
	}

	if ctx.Err() != nil {
		return e.resolve(ctx, id, ctx.Err())
	}
	if _, err := e.Log.Append(eventlog.CandidateStageStarted, &id, map[string]any{"stage": "evaluating"}); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_stage_started", err)
	}

	evalResult, err := e.Evaluator.Run(ctx, worktreePath)
	if err != nil {
		return e.resolve(ctx, id, err)
	}
	if _, err := e.Log.Append(eventlog.CandidateStageFinished, &id, map[string]any{"stage": "evaluating"}); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_stage_finished", err)
	}

	metrics := make(map[string]any, len(evalResult.Metrics))
	for k, v := range evalResult.Metrics {
		metrics[k] = v
	}
	if _, err := e.Log.Append(eventlog.CandidateEvaluated, &id, map[string]any{"metrics": metrics}); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_evaluated", err)
	}
	return nil
}

// runStage brackets fn with candidate_stage_started/candidate_stage_finished
// events (spec §4.10). It checks ctx before and after fn so a shutdown
// requested mid-stage is caught promptly rather than after the next stage
// starts.
func (e *Engine) runStage(ctx context.Context, id int64, stage string, fn func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := e.Log.Append(eventlog.CandidateStageStarted, &id, map[string]any{"stage": stage}); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_stage_started", err)
	}
	if err := fn(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := e.Log.Append(eventlog.CandidateStageFinished, &id, map[string]any{"stage": stage}); err != nil {
		return errs.Wrap(errs.LogWriteFailed, "recording candidate_stage_finished", err)
	}
	return nil
}

// resolve turns a stage error into exactly one terminal event (spec §4.10
// invariant), or propagates it as an engine fault if it's neither a
// cancellation nor a recognized candidate-scoped kind.
func (e *Engine) resolve(ctx context.Context, id int64, err error) error {
	if ctx.Err() != nil {
		if _, logErr := e.Log.Append(eventlog.CandidateAborted, &id, nil); logErr != nil {
			return errs.Wrap(errs.LogWriteFailed, "recording candidate_aborted", logErr)
		}
		return nil
	}

	var de *errs.Error
	if errors.As(err, &de) && errs.IsCandidateScoped(de.Kind) {
		if _, logErr := e.Log.Append(eventlog.CandidateFailed, &id, map[string]any{
			"kind": string(de.Kind), "message": de.Message,
		}); logErr != nil {
			return errs.Wrap(errs.LogWriteFailed, "recording candidate_failed", logErr)
		}
		return nil
	}
	return err
}

func wrapGitErr(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.GitError, "preparing worktree", err)
}
