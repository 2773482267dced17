// Package evaluator implements the Evaluator Stage: scoring a candidate
// that passed presubmit against the configured evaluation harness (spec
// §4.9 "Evaluator Stage", §4.11 "best so far").
//
// Grounded on maruel-caic/internal/task/runner.go's Result struct, which
// carries CostUSD/DurationMs/NumTurns/Usage alongside the agent's outcome:
// evaluator.Result keeps that "the run produced both a verdict and metrics"
// shape, generalized to an arbitrary metric set instead of the teacher's
// fixed cost/duration/turns fields.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/sandbox"
)

// Result is the outcome of one evaluator run (spec §3 "metrics").
type Result struct {
	Metrics map[string]float64
	Output  string
}

// Evaluator runs the configured evaluation command and parses its stdout as
// a flat JSON object of metric name to numeric value (spec §6: "the
// evaluator command's stdout, interpreted as a JSON object of metrics, is
// the only contract between Aurelia and the evaluation harness").
type Evaluator struct {
	Sandbox sandbox.Sandbox
	Image   string
	Command []string
	Env     map[string]string
	Timeout time.Duration
}

// Run executes the evaluator command and parses its metrics (spec §4.9/§4.11
// invariant: a non-JSON or nonzero-exit evaluation is a candidate-scoped
// eval_error, not an engine fault).
func (ev *Evaluator) Run(ctx context.Context, worktreePath string) (Result, error) {
	if len(ev.Command) == 0 {
		return Result{}, errs.New(errs.EvalError, "no evaluator_command configured")
	}

	res, err := ev.Sandbox.Run(ctx, sandbox.Spec{
		Image:        ev.Image,
		WorktreePath: worktreePath,
		Command:      ev.Command,
		Env:          ev.Env,
		Timeout:      ev.Timeout,
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.EvalError, "evaluator command failed to run", err)
	}
	if res.TimedOut {
		return Result{}, errs.New(errs.EvalError, fmt.Sprintf("evaluator command %v timed out", ev.Command))
	}
	if res.ExitCode != 0 {
		return Result{}, errs.New(errs.EvalError, fmt.Sprintf("evaluator command %v exited %d: %s", ev.Command, res.ExitCode, res.Stderr))
	}

	metrics, err := parseMetrics(res.Stdout)
	if err != nil {
		return Result{}, errs.Wrap(errs.EvalError, "parsing evaluator output", err)
	}
	return Result{Metrics: metrics, Output: res.Stdout}, nil
}

// parseMetrics scans stdout bottom-up for the last line that is both a JSON
// object and has only numeric leaf values, skipping over any `{`-prefixed
// line that fails either test (e.g. a trailing structured log line) rather
// than stopping at the first one encountered.
func parseMetrics(stdout string) (map[string]float64, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		metrics := make(map[string]float64, len(raw))
		numeric := true
		for k, v := range raw {
			f, ok := v.(float64)
			if !ok {
				numeric = false
				break
			}
			metrics[k] = f
		}
		if !numeric {
			continue
		}
		return metrics, nil
	}
	return nil, fmt.Errorf("no JSON object with numeric leaf values found in evaluator stdout")
}
