// Package errs defines Aurelia's domain error taxonomy.
//
// Every error kind named in the spec is a value of Kind, never a bare string
// or a distinct Go type, so callers can switch on it without string
// matching against a human-readable message.
package errs

import "fmt"

// Kind is a machine-readable error classification.
type Kind string

// Error kinds. See spec §7 for the engine-scoped vs candidate-scoped split.
const (
	ConfigInvalid      Kind = "config_invalid"
	LogWriteFailed     Kind = "log_write_failed"
	GitError           Kind = "git_error"
	SandboxUnavailable Kind = "sandbox_unavailable"
	CoderTurnBudget    Kind = "coder_turn_budget"
	CoderToolError     Kind = "coder_tool_error"
	PresubmitFail      Kind = "presubmit_fail"
	EvalError          Kind = "eval_error"
	BadMetrics         Kind = "bad_metrics"
	ToolPathEscape     Kind = "tool_path_escape"
)

// candidateScoped is the set of kinds that must resolve to a candidate_failed
// event rather than propagate as a Go error out of the Candidate Engine.
var candidateScoped = map[Kind]bool{
	GitError:        true,
	CoderTurnBudget: true,
	CoderToolError:  true,
	PresubmitFail:   true,
	EvalError:       true,
	BadMetrics:      true,
}

// IsCandidateScoped reports whether k must be captured by the Candidate
// Engine and surfaced as a candidate_failed event instead of bubbling up to
// the scheduler as a Go error.
func IsCandidateScoped(k Kind) bool {
	return candidateScoped[k]
}

// Error is a domain error carrying a Kind plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}
