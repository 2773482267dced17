// Package statestore builds the runtime's derived state by folding the
// event log (spec §3 "Runtime State", §4.2).
//
// Grounded on re-cinq-detergent/internal/engine/state.go's per-station status
// projection, generalized from "one JSON status file per station" to "one
// in-memory fold over the full ordered event stream", per spec's event-
// sourcing requirement that the State Store be a pure, total function of the
// Event Log.
package statestore

import (
	"maps"
	"time"

	"github.com/aurelia-run/aurelia/internal/errs"
	"github.com/aurelia-run/aurelia/internal/eventlog"
)

// CandidateState is one state in the per-candidate state machine (spec §4.10).
type CandidateState string

// Candidate states, per spec §4.10.
const (
	StateNew           CandidateState = "new"
	StatePreparing     CandidateState = "preparing"
	StateCoding        CandidateState = "coding"
	StatePresubmitting CandidateState = "presubmitting"
	StateEvaluating    CandidateState = "evaluating"
	StateSucceeded     CandidateState = "succeeded"
	StateFailed        CandidateState = "failed"
	StateAborted       CandidateState = "aborted"
)

// Terminal reports whether s is one of the three terminal states.
func (s CandidateState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// CandidateError is the kind+message pair recorded on a failed candidate.
type CandidateError struct {
	Kind    errs.Kind
	Message string
}

// Candidate is one improvement attempt (spec §3).
type Candidate struct {
	ID           int64
	ParentID     *int64
	BranchName   string
	WorktreePath string
	State        CandidateState
	CreatedAt    time.Time
	FinishedAt   *time.Time
	Metrics      map[string]float64 // nil when absent
	Error        *CandidateError
}

// HasMetrics distinguishes an absent metrics map from an empty-but-present one.
func (c *Candidate) HasMetrics() bool { return c.Metrics != nil }

// clone returns a deep copy of c.
func (c *Candidate) clone() *Candidate {
	cp := *c
	if c.Metrics != nil {
		cp.Metrics = maps.Clone(c.Metrics)
	}
	if c.FinishedAt != nil {
		t := *c.FinishedAt
		cp.FinishedAt = &t
	}
	if c.ParentID != nil {
		p := *c.ParentID
		cp.ParentID = &p
	}
	if c.Error != nil {
		e := *c.Error
		cp.Error = &e
	}
	return &cp
}

// Comparator compares two metric values under the termination condition's
// operator; used to decide which succeeded candidate is "best so far".
// Returns true if a is strictly better than b.
type Comparator func(a, b float64) bool

// Snapshot is a consistent, copy-on-read view of the runtime state (spec §3).
type Snapshot struct {
	Candidates         map[int64]*Candidate
	Active             map[int64]bool
	BestSoFar          *Candidate // nil if none succeeded yet
	ConsecutiveFailure int
	ShutdownRequested  bool
	Stopped            bool
}

// Store is the in-memory projection of the event log. It is the only
// mutable shared state in the process (spec §4.2); Apply must be called from
// a single logical goroutine to preserve ordering invariants without locks
// (spec §5, §9).
type Store struct {
	candidates         map[int64]*Candidate
	active             map[int64]bool
	bestSoFar          *Candidate
	consecutiveFailure int
	shutdownRequested  bool
	stopped            bool

	primaryMetric string
	better        Comparator
}

// New creates an empty Store. primaryMetric and better describe the
// termination condition's metric and comparison, used to track best-so-far
// (spec §3 invariant 5, §4.11).
func New(primaryMetric string, better Comparator) *Store {
	return &Store{
		candidates:    make(map[int64]*Candidate),
		active:        make(map[int64]bool),
		primaryMetric: primaryMetric,
		better:        better,
	}
}

// Apply folds a single event into the store. Unknown kinds are a no-op, so
// older logs remain readable (spec §4.2).
func (s *Store) Apply(e eventlog.Event) {
	switch e.Kind {
	case eventlog.RuntimeStopped:
		s.stopped = true
	case eventlog.RuntimeStopping:
		s.shutdownRequested = true
	case eventlog.CandidateCreated:
		s.applyCandidateCreated(e)
	case eventlog.CandidateStageFinished:
		s.applyStageFinished(e)
	case eventlog.CandidateEvaluated:
		s.applyEvaluated(e)
	case eventlog.CandidateFailed:
		s.applyFailed(e)
	case eventlog.CandidateAborted:
		s.applyTerminal(e, StateAborted)
	default:
		// tool_invoked, llm_call, candidate_stage_started, runtime_started:
		// audit-only, no state transition.
	}
}

func (s *Store) applyCandidateCreated(e eventlog.Event) {
	if e.CandidateID == nil {
		return
	}
	c := &Candidate{
		ID:        *e.CandidateID,
		State:     StateNew,
		CreatedAt: e.Timestamp,
	}
	if raw, ok := e.Payload["parent_id"]; ok {
		if pid, ok := asInt64(raw); ok {
			c.ParentID = &pid
		}
	}
	if branch, ok := e.Payload["branch_name"].(string); ok {
		c.BranchName = branch
	}
	if wt, ok := e.Payload["worktree_path"].(string); ok {
		c.WorktreePath = wt
	}
	s.candidates[c.ID] = c
	s.active[c.ID] = true
}

func (s *Store) applyStageFinished(e eventlog.Event) {
	if e.CandidateID == nil {
		return
	}
	c, ok := s.candidates[*e.CandidateID]
	if !ok {
		return
	}
	stage, _ := e.Payload["stage"].(string)
	switch stage {
	case "preparing":
		c.State = StateCoding
	case "coding":
		c.State = StatePresubmitting
	case "presubmitting":
		c.State = StateEvaluating
	}
}

func (s *Store) applyEvaluated(e eventlog.Event) {
	if e.CandidateID == nil {
		return
	}
	c, ok := s.candidates[*e.CandidateID]
	if !ok {
		return
	}
	metrics := map[string]float64{}
	if raw, ok := e.Payload["metrics"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := asFloat64(v); ok {
				metrics[k] = f
			}
		}
	}
	c.Metrics = metrics
	finishTerminal(s, c, StateSucceeded, e.Timestamp)
	s.consecutiveFailure = 0
	s.updateBestSoFar(c)
}

func (s *Store) applyFailed(e eventlog.Event) {
	if e.CandidateID == nil {
		return
	}
	c, ok := s.candidates[*e.CandidateID]
	if !ok {
		return
	}
	kind, _ := e.Payload["kind"].(string)
	msg, _ := e.Payload["message"].(string)
	c.Error = &CandidateError{Kind: errs.Kind(kind), Message: msg}
	finishTerminal(s, c, StateFailed, e.Timestamp)
	s.consecutiveFailure++
}

func (s *Store) applyTerminal(e eventlog.Event, state CandidateState) {
	if e.CandidateID == nil {
		return
	}
	c, ok := s.candidates[*e.CandidateID]
	if !ok {
		return
	}
	finishTerminal(s, c, state, e.Timestamp)
}

func finishTerminal(s *Store, c *Candidate, state CandidateState, ts time.Time) {
	c.State = state
	t := ts
	c.FinishedAt = &t
	delete(s.active, c.ID)
}

// updateBestSoFar replaces bestSoFar if c scores better on the primary
// metric, breaking ties by earliest FinishedAt (spec §4.11).
func (s *Store) updateBestSoFar(c *Candidate) {
	if s.primaryMetric == "" || s.better == nil {
		return
	}
	v, ok := c.Metrics[s.primaryMetric]
	if !ok {
		return
	}
	if s.bestSoFar == nil {
		s.bestSoFar = c
		return
	}
	bv, ok := s.bestSoFar.Metrics[s.primaryMetric]
	if !ok {
		s.bestSoFar = c
		return
	}
	if s.better(v, bv) {
		s.bestSoFar = c
		return
	}
	if !s.better(bv, v) && c.FinishedAt != nil && s.bestSoFar.FinishedAt != nil &&
		c.FinishedAt.Before(*s.bestSoFar.FinishedAt) {
		s.bestSoFar = c
	}
}

// Current returns a consistent, deep-copied snapshot of the runtime state
// (spec §3, §4.2: "returns a cheap, consistent view").
func (s *Store) Current() Snapshot {
	candidates := make(map[int64]*Candidate, len(s.candidates))
	for id, c := range s.candidates {
		candidates[id] = c.clone()
	}
	active := make(map[int64]bool, len(s.active))
	for id := range s.active {
		active[id] = true
	}
	var best *Candidate
	if s.bestSoFar != nil {
		best = candidates[s.bestSoFar.ID]
	}
	return Snapshot{
		Candidates:         candidates,
		Active:             active,
		BestSoFar:          best,
		ConsecutiveFailure: s.consecutiveFailure,
		ShutdownRequested:  s.shutdownRequested,
		Stopped:            s.stopped,
	}
}

// Rebuild replays events from an empty store and returns the resulting
// snapshot, used to verify invariant 1 (replay determinism, spec §8).
func Rebuild(primaryMetric string, better Comparator, events []eventlog.Event) Snapshot {
	s := New(primaryMetric, better)
	for _, e := range events {
		s.Apply(e)
	}
	return s.Current()
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
