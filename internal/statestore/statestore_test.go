package statestore

import (
	"testing"
	"time"

	"github.com/aurelia-run/aurelia/internal/eventlog"
)

func ge(a, b float64) bool { return a > b }

func mkEvent(seq int64, kind eventlog.Kind, cid *int64, payload map[string]any) eventlog.Event {
	return eventlog.Event{Seq: seq, Timestamp: time.Unix(1000+seq, 0).UTC(), Kind: kind, CandidateID: cid, Payload: payload}
}

func id(v int64) *int64 { return &v }

func TestApply(t *testing.T) {
	t.Run("CandidateCreatedStartsNewAndActive", func(t *testing.T) {
		s := New("accuracy", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), map[string]any{"branch_name": "aurelia/c1"}))
		snap := s.Current()
		c := snap.Candidates[1]
		if c == nil || c.State != StateNew {
			t.Fatalf("candidate = %+v, want state new", c)
		}
		if !snap.Active[1] {
			t.Error("expected candidate 1 to be active")
		}
	})

	t.Run("EvaluatedMovesToSucceededAndResetsFailureStreak", func(t *testing.T) {
		s := New("accuracy", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), nil))
		s.consecutiveFailure = 3
		s.Apply(mkEvent(1, eventlog.CandidateEvaluated, id(1), map[string]any{
			"metrics": map[string]any{"accuracy": 0.9},
		}))
		snap := s.Current()
		c := snap.Candidates[1]
		if c.State != StateSucceeded {
			t.Errorf("state = %v, want succeeded", c.State)
		}
		if c.Metrics["accuracy"] != 0.9 {
			t.Errorf("metrics[accuracy] = %v, want 0.9", c.Metrics["accuracy"])
		}
		if snap.Active[1] {
			t.Error("succeeded candidate should no longer be active")
		}
		if snap.ConsecutiveFailure != 0 {
			t.Errorf("ConsecutiveFailure = %d, want 0", snap.ConsecutiveFailure)
		}
	})

	t.Run("FailedIncrementsFailureStreak", func(t *testing.T) {
		s := New("accuracy", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), nil))
		s.Apply(mkEvent(1, eventlog.CandidateFailed, id(1), map[string]any{
			"kind": "presubmit_fail", "message": "exit 1",
		}))
		snap := s.Current()
		c := snap.Candidates[1]
		if c.State != StateFailed {
			t.Errorf("state = %v, want failed", c.State)
		}
		if c.Error == nil || c.Error.Kind != "presubmit_fail" {
			t.Errorf("error = %+v", c.Error)
		}
		if snap.ConsecutiveFailure != 1 {
			t.Errorf("ConsecutiveFailure = %d, want 1", snap.ConsecutiveFailure)
		}
	})

	t.Run("UnknownKindIsNoOp", func(t *testing.T) {
		s := New("accuracy", ge)
		s.Apply(mkEvent(0, eventlog.Kind("some_future_event"), nil, nil))
		snap := s.Current()
		if len(snap.Candidates) != 0 {
			t.Errorf("expected no candidates, got %d", len(snap.Candidates))
		}
	})

	t.Run("BestSoFarPicksHigherScore", func(t *testing.T) {
		s := New("score", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), nil))
		s.Apply(mkEvent(1, eventlog.CandidateEvaluated, id(1), map[string]any{"metrics": map[string]any{"score": 0.3}}))
		s.Apply(mkEvent(2, eventlog.CandidateCreated, id(2), nil))
		s.Apply(mkEvent(3, eventlog.CandidateEvaluated, id(2), map[string]any{"metrics": map[string]any{"score": 0.7}}))
		snap := s.Current()
		if snap.BestSoFar == nil || snap.BestSoFar.ID != 2 {
			t.Fatalf("BestSoFar = %+v, want candidate 2", snap.BestSoFar)
		}
	})

	t.Run("BestSoFarTieBrokenByEarliestFinish", func(t *testing.T) {
		s := New("score", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), nil))
		s.Apply(mkEvent(1, eventlog.CandidateEvaluated, id(1), map[string]any{"metrics": map[string]any{"score": 0.5}}))
		s.Apply(mkEvent(2, eventlog.CandidateCreated, id(2), nil))
		s.Apply(mkEvent(3, eventlog.CandidateEvaluated, id(2), map[string]any{"metrics": map[string]any{"score": 0.5}}))
		snap := s.Current()
		if snap.BestSoFar == nil || snap.BestSoFar.ID != 1 {
			t.Fatalf("BestSoFar = %+v, want candidate 1 (earlier finish)", snap.BestSoFar)
		}
	})

	t.Run("SnapshotIsDeepCopy", func(t *testing.T) {
		s := New("score", ge)
		s.Apply(mkEvent(0, eventlog.CandidateCreated, id(1), nil))
		snap := s.Current()
		snap.Candidates[1].State = StateFailed
		snap2 := s.Current()
		if snap2.Candidates[1].State != StateNew {
			t.Error("mutating a snapshot must not affect the store")
		}
	})
}

func TestRebuildIsDeterministic(t *testing.T) {
	// Invariant 1 (spec §8): replaying events from empty state reproduces
	// the live projection exactly.
	events := []eventlog.Event{
		mkEvent(0, eventlog.RuntimeStarted, nil, nil),
		mkEvent(1, eventlog.CandidateCreated, id(1), map[string]any{"branch_name": "aurelia/c1"}),
		mkEvent(2, eventlog.CandidateStageFinished, id(1), map[string]any{"stage": "preparing"}),
		mkEvent(3, eventlog.CandidateStageFinished, id(1), map[string]any{"stage": "coding"}),
		mkEvent(4, eventlog.CandidateStageFinished, id(1), map[string]any{"stage": "presubmitting"}),
		mkEvent(5, eventlog.CandidateEvaluated, id(1), map[string]any{"metrics": map[string]any{"accuracy": 1.0}}),
		mkEvent(6, eventlog.RuntimeStopping, nil, nil),
		mkEvent(7, eventlog.RuntimeStopped, nil, nil),
	}

	live := New("accuracy", ge)
	for _, e := range events {
		live.Apply(e)
	}
	liveSnap := live.Current()
	replaySnap := Rebuild("accuracy", ge, events)

	if liveSnap.BestSoFar.ID != replaySnap.BestSoFar.ID {
		t.Errorf("BestSoFar mismatch: live=%d replay=%d", liveSnap.BestSoFar.ID, replaySnap.BestSoFar.ID)
	}
	if liveSnap.Candidates[1].State != replaySnap.Candidates[1].State {
		t.Errorf("state mismatch: live=%v replay=%v", liveSnap.Candidates[1].State, replaySnap.Candidates[1].State)
	}
	if liveSnap.Stopped != replaySnap.Stopped {
		t.Errorf("stopped mismatch: live=%v replay=%v", liveSnap.Stopped, replaySnap.Stopped)
	}
}
