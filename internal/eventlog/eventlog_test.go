package eventlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLog(t *testing.T) {
	t.Run("AppendAssignsIncreasingSeq", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l.Close() }()

		seq0, err := l.Append(RuntimeStarted, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		id := int64(1)
		seq1, err := l.Append(CandidateCreated, &id, map[string]any{"branch": "aurelia/c1"})
		if err != nil {
			t.Fatal(err)
		}
		if seq0 != 0 || seq1 != 1 {
			t.Errorf("seq0=%d seq1=%d, want 0,1", seq0, seq1)
		}
	})

	t.Run("ScanFromReturnsAllEvents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		for range 3 {
			if _, err := l.Append(RuntimeStarted, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		_ = l.Close()

		l2, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l2.Close() }()
		events, err := l2.ScanFrom(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 3 {
			t.Fatalf("len(events) = %d, want 3", len(events))
		}
		for i, e := range events {
			if e.Seq != int64(i) {
				t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, i)
			}
		}
	})

	t.Run("SeedsSeqPastExistingEvents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		for range 5 {
			if _, err := l.Append(RuntimeStarted, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		_ = l.Close()

		l2, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l2.Close() }()
		seq, err := l2.Append(RuntimeStopping, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if seq != 5 {
			t.Errorf("seq = %d, want 5", seq)
		}
	})

	t.Run("TornTrailingRecordDropped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		for range 2 {
			if _, err := l.Append(RuntimeStarted, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		_ = l.Close()

		// Simulate a crash mid-write: truncate the last few bytes.
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		truncated := data[:len(data)-10]
		if err := os.WriteFile(path, truncated, 0o600); err != nil {
			t.Fatal(err)
		}

		l2, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l2.Close() }()
		events, err := l2.ScanFrom(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 {
			t.Fatalf("len(events) = %d, want 1 (torn trailing record dropped)", len(events))
		}
	})

	t.Run("NoWritesAfterRuntimeStopped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = l.Close() }()
		if _, err := l.Append(RuntimeStopped, nil, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := l.Append(RuntimeStarted, nil, nil); err == nil {
			t.Error("expected error writing after runtime_stopped")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	// Serializing then parsing every event kind is identity (spec §8).
	kinds := []Kind{
		RuntimeStarted, RuntimeStopping, RuntimeStopped,
		CandidateCreated, CandidateStageStarted, CandidateStageFinished,
		CandidateEvaluated, CandidateFailed, CandidateAborted,
		ToolInvoked, LLMCall,
	}
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	id := int64(7)
	for _, k := range kinds {
		if _, err := l.Append(k, &id, map[string]any{"x": 1.0}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := l.ScanFrom(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(kinds))
	}
	for i, e := range events {
		if e.Kind != kinds[i] {
			t.Errorf("events[%d].Kind = %q, want %q", i, e.Kind, kinds[i])
		}
		if e.CandidateID == nil || *e.CandidateID != id {
			t.Errorf("events[%d].CandidateID = %v, want %d", i, e.CandidateID, id)
		}
	}
}
