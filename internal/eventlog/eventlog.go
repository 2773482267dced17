// Package eventlog implements the append-only, single-writer durable JSONL
// event log that is Aurelia's ground truth (spec §4.1, §6).
//
// Scanning is grounded on agent/claude's ReadRecords from the teacher repo:
// a bufio.Scanner with a generous buffer that tolerates malformed lines
// rather than failing the whole scan. Append/openLog discipline (one JSONL
// file, O_APPEND|O_CREATE, an explicit flush before returning) is grounded
// on task/runner.go's openLog/writeLogTrailer.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aurelia-run/aurelia/internal/idgen"
)

// Kind identifies the shape of an Event's payload. See spec §3.
type Kind string

// Event kinds, per spec §3.
const (
	RuntimeStarted         Kind = "runtime_started"
	RuntimeStopping        Kind = "runtime_stopping"
	RuntimeStopped         Kind = "runtime_stopped"
	CandidateCreated       Kind = "candidate_created"
	CandidateStageStarted  Kind = "candidate_stage_started"
	CandidateStageFinished Kind = "candidate_stage_finished"
	CandidateEvaluated     Kind = "candidate_evaluated"
	CandidateFailed        Kind = "candidate_failed"
	CandidateAborted       Kind = "candidate_aborted"
	ToolInvoked            Kind = "tool_invoked"
	LLMCall                Kind = "llm_call"
)

// Event is an immutable record in the append-only log (spec §3, §6).
type Event struct {
	Seq         int64          `json:"seq"`
	Timestamp   time.Time      `json:"ts"`
	Kind        Kind           `json:"kind"`
	CandidateID *int64         `json:"candidate_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Log is the single-writer, append-only event log. All exported methods are
// safe for concurrent use; writes are additionally serialized so seq
// assignment is strictly increasing.
type Log struct {
	path string

	mu   sync.Mutex
	f    *os.File
	seq  *idgen.Generator
	done bool // true once a runtime_stopped event has been written
}

// Open opens (creating if absent) the JSONL file at path for appending, and
// seeds the sequence generator from the highest seq already present so that
// restarts never reuse an ID already in the log (spec §4.3).
func Open(path string) (*Log, error) {
	events, err := scanFile(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: initial scan: %w", err)
	}
	var maxSeq int64 = -1
	stopped := false
	for _, e := range events {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		if e.Kind == RuntimeStopped {
			stopped = true
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}

	return &Log{
		path: path,
		f:    f,
		seq:  idgen.New(maxSeq + 1),
		done: stopped,
	}, nil
}

// Append writes event, assigning its Seq and Timestamp, and forces a flush
// to durable storage before returning (spec §4.1). Returns the assigned seq.
func (l *Log) Append(kind Kind, candidateID *int64, payload map[string]any) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return 0, fmt.Errorf("eventlog: no event may be written after runtime_stopped")
	}

	e := Event{
		Seq:         l.seq.Next(),
		Timestamp:   time.Now().UTC(),
		Kind:        kind,
		CandidateID: candidateID,
		Payload:     payload,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return 0, fmt.Errorf("eventlog: write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("eventlog: fsync: %w", err)
	}
	if kind == RuntimeStopped {
		l.done = true
	}
	return e.Seq, nil
}

// Close closes the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ScanFrom returns every event with Seq >= fromSeq, in seq order. A torn
// trailing record (invalid JSON or truncated final line) is dropped with a
// warning; all earlier events remain authoritative (spec §4.1).
func (l *Log) ScanFrom(fromSeq int64) ([]Event, error) {
	events, err := scanFile(l.path)
	if err != nil {
		return nil, err
	}
	if fromSeq <= 0 {
		return events, nil
	}
	out := events[:0:0]
	for _, e := range events {
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// scanFile reads every well-formed event out of path. Missing files yield an
// empty slice. A malformed or truncated trailing line is dropped silently
// (logged at Warn) rather than failing the scan.
func scanFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var events []Event
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("eventlog: dropping malformed line", "file", path, "line", lineNo, "err", err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		// bufio.ErrTooLong or a read error on the final, torn line: drop it
		// and keep everything scanned so far, per spec's crash semantics.
		slog.Warn("eventlog: dropping torn trailing record", "file", path, "err", err)
	}
	return events, nil
}

// Follow watches path for writes and invokes onAppend after each change,
// passing any events with Seq > afterSeq. It blocks until stop is closed or
// the watcher's channels close; callers typically run it in its own goroutine. This
// backs live consumers (monitor-style tools) that want to tail the log
// without polling.
func Follow(path string, afterSeq int64, onAppend func([]Event), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("eventlog: follow: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("eventlog: follow: watch %s: %w", path, err)
	}

	last := afterSeq
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			events, err := scanFile(path)
			if err != nil {
				slog.Warn("eventlog: follow scan failed", "err", err)
				continue
			}
			var fresh []Event
			for _, e := range events {
				if e.Seq > last {
					fresh = append(fresh, e)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			last = fresh[len(fresh)-1].Seq
			onAppend(fresh)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("eventlog: follow watcher error", "err", err)
		}
	}
}
