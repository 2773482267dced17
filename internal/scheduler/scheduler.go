// Package scheduler implements the Heartbeat Scheduler: the cooperative
// loop that ticks on an interval or an explicit wakeup, enforces
// max_concurrent_tasks, checks the termination condition and the
// consecutive-failure abandon threshold, and drains gracefully on shutdown
// (spec §4.11 "Heartbeat Scheduler").
//
// Grounded on re-cinq-detergent/internal/engine/engine.go's RunOnceWithLogs:
// a tick loop that fans candidate work out over goroutines and joins on a
// sync.WaitGroup-shaped drain. Generalized from re-cinq-detergent's one
// goroutine per independent "concern" per tick to Aurelia's one goroutine
// per in-flight candidate across ticks, and from its direct engine-state
// mutation to Aurelia's event-sourced model: candidate goroutines only
// append to the event log (spec §4.1), and the scheduler is the single
// logical goroutine that folds new events into the State Store (spec §5,
// §9), preserving invariant 1 without locks.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aurelia-run/aurelia/internal/config"
	"github.com/aurelia-run/aurelia/internal/eventlog"
	"github.com/aurelia-run/aurelia/internal/idgen"
	"github.com/aurelia-run/aurelia/internal/statestore"
)

// CandidateRunner drives one candidate through the Candidate Engine's state
// machine (spec §4.10). *candidate.Engine implements this; tests substitute
// a fake to exercise scheduler behavior without real git/sandbox/LLM
// collaborators.
type CandidateRunner interface {
	Run(ctx context.Context, id int64, parentID *int64, parentBranch, taskPrompt string) error
}

// PromptFunc produces the Coder Stage's task prompt for a new candidate,
// given its parent (nil for the first candidate). This is the scheduler's
// only hook into the out-of-scope Dispatcher collaborator (spec §1).
type PromptFunc func(parentID *int64) string

// Scheduler is the heartbeat loop.
type Scheduler struct {
	Cfg        *config.Config
	Runner     CandidateRunner
	Log        *eventlog.Log
	Store      *statestore.Store
	IDGen      *idgen.Generator
	BaseBranch string
	PromptFor  PromptFunc

	wake chan struct{}
}

// New creates a Scheduler ready to Run.
func New(cfg *config.Config, runner CandidateRunner, log *eventlog.Log, store *statestore.Store, ids *idgen.Generator, baseBranch string, promptFor PromptFunc) *Scheduler {
	return &Scheduler{
		Cfg:        cfg,
		Runner:     runner,
		Log:        log,
		Store:      store,
		IDGen:      ids,
		BaseBranch: baseBranch,
		PromptFor:  promptFor,
		wake:       make(chan struct{}, 1),
	}
}

// Wake requests an out-of-cycle tick, e.g. after an external event changes
// capacity. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type outcome struct {
	id  int64
	err error
}

// Run executes the heartbeat loop until ctx is canceled, then drains every
// in-flight candidate before returning (spec §4.11 invariant: shutdown
// never abandons a candidate mid-write, it waits for each to reach a
// terminal event or be aborted).
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Log.Append(eventlog.RuntimeStarted, nil, nil); err != nil {
		return err
	}

	ticker := time.NewTicker(s.Cfg.HeartbeatInterval.Duration())
	defer ticker.Stop()

	done := make(chan outcome)
	inFlight := make(map[int64]context.CancelFunc)
	var lastSeq int64 = -1

	applyNew := func() error {
		events, err := s.Log.ScanFrom(lastSeq + 1)
		if err != nil {
			return err
		}
		for _, e := range events {
			s.Store.Apply(e)
			if e.Seq > lastSeq {
				lastSeq = e.Seq
			}
		}
		return nil
	}

	drain := func(reason string) error {
		if _, err := s.Log.Append(eventlog.RuntimeStopping, nil, map[string]any{"reason": reason}); err != nil {
			return err
		}
		for _, cancel := range inFlight {
			cancel()
		}
		for len(inFlight) > 0 {
			o := <-done
			delete(inFlight, o.id)
			if o.err != nil {
				slog.Error("scheduler: candidate engine fault during drain", "candidate", o.id, "err", o.err)
			}
		}
		if _, err := s.Log.Append(eventlog.RuntimeStopped, nil, nil); err != nil {
			return err
		}
		return applyNew()
	}

	for {
		select {
		case <-ctx.Done():
			return drain("shutdown requested")
		case o := <-done:
			delete(inFlight, o.id)
			if o.err != nil {
				slog.Error("scheduler: candidate engine fault", "candidate", o.id, "err", o.err)
			}
		case <-ticker.C:
		case <-s.wake:
		}

		if err := applyNew(); err != nil {
			return err
		}
		snap := s.Store.Current()

		if s.Cfg.Termination.Metric != "" && snap.BestSoFar != nil && s.Cfg.Termination.Satisfied(snap.BestSoFar.Metrics) {
			return drain("termination condition satisfied")
		}
		if snap.ConsecutiveFailure >= s.Cfg.CandidateAbandonThreshold {
			return drain("consecutive failure threshold reached")
		}

		for len(inFlight) < s.Cfg.MaxConcurrentTasks {
			parentID, parentBranch := s.pickParent(snap)
			id := s.IDGen.Next()
			cctx, cancel := context.WithCancel(ctx)
			inFlight[id] = cancel

			go func(id int64, parentID *int64, parentBranch string) {
				err := s.Runner.Run(cctx, id, parentID, parentBranch, s.PromptFor(parentID))
				done <- outcome{id: id, err: err}
			}(id, parentID, parentBranch)
		}
	}
}

// pickParent chooses the lineage for a new candidate: the best succeeded
// candidate so far, or the repo's base branch for the very first one (spec
// §4.4 invariant: a candidate's parent must be a succeeded candidate).
func (s *Scheduler) pickParent(snap statestore.Snapshot) (*int64, string) {
	if snap.BestSoFar != nil {
		id := snap.BestSoFar.ID
		return &id, snap.BestSoFar.BranchName
	}
	return nil, s.BaseBranch
}
