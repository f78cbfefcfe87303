// Package upkeep finds tasks whose deadline or dispute timeout has passed and drives them
// through the engine's refund and auto-resolution paths.
package upkeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/models"
)

// DefaultScanWindow is how many task ids one Check inspects.
const DefaultScanWindow = 100

// Engine is the part of escrow.Engine the sweeper reads and drives.
type Engine interface {
	Now() time.Time
	Config() escrow.Config
	TaskCount() uint64
	ListTasks(from uint64, n int) []*models.Task
	Dispute(taskID uint64) (*models.Dispute, error)
	ExpireTask(ctx context.Context, caller models.Caller, taskID uint64) error
	AutoResolveDispute(ctx context.Context, caller models.Caller, taskID uint64) error
}

// Metrics counts swept entries.
type Metrics interface {
	ObserveSweep(action, outcome string)
}

// Entry outcomes.
const (
	OutcomePerformed = "performed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type Result struct {
	Entry
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes one Perform call.
type Report struct {
	Performed int      `json:"performed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

type Sweeper struct {
	engine  Engine
	window  int
	logger  *slog.Logger
	metrics Metrics

	mu     sync.Mutex
	cursor uint64
}

func NewSweeper(engine Engine, window int, logger *slog.Logger, metrics Metrics) *Sweeper {
	if window <= 0 {
		window = DefaultScanWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, window: window, logger: logger, metrics: metrics, cursor: 1}
}

// Check scans the next window of task ids, wrapping at the end, and reports whether any
// task needs upkeep. It never changes engine state.
func (s *Sweeper) Check(ctx context.Context) (bool, []byte, error) {
	count := s.engine.TaskCount()
	if count == 0 {
		return false, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.cursor
	if start < 1 || start > count {
		start = 1
	}
	span := uint64(s.window)
	if span > count {
		span = count
	}

	tasks := s.engine.ListTasks(start, int(span))
	if wrapped := int(span) - len(tasks); wrapped > 0 {
		tasks = append(tasks, s.engine.ListTasks(1, wrapped)...)
	}

	now := s.engine.Now()
	timeout := s.engine.Config().DisputeTimeout
	var entries []Entry
	for _, t := range tasks {
		if len(entries) == MaxEntries {
			break
		}
		switch {
		case t.Status == models.TaskStatusOpen && now.After(t.Deadline):
			entries = append(entries, Entry{TaskID: t.ID, Action: ActionExpire})
		case t.Status == models.TaskStatusDisputed:
			d, err := s.engine.Dispute(t.ID)
			if err != nil {
				continue
			}
			if d.Status == models.DisputeStatusOpen && now.After(d.CreatedAt.Add(timeout)) {
				entries = append(entries, Entry{TaskID: t.ID, Action: ActionAutoResolve})
			}
		}
	}

	// A full payload resumes right after its last entry; otherwise after the window.
	next := start + span
	if len(entries) == MaxEntries {
		next = entries[len(entries)-1].TaskID + 1
	}
	if next > count {
		next = (next-1)%count + 1
	}
	s.cursor = next

	if len(entries) == 0 {
		return false, nil, nil
	}
	payload, err := EncodePayload(entries)
	if err != nil {
		return false, nil, fmt.Errorf("encode upkeep payload: %w", err)
	}
	return true, payload, nil
}

// Perform executes a payload produced by Check, or by anyone else: the payload is
// validated and every entry is re-checked by the engine before it takes effect.
// Entries that no longer qualify are skipped. The returned error joins the failures.
func (s *Sweeper) Perform(ctx context.Context, caller models.Caller, payload []byte) (Report, error) {
	p, err := DecodePayload(payload)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	var errs []error
	for _, e := range p.Entries {
		err := s.apply(ctx, caller, e)
		res := Result{Entry: e}
		switch {
		case err == nil:
			res.Outcome = OutcomePerformed
			rep.Performed++
		case escrow.IsStale(err):
			res.Outcome = OutcomeSkipped
			rep.Skipped++
			s.logger.Debug("upkeep entry skipped", "task_id", e.TaskID, "action", e.Action, "reason", err)
		default:
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			rep.Failed++
			errs = append(errs, fmt.Errorf("%s task %d: %w", e.Action, e.TaskID, err))
			s.logger.Error("upkeep entry failed", "task_id", e.TaskID, "action", e.Action, "error", err)
		}
		if s.metrics != nil {
			s.metrics.ObserveSweep(e.Action, res.Outcome)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep, errors.Join(errs...)
}

func (s *Sweeper) apply(ctx context.Context, caller models.Caller, e Entry) error {
	switch e.Action {
	case ActionExpire:
		return s.engine.ExpireTask(ctx, caller, e.TaskID)
	case ActionAutoResolve:
		return s.engine.AutoResolveDispute(ctx, caller, e.TaskID)
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, e.Action)
}

// Sweep runs Check and, when something is due, Perform.
func (s *Sweeper) Sweep(ctx context.Context, caller models.Caller) (Report, error) {
	needed, payload, err := s.Check(ctx)
	if err != nil || !needed {
		return Report{}, err
	}
	return s.Perform(ctx, caller, payload)
}
