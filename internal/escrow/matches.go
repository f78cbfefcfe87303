package escrow

import (
	"context"
	"fmt"
	"math"

	"github.com/gigvault/backend/internal/matching"
	"github.com/gigvault/backend/internal/models"
)

// ProposeMatches asks the match producer for candidates and stores the validated list on
// the task. The producer runs without the engine lock held.
func (e *Engine) ProposeMatches(ctx context.Context, caller models.Caller, taskID uint64) (matches []models.MatchResult, err error) {
	ctx, done := e.begin(ctx, "propose_matches", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if e.matcher == nil {
		return nil, ErrMatcherUnavailable
	}

	e.mu.Lock()
	t, err := e.openTaskForClientLocked(taskID, caller.ID)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("propose matches: %w", err)
	}
	profile := matching.TaskProfile{
		Client:         t.Client,
		RequiredSkills: append([]string(nil), t.RequiredSkills...),
		BudgetUSD:      t.BudgetUSD,
		Deadline:       t.Deadline,
		IsUrgent:       t.IsUrgent,
	}
	e.mu.Unlock()

	proposed, err := e.matcher.Propose(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("propose matches: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// The task may have moved on while the producer ran.
	t, err = e.openTaskForClientLocked(taskID, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("propose matches: %w", err)
	}
	if err := e.validateMatches(t, proposed); err != nil {
		return nil, err
	}
	t.Matches = cloneMatches(proposed)
	t.UpdatedAt = e.Now()
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventMatchesProposed, Actor: caller.ID, Amount: int64(len(proposed))})
	return cloneMatches(proposed), nil
}

// AcceptMatch accepts a stored candidate. The candidate's pending bid is used when there is
// one; otherwise a bid at the full budget is placed on their behalf first.
func (e *Engine) AcceptMatch(ctx context.Context, caller models.Caller, taskID uint64, freelancer string) (idx int, err error) {
	ctx, done := e.begin(ctx, "accept_match", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.openTaskForClientLocked(taskID, caller.ID)
	if err != nil {
		return 0, fmt.Errorf("accept match: %w", err)
	}
	var match *models.MatchResult
	for i := range t.Matches {
		if t.Matches[i].Freelancer == freelancer {
			match = &t.Matches[i]
			break
		}
	}
	if match == nil {
		return 0, fmt.Errorf("accept match: %w: %q was not proposed", ErrInvalidInput, freelancer)
	}
	if !e.registry.IsRegistered(freelancer) {
		return 0, fmt.Errorf("accept match: %q: %w", freelancer, ErrNotRegistered)
	}

	idx, ok := e.pendingBidLocked(taskID, freelancer)
	if !ok {
		delivery := t.Deadline
		if !match.EstimatedCompletion.IsZero() && match.EstimatedCompletion.Before(delivery) {
			delivery = match.EstimatedCompletion
		}
		idx = e.appendBidLocked(&models.Bid{
			Freelancer:        freelancer,
			TaskID:            taskID,
			ProposedPrice:     t.BudgetUSD,
			Proposal:          "matched candidate",
			EstimatedDelivery: delivery,
			SubmittedAt:       e.Now(),
			Status:            models.BidStatusPending,
		})
	}
	if err := e.acceptLocked(ctx, t, idx, caller.ID); err != nil {
		return 0, fmt.Errorf("accept match: %w", err)
	}
	return idx, nil
}

func (e *Engine) openTaskForClientLocked(taskID uint64, client string) (*models.Task, error) {
	t, err := e.taskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if t.Client != client {
		return nil, fmt.Errorf("%w: only the client", ErrUnauthorized)
	}
	if t.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	return t, nil
}

func (e *Engine) validateMatches(t *models.Task, matches []models.MatchResult) error {
	if len(matches) > matching.MaxResults {
		return fmt.Errorf("%w: %d results, at most %d", ErrInvalidMatches, len(matches), matching.MaxResults)
	}
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if math.IsNaN(m.Score) || m.Score < 0 || m.Score > 100 {
			return fmt.Errorf("%w: score %v for %q", ErrInvalidMatches, m.Score, m.Freelancer)
		}
		if m.Freelancer == t.Client {
			return fmt.Errorf("%w: client proposed as candidate", ErrInvalidMatches)
		}
		if !e.registry.IsRegistered(m.Freelancer) {
			return fmt.Errorf("%w: %q is not registered", ErrInvalidMatches, m.Freelancer)
		}
		if seen[m.Freelancer] {
			return fmt.Errorf("%w: duplicate candidate %q", ErrInvalidMatches, m.Freelancer)
		}
		seen[m.Freelancer] = true
	}
	return nil
}

func cloneMatches(in []models.MatchResult) []models.MatchResult {
	out := make([]models.MatchResult, len(in))
	for i, m := range in {
		out[i] = m
		out[i].MatchingSkills = append([]string(nil), m.MatchingSkills...)
	}
	return out
}
