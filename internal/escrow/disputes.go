package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gigvault/backend/internal/models"
)

// CreateDispute freezes an assigned task. Funds stay in escrow until the dispute is resolved.
func (e *Engine) CreateDispute(ctx context.Context, caller models.Caller, taskID uint64, reason string) (d *models.Dispute, err error) {
	ctx, done := e.begin(ctx, "create_dispute", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(taskID)
	if err != nil {
		return nil, err
	}
	if caller.ID != t.Client && caller.ID != t.SelectedFreelancer {
		return nil, fmt.Errorf("create dispute: %w: not a party to task %d", ErrUnauthorized, taskID)
	}
	if existing := e.disputes[taskID]; existing != nil && existing.Status == models.DisputeStatusOpen {
		return nil, fmt.Errorf("create dispute on task %d: %w", taskID, ErrDisputeExists)
	}
	if !models.Disputable(t.Status) {
		return nil, fmt.Errorf("create dispute: %w: task is %s", ErrInvalidStatus, t.Status)
	}

	now := e.Now()
	d = &models.Dispute{
		ID:         uuid.New(),
		TaskID:     taskID,
		Initiator:  caller.ID,
		Reason:     reason,
		Status:     models.DisputeStatusOpen,
		Arbitrator: e.cfg.Arbitrator,
		CreatedAt:  now,
	}
	e.disputes[taskID] = d
	t.PreviousStatus = t.Status
	t.Status = models.TaskStatusDisputed
	t.UpdatedAt = now

	e.logger.Info("dispute created", "task_id", taskID, "dispute_id", d.ID, "initiator", caller.ID)
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventDisputeCreated, Actor: caller.ID, Detail: reason})
	return d.Clone(), nil
}

// ResolveDispute pays the winner pct percent of the escrowed total and the loser the rest.
// Only the dispute's arbitrator may call it.
func (e *Engine) ResolveDispute(ctx context.Context, caller models.Caller, taskID uint64, winner string, pct int64) (err error) {
	ctx, done := e.begin(ctx, "resolve_dispute", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	if winner != models.PartyClient && winner != models.PartyFreelancer {
		return fmt.Errorf("%w: winner must be %q or %q", ErrInvalidInput, models.PartyClient, models.PartyFreelancer)
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: payment percentage %d", ErrInvalidInput, pct)
	}

	e.mu.Lock()
	t, d, err := e.openDisputeLocked(taskID)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if d.Arbitrator == "" || caller.ID != d.Arbitrator {
		e.mu.Unlock()
		return fmt.Errorf("resolve dispute: %w: only the arbitrator", ErrUnauthorized)
	}

	total := t.TotalEscrow()
	winnerAmount := mulDiv(total, pct, 100)
	outcome := models.DisputeOutcome{Winner: winner}
	if winner == models.PartyClient {
		outcome.ClientAmount, outcome.FreelancerAmount = winnerAmount, total-winnerAmount
	} else {
		outcome.FreelancerAmount, outcome.ClientAmount = winnerAmount, total-winnerAmount
	}
	client, freelancer := t.Client, t.SelectedFreelancer

	if err := e.settleDispute(ctx, t, outcome); err != nil {
		return fmt.Errorf("resolve dispute on task %d: %w", taskID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	winAddr, loseAddr := client, freelancer
	if winner == models.PartyFreelancer {
		winAddr, loseAddr = freelancer, client
	}
	e.bumpReputation(winAddr, true)
	e.bumpReputation(loseAddr, false)
	e.logger.Info("dispute resolved", "task_id", taskID, "winner", winner,
		"client_amount", outcome.ClientAmount, "freelancer_amount", outcome.FreelancerAmount)
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventDisputeResolved, Actor: caller.ID, Amount: winnerAmount, Detail: winner})
	return nil
}

// AutoResolveDispute splits an unresolved dispute by the fixed fallback ratio once the
// dispute timeout has elapsed. Anyone may trigger it; reputations are left alone.
func (e *Engine) AutoResolveDispute(ctx context.Context, caller models.Caller, taskID uint64) (err error) {
	ctx, done := e.begin(ctx, "auto_resolve_dispute", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	e.mu.Lock()
	t, d, err := e.openDisputeLocked(taskID)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("auto-resolve dispute: %w", err)
	}
	if !e.Now().After(d.CreatedAt.Add(e.cfg.DisputeTimeout)) {
		e.mu.Unlock()
		return fmt.Errorf("auto-resolve dispute on task %d: %w", taskID, ErrTimeoutNotReached)
	}

	total := t.TotalEscrow()
	clientAmount := mulDiv(total, e.cfg.AutoResolveClientPct, 100)
	outcome := models.DisputeOutcome{
		ClientAmount:     clientAmount,
		FreelancerAmount: total - clientAmount,
		Automatic:        true,
	}
	if err := e.settleDispute(ctx, t, outcome); err != nil {
		return fmt.Errorf("auto-resolve dispute on task %d: %w", taskID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("dispute auto-resolved", "task_id", taskID,
		"client_amount", outcome.ClientAmount, "freelancer_amount", outcome.FreelancerAmount)
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventDisputeAutoClose, Actor: caller.ID, Amount: outcome.ClientAmount})
	return nil
}

// settleDispute pays both sides of outcome and closes the dispute and the task.
// Caller holds mu; it is released on return.
func (e *Engine) settleDispute(ctx context.Context, t *models.Task, outcome models.DisputeOutcome) error {
	legs := []payout{
		{to: t.Client, amount: outcome.ClientAmount, entryType: models.LedgerEntryDisputePayout},
		{to: t.SelectedFreelancer, amount: outcome.FreelancerAmount, entryType: models.LedgerEntryDisputePayout},
	}
	return e.settle(ctx, t.ID, legs, func(t *models.Task, d *models.Dispute, _ []*models.Bid) {
		now := e.Now()
		o := outcome
		d.Status = models.DisputeStatusResolved
		d.Outcome = &o
		d.ResolvedAt = &now
		t.Status = models.TaskStatusCompleted
	})
}

func (e *Engine) openDisputeLocked(taskID uint64) (*models.Task, *models.Dispute, error) {
	t, err := e.taskLocked(taskID)
	if err != nil {
		return nil, nil, err
	}
	d := e.disputes[taskID]
	if d == nil {
		return nil, nil, fmt.Errorf("dispute for task %d: %w", taskID, ErrNotFound)
	}
	if d.Status != models.DisputeStatusOpen || t.Status != models.TaskStatusDisputed {
		return nil, nil, fmt.Errorf("dispute for task %d: %w", taskID, ErrDisputeNotOpen)
	}
	return t, d, nil
}

// Dispute returns a copy of the task's dispute record.
func (e *Engine) Dispute(taskID uint64) (*models.Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.disputes[taskID]
	if d == nil {
		return nil, fmt.Errorf("dispute for task %d: %w", taskID, ErrNotFound)
	}
	return d.Clone(), nil
}
