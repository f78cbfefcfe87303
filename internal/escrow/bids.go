package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gigvault/backend/internal/models"
)

type BidInput struct {
	ProposedPrice     decimal.Decimal
	Proposal          string
	EstimatedDelivery time.Time
}

// SubmitBid appends a pending bid and returns its index in the task's bid book.
func (e *Engine) SubmitBid(ctx context.Context, caller models.Caller, taskID uint64, in BidInput) (idx int, err error) {
	ctx, done := e.begin(ctx, "submit_bid", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	if !e.registry.IsRegistered(caller.ID) {
		return 0, fmt.Errorf("submit bid: %w", ErrNotRegistered)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(taskID)
	if err != nil {
		return 0, err
	}
	if t.Status != models.TaskStatusOpen {
		return 0, fmt.Errorf("submit bid: %w: task is %s", ErrInvalidStatus, t.Status)
	}
	if t.Client == caller.ID {
		return 0, fmt.Errorf("submit bid: %w: client cannot bid on own task", ErrUnauthorized)
	}
	if !in.ProposedPrice.IsPositive() || in.ProposedPrice.GreaterThan(t.BudgetUSD) {
		return 0, fmt.Errorf("%w: proposed price must be in (0, %s]", ErrInvalidInput, t.BudgetUSD)
	}
	if in.EstimatedDelivery.IsZero() || in.EstimatedDelivery.After(t.Deadline) {
		return 0, fmt.Errorf("%w: estimated delivery must not exceed the deadline", ErrInvalidInput)
	}
	now := e.Now()
	if now.After(t.Deadline.Add(-e.cfg.BiddingCutoff)) {
		return 0, fmt.Errorf("submit bid on task %d: %w", taskID, ErrBiddingClosed)
	}
	if _, ok := e.pendingBidLocked(taskID, caller.ID); ok {
		return 0, fmt.Errorf("submit bid on task %d: %w", taskID, ErrDuplicateBid)
	}

	idx = e.appendBidLocked(&models.Bid{
		Freelancer:        caller.ID,
		TaskID:            taskID,
		ProposedPrice:     in.ProposedPrice,
		Proposal:          in.Proposal,
		EstimatedDelivery: in.EstimatedDelivery.UTC(),
		SubmittedAt:       now,
		Status:            models.BidStatusPending,
	})
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventBidSubmitted, Actor: caller.ID, Detail: in.ProposedPrice.String()})
	return idx, nil
}

// WithdrawBid retracts the caller's own pending bid. The freelancer may bid again afterwards.
func (e *Engine) WithdrawBid(ctx context.Context, caller models.Caller, taskID uint64, idx int) (err error) {
	ctx, done := e.begin(ctx, "withdraw_bid", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(taskID)
	if err != nil {
		return err
	}
	b, err := e.bidLocked(taskID, idx)
	if err != nil {
		return err
	}
	if b.Freelancer != caller.ID {
		return fmt.Errorf("withdraw bid: %w: not the bidder", ErrUnauthorized)
	}
	if t.Status != models.TaskStatusOpen || b.Status != models.BidStatusPending {
		return fmt.Errorf("withdraw bid: %w: task %s, bid %s", ErrInvalidStatus, t.Status, b.Status)
	}
	b.Status = models.BidStatusWithdrawn
	t.UpdatedAt = e.Now()
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventBidWithdrawn, Actor: caller.ID})
	return nil
}

// AcceptBid assigns the task to the bid's freelancer and rejects every other pending bid.
func (e *Engine) AcceptBid(ctx context.Context, caller models.Caller, taskID uint64, idx int) (err error) {
	ctx, done := e.begin(ctx, "accept_bid", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(taskID)
	if err != nil {
		return err
	}
	if t.Client != caller.ID {
		return fmt.Errorf("accept bid: %w: only the client", ErrUnauthorized)
	}
	if err := e.acceptLocked(ctx, t, idx, caller.ID); err != nil {
		return fmt.Errorf("accept bid: %w", err)
	}
	return nil
}

// acceptLocked is the single acceptance step shared by bids and matches. Caller holds mu.
func (e *Engine) acceptLocked(ctx context.Context, t *models.Task, idx int, actor string) error {
	if t.Status != models.TaskStatusOpen {
		return fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	b, err := e.bidLocked(t.ID, idx)
	if err != nil {
		return err
	}
	if b.Status != models.BidStatusPending {
		return fmt.Errorf("%w: bid is %s", ErrInvalidStatus, b.Status)
	}

	for i, other := range e.bids[t.ID] {
		if i != idx && other.Status == models.BidStatusPending {
			other.Status = models.BidStatusRejected
		}
	}
	b.Status = models.BidStatusAccepted
	t.Status = models.TaskStatusAssigned
	t.SelectedFreelancer = b.Freelancer
	t.UpdatedAt = e.Now()

	e.logger.Info("bid accepted", "task_id", t.ID, "freelancer", b.Freelancer, "bid_index", idx)
	e.emit(ctx, models.Event{TaskID: t.ID, Kind: models.EventBidAccepted, Actor: actor, Detail: b.Freelancer})
	return nil
}

// Bids returns copies of every bid on the task in submission order.
func (e *Engine) Bids(taskID uint64) ([]models.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tasks[taskID]; !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	out := make([]models.Bid, len(e.bids[taskID]))
	for i, b := range e.bids[taskID] {
		out[i] = *b
	}
	return out, nil
}

func (e *Engine) bidLocked(taskID uint64, idx int) (*models.Bid, error) {
	bids := e.bids[taskID]
	if idx < 0 || idx >= len(bids) {
		return nil, fmt.Errorf("bid %d on task %d: %w", idx, taskID, ErrNotFound)
	}
	return bids[idx], nil
}

func (e *Engine) pendingBidLocked(taskID uint64, freelancer string) (int, bool) {
	for i, b := range e.bids[taskID] {
		if b.Freelancer == freelancer && b.Status == models.BidStatusPending {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) appendBidLocked(b *models.Bid) int {
	e.bids[b.TaskID] = append(e.bids[b.TaskID], b)
	e.tasks[b.TaskID].UpdatedAt = b.SubmittedAt
	return len(e.bids[b.TaskID]) - 1
}
