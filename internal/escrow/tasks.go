package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gigvault/backend/internal/ledger"
	"github.com/gigvault/backend/internal/models"
)

type TaskInput struct {
	Title          string
	Description    string
	RequiredSkills []string
	BudgetUSD      decimal.Decimal
	Deadline       time.Time
	IsUrgent       bool
}

// CreateTask escrows the converted budget plus the client stake and opens a task.
// The custody transaction runs under the engine lock so a failure consumes no id.
func (e *Engine) CreateTask(ctx context.Context, caller models.Caller, in TaskInput) (id uint64, err error) {
	ctx, done := e.begin(ctx, "create_task", 0)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	if !e.registry.IsRegistered(caller.ID) {
		return 0, fmt.Errorf("create task: %w", ErrNotRegistered)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !in.BudgetUSD.IsPositive() {
		return 0, fmt.Errorf("%w: budget must be positive", ErrInvalidInput)
	}
	skills := models.NormalizeSkills(in.RequiredSkills)
	if len(skills) == 0 {
		return 0, fmt.Errorf("%w: at least one required skill", ErrInvalidInput)
	}
	now := e.Now()
	if !in.Deadline.After(now) {
		return 0, fmt.Errorf("%w: deadline must be in the future", ErrInvalidInput)
	}

	tokens, err := e.pricer.ToTokens(ctx, in.BudgetUSD)
	if err != nil {
		return 0, fmt.Errorf("create task: convert budget: %w", err)
	}
	if tokens <= 0 {
		return 0, fmt.Errorf("%w: budget converts to zero tokens", ErrInvalidInput)
	}
	stake := tokens / stakeDivisor

	e.mu.Lock()
	defer e.mu.Unlock()

	id = e.nextID + 1
	if err := e.lockFunds(ctx, caller.ID, tokens+stake, id); err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}

	e.nextID = id
	e.tasks[id] = &models.Task{
		ID:             id,
		Client:         caller.ID,
		Title:          title,
		Description:    in.Description,
		RequiredSkills: skills,
		BudgetUSD:      in.BudgetUSD,
		BudgetTokens:   tokens,
		ClientStake:    stake,
		Escrowed:       tokens + stake,
		Deadline:       in.Deadline.UTC(),
		Status:         models.TaskStatusOpen,
		IsUrgent:       in.IsUrgent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.logger.Info("task created", "task_id", id, "client", caller.ID, "escrowed", tokens+stake)
	e.emit(ctx, models.Event{TaskID: id, Kind: models.EventTaskCreated, Actor: caller.ID, Amount: tokens + stake})
	return id, nil
}

func (e *Engine) lockFunds(ctx context.Context, from string, amount int64, taskID uint64) error {
	tx, err := e.custody.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin custody tx: %w", err)
	}
	memo := ledger.Memo{TaskID: taskID, EntryType: models.LedgerEntryEscrowLock}
	if err := tx.TransferFrom(ctx, from, models.EscrowAccount, amount, memo); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("lock funds: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit custody tx: %w", err)
	}
	return nil
}

// StartWork moves an assigned task into progress. Only the selected freelancer may call it.
func (e *Engine) StartWork(ctx context.Context, caller models.Caller, taskID uint64) (err error) {
	return e.freelancerStep(ctx, caller, taskID, "start_work",
		models.TaskStatusAssigned, models.TaskStatusInProgress, models.EventWorkStarted)
}

// SubmitForReview hands in-progress work back to the client.
func (e *Engine) SubmitForReview(ctx context.Context, caller models.Caller, taskID uint64) (err error) {
	return e.freelancerStep(ctx, caller, taskID, "submit_for_review",
		models.TaskStatusInProgress, models.TaskStatusUnderReview, models.EventReviewRequested)
}

func (e *Engine) freelancerStep(ctx context.Context, caller models.Caller, taskID uint64, op, from, to, kind string) (err error) {
	ctx, done := e.begin(ctx, op, taskID)
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
	if t.SelectedFreelancer != caller.ID {
		return fmt.Errorf("%s: %w: only the selected freelancer", op, ErrUnauthorized)
	}
	if t.Status != from {
		return fmt.Errorf("%s: %w: task is %s", op, ErrInvalidStatus, t.Status)
	}
	t.Status = to
	t.UpdatedAt = e.Now()
	e.emit(ctx, models.Event{TaskID: taskID, Kind: kind, Actor: caller.ID})
	return nil
}

// CompleteTask pays the freelancer, the platform fee and the stake refund in one custody
// transaction. A failed leg restores the task as it was.
func (e *Engine) CompleteTask(ctx context.Context, caller models.Caller, taskID uint64) (err error) {
	ctx, done := e.begin(ctx, "complete_task", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	e.mu.Lock()
	t, err := e.taskLocked(taskID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if t.Client != caller.ID {
		e.mu.Unlock()
		return fmt.Errorf("complete task: %w: only the client", ErrUnauthorized)
	}
	switch t.Status {
	case models.TaskStatusAssigned, models.TaskStatusInProgress, models.TaskStatusUnderReview:
	default:
		e.mu.Unlock()
		return fmt.Errorf("complete task: %w: task is %s", ErrInvalidStatus, t.Status)
	}
	if t.SelectedFreelancer == "" {
		e.mu.Unlock()
		return fmt.Errorf("complete task: %w: no freelancer selected", ErrInvalidStatus)
	}

	fee := mulDiv(t.BudgetTokens, e.cfg.PlatformFeeBps, bpsDenominator)
	payment := t.BudgetTokens - fee
	freelancer, client := t.SelectedFreelancer, t.Client
	legs := []payout{
		{to: freelancer, amount: payment, entryType: models.LedgerEntryTaskEarning},
		{to: models.PlatformAccount, amount: fee, entryType: models.LedgerEntryPlatformFee},
		{to: client, amount: t.ClientStake, entryType: models.LedgerEntryStakeReturn},
	}
	err = e.settle(ctx, taskID, legs, func(t *models.Task, _ *models.Dispute, _ []*models.Bid) {
		t.Status = models.TaskStatusCompleted
	})
	if err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.bumpReputation(client, true)
	e.bumpReputation(freelancer, true)
	if err := e.registry.UpdateTaskStats(freelancer, payment); err != nil {
		e.logger.Warn("task stats not updated", "task_id", taskID, "freelancer", freelancer, "error", err)
	}
	e.logger.Info("task completed", "task_id", taskID, "freelancer", freelancer, "payment", payment, "fee", fee)
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventTaskCompleted, Actor: caller.ID, Amount: payment})
	return nil
}

// ExpireTask refunds an open task whose deadline passed without an accepted bid.
func (e *Engine) ExpireTask(ctx context.Context, caller models.Caller, taskID uint64) (err error) {
	ctx, done := e.begin(ctx, "expire_task", taskID)
	defer done(&err)

	if err := requireCaller(caller); err != nil {
		return err
	}
	e.mu.Lock()
	t, err := e.taskLocked(taskID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if t.Status != models.TaskStatusOpen {
		e.mu.Unlock()
		return fmt.Errorf("expire task: %w: task is %s", ErrInvalidStatus, t.Status)
	}
	if !e.Now().After(t.Deadline) {
		e.mu.Unlock()
		return fmt.Errorf("expire task %d: %w", taskID, ErrNotExpired)
	}
	client, refund := t.Client, t.Escrowed
	legs := []payout{{to: client, amount: refund, entryType: models.LedgerEntryRefund}}
	err = e.settle(ctx, taskID, legs, func(t *models.Task, _ *models.Dispute, bids []*models.Bid) {
		t.Status = models.TaskStatusCancelled
		for _, b := range bids {
			if b.Status == models.BidStatusPending {
				b.Status = models.BidStatusRejected
			}
		}
	})
	if err != nil {
		return fmt.Errorf("expire task %d: %w", taskID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("task expired", "task_id", taskID, "refund", refund)
	e.emit(ctx, models.Event{TaskID: taskID, Kind: models.EventTaskExpired, Actor: caller.ID, Amount: refund})
	return nil
}

func (e *Engine) bumpReputation(address string, positive bool) {
	if _, err := e.registry.UpdateReputation(address, positive); err != nil {
		e.logger.Warn("reputation not updated", "address", address, "positive", positive, "error", err)
	}
}

// Task returns a copy of the task record.
func (e *Engine) Task(id uint64) (*models.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Custodied is the amount currently held in escrow for the task.
func (e *Engine) Custodied(id uint64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return 0, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t.Escrowed, nil
}

// TaskCount is the highest id assigned so far.
func (e *Engine) TaskCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextID
}

// ListTasks returns up to n tasks with ids starting at from, in id order.
func (e *Engine) ListTasks(from uint64, n int) []*models.Task {
	if from == 0 {
		from = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.Task
	for id := from; id <= e.nextID && len(out) < n; id++ {
		if t, ok := e.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// TotalEscrowed sums the escrow held across all tasks. It equals the escrow account
// balance whenever no settlement is in flight.
func (e *Engine) TotalEscrowed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sum int64
	for _, t := range e.tasks {
		sum += t.Escrowed
	}
	return sum
}
