package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gigvault/backend/internal/ledger"
	"github.com/gigvault/backend/internal/models"
)

// payout is one outbound leg from the escrow account.
type payout struct {
	to        string
	amount    int64
	entryType string
}

// settle applies the final transition, releases mu while custody pays out, then either keeps
// the transition or restores the prior records. The caller holds mu on entry; mu is released
// on return.
//
// While the payout is in flight the task is marked settling, so any write that reaches the
// engine for it (including one made from inside the custody backend) fails with
// ErrSettlementInProgress.
func (e *Engine) settle(ctx context.Context, taskID uint64, legs []payout, apply func(*models.Task, *models.Dispute, []*models.Bid)) error {
	t := e.tasks[taskID]
	prevTask := t.Clone()
	var prevDispute *models.Dispute
	if d := e.disputes[taskID]; d != nil {
		prevDispute = d.Clone()
	}
	prevBids := make([]models.Bid, len(e.bids[taskID]))
	for i, b := range e.bids[taskID] {
		prevBids[i] = *b
	}

	apply(t, e.disputes[taskID], e.bids[taskID])
	t.Escrowed = 0
	t.UpdatedAt = e.Now()
	e.settling[taskID] = true
	e.mu.Unlock()

	replayed, err := e.disburse(ctx, taskID, legs)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.settling, taskID)
	if err != nil {
		*t = *prevTask
		if prevDispute != nil {
			*e.disputes[taskID] = *prevDispute
		}
		for i, b := range e.bids[taskID] {
			*b = prevBids[i]
		}
		e.logger.Error("settlement reverted", "task_id", taskID, "error", err)
		return err
	}
	if replayed {
		// The legs were committed before state was last persisted; keep the final state.
		e.logger.Warn("payout already journaled, no funds moved", "task_id", taskID)
		return nil
	}
	for _, l := range legs {
		if l.amount > 0 {
			e.metrics.ObservePayout(l.entryType, l.amount)
		}
	}
	return nil
}

// disburse runs every non-zero leg in one custody transaction. replayed reports that custody
// already journaled this payout, in which case nothing moved.
func (e *Engine) disburse(ctx context.Context, taskID uint64, legs []payout) (replayed bool, err error) {
	tx, err := e.custody.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin custody tx: %w", err)
	}
	for _, l := range legs {
		if l.amount == 0 {
			continue
		}
		memo := ledger.Memo{TaskID: taskID, EntryType: l.entryType}
		if err := tx.Transfer(ctx, l.to, l.amount, memo); err != nil {
			_ = tx.Rollback(ctx)
			if errors.Is(err, ledger.ErrDuplicateEntry) {
				return true, nil
			}
			return false, fmt.Errorf("pay %s to %s: %w", l.entryType, l.to, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return true, nil
		}
		return false, fmt.Errorf("commit custody tx: %w", err)
	}
	return false, nil
}
