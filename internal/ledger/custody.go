package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds is returned when the debited account cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTransferFailed is returned when a transfer leg is refused by the custody backend.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = errors.New("invalid transfer amount")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("custody transaction already finished")
	// ErrDuplicateEntry is returned when a leg with the same task, entry type and recipient
	// is already journaled.
	ErrDuplicateEntry = errors.New("ledger entry already recorded")
)

// Memo tags a transfer leg for the ledger. A task records at most one leg per entry type
// and recipient, so replaying a committed settlement fails with ErrDuplicateEntry.
type Memo struct {
	TaskID    uint64
	EntryType string
}

type entryKey struct {
	taskID    uint64
	entryType string
	to        string
}

func keyOf(memo Memo, to string) entryKey {
	return entryKey{taskID: memo.TaskID, entryType: memo.EntryType, to: to}
}

// Custody holds participant balances and the escrow account.
type Custody interface {
	Begin(ctx context.Context) (Tx, error)
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// Tx groups transfer legs that must all succeed or all be discarded.
// Callers must always Rollback after a failed leg; Rollback after Commit is a no-op.
type Tx interface {
	// TransferFrom moves amount from one account to another.
	TransferFrom(ctx context.Context, from, to string, amount int64, memo Memo) error
	// Transfer moves amount out of the escrow account.
	Transfer(ctx context.Context, to string, amount int64, memo Memo) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
