package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gigvault/backend/internal/models"
)

// MemoryCustody keeps balances in process. Transfers are staged per transaction and applied
// on Commit, which re-checks every debit under the lock.
type MemoryCustody struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []*models.LedgerEntry
	keys     map[entryKey]bool

	// Refuse, when set, is consulted for every leg; a non-nil error fails that leg.
	Refuse func(from, to string, amount int64) error
	// AfterCommit, when set, runs after a successful Commit with the lock released.
	AfterCommit func(ctx context.Context, legs []models.LedgerEntry)
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{balances: make(map[string]int64), keys: make(map[entryKey]bool)}
}

var _ Custody = (*MemoryCustody)(nil)

// Deposit credits an account directly.
func (m *MemoryCustody) Deposit(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

func (m *MemoryCustody) BalanceOf(_ context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// Balance is BalanceOf without the context, for tests.
func (m *MemoryCustody) Balance(account string) int64 {
	b, _ := m.BalanceOf(context.Background(), account)
	return b
}

// Total sums every balance; transfers never change it.
func (m *MemoryCustody) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, b := range m.balances {
		sum += b
	}
	return sum
}

// Entries returns committed ledger entries, optionally filtered by type.
func (m *MemoryCustody) Entries(entryType string) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.entries {
		if entryType == "" || e.EntryType == entryType {
			out = append(out, *e)
		}
	}
	return out
}

func (m *MemoryCustody) Begin(context.Context) (Tx, error) {
	return &memTx{m: m, pending: make(map[string]int64), keys: make(map[entryKey]bool)}, nil
}

type memTx struct {
	m       *MemoryCustody
	legs    []models.LedgerEntry
	pending map[string]int64
	keys    map[entryKey]bool
	done    bool
}

func (t *memTx) TransferFrom(_ context.Context, from, to string, amount int64, memo Memo) error {
	if t.done {
		return ErrTxDone
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if t.m.Refuse != nil {
		if err := t.m.Refuse(from, to, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	key := keyOf(memo, to)
	t.m.mu.Lock()
	available := t.m.balances[from] + t.pending[from]
	recorded := t.m.keys[key]
	t.m.mu.Unlock()
	if recorded || t.keys[key] {
		return fmt.Errorf("%w: task %d %s to %s", ErrDuplicateEntry, memo.TaskID, memo.EntryType, to)
	}
	if available < amount {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}
	t.keys[key] = true
	t.pending[from] -= amount
	t.pending[to] += amount
	t.legs = append(t.legs, models.LedgerEntry{
		ID:        uuid.New(),
		TaskID:    memo.TaskID,
		From:      from,
		To:        to,
		EntryType: memo.EntryType,
		Amount:    amount,
	})
	return nil
}

func (t *memTx) Transfer(ctx context.Context, to string, amount int64, memo Memo) error {
	return t.TransferFrom(ctx, models.EscrowAccount, to, amount, memo)
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.m.mu.Lock()
	for key := range t.keys {
		if t.m.keys[key] {
			t.m.mu.Unlock()
			return fmt.Errorf("%w: task %d %s to %s", ErrDuplicateEntry, key.taskID, key.entryType, key.to)
		}
	}
	for acct, delta := range t.pending {
		if t.m.balances[acct]+delta < 0 {
			t.m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, acct)
		}
	}
	now := time.Now().UTC()
	for acct, delta := range t.pending {
		t.m.balances[acct] += delta
	}
	for key := range t.keys {
		t.m.keys[key] = true
	}
	for i := range t.legs {
		leg := t.legs[i]
		leg.CreatedAt = now
		t.m.entries = append(t.m.entries, &leg)
	}
	hook := t.m.AfterCommit
	t.m.mu.Unlock()

	if hook != nil {
		hook(ctx, t.legs)
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.done = true
	return nil
}
