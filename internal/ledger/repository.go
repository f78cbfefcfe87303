package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigvault/backend/internal/models"
)

// Repository is the Postgres-backed Custody. Balances live in custody_accounts and every leg
// is journaled in ledger_entries inside the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Custody = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin custody tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (r *Repository) BalanceOf(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM custody_accounts WHERE id = $1`, account).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Deposit credits an account outside any settlement (funding from an external rail).
func (r *Repository) Deposit(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO custody_accounts (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = custody_accounts.balance + EXCLUDED.balance, updated_at = now()
	`, account, amount)
	return err
}

// Entries returns the journal for a task in insertion order.
func (r *Repository) Entries(ctx context.Context, taskID uint64) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, from_account, to_account, entry_type, amount, created_at
		FROM ledger_entries WHERE task_id = $1 ORDER BY seq ASC
	`, int64(taskID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var tid int64
		if err := rows.Scan(&e.ID, &tid, &e.From, &e.To, &e.EntryType, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TaskID = uint64(tid)
		list = append(list, &e)
	}
	return list, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) TransferFrom(ctx context.Context, from, to string, amount int64, memo Memo) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	// Journal first: the unique (task_id, entry_type, to_account) key turns a replayed leg
	// into a no-op insert before any balance moves.
	result, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, task_id, from_account, to_account, entry_type, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, entry_type, to_account) DO NOTHING
	`, uuid.New(), int64(memo.TaskID), from, to, memo.EntryType, amount)
	if err != nil {
		return fmt.Errorf("%w: journal: %v", ErrTransferFailed, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d %s to %s", ErrDuplicateEntry, memo.TaskID, memo.EntryType, to)
	}
	result, err = t.tx.Exec(ctx, `
		UPDATE custody_accounts SET balance = balance - $1, updated_at = now()
		WHERE id = $2 AND balance >= $1
	`, amount, from)
	if err != nil {
		return fmt.Errorf("%w: debit %s: %v", ErrTransferFailed, from, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO custody_accounts (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = custody_accounts.balance + EXCLUDED.balance, updated_at = now()
	`, to, amount)
	if err != nil {
		return fmt.Errorf("%w: credit %s: %v", ErrTransferFailed, to, err)
	}
	return nil
}

func (t *pgTx) Transfer(ctx context.Context, to string, amount int64, memo Memo) error {
	return t.TransferFrom(ctx, models.EscrowAccount, to, amount, memo)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
