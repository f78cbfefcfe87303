package models

import (
	"time"

	"github.com/google/uuid"
)

// System custody accounts.
const (
	EscrowAccount   = "system:escrow"
	PlatformAccount = "system:platform"
)

// Ledger entry_type enums.
const (
	LedgerEntryEscrowLock    = "escrow_lock"
	LedgerEntryTaskEarning   = "task_earning"
	LedgerEntryPlatformFee   = "platform_fee"
	LedgerEntryStakeReturn   = "stake_return"
	LedgerEntryDisputePayout = "dispute_payout"
	LedgerEntryRefund        = "refund"
)

type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uint64    `json:"task_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	EntryType string    `json:"entry_type"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
