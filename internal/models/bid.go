package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid status enums.
const (
	BidStatusPending   = "pending"
	BidStatusAccepted  = "accepted"
	BidStatusRejected  = "rejected"
	BidStatusWithdrawn = "withdrawn"
)

type Bid struct {
	Freelancer        string          `json:"freelancer"`
	TaskID            uint64          `json:"task_id"`
	ProposedPrice     decimal.Decimal `json:"proposed_price"`
	Proposal          string          `json:"proposal"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	Status            string          `json:"status"`
}
