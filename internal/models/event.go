package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event kinds.
const (
	EventTaskCreated      = "task_created"
	EventBidSubmitted     = "bid_submitted"
	EventBidWithdrawn     = "bid_withdrawn"
	EventBidAccepted      = "bid_accepted"
	EventMatchesProposed  = "matches_proposed"
	EventWorkStarted      = "work_started"
	EventReviewRequested  = "review_requested"
	EventTaskCompleted    = "task_completed"
	EventDisputeCreated   = "dispute_created"
	EventDisputeResolved  = "dispute_resolved"
	EventDisputeAutoClose = "dispute_auto_resolved"
	EventTaskExpired      = "task_expired"
)

type Event struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uint64    `json:"task_id"`
	Kind       string    `json:"kind"`
	Actor      string    `json:"actor"`
	Amount     int64     `json:"amount,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
