package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute winners.
const (
	PartyClient     = "client"
	PartyFreelancer = "freelancer"
)

type Dispute struct {
	ID         uuid.UUID       `json:"id"`
	TaskID     uint64          `json:"task_id"`
	Initiator  string          `json:"initiator"`
	Reason     string          `json:"reason"`
	Status     string          `json:"status"`
	Arbitrator string          `json:"arbitrator"`
	Outcome    *DisputeOutcome `json:"outcome,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// DisputeOutcome records how the escrowed total was split.
type DisputeOutcome struct {
	Winner           string `json:"winner,omitempty"`
	ClientAmount     int64  `json:"client_amount"`
	FreelancerAmount int64  `json:"freelancer_amount"`
	Automatic        bool   `json:"automatic"`
}

func (d *Dispute) Clone() *Dispute {
	cp := *d
	if d.Outcome != nil {
		o := *d.Outcome
		cp.Outcome = &o
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
