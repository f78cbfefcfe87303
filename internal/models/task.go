package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Task status enums.
const (
	TaskStatusOpen        = "open"
	TaskStatusAssigned    = "assigned"
	TaskStatusInProgress  = "in_progress"
	TaskStatusUnderReview = "under_review"
	TaskStatusCompleted   = "completed"
	TaskStatusDisputed    = "disputed"
	TaskStatusCancelled   = "cancelled"
)

// IsTerminal reports whether no further transition can leave status.
func IsTerminal(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusCancelled
}

// Disputable reports whether a dispute may be raised from status.
func Disputable(status string) bool {
	switch status {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusUnderReview:
		return true
	}
	return false
}

type Task struct {
	ID                 uint64          `json:"id"`
	Client             string          `json:"client"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	RequiredSkills     []string        `json:"required_skills"`
	BudgetUSD          decimal.Decimal `json:"budget_usd"`
	BudgetTokens       int64           `json:"budget_tokens"`
	ClientStake        int64           `json:"client_stake"`
	Escrowed           int64           `json:"escrowed"`
	Deadline           time.Time       `json:"deadline"`
	Status             string          `json:"status"`
	PreviousStatus     string          `json:"previous_status,omitempty"`
	SelectedFreelancer string          `json:"selected_freelancer,omitempty"`
	IsUrgent           bool            `json:"is_urgent"`
	Matches            []MatchResult   `json:"matches,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (t *Task) Clone() *Task {
	cp := *t
	cp.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	if t.Matches != nil {
		cp.Matches = make([]MatchResult, len(t.Matches))
		for i, m := range t.Matches {
			cp.Matches[i] = m
			cp.Matches[i].MatchingSkills = append([]string(nil), m.MatchingSkills...)
		}
	}
	return &cp
}

// TotalEscrow is the amount locked at creation: budget plus the client's commitment bond.
func (t *Task) TotalEscrow() int64 {
	return t.BudgetTokens + t.ClientStake
}
