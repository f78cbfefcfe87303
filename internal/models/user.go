package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reputation bounds and the starting score for new users.
const (
	ReputationMin     = 1
	ReputationMax     = 100
	ReputationInitial = 50
)

type User struct {
	Address        string      `json:"address"`
	Skills         []string    `json:"skills"`
	Reputation     int         `json:"reputation"`
	CompletedTasks int         `json:"completed_tasks"`
	TotalEarned    int64       `json:"total_earned"`
	Verified       bool        `json:"verified"`
	JoinedAt       time.Time   `json:"joined_at"`
	ProfileRef     string      `json:"profile_ref,omitempty"`
	Work           WorkProfile `json:"work"`
}

// WorkProfile holds the track record the matching scorer reads.
type WorkProfile struct {
	SuccessRate  float64         `json:"success_rate"` // 0-100
	AvgResponse  time.Duration   `json:"avg_response"`
	AvgBudgetUSD decimal.Decimal `json:"avg_budget_usd"`
	AvgDelivery  time.Duration   `json:"avg_delivery"`
}

func (u *User) Clone() *User {
	cp := *u
	cp.Skills = append([]string(nil), u.Skills...)
	return &cp
}
