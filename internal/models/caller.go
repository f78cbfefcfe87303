package models

// Caller roles.
const (
	RoleParticipant = "participant"
	RoleArbitrator  = "arbitrator"
	RoleKeeper      = "keeper"
)

// Caller is the authenticated identity an operation runs as.
type Caller struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}
