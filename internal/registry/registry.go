package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gigvault/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrInvalidInput      = errors.New("invalid user input")
)

const (
	reputationStep    = 5
	reputationCeiling = 95
	reputationFloor   = 5
)

// Registry tracks participants, their skills, verification and reputation. Users are never deleted.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	verifier string
	now      func() time.Time
}

// New returns an empty registry. verifier is the only identity allowed to mark users verified.
func New(verifier string) *Registry {
	return &Registry{
		users:    make(map[string]*models.User),
		verifier: verifier,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for joinedAt.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) RegisterUser(_ context.Context, address string, skills []string, profileRef string) (*models.User, error) {
	address = strings.TrimSpace(address)
	if address == "" || strings.HasPrefix(address, "system:") {
		return nil, fmt.Errorf("%w: address %q", ErrInvalidInput, address)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[address]; ok {
		return nil, ErrAlreadyRegistered
	}
	u := &models.User{
		Address:    address,
		Skills:     models.NormalizeSkills(skills),
		Reputation: models.ReputationInitial,
		JoinedAt:   r.now().UTC(),
		ProfileRef: profileRef,
	}
	r.users[address] = u
	return u.Clone(), nil
}

func (r *Registry) UpdateSkills(_ context.Context, address string, skills []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[address]
	if !ok {
		return ErrNotFound
	}
	u.Skills = models.NormalizeSkills(skills)
	return nil
}

// UpdateProfile replaces the work track record used by matching.
func (r *Registry) UpdateProfile(_ context.Context, address string, p models.WorkProfile) error {
	if p.SuccessRate < 0 || p.AvgResponse < 0 || p.AvgDelivery < 0 || p.AvgBudgetUSD.IsNegative() {
		return fmt.Errorf("%w: negative profile field", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[address]
	if !ok {
		return ErrNotFound
	}
	u.Work = p
	return nil
}

func (r *Registry) Verify(_ context.Context, caller models.Caller, address string) error {
	if r.verifier == "" || caller.ID != r.verifier {
		return ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[address]
	if !ok {
		return ErrNotFound
	}
	u.Verified = true
	return nil
}

func (r *Registry) IsRegistered(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[address]
	return ok
}

func (r *Registry) GetUser(_ context.Context, address string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[address]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

// Candidates returns every registered user ordered by join time, then address.
func (r *Registry) Candidates(_ context.Context) ([]*models.User, error) {
	r.mu.RLock()
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// UpdateReputation moves a user's reputation by one step and returns the new value.
// Near the bounds it snaps to them instead of stepping.
func (r *Registry) UpdateReputation(address string, positive bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[address]
	if !ok {
		return 0, ErrNotFound
	}
	u.Reputation = nextReputation(u.Reputation, positive)
	return u.Reputation, nil
}

func nextReputation(current int, positive bool) int {
	if positive {
		if current >= reputationCeiling {
			return models.ReputationMax
		}
		return min(current+reputationStep, models.ReputationMax)
	}
	if current <= reputationFloor {
		return models.ReputationMin
	}
	return max(current-reputationStep, models.ReputationMin)
}

// UpdateTaskStats records a successfully completed task. Dispute payouts never call this.
func (r *Registry) UpdateTaskStats(address string, payment int64) error {
	if payment < 0 {
		return fmt.Errorf("%w: negative payment", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[address]
	if !ok {
		return ErrNotFound
	}
	u.CompletedTasks++
	u.TotalEarned += payment
	return nil
}

// Snapshot copies every user for persistence.
func (r *Registry) Snapshot() []*models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Restore replaces the registry contents with users.
func (r *Registry) Restore(users []*models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]*models.User, len(users))
	for _, u := range users {
		r.users[u.Address] = u.Clone()
	}
}
