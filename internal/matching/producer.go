package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/gigvault/backend/internal/models"
)

// CandidateSource lists the freelancers eligible for matching.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]*models.User, error)
}

// Producer proposes candidates for a task from a CandidateSource.
type Producer struct {
	Source CandidateSource
	Limit  int
	Now    func() time.Time
}

// NewProducer returns a Producer capped at MaxResults.
func NewProducer(source CandidateSource) *Producer {
	return &Producer{Source: source, Limit: MaxResults, Now: time.Now}
}

// Propose ranks every candidate against task.
func (p *Producer) Propose(ctx context.Context, task TaskProfile) ([]models.MatchResult, error) {
	candidates, err := p.Source.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Rank(task, candidates, p.Limit, now()), nil
}
