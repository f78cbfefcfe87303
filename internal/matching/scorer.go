// Package matching ranks candidate freelancers against a task profile with a fixed,
// deterministic heuristic. Results are advisory: they never change task state.
package matching

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gigvault/backend/internal/models"
)

const (
	// MinScore drops weak candidates from every ranking.
	MinScore = 30.0
	// MaxResults caps a ranking fed back into bid acceptance.
	MaxResults = 10

	experienceSaturation = 50
	urgencyBonus         = 10.0
	urgentResponse       = 2 * time.Hour
	neutralBudgetScore   = 50.0
	neutralResponseScore = 50.0
)

// Sub-score weights; they sum to 100 so the weighted sum is itself on a 0-100 scale.
const (
	weightSkills     = 35.0
	weightReputation = 20.0
	weightExperience = 15.0
	weightSuccess    = 15.0
	weightResponse   = 10.0
	weightBudget     = 5.0
)

// theoreticalMax is a perfect weighted sum plus the urgency bonus.
const theoreticalMax = weightSkills + weightReputation + weightExperience + weightSuccess + weightResponse + weightBudget + urgencyBonus

// TaskProfile is the part of a task the scorer reads.
type TaskProfile struct {
	Client         string
	RequiredSkills []string
	BudgetUSD      decimal.Decimal
	Deadline       time.Time
	IsUrgent       bool
}

// Breakdown exposes every sub-score for one candidate (0-100 each).
type Breakdown struct {
	Skills     float64 `json:"skills" yaml:"skills"`
	Reputation float64 `json:"reputation" yaml:"reputation"`
	Experience float64 `json:"experience" yaml:"experience"`
	Success    float64 `json:"success" yaml:"success"`
	Response   float64 `json:"response" yaml:"response"`
	Budget     float64 `json:"budget" yaml:"budget"`
	Urgency    float64 `json:"urgency" yaml:"urgency"`
}

// Score rates one candidate. It is pure: same inputs, same result.
func Score(task TaskProfile, candidate *models.User, now time.Time) models.MatchResult {
	b, matched := breakdown(task, candidate)
	return models.MatchResult{
		Freelancer:          candidate.Address,
		Score:               total(b),
		MatchingSkills:      matched,
		EstimatedCompletion: estimateCompletion(task, candidate, now),
	}
}

// Explain returns the sub-scores behind Score.
func Explain(task TaskProfile, candidate *models.User) Breakdown {
	b, _ := breakdown(task, candidate)
	return b
}

func breakdown(task TaskProfile, c *models.User) (Breakdown, []string) {
	skills, matched := skillScore(models.NormalizeSkills(task.RequiredSkills), models.NormalizeSkills(c.Skills))
	b := Breakdown{
		Skills:     skills,
		Reputation: clamp(float64(c.Reputation), 0, 100),
		Experience: experienceScore(c.CompletedTasks),
		Success:    clamp(c.Work.SuccessRate, 0, 100),
		Response:   responseScore(c.Work.AvgResponse),
		Budget:     budgetScore(task.BudgetUSD, c.Work.AvgBudgetUSD),
	}
	if task.IsUrgent && c.Work.AvgResponse > 0 && c.Work.AvgResponse <= urgentResponse {
		b.Urgency = urgencyBonus
	}
	return b, matched
}

func total(b Breakdown) float64 {
	sum := b.Skills*weightSkills/100 +
		b.Reputation*weightReputation/100 +
		b.Experience*weightExperience/100 +
		b.Success*weightSuccess/100 +
		b.Response*weightResponse/100 +
		b.Budget*weightBudget/100 +
		b.Urgency
	return round2(clamp(sum*100/theoreticalMax, 0, 100))
}

// skillScore gives full credit for an exact skill, half for a synonym or same-category skill,
// normalized by the number of required skills.
func skillScore(required, have []string) (float64, []string) {
	if len(required) == 0 {
		return 0, nil
	}
	owned := make(map[string]bool, len(have))
	for _, s := range have {
		owned[s] = true
	}
	var credit float64
	matched := make([]string, 0, len(required))
	for _, r := range required {
		if owned[r] {
			credit++
			matched = append(matched, r)
			continue
		}
		for _, s := range have {
			if related(r, s) {
				credit += 0.5
				matched = append(matched, r)
				break
			}
		}
	}
	return credit / float64(len(required)) * 100, matched
}

// experienceScore grows logarithmically and saturates at experienceSaturation tasks.
func experienceScore(completed int) float64 {
	if completed <= 0 {
		return 0
	}
	if completed >= experienceSaturation {
		return 100
	}
	return 100 * math.Log1p(float64(completed)) / math.Log1p(experienceSaturation)
}

// responseScore buckets the average response time. Zero means no history yet.
func responseScore(avg time.Duration) float64 {
	switch {
	case avg <= 0:
		return neutralResponseScore
	case avg <= time.Hour:
		return 100
	case avg <= 4*time.Hour:
		return 80
	case avg <= 12*time.Hour:
		return 60
	case avg <= 24*time.Hour:
		return 40
	case avg <= 48*time.Hour:
		return 30
	default:
		return 20
	}
}

// budgetScore is the symmetric ratio min(task/avg, avg/task)*100.
func budgetScore(taskBudget, avgBudget decimal.Decimal) float64 {
	if !taskBudget.IsPositive() || !avgBudget.IsPositive() {
		return neutralBudgetScore
	}
	t := taskBudget.InexactFloat64()
	a := avgBudget.InexactFloat64()
	return math.Min(t/a, a/t) * 100
}

func estimateCompletion(task TaskProfile, c *models.User, now time.Time) time.Time {
	if c.Work.AvgDelivery <= 0 {
		return task.Deadline
	}
	eta := now.Add(c.Work.AvgDelivery)
	if !task.Deadline.IsZero() && eta.After(task.Deadline) {
		return task.Deadline
	}
	return eta
}

// Rank scores candidates, drops those under MinScore and the client, sorts by score
// descending (stable, so ties keep input order) and caps the list at limit.
func Rank(task TaskProfile, candidates []*models.User, limit int, now time.Time) []models.MatchResult {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}
	results := make([]models.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Address == task.Client {
			continue
		}
		m := Score(task, c, now)
		if m.Score < MinScore {
			continue
		}
		results = append(results, m)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
