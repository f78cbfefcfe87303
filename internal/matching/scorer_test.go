package matching

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/gigvault/backend/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func makeUser(addr string, skills []string, rep, completed int, success float64, resp time.Duration, avgBudget int64) *models.User {
	return &models.User{
		Address:        addr,
		Skills:         skills,
		Reputation:     rep,
		CompletedTasks: completed,
		Work: models.WorkProfile{
			SuccessRate:  success,
			AvgResponse:  resp,
			AvgBudgetUSD: decimal.NewFromInt(avgBudget),
			AvgDelivery:  72 * time.Hour,
		},
	}
}

func profile(skills ...string) TaskProfile {
	return TaskProfile{
		Client:         "client",
		RequiredSkills: skills,
		BudgetUSD:      decimal.NewFromInt(100),
		Deadline:       testNow.Add(30 * 24 * time.Hour),
	}
}

type staticSource []*models.User

func (s staticSource) Candidates(context.Context) ([]*models.User, error) { return s, nil }

// ---------------------------------------------------------------------------
// 1. Sub-scores
// ---------------------------------------------------------------------------

func TestSkillScore(t *testing.T) {
	tests := []struct {
		name        string
		required    []string
		have        []string
		wantScore   float64
		wantMatched []string
	}{
		{"exact", []string{"go", "solidity"}, []string{"go", "solidity"}, 100, []string{"go", "solidity"}},
		{"synonym is partial", []string{"go"}, []string{"golang"}, 50, []string{"go"}},
		{"category is partial", []string{"go", "solidity"}, []string{"rust", "solidity"}, 75, []string{"go", "solidity"}},
		{"none", []string{"go"}, []string{"figma"}, 0, []string{}},
		{"no requirements", nil, []string{"go"}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := skillScore(tt.required, tt.have)
			if got != tt.wantScore {
				t.Errorf("score: got %v, want %v", got, tt.wantScore)
			}
			if diff := cmp.Diff(tt.wantMatched, matched); diff != "" {
				t.Errorf("matched (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExperienceScore(t *testing.T) {
	if got := experienceScore(0); got != 0 {
		t.Errorf("0 tasks: got %v, want 0", got)
	}
	if got := experienceScore(50); got != 100 {
		t.Errorf("50 tasks: got %v, want 100", got)
	}
	if got := experienceScore(500); got != 100 {
		t.Errorf("500 tasks: got %v, want 100", got)
	}
	prev := 0.0
	for n := 1; n < 50; n++ {
		got := experienceScore(n)
		if got <= prev || got >= 100 {
			t.Fatalf("experienceScore(%d) = %v not strictly increasing below 100", n, got)
		}
		prev = got
	}
}

func TestResponseScore(t *testing.T) {
	tests := []struct {
		avg  time.Duration
		want float64
	}{
		{0, neutralResponseScore},
		{30 * time.Minute, 100},
		{time.Hour, 100},
		{3 * time.Hour, 80},
		{12 * time.Hour, 60},
		{20 * time.Hour, 40},
		{48 * time.Hour, 30},
		{72 * time.Hour, 20},
	}
	for _, tt := range tests {
		if got := responseScore(tt.avg); got != tt.want {
			t.Errorf("responseScore(%s) = %v, want %v", tt.avg, got, tt.want)
		}
	}
}

func TestBudgetScore_Symmetric(t *testing.T) {
	a := budgetScore(decimal.NewFromInt(100), decimal.NewFromInt(200))
	b := budgetScore(decimal.NewFromInt(200), decimal.NewFromInt(100))
	if a != 50 || b != 50 {
		t.Errorf("budget ratio: got %v and %v, want 50 and 50", a, b)
	}
	if got := budgetScore(decimal.NewFromInt(100), decimal.Zero); got != neutralBudgetScore {
		t.Errorf("unknown average: got %v, want %v", got, neutralBudgetScore)
	}
}

// ---------------------------------------------------------------------------
// 2. Whole-score properties
// ---------------------------------------------------------------------------

// A candidate with no response history neither outranks a fast responder nor earns the
// urgency bonus.
func TestScore_UnknownResponseIsNeutral(t *testing.T) {
	task := profile("go")
	task.IsUrgent = true
	fresh := makeUser("fresh", []string{"go"}, 50, 0, 0, 0, 100)
	fast := makeUser("fast", []string{"go"}, 50, 0, 0, time.Hour, 100)

	b := Explain(task, fresh)
	if b.Response != neutralResponseScore || b.Urgency != 0 {
		t.Errorf("unknown response: got response %v urgency %v, want %v and 0", b.Response, b.Urgency, neutralResponseScore)
	}
	if f, q := Score(task, fresh, testNow).Score, Score(task, fast, testNow).Score; f >= q {
		t.Errorf("unknown responder scored %v, one-hour responder %v", f, q)
	}
}

func TestScore_Bounds(t *testing.T) {
	perfect := makeUser("p", []string{"go"}, 100, 80, 100, 10*time.Minute, 100)
	task := profile("go")
	task.IsUrgent = true

	got := Score(task, perfect, testNow)
	if got.Score != 100 {
		t.Errorf("perfect urgent candidate: got %v, want 100", got.Score)
	}

	task.IsUrgent = false
	got = Score(task, perfect, testNow)
	want := round2(100 * 100 / theoreticalMax)
	if got.Score != want {
		t.Errorf("perfect non-urgent candidate: got %v, want %v", got.Score, want)
	}

	worst := makeUser("w", nil, 0, 0, 0, 100*time.Hour, 0)
	got = Score(task, worst, testNow)
	if got.Score < 0 || got.Score > 100 || math.IsNaN(got.Score) {
		t.Errorf("worst candidate out of bounds: %v", got.Score)
	}
}

// Zero matching skills still yields a valid score; below MinScore it is ranked out.
func TestRank_ZeroSkillCandidate(t *testing.T) {
	outsider := makeUser("outsider", []string{"figma"}, 10, 0, 0, 72*time.Hour, 0)
	task := profile("go", "solidity")

	m := Score(task, outsider, testNow)
	if m.Score < 0 || m.Score > 100 {
		t.Fatalf("score out of bounds: %v", m.Score)
	}
	if len(m.MatchingSkills) != 0 {
		t.Errorf("matching skills: got %v, want none", m.MatchingSkills)
	}
	if m.Score >= MinScore {
		t.Fatalf("fixture should score below %v, got %v", MinScore, m.Score)
	}
	if got := Rank(task, []*models.User{outsider}, 10, testNow); len(got) != 0 {
		t.Errorf("expected outsider excluded, got %+v", got)
	}
}

func TestRank_OrderTiesAndCap(t *testing.T) {
	task := profile("go")
	var users []*models.User
	for _, addr := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		users = append(users, makeUser(addr, []string{"go"}, 60, 10, 80, 3*time.Hour, 100))
	}
	users = append(users, makeUser("star", []string{"go"}, 100, 60, 100, 30*time.Minute, 100))
	users = append(users, makeUser("client", []string{"go"}, 100, 60, 100, 30*time.Minute, 100))

	got := Rank(task, users, 0, testNow)
	if len(got) != MaxResults {
		t.Fatalf("len: got %d, want %d", len(got), MaxResults)
	}
	if got[0].Freelancer != "star" {
		t.Errorf("first: got %s, want star", got[0].Freelancer)
	}
	for _, m := range got {
		if m.Freelancer == "client" {
			t.Fatal("the task client must never be proposed")
		}
	}
	// Equal scores keep input order.
	var order []string
	for _, m := range got[1:] {
		order = append(order, m.Freelancer)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}, order); diff != "" {
		t.Errorf("tie order (-want +got):\n%s", diff)
	}
}

func TestScore_Deterministic(t *testing.T) {
	u := makeUser("x", []string{"react", "golang"}, 72, 13, 91, 5*time.Hour, 140)
	task := profile("go", "typescript")
	first := Score(task, u, testNow)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, Score(task, u, testNow)); diff != "" {
			t.Fatalf("non-deterministic score (-first +now):\n%s", diff)
		}
	}
}

func TestEstimateCompletion_CappedAtDeadline(t *testing.T) {
	u := makeUser("slow", []string{"go"}, 50, 1, 50, time.Hour, 100)
	u.Work.AvgDelivery = 90 * 24 * time.Hour
	task := profile("go")
	if got := Score(task, u, testNow).EstimatedCompletion; !got.Equal(task.Deadline) {
		t.Errorf("eta: got %s, want deadline %s", got, task.Deadline)
	}
}

func TestProducer_Propose(t *testing.T) {
	src := staticSource{
		makeUser("good", []string{"go"}, 80, 20, 90, time.Hour, 100),
		makeUser("bad", []string{"figma"}, 5, 0, 0, 90*time.Hour, 0),
	}
	p := NewProducer(src)
	p.Now = func() time.Time { return testNow }

	got, err := p.Propose(context.Background(), profile("go"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(got) != 1 || got[0].Freelancer != "good" {
		t.Errorf("got %+v, want only good", got)
	}
}
