package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gigvault/backend/internal/matching"
	"github.com/gigvault/backend/internal/models"
)

var scoreExplain bool

var scoreCmd = &cobra.Command{
	Use:   "score [file.yaml]",
	Short: "Rank candidates for a task described in YAML",
	Long: `Reads a task and its candidates from a YAML file (or stdin with "-") and prints
the ranked match results the engine would be offered.`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreExplain, "explain", false, "include the per-component breakdown")
}

type scoreInput struct {
	Task struct {
		Client         string    `yaml:"client"`
		RequiredSkills []string  `yaml:"required_skills"`
		BudgetUSD      string    `yaml:"budget_usd"`
		Deadline       time.Time `yaml:"deadline"`
		Urgent         bool      `yaml:"urgent"`
	} `yaml:"task"`
	Now        time.Time        `yaml:"now"`
	Limit      int              `yaml:"limit"`
	Candidates []scoreCandidate `yaml:"candidates"`
}

type scoreCandidate struct {
	Address        string        `yaml:"address"`
	Skills         []string      `yaml:"skills"`
	Reputation     int           `yaml:"reputation"`
	CompletedTasks int           `yaml:"completed_tasks"`
	SuccessRate    float64       `yaml:"success_rate"`
	AvgResponse    time.Duration `yaml:"avg_response"`
	AvgBudgetUSD   string        `yaml:"avg_budget_usd"`
	AvgDelivery    time.Duration `yaml:"avg_delivery"`
}

type scoreOutput struct {
	Matches   []models.MatchResult          `yaml:"matches"`
	Breakdown map[string]matching.Breakdown `yaml:"breakdown,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var in scoreInput
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("parse score input: %w", err)
	}

	task, err := in.profile()
	if err != nil {
		return err
	}
	users := make([]*models.User, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		u, err := c.user()
		if err != nil {
			return err
		}
		users = append(users, u)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := scoreOutput{Matches: matching.Rank(task, users, in.Limit, now)}
	if scoreExplain {
		out.Breakdown = make(map[string]matching.Breakdown, len(out.Matches))
		byAddr := make(map[string]*models.User, len(users))
		for _, u := range users {
			byAddr[u.Address] = u
		}
		for _, m := range out.Matches {
			out.Breakdown[m.Freelancer] = matching.Explain(task, byAddr[m.Freelancer])
		}
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	return enc.Encode(out)
}

func (in scoreInput) profile() (matching.TaskProfile, error) {
	budget, err := parseUSD(in.Task.BudgetUSD)
	if err != nil {
		return matching.TaskProfile{}, fmt.Errorf("task budget: %w", err)
	}
	return matching.TaskProfile{
		Client:         in.Task.Client,
		RequiredSkills: models.NormalizeSkills(in.Task.RequiredSkills),
		BudgetUSD:      budget,
		Deadline:       in.Task.Deadline,
		IsUrgent:       in.Task.Urgent,
	}, nil
}

func (c scoreCandidate) user() (*models.User, error) {
	avg, err := parseUSD(c.AvgBudgetUSD)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", c.Address, err)
	}
	return &models.User{
		Address:        c.Address,
		Skills:         models.NormalizeSkills(c.Skills),
		Reputation:     c.Reputation,
		CompletedTasks: c.CompletedTasks,
		Work: models.WorkProfile{
			SuccessRate:  c.SuccessRate,
			AvgResponse:  c.AvgResponse,
			AvgBudgetUSD: avg,
			AvgDelivery:  c.AvgDelivery,
		},
	}, nil
}

func parseUSD(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
