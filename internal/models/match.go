package models

import "time"

// MatchResult is a scored candidate for a task. Derived, never authoritative.
type MatchResult struct {
	Freelancer          string    `json:"freelancer" yaml:"freelancer"`
	Score               float64   `json:"score" yaml:"score"`
	MatchingSkills      []string  `json:"matching_skills" yaml:"matching_skills"`
	EstimatedCompletion time.Time `json:"estimated_completion" yaml:"estimated_completion"`
}
