package models

import "time"

// RiskLevel classifies how risky a reviewed submission is
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SubScores holds the five named ratings of a review, each in [0,100].
// Pointers distinguish a missing score from a zero score.
type SubScores struct {
	Correctness   *float64 `json:"correctness" validate:"required,gte=0,lte=100"`
	CodeQuality   *float64 `json:"code_quality" validate:"required,gte=0,lte=100"`
	Completeness  *float64 `json:"completeness" validate:"required,gte=0,lte=100"`
	Efficiency    *float64 `json:"efficiency" validate:"required,gte=0,lte=100"`
	BestPractices *float64 `json:"best_practices" validate:"required,gte=0,lte=100"`
}

// Values returns the present sub-scores in a fixed order
func (s SubScores) Values() []float64 {
	var out []float64
	for _, v := range []*float64{s.Correctness, s.CodeQuality, s.Completeness, s.Efficiency, s.BestPractices} {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// ReviewResult is the AI reviewer's judgment of one submission
type ReviewResult struct {
	Scores   SubScores `json:"scores"`
	Risk     RiskLevel `json:"risk" validate:"required,oneof=low medium high"`
	Feedback string    `json:"feedback"`
}

// Submission is the intake record a job refers to
type Submission struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	BaseXP    int64     `json:"base_xp"`
	SkillIDs  []string  `json:"skill_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxBaseXP bounds the base XP of a single submission
const MaxBaseXP int64 = 1_000_000

// CreateSubmissionRequest represents a request to create a submission
type CreateSubmissionRequest struct {
	UserID        string   `json:"user_id" binding:"required"`
	Content       string   `json:"content" binding:"required"`
	BaseXP        *int64   `json:"base_xp,omitempty" binding:"omitempty,gte=0,lte=1000000"`
	SkillIDs      []string `json:"skill_ids,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}
