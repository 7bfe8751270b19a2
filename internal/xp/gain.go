package xp

import (
	"math"
	"progression-pipeline/internal/models"
)

const (
	highScoreThreshold = 80
	lowScoreThreshold  = 50

	highScoreMultiplier = 1.5
	lowScoreMultiplier  = 0.8

	highRiskMultiplier   = 1.3
	mediumRiskMultiplier = 1.1
)

// MinGain is the floor applied to every XP gain
const MinGain = 1

// ScoreMultiplier returns the modifier for the mean of scores.
// No scores means no modifier.
func ScoreMultiplier(scores []float64) float64 {
	if len(scores) == 0 {
		return 1
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	switch {
	case avg >= highScoreThreshold:
		return highScoreMultiplier
	case avg < lowScoreThreshold:
		return lowScoreMultiplier
	default:
		return 1
	}
}

// RiskMultiplier returns the modifier for a risk classification
func RiskMultiplier(risk models.RiskLevel) float64 {
	switch risk {
	case models.RiskHigh:
		return highRiskMultiplier
	case models.RiskMedium:
		return mediumRiskMultiplier
	default:
		return 1
	}
}

// AddXP adds a non-negative delta to total, saturating at math.MaxInt64
func AddXP(total, delta int64) int64 {
	if delta > 0 && total > math.MaxInt64-delta {
		return math.MaxInt64
	}
	return total + delta
}

// CalculateXPGain converts a review outcome into an XP delta. The score
// modifier is applied before the risk modifier, the product is rounded to the
// nearest integer and floored at MinGain.
func CalculateXPGain(baseXP int64, scores []float64, risk models.RiskLevel) int64 {
	if baseXP < 0 {
		baseXP = 0
	}
	gain := float64(baseXP)
	gain *= ScoreMultiplier(scores)
	gain *= RiskMultiplier(risk)

	if gain >= math.MaxInt64 {
		return math.MaxInt64
	}
	rounded := int64(math.Round(gain))
	if rounded < MinGain {
		return MinGain
	}
	return rounded
}
