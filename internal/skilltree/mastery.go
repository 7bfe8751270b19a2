package skilltree

import (
	"fmt"
	"progression-pipeline/internal/models"
)

// MasteryBands are the per-skill XP thresholds for the mastery levels.
// Below IntermediateAt is beginner, below ExpertAt is intermediate.
type MasteryBands struct {
	IntermediateAt int64 `yaml:"intermediate_at"`
	ExpertAt       int64 `yaml:"expert_at"`
}

// DefaultMasteryBands returns the bands used when none are configured
func DefaultMasteryBands() MasteryBands {
	return MasteryBands{IntermediateAt: 500, ExpertAt: 2000}
}

// Validate checks that the bands are positive and strictly increasing
func (b MasteryBands) Validate() error {
	if b.IntermediateAt <= 0 {
		return fmt.Errorf("skilltree: intermediate threshold must be positive, got %d", b.IntermediateAt)
	}
	if b.ExpertAt <= b.IntermediateAt {
		return fmt.Errorf("skilltree: expert threshold %d must exceed intermediate threshold %d", b.ExpertAt, b.IntermediateAt)
	}
	return nil
}

// Level maps a per-skill XP accumulator onto a mastery band
func (b MasteryBands) Level(skillXP int64) models.MasteryLevel {
	switch {
	case skillXP >= b.ExpertAt:
		return models.MasteryExpert
	case skillXP >= b.IntermediateAt:
		return models.MasteryIntermediate
	default:
		return models.MasteryBeginner
	}
}
