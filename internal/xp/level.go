// Package xp converts experience points into levels and review outcomes into XP gains.
//
// Both functions are part of the game-balance contract and must stay exact:
// reaching level L (L >= 2) requires 100*L*L total XP, and a completed analysis
// always grants at least one XP.
package xp

import "math"

// MaxLevel is the highest level modeled. Users at MaxLevel keep earning XP but
// report no further threshold.
const MaxLevel = 1000

const levelCurveFactor = 100

// LevelInfo describes where a total XP value sits on the level curve
type LevelInfo struct {
	Level          int   `json:"level"`
	CurrentLevelXP int64 `json:"current_level_xp"`
	NextLevelXP    int64 `json:"next_level_xp"`
	XPToNextLevel  int64 `json:"xp_to_next_level"`
}

// XPForLevel returns the total XP needed to reach level. Level 1 starts at 0.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := int64(level)
	return levelCurveFactor * l * l
}

// CalculateLevel maps total XP onto the quadratic level curve
func CalculateLevel(totalXP int64) LevelInfo {
	if totalXP < 0 {
		totalXP = 0
	}

	// Closed form first, then correct for float rounding at the boundaries.
	level := int(math.Sqrt(float64(totalXP) / levelCurveFactor))
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	for level > 1 && XPForLevel(level) > totalXP {
		level--
	}
	for level < MaxLevel && XPForLevel(level+1) <= totalXP {
		level++
	}

	current := XPForLevel(level)
	if level == MaxLevel {
		return LevelInfo{
			Level:          level,
			CurrentLevelXP: current,
			NextLevelXP:    current,
			XPToNextLevel:  0,
		}
	}

	next := XPForLevel(level + 1)
	return LevelInfo{
		Level:          level,
		CurrentLevelXP: current,
		NextLevelXP:    next,
		XPToNextLevel:  next - totalXP,
	}
}
