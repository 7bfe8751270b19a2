package skilltree

import (
	"progression-pipeline/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := NewTree([]models.SkillTreeNode{
		{ID: "basics", Tier: 1, XPRequirement: 0},
		{ID: "testing", Tier: 1, XPRequirement: 200, RequiresSkills: []string{"basics"}},
		{ID: "concurrency", Tier: 2, XPRequirement: 500, RequiresSkills: []string{"basics"}, XPBonus: 100, PointsBonus: 10},
		{ID: "profiling", Tier: 2, XPRequirement: 600, RequiresSkills: []string{"concurrency"}},
		{ID: "distributed", Tier: 3, XPRequirement: 1500, RequiresSkills: []string{"concurrency", "testing"}},
		{ID: "mentor", Tier: 3, XPRequirement: 1000, RequiresSkills: []string{"testing"}, UnlockTrigger: models.TriggerManager},
	})
	require.NoError(t, err)
	return tree
}

func unlockedIDs(state models.SkillProgressionState) map[string]bool {
	out := map[string]bool{}
	for id, st := range state.Skills {
		if st.Unlocked {
			out[id] = true
		}
	}
	return out
}

func TestRecompute_NoXP(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	state := e.Recompute("u1", 0, nil, nil)

	assert.Equal(t, map[string]bool{"basics": true}, unlockedIDs(state))
	assert.Equal(t, 1, state.CurrentTier)
	assert.Equal(t, 1, state.UnlockedSkillCount)
	assert.Equal(t, 1, state.ActiveSkillCount)
	assert.Equal(t, int64(0), state.TotalXP)
}

func TestRecompute_BonusFeedsSamePass(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	// 500 unlocks concurrency, whose 100 bonus lifts the total to 600 and unlocks profiling
	state := e.Recompute("u1", 500, nil, nil)

	assert.True(t, state.Skills["profiling"].Unlocked)
	assert.Equal(t, int64(600), state.TotalXP)
	assert.Equal(t, int64(100), state.BonusXP)
	assert.Equal(t, int64(10), state.BonusPoints)
	assert.Equal(t, []string{"basics", "testing", "concurrency", "profiling"}, state.NewlyUnlocked)
	assert.Equal(t, 2, state.CurrentTier)
}

func TestRecompute_BonusNotCompounded(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	first := e.Recompute("u1", 500, nil, nil)
	second := e.Recompute("u1", first.TotalXP, first.Skills, nil)

	assert.Equal(t, first.TotalXP, second.TotalXP)
	assert.Zero(t, second.BonusXP)
	assert.Zero(t, second.BonusPoints)
	assert.Empty(t, second.NewlyUnlocked)
}

func TestRecompute_PrerequisitesRequired(t *testing.T) {
	tree, err := NewTree([]models.SkillTreeNode{
		{ID: "quest-intro", Tier: 1, UnlockTrigger: models.TriggerQuest},
		{ID: "follow-up", Tier: 2, XPRequirement: 0, RequiresSkills: []string{"quest-intro"}},
	})
	require.NoError(t, err)
	e := NewEngine(tree, DefaultMasteryBands())

	state := e.Recompute("u1", 10000, nil, nil)

	assert.False(t, state.Skills["follow-up"].Unlocked)
	assert.Equal(t, 0, state.CurrentTier)
	assert.Equal(t, 0, state.UnlockedSkillCount)
}

func TestRecompute_NonXPTriggerNeedsGrant(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	state := e.Recompute("u1", 5000, nil, nil)
	assert.False(t, state.Skills["mentor"].Unlocked)

	skills := state.Skills
	mentor := skills["mentor"]
	mentor.Granted = true
	skills["mentor"] = mentor

	state = e.Recompute("u1", state.TotalXP, skills, nil)
	assert.True(t, state.Skills["mentor"].Unlocked)
	assert.Equal(t, []string{"mentor"}, state.NewlyUnlocked)
}

func TestRecompute_GrantStillNeedsXP(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())
	prior := map[string]models.SkillState{"mentor": {SkillID: "mentor", Granted: true}}

	state := e.Recompute("u1", 300, prior, nil)

	assert.False(t, state.Skills["mentor"].Unlocked)
}

func TestRecompute_NeverRelocks(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())
	prior := map[string]models.SkillState{
		"distributed": {SkillID: "distributed", Unlocked: true, Active: true},
	}

	state := e.Recompute("u1", 0, prior, nil)

	assert.True(t, state.Skills["distributed"].Unlocked)
	assert.Equal(t, 3, state.CurrentTier)
}

func TestRecompute_Monotonic(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	var previous map[string]bool
	for total := int64(0); total <= 3000; total += 50 {
		current := unlockedIDs(e.Recompute("u1", total, nil, nil))
		for id := range previous {
			assert.True(t, current[id], "skill %s relocked at %d XP", id, total)
		}
		previous = current
	}
}

func TestRecompute_CreditsAndMastery(t *testing.T) {
	e := NewEngine(sampleTree(t), MasteryBands{IntermediateAt: 100, ExpertAt: 300})
	prior := map[string]models.SkillState{
		"basics": {SkillID: "basics", Unlocked: true, Active: true, SkillXP: 250},
	}

	state := e.Recompute("u1", 0, prior, map[string]int64{"basics": 60, "profiling": 500, "ghost": 10})

	assert.Equal(t, int64(310), state.Skills["basics"].SkillXP)
	assert.Equal(t, models.MasteryExpert, state.Skills["basics"].Mastery)
	_, hasProfiling := state.Skills["profiling"]
	assert.False(t, hasProfiling)
	_, hasGhost := state.Skills["ghost"]
	assert.False(t, hasGhost)
}

func TestRecompute_ActiveRequiresUnlocked(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())
	prior := map[string]models.SkillState{
		"profiling": {SkillID: "profiling", Active: true},
	}

	state := e.Recompute("u1", 0, prior, nil)

	assert.False(t, state.Skills["profiling"].Active)
	assert.Equal(t, state.UnlockedSkillCount, state.ActiveSkillCount)
}

func TestRecompute_DoesNotMutateInputs(t *testing.T) {
	tree := sampleTree(t)
	e := NewEngine(tree, DefaultMasteryBands())
	prior := map[string]models.SkillState{"basics": {SkillID: "basics", Unlocked: true, Active: true}}
	before := tree.Nodes()

	_ = e.Recompute("u1", 5000, prior, map[string]int64{"basics": 10})

	assert.Equal(t, before, tree.Nodes())
	assert.Len(t, prior, 1)
	assert.Equal(t, int64(0), prior["basics"].SkillXP)
}

func TestSummarize_DoesNotUnlock(t *testing.T) {
	e := NewEngine(sampleTree(t), DefaultMasteryBands())

	state := e.Summarize("u1", 10000, map[string]models.SkillState{
		"basics":  {Unlocked: true, Active: false, SkillXP: 600},
		"testing": {Unlocked: true, Active: true},
	})

	assert.Equal(t, 2, state.UnlockedSkillCount)
	assert.Equal(t, 1, state.ActiveSkillCount)
	assert.Equal(t, 1, state.CurrentTier)
	assert.Equal(t, models.MasteryIntermediate, state.Skills["basics"].Mastery)
	assert.Equal(t, "basics", state.Skills["basics"].SkillID)
	assert.Empty(t, state.NewlyUnlocked)
}

func TestMasteryBands(t *testing.T) {
	b := MasteryBands{IntermediateAt: 100, ExpertAt: 300}

	assert.Equal(t, models.MasteryBeginner, b.Level(99))
	assert.Equal(t, models.MasteryIntermediate, b.Level(100))
	assert.Equal(t, models.MasteryIntermediate, b.Level(299))
	assert.Equal(t, models.MasteryExpert, b.Level(300))

	assert.NoError(t, b.Validate())
	assert.Error(t, MasteryBands{IntermediateAt: 300, ExpertAt: 300}.Validate())
	assert.Error(t, MasteryBands{IntermediateAt: 0, ExpertAt: 300}.Validate())
}
