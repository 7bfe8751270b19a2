package skilltree

import (
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/xp"
)

// Engine recomputes skill progression against a fixed tree. It performs no
// I/O and never modifies the tree.
type Engine struct {
	tree  *Tree
	bands MasteryBands
}

// NewEngine creates an engine; bands must already be validated
func NewEngine(tree *Tree, bands MasteryBands) *Engine {
	return &Engine{tree: tree, bands: bands}
}

// Tree returns the node definitions the engine evaluates
func (e *Engine) Tree() *Tree {
	return e.tree
}

// Bands returns the configured mastery bands
func (e *Engine) Bands() MasteryBands {
	return e.bands
}

// Recompute derives the new skill state for a user holding totalXP.
//
// Nodes are visited in (tier, id) order. A node unlocks when the running total
// meets its XP requirement, all prerequisites are unlocked and, for triggers
// other than xp, it has been granted. Unlock bonuses are added to the running
// total immediately, so the walk repeats until nothing new unlocks. Nodes
// unlocked in prior stay unlocked and never grant their bonus again.
//
// credits are added to the per-skill XP of skills that are unlocked after the
// walk; credits for locked or unknown skills are dropped.
func (e *Engine) Recompute(userID string, totalXP int64, prior map[string]models.SkillState, credits map[string]int64) models.SkillProgressionState {
	if totalXP < 0 {
		totalXP = 0
	}
	skills := copySkills(prior)
	state := models.SkillProgressionState{UserID: userID}

	total := totalXP
	for changed := true; changed; {
		changed = false
		for _, n := range e.tree.nodes {
			st := skillOf(skills, n.ID)
			if st.Unlocked || !e.eligible(n, st, total, skills) {
				continue
			}
			st.Unlocked = true
			st.Active = true
			skills[n.ID] = st

			total = xp.AddXP(total, n.XPBonus)
			state.BonusXP += n.XPBonus
			state.BonusPoints += n.PointsBonus
			state.NewlyUnlocked = append(state.NewlyUnlocked, n.ID)
			changed = true
		}
	}

	for id, amount := range credits {
		st, ok := skills[id]
		if !ok || !st.Unlocked || amount <= 0 {
			continue
		}
		st.SkillXP = xp.AddXP(st.SkillXP, amount)
		skills[id] = st
	}

	state.TotalXP = total
	e.finish(&state, skills)
	return state
}

// Summarize projects stored skill state without evaluating any unlocks
func (e *Engine) Summarize(userID string, totalXP int64, skills map[string]models.SkillState) models.SkillProgressionState {
	if totalXP < 0 {
		totalXP = 0
	}
	state := models.SkillProgressionState{UserID: userID, TotalXP: totalXP}
	e.finish(&state, copySkills(skills))
	return state
}

func (e *Engine) eligible(n models.SkillTreeNode, st models.SkillState, total int64, skills map[string]models.SkillState) bool {
	if total < n.XPRequirement {
		return false
	}
	if n.UnlockTrigger != models.TriggerXP && !st.Granted {
		return false
	}
	for _, req := range n.RequiresSkills {
		if !skills[req].Unlocked {
			return false
		}
	}
	return true
}

// finish normalizes skill flags, fills mastery and the derived counters
func (e *Engine) finish(state *models.SkillProgressionState, skills map[string]models.SkillState) {
	for id, st := range skills {
		st.SkillID = id
		if st.Unlocked {
			st.Mastery = e.bands.Level(st.SkillXP)
			state.UnlockedSkillCount++
			if st.Active {
				state.ActiveSkillCount++
			}
			if n, ok := e.tree.Node(id); ok && n.Tier > state.CurrentTier {
				state.CurrentTier = n.Tier
			}
		} else {
			st.Active = false
			st.Mastery = ""
		}
		skills[id] = st
	}
	state.Skills = skills
}

func skillOf(skills map[string]models.SkillState, id string) models.SkillState {
	if st, ok := skills[id]; ok {
		return st
	}
	return models.SkillState{SkillID: id}
}

func copySkills(in map[string]models.SkillState) map[string]models.SkillState {
	out := make(map[string]models.SkillState, len(in))
	for id, st := range in {
		out[id] = st
	}
	return out
}
