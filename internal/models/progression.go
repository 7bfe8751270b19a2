package models

// UnlockTrigger names what may unlock a skill tree node
type UnlockTrigger string

const (
	TriggerXP      UnlockTrigger = "xp"
	TriggerQuest   UnlockTrigger = "quest"
	TriggerBadge   UnlockTrigger = "badge"
	TriggerManager UnlockTrigger = "manager"
)

// SkillTreeNode is a node definition in the prerequisite graph
type SkillTreeNode struct {
	ID             string        `json:"id" yaml:"id" validate:"required"`
	Name           string        `json:"name,omitempty" yaml:"name"`
	Tier           int           `json:"tier" yaml:"tier" validate:"gte=1"`
	XPRequirement  int64         `json:"xp_requirement" yaml:"xp_requirement" validate:"gte=0"`
	RequiresSkills []string      `json:"requires_skills,omitempty" yaml:"requires_skills"`
	UnlockTrigger  UnlockTrigger `json:"unlock_trigger" yaml:"unlock_trigger" validate:"omitempty,oneof=xp quest badge manager"`
	XPBonus        int64         `json:"xp_bonus,omitempty" yaml:"xp_bonus" validate:"gte=0"`
	PointsBonus    int64         `json:"points_bonus,omitempty" yaml:"points_bonus" validate:"gte=0"`
}

// MasteryLevel is the coarse proficiency band of an unlocked skill
type MasteryLevel string

const (
	MasteryBeginner     MasteryLevel = "beginner"
	MasteryIntermediate MasteryLevel = "intermediate"
	MasteryExpert       MasteryLevel = "expert"
)

// SkillState is one user's state for one skill
type SkillState struct {
	SkillID  string       `json:"skill_id"`
	Unlocked bool         `json:"unlocked"`
	Active   bool         `json:"active"`
	Granted  bool         `json:"granted"`
	SkillXP  int64        `json:"skill_xp"`
	Mastery  MasteryLevel `json:"mastery,omitempty"`
}

// UserProgression is the persisted gamification state of one user.
// Level is never stored; it is derived from TotalXP on read.
type UserProgression struct {
	UserID       string                `json:"user_id"`
	TotalXP      int64                 `json:"total_xp"`
	Points       int64                 `json:"points"`
	GoalTitle    string                `json:"goal_title,omitempty"`
	GoalTargetXP int64                 `json:"goal_target_xp,omitempty"`
	Skills       map[string]SkillState `json:"skills"`
}

// Skill returns the state for id, or a zero state carrying the id
func (p *UserProgression) Skill(id string) SkillState {
	if s, ok := p.Skills[id]; ok {
		return s
	}
	return SkillState{SkillID: id}
}

// SkillProgressionState is the outcome of a skill tree recompute
type SkillProgressionState struct {
	UserID             string                `json:"user_id"`
	TotalXP            int64                 `json:"total_xp"`
	BonusXP            int64                 `json:"bonus_xp"`
	BonusPoints        int64                 `json:"bonus_points"`
	Skills             map[string]SkillState `json:"skills"`
	NewlyUnlocked      []string              `json:"newly_unlocked,omitempty"`
	CurrentTier        int                   `json:"current_tier"`
	UnlockedSkillCount int                   `json:"unlocked_skill_count"`
	ActiveSkillCount   int                   `json:"active_skill_count"`
}

// ProgressionDashboard is the read-only projection served to clients
type ProgressionDashboard struct {
	UserID             string                  `json:"user_id"`
	TotalXP            int64                   `json:"total_xp"`
	Level              int                     `json:"level"`
	CurrentLevelXP     int64                   `json:"current_level_xp"`
	NextLevelXP        int64                   `json:"next_level_xp"`
	XPToNextLevel      int64                   `json:"xp_to_next_level"`
	CurrentTier        int                     `json:"current_tier"`
	UnlockedSkillCount int                     `json:"unlocked_skill_count"`
	ActiveSkillCount   int                     `json:"active_skill_count"`
	Points             int64                   `json:"points"`
	Mastery            map[string]MasteryLevel `json:"mastery,omitempty"`
	GoalTitle          string                  `json:"goal_title,omitempty"`
	GoalTargetXP       int64                   `json:"goal_target_xp,omitempty"`
	GoalProgress       *int                    `json:"goal_progress,omitempty"`
}

// SetGoalRequest represents an operator request to set a user's goal
type SetGoalRequest struct {
	Title    string `json:"title" binding:"required"`
	TargetXP int64  `json:"target_xp" binding:"required,gt=0"`
}
