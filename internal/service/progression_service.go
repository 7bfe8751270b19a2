package service

import (
	"context"
	"errors"
	"fmt"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/skilltree"
	"progression-pipeline/internal/xp"
	"strings"
)

var (
	ErrUnknownSkill      = errors.New("unknown skill")
	ErrSkillLocked       = errors.New("skill is not unlocked")
	ErrSkillNotGrantable = errors.New("skill unlocks from xp and cannot be granted")
	ErrInvalidGoal       = errors.New("goal needs a title and a positive target xp")
)

// ProgressionOutcome describes what one reviewed submission changed
type ProgressionOutcome struct {
	XPGained      int64
	BonusXP       int64
	BonusPoints   int64
	NewlyUnlocked []string
	Level         xp.LevelInfo
	Progression   *models.UserProgression
}

// ProgressionService applies XP and skill tree changes to user progression
type ProgressionService struct {
	repo   repository.ProgressionRepository
	engine *skilltree.Engine
	log    *logger.Logger
}

// NewProgressionService creates a new progression service
func NewProgressionService(repo repository.ProgressionRepository, engine *skilltree.Engine, log *logger.Logger) *ProgressionService {
	return &ProgressionService{
		repo:   repo,
		engine: engine,
		log:    log.With("service", "ProgressionService"),
	}
}

// ApplyReview awards the XP for a reviewed submission and re-evaluates the
// skill tree, at most once per job. A replay returns repository.ErrAlreadyApplied.
func (s *ProgressionService) ApplyReview(ctx context.Context, jobID string, sub *models.Submission, result *models.ReviewResult) (*ProgressionOutcome, error) {
	if result == nil {
		return nil, fmt.Errorf("apply review for job %s: no review result", jobID)
	}

	gain := xp.CalculateXPGain(sub.BaseXP, result.Scores.Values(), result.Risk)
	credits := make(map[string]int64, len(sub.SkillIDs))
	for _, id := range sub.SkillIDs {
		credits[strings.TrimSpace(id)] = gain
	}

	outcome := &ProgressionOutcome{XPGained: gain}
	mutation := repository.ProgressionMutation{JobID: jobID, UserID: sub.UserID, XPDelta: gain}

	p, err := s.repo.ApplyProgressionMutation(ctx, mutation, func(current *models.UserProgression) (*models.UserProgression, error) {
		state := s.engine.Recompute(current.UserID, xp.AddXP(current.TotalXP, gain), current.Skills, credits)

		current.TotalXP = state.TotalXP
		current.Points += state.BonusPoints
		current.Skills = state.Skills

		outcome.BonusXP = state.BonusXP
		outcome.BonusPoints = state.BonusPoints
		outcome.NewlyUnlocked = state.NewlyUnlocked
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	outcome.Progression = p
	outcome.Level = xp.CalculateLevel(p.TotalXP)

	s.log.Info("progression applied",
		"job_id", jobID,
		"user_id", sub.UserID,
		"xp_gained", gain,
		"bonus_xp", outcome.BonusXP,
		"total_xp", p.TotalXP,
		"level", outcome.Level.Level,
		"newly_unlocked", outcome.NewlyUnlocked,
	)
	return outcome, nil
}

// Dashboard returns the read-only progression projection of a user.
// Users who never participated get the zero state at level 1.
func (s *ProgressionService) Dashboard(ctx context.Context, userID string) (*models.ProgressionDashboard, error) {
	p, err := s.repo.GetProgression(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to load progression: %w", err)
		}
		p = &models.UserProgression{UserID: userID, Skills: map[string]models.SkillState{}}
	}

	level := xp.CalculateLevel(p.TotalXP)
	summary := s.engine.Summarize(userID, p.TotalXP, p.Skills)

	dash := &models.ProgressionDashboard{
		UserID:             userID,
		TotalXP:            p.TotalXP,
		Level:              level.Level,
		CurrentLevelXP:     level.CurrentLevelXP,
		NextLevelXP:        level.NextLevelXP,
		XPToNextLevel:      level.XPToNextLevel,
		CurrentTier:        summary.CurrentTier,
		UnlockedSkillCount: summary.UnlockedSkillCount,
		ActiveSkillCount:   summary.ActiveSkillCount,
		Points:             p.Points,
		GoalTitle:          p.GoalTitle,
		GoalTargetXP:       p.GoalTargetXP,
	}

	for id, st := range summary.Skills {
		if !st.Unlocked {
			continue
		}
		if dash.Mastery == nil {
			dash.Mastery = make(map[string]models.MasteryLevel)
		}
		dash.Mastery[id] = st.Mastery
	}

	if p.GoalTargetXP > 0 {
		progress := 100
		if p.TotalXP < p.GoalTargetXP {
			progress = int(p.TotalXP * 100 / p.GoalTargetXP)
		}
		dash.GoalProgress = &progress
	}

	return dash, nil
}

// GrantSkill records a quest, badge or manager grant and unlocks the skill
// when its other conditions already hold
func (s *ProgressionService) GrantSkill(ctx context.Context, userID, skillID string) (*models.SkillProgressionState, error) {
	node, ok := s.engine.Tree().Node(skillID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, skillID)
	}
	if node.UnlockTrigger == models.TriggerXP {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotGrantable, skillID)
	}

	var state models.SkillProgressionState
	_, err := s.repo.UpdateProgression(ctx, userID, func(current *models.UserProgression) (*models.UserProgression, error) {
		skill := current.Skill(skillID)
		skill.Granted = true
		current.Skills[skillID] = skill

		state = s.engine.Recompute(current.UserID, current.TotalXP, current.Skills, nil)
		current.TotalXP = state.TotalXP
		current.Points += state.BonusPoints
		current.Skills = state.Skills
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("skill granted", "user_id", userID, "skill_id", skillID, "unlocked", state.Skills[skillID].Unlocked)
	return &state, nil
}

// ActivateSkill marks an unlocked skill active
func (s *ProgressionService) ActivateSkill(ctx context.Context, userID, skillID string) (*models.SkillState, error) {
	return s.setActive(ctx, userID, skillID, true)
}

// DeactivateSkill marks a skill inactive. It stays unlocked.
func (s *ProgressionService) DeactivateSkill(ctx context.Context, userID, skillID string) (*models.SkillState, error) {
	return s.setActive(ctx, userID, skillID, false)
}

func (s *ProgressionService) setActive(ctx context.Context, userID, skillID string, active bool) (*models.SkillState, error) {
	if _, ok := s.engine.Tree().Node(skillID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, skillID)
	}

	var updated models.SkillState
	_, err := s.repo.UpdateProgression(ctx, userID, func(current *models.UserProgression) (*models.UserProgression, error) {
		skill := current.Skill(skillID)
		if active && !skill.Unlocked {
			return nil, fmt.Errorf("%w: %s", ErrSkillLocked, skillID)
		}
		skill.Active = active && skill.Unlocked
		current.Skills[skillID] = skill
		updated = skill
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	updated.Mastery = s.engine.Bands().Level(updated.SkillXP)
	return &updated, nil
}

// SetGoal stores the user's XP goal
func (s *ProgressionService) SetGoal(ctx context.Context, userID string, req *models.SetGoalRequest) (*models.ProgressionDashboard, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || req.TargetXP <= 0 {
		return nil, ErrInvalidGoal
	}

	_, err := s.repo.UpdateProgression(ctx, userID, func(current *models.UserProgression) (*models.UserProgression, error) {
		current.GoalTitle = title
		current.GoalTargetXP = req.TargetXP
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	return s.Dashboard(ctx, userID)
}
