package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"progression-pipeline/internal/models"
	"time"
)

// CreateSubmission stores a new submission
func (r *SQLiteRepository) CreateSubmission(ctx context.Context, s *models.Submission) error {
	skillIDs := s.SkillIDs
	if skillIDs == nil {
		skillIDs = []string{}
	}
	encoded, err := json.Marshal(skillIDs)
	if err != nil {
		return fmt.Errorf("failed to encode skill ids: %w", err)
	}

	s.CreatedAt = r.now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO submissions (id, user_id, content, base_xp, skill_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Content, s.BaseXP, string(encoded), s.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by ID
func (r *SQLiteRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var s models.Submission
	var skillIDs string
	var createdAt int64

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, content, base_xp, skill_ids, created_at
		FROM submissions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Content, &s.BaseXP, &skillIDs, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	if err := json.Unmarshal([]byte(skillIDs), &s.SkillIDs); err != nil {
		return nil, fmt.Errorf("failed to decode skill ids of submission %s: %w", id, err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	return &s, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// GetProgression returns the stored progression of a user
func (r *SQLiteRepository) GetProgression(ctx context.Context, userID string) (*models.UserProgression, error) {
	p, err := loadProgression(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUserNotFound
	}
	return p, nil
}

// loadProgression returns nil without error when the user does not exist
func loadProgression(ctx context.Context, q queryer, userID string) (*models.UserProgression, error) {
	p := &models.UserProgression{UserID: userID, Skills: map[string]models.SkillState{}}
	var goalTitle sql.NullString
	var goalTarget sql.NullInt64

	err := q.QueryRowContext(ctx, `
		SELECT total_xp, points, goal_title, goal_target_xp
		FROM users WHERE user_id = ?`, userID).
		Scan(&p.TotalXP, &p.Points, &goalTitle, &goalTarget)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	p.GoalTitle = goalTitle.String
	p.GoalTargetXP = goalTarget.Int64

	rows, err := q.QueryContext(ctx, `
		SELECT skill_id, unlocked, active, granted, skill_xp
		FROM user_skills WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.SkillState
		if err := rows.Scan(&s.SkillID, &s.Unlocked, &s.Active, &s.Granted, &s.SkillXP); err != nil {
			return nil, fmt.Errorf("failed to scan user skill: %w", err)
		}
		p.Skills[s.SkillID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user skills: %w", err)
	}
	return p, nil
}

// ApplyProgressionMutation runs fn and writes its result in one transaction.
// The dedup row keyed by job id is inserted first, so a replayed job fails
// fast with ErrAlreadyApplied before any read or write.
func (r *SQLiteRepository) ApplyProgressionMutation(ctx context.Context, m ProgressionMutation, fn ProgressionFunc) (*models.UserProgression, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO progression_mutations (job_id, user_id, xp_delta, applied_at)
		VALUES (?, ?, ?, ?)`,
		m.JobID, m.UserID, m.XPDelta, r.now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) || isPrimaryKeyViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, fmt.Errorf("failed to record progression mutation: %w", err)
	}

	next, err := r.updateInTx(ctx, tx, m.UserID, fn)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return next, nil
}

// UpdateProgression runs fn against the current state and writes the result
func (r *SQLiteRepository) UpdateProgression(ctx context.Context, userID string, fn ProgressionFunc) (*models.UserProgression, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	next, err := r.updateInTx(ctx, tx, userID, fn)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return next, nil
}

func (r *SQLiteRepository) updateInTx(ctx context.Context, tx *sql.Tx, userID string, fn ProgressionFunc) (*models.UserProgression, error) {
	nowMs := r.now().UnixMilli()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (user_id, total_xp, points, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)`, userID, nowMs, nowMs); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	current, err := loadProgression(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	previousXP := current.TotalXP
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next.TotalXP < previousXP {
		return nil, fmt.Errorf("total xp of user %s would decrease from %d to %d", userID, previousXP, next.TotalXP)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET total_xp = ?, points = ?, goal_title = ?, goal_target_xp = ?, updated_at = ?
		WHERE user_id = ?`,
		next.TotalXP, next.Points, nullString(next.GoalTitle), nullInt(next.GoalTargetXP), nowMs, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	for id, s := range next.Skills {
		if s.Active && !s.Unlocked {
			return nil, fmt.Errorf("skill %s of user %s cannot be active while locked", id, userID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_skills (user_id, skill_id, unlocked, active, granted, skill_xp, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, skill_id) DO UPDATE SET
				unlocked = excluded.unlocked,
				active = excluded.active,
				granted = excluded.granted,
				skill_xp = excluded.skill_xp,
				updated_at = excluded.updated_at`,
			userID, id, s.Unlocked, s.Active, s.Granted, s.SkillXP, nowMs)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert skill %s: %w", id, err)
		}
	}

	next.UserID = userID
	return next, nil
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
