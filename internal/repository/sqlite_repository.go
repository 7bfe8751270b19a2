package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"progression-pipeline/internal/models"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements the job, submission and progression repositories on one SQLite file
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite repository.
// Transactions start with BEGIN IMMEDIATE so a claim takes the write lock up front.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// initSchema initializes the database schema
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		base_xp INTEGER NOT NULL DEFAULT 0,
		skill_ids TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_user_id ON submissions(user_id);

	CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL REFERENCES submissions(id),
		correlation_id TEXT,
		state TEXT NOT NULL DEFAULT 'queued',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		failure_kind TEXT,
		lease_token TEXT,
		leased_at INTEGER,
		lease_expires_at INTEGER,
		enqueued_at INTEGER NOT NULL,
		available_at INTEGER NOT NULL,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL,
		CHECK (attempt_count <= max_attempts)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_open_submission
		ON analysis_jobs(submission_id) WHERE state IN ('queued', 'active');
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON analysis_jobs(state, available_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_lease_expires ON analysis_jobs(lease_expires_at);

	CREATE TABLE IF NOT EXISTS job_attempts (
		job_id TEXT NOT NULL REFERENCES analysis_jobs(id),
		attempt INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		backoff_ms INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, attempt)
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
		points INTEGER NOT NULL DEFAULT 0,
		goal_title TEXT,
		goal_target_xp INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_skills (
		user_id TEXT NOT NULL REFERENCES users(user_id),
		skill_id TEXT NOT NULL,
		unlocked INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 0 CHECK (active = 0 OR unlocked = 1),
		granted INTEGER NOT NULL DEFAULT 0,
		skill_xp INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, skill_id)
	);

	CREATE TABLE IF NOT EXISTS progression_mutations (
		job_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		xp_delta INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

const jobColumns = `id, submission_id, correlation_id, state, attempt_count, max_attempts,
	last_error, failure_kind, lease_token, leased_at, lease_expires_at,
	enqueued_at, available_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	var correlationID, lastError, failureKind, leaseToken sql.NullString
	var leasedAt, leaseExpiresAt, completedAt sql.NullInt64
	var enqueuedAt, availableAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.SubmissionID,
		&correlationID,
		&job.State,
		&job.AttemptCount,
		&job.MaxAttempts,
		&lastError,
		&failureKind,
		&leaseToken,
		&leasedAt,
		&leaseExpiresAt,
		&enqueuedAt,
		&availableAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.CorrelationID = correlationID.String
	job.LastError = lastError.String
	job.FailureKind = models.FailureKind(failureKind.String)
	job.LeaseToken = leaseToken.String
	job.LeasedAt = fromNullMillis(leasedAt)
	job.LeaseExpiresAt = fromNullMillis(leaseExpiresAt)
	job.CompletedAt = fromNullMillis(completedAt)
	job.EnqueuedAt = time.UnixMilli(enqueuedAt)
	job.AvailableAt = time.UnixMilli(availableAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)

	return &job, nil
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreateJob inserts a queued job. A second open job for the same submission
// is rejected by the partial unique index, which makes concurrent producers safe.
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (id, submission_id, correlation_id, state, attempt_count, max_attempts,
		                           enqueued_at, available_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := r.now()
	job.EnqueuedAt = now
	job.AvailableAt = now
	job.UpdatedAt = now
	if job.State == "" {
		job.State = models.StateQueued
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.SubmissionID,
		nullString(job.CorrelationID),
		job.State,
		job.AttemptCount,
		job.MaxAttempts,
		now.UnixMilli(),
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			dup := &DuplicateSubmissionError{SubmissionID: job.SubmissionID}
			if existing, findErr := r.FindActiveJobForSubmission(ctx, job.SubmissionID); findErr == nil && existing != nil {
				dup.ExistingJobID = existing.ID
			}
			return dup
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.AnalysisJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// FindActiveJobForSubmission returns the queued or active job for a submission, or nil
func (r *SQLiteRepository) FindActiveJobForSubmission(ctx context.Context, submissionID string) (*models.AnalysisJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE submission_id = ? AND state IN ('queued', 'active')`,
		submissionID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open job: %w", err)
	}
	return job, nil
}

// ListJobsByState retrieves jobs in a state, oldest first. limit <= 0 means no limit.
func (r *SQLiteRepository) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.AnalysisJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE state = ? ORDER BY enqueued_at ASC, id ASC LIMIT ?`,
		state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// LeaseJob claims the oldest runnable job and increments its attempt count.
// Runnable means queued and due, or active with an expired lease and attempts left.
// The select and update share one write transaction, so two workers never claim the same job.
func (r *SQLiteRepository) LeaseJob(ctx context.Context, leaseDuration time.Duration) (*models.AnalysisJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	nowMs := now.UnixMilli()
	expiresAt := now.Add(leaseDuration)

	query := `
		SELECT ` + jobColumns + `
		FROM analysis_jobs
		WHERE (state = 'queued' AND available_at <= ?)
		   OR (state = 'active' AND lease_expires_at < ? AND attempt_count < max_attempts)
		ORDER BY enqueued_at ASC, id ASC
		LIMIT 1
	`

	job, err := scanJob(tx.QueryRowContext(ctx, query, nowMs, nowMs))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find leasable job: %w", err)
	}

	if job.State == models.StateActive {
		// the previous holder's attempt ended without a verdict
		if err := insertAttempt(ctx, tx, &models.JobAttempt{
			JobID:      job.ID,
			Attempt:    job.AttemptCount,
			Outcome:    models.AttemptRetrying,
			Error:      "lease expired",
			StartedAt:  derefTime(job.LeasedAt, now),
			FinishedAt: now,
		}); err != nil {
			return nil, err
		}
	}

	token := uuid.New().String()
	updateQuery := `
		UPDATE analysis_jobs
		SET state = 'active',
		    attempt_count = attempt_count + 1,
		    lease_token = ?,
		    leased_at = ?,
		    lease_expires_at = ?,
		    updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, updateQuery, token, nowMs, expiresAt.UnixMilli(), nowMs, job.ID); err != nil {
		return nil, fmt.Errorf("failed to update job lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	job.State = models.StateActive
	job.AttemptCount++
	job.LeaseToken = token
	job.LeasedAt = &now
	job.LeaseExpiresAt = &expiresAt
	job.UpdatedAt = now

	return job, nil
}

func derefTime(t *time.Time, def time.Time) time.Time {
	if t == nil {
		return def
	}
	return *t
}

// CompleteJob marks a leased job completed and records the attempt
func (r *SQLiteRepository) CompleteJob(ctx context.Context, id, leaseToken string, attempt *models.JobAttempt) error {
	return r.releaseLease(ctx, id, leaseToken, attempt,
		`state = 'completed', completed_at = ?`, r.now().UnixMilli())
}

// RequeueJob returns a leased job to the queue, claimable again from availableAt
func (r *SQLiteRepository) RequeueJob(ctx context.Context, id, leaseToken string, availableAt time.Time, lastError string, attempt *models.JobAttempt) error {
	return r.releaseLease(ctx, id, leaseToken, attempt,
		`state = 'queued', available_at = ?, last_error = ?`, availableAt.UnixMilli(), nullString(lastError))
}

// FailJob moves a leased job to the terminal failed state
func (r *SQLiteRepository) FailJob(ctx context.Context, id, leaseToken string, kind models.FailureKind, lastError string, attempt *models.JobAttempt) error {
	return r.releaseLease(ctx, id, leaseToken, attempt,
		`state = 'failed', failure_kind = ?, last_error = ?, completed_at = ?`,
		string(kind), nullString(lastError), r.now().UnixMilli())
}

// releaseLease applies set to the job only while leaseToken still holds the lease
func (r *SQLiteRepository) releaseLease(ctx context.Context, id, leaseToken string, attempt *models.JobAttempt, set string, args ...interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE analysis_jobs SET ` + set + `,
		lease_token = NULL, leased_at = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'active' AND lease_token = ?`
	args = append(args, r.now().UnixMilli(), id, leaseToken)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}

	if attempt != nil {
		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FailExpiredLeases fails active jobs whose lease lapsed on their final attempt
func (r *SQLiteRepository) FailExpiredLeases(ctx context.Context) ([]*models.AnalysisJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	nowMs := now.UnixMilli()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE state = 'active' AND lease_expires_at < ? AND attempt_count >= max_attempts`, nowMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired leases: %w", err)
	}
	var expired []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		expired = append(expired, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	const reason = "lease expired on final attempt"
	for _, job := range expired {
		_, err := tx.ExecContext(ctx, `
			UPDATE analysis_jobs
			SET state = 'failed', failure_kind = ?, last_error = ?, completed_at = ?,
			    lease_token = NULL, leased_at = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE id = ?`,
			string(models.FailureLeaseExpired), reason, nowMs, nowMs, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fail expired job: %w", err)
		}
		if err := insertAttempt(ctx, tx, &models.JobAttempt{
			JobID:      job.ID,
			Attempt:    job.AttemptCount,
			Outcome:    models.AttemptFailed,
			Error:      reason,
			StartedAt:  derefTime(job.LeasedAt, now),
			FinishedAt: now,
		}); err != nil {
			return nil, err
		}

		job.State = models.StateFailed
		job.FailureKind = models.FailureLeaseExpired
		job.LastError = reason
		job.CompletedAt = &now
		job.LeaseToken = ""
		job.LeasedAt = nil
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, a *models.JobAttempt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO job_attempts (job_id, attempt, outcome, error, backoff_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.JobID, a.Attempt, a.Outcome, nullString(a.Error), a.BackoffMs,
		a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempt log of a job in attempt order
func (r *SQLiteRepository) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, attempt, outcome, error, backoff_ms, started_at, finished_at
		FROM job_attempts
		WHERE job_id = ?
		ORDER BY attempt ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.JobAttempt
	for rows.Next() {
		var a models.JobAttempt
		var errText sql.NullString
		var startedAt, finishedAt int64
		if err := rows.Scan(&a.JobID, &a.Attempt, &a.Outcome, &errText, &a.BackoffMs, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Error = errText.String
		a.StartedAt = time.UnixMilli(startedAt)
		a.FinishedAt = time.UnixMilli(finishedAt)
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, nil
}

// CountByState returns the number of jobs in each state
func (r *SQLiteRepository) CountByState(ctx context.Context) (models.JobCounts, error) {
	var counts models.JobCounts

	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM analysis_jobs GROUP BY state`)
	if err != nil {
		return counts, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state models.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return counts, fmt.Errorf("failed to scan job count: %w", err)
		}
		switch state {
		case models.StateQueued:
			counts.Queued = n
		case models.StateActive:
			counts.Active = n
		case models.StateCompleted:
			counts.Completed = n
		case models.StateFailed:
			counts.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("failed to iterate job counts: %w", err)
	}
	return counts, nil
}
