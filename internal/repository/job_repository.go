package repository

import (
	"context"
	"errors"
	"fmt"
	"progression-pipeline/internal/models"
	"time"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrUserNotFound       = errors.New("user not found")
	// ErrLeaseLost is returned when a worker writes to a job whose lease it no longer holds
	ErrLeaseLost = errors.New("job lease no longer held")
	// ErrAlreadyApplied is returned when a job's progression mutation was committed before
	ErrAlreadyApplied      = errors.New("progression mutation already applied")
	ErrDuplicateSubmission = errors.New("submission already has an open analysis job")
)

// DuplicateSubmissionError is returned when a queued or active job already exists for a submission
type DuplicateSubmissionError struct {
	SubmissionID  string
	ExistingJobID string
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("submission %s already has open analysis job %s", e.SubmissionID, e.ExistingJobID)
}

func (e *DuplicateSubmissionError) Is(target error) bool {
	return target == ErrDuplicateSubmission
}

// JobRepository defines the interface for analysis job persistence
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJobByID(ctx context.Context, id string) (*models.AnalysisJob, error)
	FindActiveJobForSubmission(ctx context.Context, submissionID string) (*models.AnalysisJob, error)
	ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.AnalysisJob, error)
	LeaseJob(ctx context.Context, leaseDuration time.Duration) (*models.AnalysisJob, error)
	CompleteJob(ctx context.Context, id, leaseToken string, attempt *models.JobAttempt) error
	RequeueJob(ctx context.Context, id, leaseToken string, availableAt time.Time, lastError string, attempt *models.JobAttempt) error
	FailJob(ctx context.Context, id, leaseToken string, kind models.FailureKind, lastError string, attempt *models.JobAttempt) error
	FailExpiredLeases(ctx context.Context) ([]*models.AnalysisJob, error)
	ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error)
	CountByState(ctx context.Context) (models.JobCounts, error)
}

// SubmissionRepository defines the interface for submission persistence
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, submission *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
}

// ProgressionMutation identifies one job's contribution to a user's progression
type ProgressionMutation struct {
	JobID   string
	UserID  string
	XPDelta int64
}

// ProgressionFunc computes the next progression state from the current one.
// It runs inside the write transaction and must not block on I/O.
type ProgressionFunc func(current *models.UserProgression) (*models.UserProgression, error)

// ProgressionRepository defines the interface for user progression persistence
type ProgressionRepository interface {
	GetProgression(ctx context.Context, userID string) (*models.UserProgression, error)
	// ApplyProgressionMutation commits fn's result at most once per job id.
	// A replay returns ErrAlreadyApplied and changes nothing.
	ApplyProgressionMutation(ctx context.Context, m ProgressionMutation, fn ProgressionFunc) (*models.UserProgression, error)
	// UpdateProgression is a read-modify-write of one user without dedup,
	// creating the user on first use.
	UpdateProgression(ctx context.Context, userID string, fn ProgressionFunc) (*models.UserProgression, error)
}
