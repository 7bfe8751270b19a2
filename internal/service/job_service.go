package service

import (
	"context"
	"errors"
	"fmt"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/metrics"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/resilience"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrJobNotFailed    = errors.New("only failed jobs can be retried")
	ErrInvalidJobState = errors.New("invalid job state")
	ErrInvalidBaseXP   = fmt.Errorf("base xp must be between 0 and %d", models.MaxBaseXP)
)

// BreakerStatus exposes the reviewer breaker to the health view
type BreakerStatus interface {
	Snapshot() resilience.BreakerSnapshot
}

// breakerNotRunning is reported when this process hosts no worker
const breakerNotRunning = "NOT_RUNNING"

// JobService handles submission intake and job queries
type JobService struct {
	jobs          repository.JobRepository
	submissions   repository.SubmissionRepository
	breaker       BreakerStatus
	metrics       *metrics.Metrics
	log           *logger.Logger
	maxAttempts   int
	defaultBaseXP int64
}

// JobServiceConfig holds the intake defaults
type JobServiceConfig struct {
	MaxAttempts   int
	DefaultBaseXP int64
}

// NewJobService creates a new job service. breaker may be nil when no worker runs in this process.
func NewJobService(jobs repository.JobRepository, submissions repository.SubmissionRepository, breaker BreakerStatus, m *metrics.Metrics, log *logger.Logger, cfg JobServiceConfig) *JobService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	return &JobService{
		jobs:          jobs,
		submissions:   submissions,
		breaker:       breaker,
		metrics:       m,
		log:           log.With("service", "JobService"),
		maxAttempts:   cfg.MaxAttempts,
		defaultBaseXP: cfg.DefaultBaseXP,
	}
}

// CreateSubmission stores a submission and, unless skipEnqueue, enqueues its analysis
func (s *JobService) CreateSubmission(ctx context.Context, req *models.CreateSubmissionRequest, skipEnqueue bool) (*models.Submission, *models.AnalysisJob, error) {
	baseXP := s.defaultBaseXP
	if req.BaseXP != nil {
		baseXP = *req.BaseXP
	}
	if baseXP < 0 || baseXP > models.MaxBaseXP {
		return nil, nil, ErrInvalidBaseXP
	}

	var skillIDs []string
	for _, id := range req.SkillIDs {
		if id = strings.TrimSpace(id); id != "" {
			skillIDs = append(skillIDs, id)
		}
	}

	sub := &models.Submission{
		ID:       uuid.New().String(),
		UserID:   strings.TrimSpace(req.UserID),
		Content:  req.Content,
		BaseXP:   baseXP,
		SkillIDs: skillIDs,
	}
	if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("failed to create submission: %w", err)
	}
	s.log.Info("submission created", "submission_id", sub.ID, "user_id", sub.UserID, "base_xp", sub.BaseXP)

	if skipEnqueue {
		return sub, nil, nil
	}
	job, err := s.Enqueue(ctx, sub.ID, req.CorrelationID)
	if err != nil {
		return sub, nil, err
	}
	return sub, job, nil
}

// Enqueue creates a queued analysis job for a submission. It fails with a
// *repository.DuplicateSubmissionError while another job for the submission is queued or active.
func (s *JobService) Enqueue(ctx context.Context, submissionID, correlationID string) (*models.AnalysisJob, error) {
	if _, err := s.submissions.GetSubmission(ctx, submissionID); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	job := &models.AnalysisJob{
		ID:            uuid.New().String(),
		SubmissionID:  submissionID,
		CorrelationID: correlationID,
		State:         models.StateQueued,
		MaxAttempts:   s.maxAttempts,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		var dup *repository.DuplicateSubmissionError
		if errors.As(err, &dup) {
			s.metrics.RecordDuplicate()
			s.log.Info("duplicate analysis request", "submission_id", submissionID, "existing_job_id", dup.ExistingJobID)
			return nil, err
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.RecordEnqueued()
	s.log.Info("job enqueued", "job_id", job.ID, "submission_id", submissionID, "correlation_id", correlationID)
	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.AnalysisJob, error) {
	job, err := s.jobs.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByState retrieves jobs in a state, oldest first
func (s *JobService) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.AnalysisJob, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobState, state)
	}
	jobs, err := s.jobs.ListJobsByState(ctx, state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListAttempts returns the attempt log of a job
func (s *JobService) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	attempts, err := s.jobs.ListAttempts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// RetryFailedJob enqueues a fresh job for the submission of a failed job.
// The failed job is kept unchanged.
func (s *JobService) RetryFailedJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	failed, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if failed.State != models.StateFailed {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotFailed, jobID, failed.State)
	}

	job, err := s.Enqueue(ctx, failed.SubmissionID, failed.CorrelationID)
	if err != nil {
		return nil, err
	}
	s.log.Info("failed job retried", "job_id", jobID, "new_job_id", job.ID, "submission_id", failed.SubmissionID)
	return job, nil
}

// Health combines breaker state, durable job counts and process counters
func (s *JobService) Health(ctx context.Context) (*models.HealthSnapshot, error) {
	counts, err := s.jobs.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	health := &models.HealthSnapshot{
		CircuitBreakerState: breakerNotRunning,
		PendingJobs:         counts.Pending(),
		CompletedJobs:       counts.Completed,
		FailedJobs:          counts.Failed,
		Process:             s.metrics.GetSnapshot(),
	}
	if s.breaker != nil {
		snap := s.breaker.Snapshot()
		health.CircuitBreakerState = string(snap.State)
		health.FailureCount = snap.Failures
		health.LastFailureAt = snap.LastFailureAt
	}
	return health, nil
}
