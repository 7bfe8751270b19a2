package service

import (
	"context"
	"errors"
	"fmt"
	"progression-pipeline/internal/events"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/metrics"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/resilience"
	"progression-pipeline/internal/reviewer"
	"progression-pipeline/internal/tracing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// InvalidSubmissionError reports a job whose submission cannot be analyzed
type InvalidSubmissionError struct {
	SubmissionID string
	Reason       string
}

func (e *InvalidSubmissionError) Error() string {
	return fmt.Sprintf("submission %s cannot be analyzed: %s", e.SubmissionID, e.Reason)
}

func (e *InvalidSubmissionError) Permanent() bool { return true }

// ReviewerClassifier is the breaker classifier for reviewer calls.
// A malformed answer means the dependency responded, so it counts as success.
func ReviewerClassifier(err error) resilience.Outcome {
	if reviewer.IsMalformed(err) {
		return resilience.OutcomeSuccess
	}
	return resilience.DefaultClassifier(err)
}

// WorkerConfig holds the worker timings
type WorkerConfig struct {
	LeaseDuration   time.Duration
	ReviewerTimeout time.Duration
	PollInterval    time.Duration
}

// WorkerService claims analysis jobs and drives them to a terminal state
type WorkerService struct {
	jobs        repository.JobRepository
	submissions repository.SubmissionRepository
	progression *ProgressionService
	reviewer    reviewer.Reviewer
	breaker     *resilience.Breaker
	retry       resilience.RetryPolicy
	sink        events.Sink
	metrics     *metrics.Metrics
	log         *logger.Logger
	cfg         WorkerConfig
	tracer      trace.Tracer
	now         func() time.Time
}

// WorkerDeps groups the collaborators of a WorkerService
type WorkerDeps struct {
	Jobs        repository.JobRepository
	Submissions repository.SubmissionRepository
	Progression *ProgressionService
	Reviewer    reviewer.Reviewer
	Breaker     *resilience.Breaker
	Retry       resilience.RetryPolicy
	Sink        events.Sink
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

// NewWorkerService creates a new worker service
func NewWorkerService(deps WorkerDeps, cfg WorkerConfig) *WorkerService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &WorkerService{
		jobs:        deps.Jobs,
		submissions: deps.Submissions,
		progression: deps.Progression,
		reviewer:    deps.Reviewer,
		breaker:     deps.Breaker,
		retry:       deps.Retry,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		log:         deps.Log.With("service", "WorkerService"),
		cfg:         cfg,
		tracer:      tracing.Tracer("progression-pipeline/worker"),
		now:         time.Now,
	}
}

// ProcessJobs runs concurrency worker loops until ctx is cancelled.
// Cancellation stops new claims; a job already claimed runs to its verdict.
func (s *WorkerService) ProcessJobs(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	s.log.Info("worker pool starting", "concurrency", concurrency, "lease_duration", s.cfg.LeaseDuration)

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= concurrency; i++ {
		workerID := i
		g.Go(func() error {
			return s.runLoop(gctx, workerID)
		})
	}
	err := g.Wait()
	s.log.Info("worker pool stopped")
	return err
}

func (s *WorkerService) runLoop(ctx context.Context, workerID int) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = minDuration(50*time.Millisecond, s.cfg.PollInterval)
	idle.MaxInterval = s.cfg.PollInterval
	idle.RandomizationFactor = 0
	idle.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		processed, err := s.ProcessNext(ctx)
		if err != nil {
			s.log.Error("worker iteration failed", "worker_id", workerID, "error", err)
		}
		if processed {
			idle.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idle.NextBackOff()):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// ProcessNext fails leases that lapsed on their final attempt, then claims
// and processes at most one job. It reports whether a job was claimed.
func (s *WorkerService) ProcessNext(ctx context.Context) (bool, error) {
	expired, err := s.jobs.FailExpiredLeases(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to expire leases: %w", err)
	}
	for _, job := range expired {
		s.metrics.RecordFailed(false)
		s.log.Warn("job failed, lease expired on final attempt", "job_id", job.ID, "attempt", job.AttemptCount)
		s.publish(ctx, events.Failed(job, models.FailureLeaseExpired, job.LastError, s.now()))
	}

	job, err := s.jobs.LeaseJob(ctx, s.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("failed to lease job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	s.metrics.RecordClaimed()
	s.log.Info("job leased", "job_id", job.ID, "submission_id", job.SubmissionID, "attempt", job.AttemptCount)

	// the claimed job is finished even if the caller is shutting down
	s.processJob(context.WithoutCancel(ctx), job)
	return true, nil
}

func (s *WorkerService) processJob(ctx context.Context, job *models.AnalysisJob) {
	ctx, span := s.tracer.Start(ctx, "analysis_job.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("submission.id", job.SubmissionID),
		attribute.Int("job.attempt", job.AttemptCount),
	))
	defer span.End()

	started := s.now()

	sub, err := s.loadSubmission(ctx, job)
	if err != nil {
		s.handleFailure(ctx, span, job, started, err)
		return
	}

	result, err := s.review(ctx, sub.Content)
	if err != nil {
		s.handleFailure(ctx, span, job, started, err)
		return
	}

	var gained int64
	outcome, err := s.progression.ApplyReview(ctx, job.ID, sub, result)
	switch {
	case errors.Is(err, repository.ErrAlreadyApplied):
		// an earlier holder of this job committed the progression
		s.metrics.RecordReplay()
		s.log.Info("progression already applied, completing job", "job_id", job.ID)
	case err != nil:
		s.handleFailure(ctx, span, job, started, fmt.Errorf("failed to apply progression: %w", err))
		return
	default:
		gained = outcome.XPGained + outcome.BonusXP
		span.SetAttributes(attribute.Int64("xp.gained", gained))
	}

	err = s.jobs.CompleteJob(ctx, job.ID, job.LeaseToken, &models.JobAttempt{
		JobID:      job.ID,
		Attempt:    job.AttemptCount,
		Outcome:    models.AttemptSucceeded,
		StartedAt:  started,
		FinishedAt: s.now(),
	})
	if err != nil {
		s.logWriteError(span, job, "complete", err)
		return
	}

	s.metrics.RecordCompleted(gained)
	s.log.Info("job completed", "job_id", job.ID, "submission_id", job.SubmissionID, "attempt", job.AttemptCount, "xp_gained", gained)
	s.publish(ctx, events.Completed(job, s.now()))
}

func (s *WorkerService) loadSubmission(ctx context.Context, job *models.AnalysisJob) (*models.Submission, error) {
	sub, err := s.submissions.GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, &InvalidSubmissionError{SubmissionID: job.SubmissionID, Reason: "submission not found"}
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub.Content == "" {
		return nil, &InvalidSubmissionError{SubmissionID: sub.ID, Reason: "submission has no content"}
	}
	return sub, nil
}

type reviewReply struct {
	result *models.ReviewResult
	err    error
}

// review calls the reviewer through the breaker under a hard timeout.
// A reviewer that ignores its context is abandoned when the timeout fires.
func (s *WorkerService) review(ctx context.Context, content string) (*models.ReviewResult, error) {
	ctx, span := s.tracer.Start(ctx, "reviewer.review")
	defer span.End()

	var result *models.ReviewResult
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ReviewerTimeout)
		defer cancel()

		replies := make(chan reviewReply, 1)
		go func() {
			res, err := s.reviewer.Review(callCtx, content)
			replies <- reviewReply{result: res, err: err}
		}()

		select {
		case reply := <-replies:
			if reply.err != nil {
				return reply.err
			}
			if reply.result == nil {
				return &reviewer.MalformedResultError{Reason: "reviewer returned no result"}
			}
			result = reply.result
			return nil
		case <-callCtx.Done():
			return fmt.Errorf("reviewer call timed out after %s: %w", s.cfg.ReviewerTimeout, callCtx.Err())
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (s *WorkerService) handleFailure(ctx context.Context, span trace.Span, job *models.AnalysisJob, started time.Time, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	if errors.Is(cause, resilience.ErrCircuitOpen) {
		s.metrics.RecordCircuitRejected()
	}

	decision := s.retry.Decide(job.AttemptCount, job.MaxAttempts, cause)
	finished := s.now()
	attempt := &models.JobAttempt{
		JobID:      job.ID,
		Attempt:    job.AttemptCount,
		Error:      cause.Error(),
		StartedAt:  started,
		FinishedAt: finished,
	}

	if decision.Retry {
		attempt.Outcome = models.AttemptRetrying
		attempt.BackoffMs = decision.Delay.Milliseconds()
		err := s.jobs.RequeueJob(ctx, job.ID, job.LeaseToken, finished.Add(decision.Delay), cause.Error(), attempt)
		if err != nil {
			s.logWriteError(span, job, "requeue", err)
			return
		}
		s.metrics.RecordRetried()
		s.log.Warn("job attempt failed, retrying",
			"job_id", job.ID,
			"attempt", job.AttemptCount,
			"max_attempts", job.MaxAttempts,
			"backoff", decision.Delay,
			"error", cause,
		)
		return
	}

	kind := failureKind(cause)
	attempt.Outcome = models.AttemptFailed
	if err := s.jobs.FailJob(ctx, job.ID, job.LeaseToken, kind, cause.Error(), attempt); err != nil {
		s.logWriteError(span, job, "fail", err)
		return
	}

	s.metrics.RecordFailed(kind == models.FailureMalformedResult)
	s.log.Error("job failed",
		"job_id", job.ID,
		"submission_id", job.SubmissionID,
		"attempt", job.AttemptCount,
		"failure_kind", kind,
		"error", cause,
	)
	s.publish(ctx, events.Failed(job, kind, cause.Error(), finished))
}

func failureKind(err error) models.FailureKind {
	var invalid *InvalidSubmissionError
	switch {
	case reviewer.IsMalformed(err):
		return models.FailureMalformedResult
	case errors.As(err, &invalid):
		return models.FailureInvalidSubmission
	default:
		return models.FailureTransientExhausted
	}
}

func (s *WorkerService) logWriteError(span trace.Span, job *models.AnalysisJob, op string, err error) {
	span.RecordError(err)
	if errors.Is(err, repository.ErrLeaseLost) {
		s.log.Warn("lease lost before "+op+", another worker owns the job", "job_id", job.ID, "attempt", job.AttemptCount)
		return
	}
	s.log.Error("failed to "+op+" job", "job_id", job.ID, "attempt", job.AttemptCount, "error", err)
}

func (s *WorkerService) publish(ctx context.Context, ev events.JobEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.PublishJobEvent(ctx, ev); err != nil {
		s.log.Warn("failed to publish job event", "job_id", ev.JobID, "event", ev.Event, "error", err)
	}
}
