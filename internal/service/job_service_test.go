package service

import (
	"context"
	"errors"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/metrics"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/resilience"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobService(store *memStore, breaker BreakerStatus) (*JobService, *metrics.Metrics) {
	m := metrics.NewMetrics()
	svc := NewJobService(store, store, breaker, m, logger.NewNop(), JobServiceConfig{
		MaxAttempts:   3,
		DefaultBaseXP: 100,
	})
	return svc, m
}

func TestJobService_CreateSubmission(t *testing.T) {
	store := newMemStore()
	svc, m := newTestJobService(store, nil)

	sub, job, err := svc.CreateSubmission(context.Background(), &models.CreateSubmissionRequest{
		UserID:        " alice ",
		Content:       "package main",
		SkillIDs:      []string{"go", " ", " testing "},
		CorrelationID: "req-1",
	}, false)
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "alice", sub.UserID)
	assert.Equal(t, int64(100), sub.BaseXP)
	assert.Equal(t, []string{"go", "testing"}, sub.SkillIDs)

	require.NotNil(t, job)
	assert.Equal(t, sub.ID, job.SubmissionID)
	assert.Equal(t, models.StateQueued, job.State)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, "req-1", job.CorrelationID)
	assert.Equal(t, int64(1), m.GetSnapshot()["enqueued_jobs"])
}

func TestJobService_CreateSubmissionWithoutEnqueue(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestJobService(store, nil)
	baseXP := int64(40)

	sub, job, err := svc.CreateSubmission(context.Background(), &models.CreateSubmissionRequest{
		UserID:  "bob",
		Content: "x",
		BaseXP:  &baseXP,
	}, true)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, int64(40), sub.BaseXP)

	counts, err := store.CountByState(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Pending())
}

func TestJobService_CreateSubmissionRejectsBaseXPOutOfRange(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestJobService(store, nil)

	for _, baseXP := range []int64{-1, models.MaxBaseXP + 1, 7e18} {
		v := baseXP
		_, _, err := svc.CreateSubmission(context.Background(), &models.CreateSubmissionRequest{
			UserID:  "carol",
			Content: "x",
			BaseXP:  &v,
		}, false)
		assert.ErrorIs(t, err, ErrInvalidBaseXP, "base_xp %d", baseXP)
	}
	assert.Empty(t, store.submissions)
}

func TestJobService_EnqueueDuplicate(t *testing.T) {
	store := newMemStore()
	svc, m := newTestJobService(store, nil)
	ctx := context.Background()

	sub, first, err := svc.CreateSubmission(ctx, &models.CreateSubmissionRequest{UserID: "u", Content: "x"}, false)
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, sub.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDuplicateSubmission)

	var dup *repository.DuplicateSubmissionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ID, dup.ExistingJobID)

	snapshot := m.GetSnapshot()
	assert.Equal(t, int64(1), snapshot["enqueued_jobs"])
	assert.Equal(t, int64(1), snapshot["duplicate_requests"])
}

func TestJobService_EnqueueUnknownSubmission(t *testing.T) {
	svc, _ := newTestJobService(newMemStore(), nil)

	_, err := svc.Enqueue(context.Background(), "missing", "")
	assert.ErrorIs(t, err, repository.ErrSubmissionNotFound)
}

func TestJobService_GetAndList(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestJobService(store, nil)
	ctx := context.Background()

	_, job, err := svc.CreateSubmission(ctx, &models.CreateSubmissionRequest{UserID: "u", Content: "x"}, false)
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	queued, err := svc.ListJobsByState(ctx, models.StateQueued, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	_, err = svc.ListJobsByState(ctx, models.JobState("sleeping"), 10)
	assert.ErrorIs(t, err, ErrInvalidJobState)

	_, err = svc.ListAttempts(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestJobService_RetryFailedJob(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestJobService(store, nil)
	ctx := context.Background()

	_, job, err := svc.CreateSubmission(ctx, &models.CreateSubmissionRequest{UserID: "u", Content: "x"}, false)
	require.NoError(t, err)

	_, err = svc.RetryFailedJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFailed)

	leased, err := store.LeaseJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.FailJob(ctx, leased.ID, leased.LeaseToken, models.FailureTransientExhausted, "boom", nil))

	retried, err := svc.RetryFailedJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retried.ID)
	assert.Equal(t, job.SubmissionID, retried.SubmissionID)
	assert.Equal(t, models.StateQueued, retried.State)

	old, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, old.State)
	assert.Equal(t, models.FailureTransientExhausted, old.FailureKind)
}

func TestJobService_HealthWithoutWorker(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestJobService(store, nil)
	ctx := context.Background()

	_, _, err := svc.CreateSubmission(ctx, &models.CreateSubmissionRequest{UserID: "u", Content: "x"}, false)
	require.NoError(t, err)

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NOT_RUNNING", health.CircuitBreakerState)
	assert.Equal(t, 1, health.PendingJobs)
	assert.Zero(t, health.CompletedJobs)
	assert.Equal(t, int64(1), health.Process["enqueued_jobs"])
}

func TestJobService_HealthReportsBreaker(t *testing.T) {
	store := newMemStore()
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "reviewer", Threshold: 1, CoolDown: time.Hour})
	svc, _ := newTestJobService(store, breaker)

	err := breaker.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	require.Error(t, err)

	health, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(resilience.StateOpen), health.CircuitBreakerState)
	assert.Equal(t, 1, health.FailureCount)
	assert.NotNil(t, health.LastFailureAt)
}
