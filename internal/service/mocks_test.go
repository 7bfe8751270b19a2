package service

import (
	"context"
	"progression-pipeline/internal/events"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/repository"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the three repositories.
// LeaseJob ignores available_at so retries can be driven without waiting.
type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.AnalysisJob
	order       []string
	attempts    map[string][]*models.JobAttempt
	submissions map[string]*models.Submission
	users       map[string]*models.UserProgression
	applied     map[string]bool

	leaseErr    error
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[string]*models.AnalysisJob),
		attempts:    make(map[string][]*models.JobAttempt),
		submissions: make(map[string]*models.Submission),
		users:       make(map[string]*models.UserProgression),
		applied:     make(map[string]bool),
	}
}

func copyJob(j *models.AnalysisJob) *models.AnalysisJob {
	c := *j
	return &c
}

func (m *memStore) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.SubmissionID == job.SubmissionID && !existing.State.Terminal() {
			return &repository.DuplicateSubmissionError{SubmissionID: job.SubmissionID, ExistingJobID: existing.ID}
		}
	}
	now := time.Now()
	job.EnqueuedAt, job.AvailableAt, job.UpdatedAt = now, now, now
	m.jobs[job.ID] = copyJob(job)
	m.order = append(m.order, job.ID)
	return nil
}

func (m *memStore) GetJobByID(ctx context.Context, id string) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (m *memStore) FindActiveJobForSubmission(ctx context.Context, submissionID string) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.SubmissionID == submissionID && !job.State.Terminal() {
			return copyJob(job), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AnalysisJob
	for _, id := range m.order {
		if m.jobs[id].State == state {
			out = append(out, copyJob(m.jobs[id]))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LeaseJob(ctx context.Context, leaseDuration time.Duration) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseErr != nil {
		return nil, m.leaseErr
	}
	for _, id := range m.order {
		job := m.jobs[id]
		if job.State != models.StateQueued {
			continue
		}
		now := time.Now()
		expires := now.Add(leaseDuration)
		job.State = models.StateActive
		job.AttemptCount++
		job.LeaseToken = uuid.New().String()
		job.LeasedAt = &now
		job.LeaseExpiresAt = &expires
		return copyJob(job), nil
	}
	return nil, nil
}

func (m *memStore) release(id, token string, attempt *models.JobAttempt, apply func(*models.AnalysisJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != models.StateActive || job.LeaseToken != token {
		return repository.ErrLeaseLost
	}
	apply(job)
	job.LeaseToken = ""
	job.LeasedAt = nil
	job.LeaseExpiresAt = nil
	if attempt != nil {
		a := *attempt
		m.attempts[id] = append(m.attempts[id], &a)
	}
	return nil
}

func (m *memStore) CompleteJob(ctx context.Context, id, leaseToken string, attempt *models.JobAttempt) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	return m.release(id, leaseToken, attempt, func(job *models.AnalysisJob) {
		now := time.Now()
		job.State = models.StateCompleted
		job.CompletedAt = &now
	})
}

func (m *memStore) RequeueJob(ctx context.Context, id, leaseToken string, availableAt time.Time, lastError string, attempt *models.JobAttempt) error {
	return m.release(id, leaseToken, attempt, func(job *models.AnalysisJob) {
		job.State = models.StateQueued
		job.AvailableAt = availableAt
		job.LastError = lastError
	})
}

func (m *memStore) FailJob(ctx context.Context, id, leaseToken string, kind models.FailureKind, lastError string, attempt *models.JobAttempt) error {
	return m.release(id, leaseToken, attempt, func(job *models.AnalysisJob) {
		now := time.Now()
		job.State = models.StateFailed
		job.FailureKind = kind
		job.LastError = lastError
		job.CompletedAt = &now
	})
}

func (m *memStore) FailExpiredLeases(ctx context.Context) ([]*models.AnalysisJob, error) {
	return nil, nil
}

func (m *memStore) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.JobAttempt(nil), m.attempts[jobID]...), nil
}

func (m *memStore) CountByState(ctx context.Context) (models.JobCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c models.JobCounts
	for _, job := range m.jobs {
		switch job.State {
		case models.StateQueued:
			c.Queued++
		case models.StateActive:
			c.Active++
		case models.StateCompleted:
			c.Completed++
		case models.StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *memStore) CreateSubmission(ctx context.Context, s *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CreatedAt = time.Now()
	c := *s
	m.submissions[s.ID] = &c
	return nil
}

func (m *memStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	c := *s
	return &c, nil
}

func copyProgression(p *models.UserProgression) *models.UserProgression {
	c := *p
	c.Skills = make(map[string]models.SkillState, len(p.Skills))
	for id, s := range p.Skills {
		c.Skills[id] = s
	}
	return &c
}

func (m *memStore) GetProgression(ctx context.Context, userID string) (*models.UserProgression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return copyProgression(p), nil
}

func (m *memStore) ApplyProgressionMutation(ctx context.Context, mu repository.ProgressionMutation, fn repository.ProgressionFunc) (*models.UserProgression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied[mu.JobID] {
		return nil, repository.ErrAlreadyApplied
	}
	next, err := m.updateLocked(mu.UserID, fn)
	if err != nil {
		return nil, err
	}
	m.applied[mu.JobID] = true
	return next, nil
}

func (m *memStore) UpdateProgression(ctx context.Context, userID string, fn repository.ProgressionFunc) (*models.UserProgression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(userID, fn)
}

func (m *memStore) updateLocked(userID string, fn repository.ProgressionFunc) (*models.UserProgression, error) {
	current, ok := m.users[userID]
	if !ok {
		current = &models.UserProgression{UserID: userID, Skills: map[string]models.SkillState{}}
	}
	next, err := fn(copyProgression(current))
	if err != nil {
		return nil, err
	}
	m.users[userID] = copyProgression(next)
	return next, nil
}

func (m *memStore) attemptBackoffs(jobID string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, a := range m.attempts[jobID] {
		out = append(out, a.BackoffMs)
	}
	return out
}

// scriptedReviewer replays canned replies, repeating the last one
type scriptedReviewer struct {
	mu      sync.Mutex
	replies []reviewReply
	calls   int
}

func (r *scriptedReviewer) Review(ctx context.Context, content string) (*models.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.replies) {
		idx = len(r.replies) - 1
	}
	r.calls++
	return r.replies[idx].result, r.replies[idx].err
}

func (r *scriptedReviewer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// stuckReviewer never answers and ignores cancellation
type stuckReviewer struct {
	release chan struct{}
}

func (r *stuckReviewer) Review(ctx context.Context, content string) (*models.ReviewResult, error) {
	<-r.release
	return nil, nil
}

type recordingSink struct {
	mu     sync.Mutex
	jobs   []events.JobEvent
	health []events.HealthEvent
}

func (s *recordingSink) PublishJobEvent(ctx context.Context, ev events.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, ev)
	return nil
}

func (s *recordingSink) PublishBreakerHealth(ctx context.Context, ev events.HealthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = append(s.health, ev)
	return nil
}

func (s *recordingSink) JobEvents() []events.JobEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]events.JobEvent(nil), s.jobs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func score(v float64) *float64 { return &v }

func review(v float64, risk models.RiskLevel) *models.ReviewResult {
	return &models.ReviewResult{
		Scores: models.SubScores{
			Correctness:   score(v),
			CodeQuality:   score(v),
			Completeness:  score(v),
			Efficiency:    score(v),
			BestPractices: score(v),
		},
		Risk: risk,
	}
}
