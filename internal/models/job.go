package models

import "time"

// JobState represents the state of an analysis job
type JobState string

const (
	StateQueued    JobState = "queued"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Valid reports whether s is a known job state
func (s JobState) Valid() bool {
	switch s {
	case StateQueued, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind tells operators why a job ended in the failed state
type FailureKind string

const (
	FailureTransientExhausted FailureKind = "transient_exhausted"
	FailureMalformedResult    FailureKind = "malformed_result"
	FailureInvalidSubmission  FailureKind = "invalid_submission"
	FailureLeaseExpired       FailureKind = "lease_expired"
)

// DefaultMaxAttempts is the attempt budget of a newly enqueued job
const DefaultMaxAttempts = 3

// AnalysisJob represents one request to analyze a submission
type AnalysisJob struct {
	ID             string      `json:"id"`
	SubmissionID   string      `json:"submission_id"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	State          JobState    `json:"state"`
	AttemptCount   int         `json:"attempt_count"`
	MaxAttempts    int         `json:"max_attempts"`
	LastError      string      `json:"last_error,omitempty"`
	FailureKind    FailureKind `json:"failure_kind,omitempty"`
	LeaseToken     string      `json:"-"`
	LeasedAt       *time.Time  `json:"leased_at,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
	AvailableAt    time.Time   `json:"available_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AttemptOutcome is the result of a single processing attempt
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptRetrying  AttemptOutcome = "retrying"
	AttemptFailed    AttemptOutcome = "failed"
)

// JobAttempt is the audit record of one attempt at a job
type JobAttempt struct {
	JobID      string         `json:"job_id"`
	Attempt    int            `json:"attempt"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	BackoffMs  int64          `json:"backoff_ms"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// JobCounts holds the number of jobs per state
type JobCounts struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Pending returns the number of jobs not yet settled
func (c JobCounts) Pending() int {
	return c.Queued + c.Active
}

// HealthSnapshot is the health view exposed to the observability layer
type HealthSnapshot struct {
	CircuitBreakerState string           `json:"circuit_breaker_state"`
	FailureCount        int              `json:"failure_count"`
	LastFailureAt       *time.Time       `json:"last_failure_at,omitempty"`
	PendingJobs         int              `json:"pending_jobs"`
	CompletedJobs       int              `json:"completed_jobs"`
	FailedJobs          int              `json:"failed_jobs"`
	Process             map[string]int64 `json:"process,omitempty"`
}
