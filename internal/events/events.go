// Package events publishes pipeline lifecycle events to observers.
package events

import (
	"context"
	"errors"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/resilience"
	"time"
)

const (
	EventJobCompleted  = "job_completed"
	EventJobFailed     = "job_failed"
	EventBreakerHealth = "breaker_state_changed"
)

// JobEvent is emitted when a job reaches a terminal state
type JobEvent struct {
	Event        string             `json:"event"`
	JobID        string             `json:"job_id"`
	SubmissionID string             `json:"submission_id"`
	Error        string             `json:"error,omitempty"`
	FailureKind  models.FailureKind `json:"failure_kind,omitempty"`
	Attempts     int                `json:"attempts"`
	At           time.Time          `json:"at"`
}

// Completed builds the job_completed event for job
func Completed(job *models.AnalysisJob, at time.Time) JobEvent {
	return JobEvent{
		Event:        EventJobCompleted,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		Attempts:     job.AttemptCount,
		At:           at,
	}
}

// Failed builds the job_failed event for job
func Failed(job *models.AnalysisJob, kind models.FailureKind, errText string, at time.Time) JobEvent {
	return JobEvent{
		Event:        EventJobFailed,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		Error:        errText,
		FailureKind:  kind,
		Attempts:     job.AttemptCount,
		At:           at,
	}
}

// HealthEvent is emitted when the circuit breaker changes state
type HealthEvent struct {
	Event         string     `json:"event"`
	Breaker       string     `json:"breaker"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// BreakerHealth builds a HealthEvent from a breaker transition
func BreakerHealth(from, to resilience.State, snap resilience.BreakerSnapshot) HealthEvent {
	return HealthEvent{
		Event:         EventBreakerHealth,
		Breaker:       snap.Name,
		From:          string(from),
		To:            string(to),
		FailureCount:  snap.Failures,
		LastFailureAt: snap.LastFailureAt,
	}
}

// Sink receives pipeline events. Implementations must be safe for concurrent use.
type Sink interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) error
	PublishBreakerHealth(ctx context.Context, ev HealthEvent) error
}

// MultiSink fans events out to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishJobEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) PublishBreakerHealth(ctx context.Context, ev HealthEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishBreakerHealth(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
