package events

import (
	"context"
	"encoding/json"
	"fmt"
	"progression-pipeline/internal/logger"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// LogSink writes events to the structured log
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("service", "EventSink")}
}

func (s *LogSink) PublishJobEvent(_ context.Context, ev JobEvent) error {
	if ev.Event == EventJobFailed {
		s.log.Warn(ev.Event,
			"job_id", ev.JobID,
			"submission_id", ev.SubmissionID,
			"failure_kind", ev.FailureKind,
			"attempts", ev.Attempts,
			"error", ev.Error,
		)
		return nil
	}
	s.log.Info(ev.Event, "job_id", ev.JobID, "submission_id", ev.SubmissionID, "attempts", ev.Attempts)
	return nil
}

func (s *LogSink) PublishBreakerHealth(_ context.Context, ev HealthEvent) error {
	s.log.Warn(ev.Event, "breaker", ev.Breaker, "from", ev.From, "to", ev.To, "failure_count", ev.FailureCount)
	return nil
}

// RedisSink publishes events as JSON on a Redis pub/sub channel
type RedisSink struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisSink connects to addr and verifies the connection
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSink{rdb: rdb, channel: channel}, nil
}

// NewRedisSinkFromClient wraps an existing client
func NewRedisSinkFromClient(rdb *goredis.Client, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) PublishJobEvent(ctx context.Context, ev JobEvent) error {
	return s.publish(ctx, ev)
}

func (s *RedisSink) PublishBreakerHealth(ctx context.Context, ev HealthEvent) error {
	return s.publish(ctx, ev)
}

func (s *RedisSink) publish(ctx context.Context, v interface{}) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis sink not initialized")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}

// Close closes the underlying client
func (s *RedisSink) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
