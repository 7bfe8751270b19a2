// Package app wires the pipeline components from configuration. Both the api
// and worker binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"progression-pipeline/internal/config"
	"progression-pipeline/internal/events"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/metrics"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/resilience"
	"progression-pipeline/internal/reviewer"
	"progression-pipeline/internal/service"
	"progression-pipeline/internal/skilltree"
)

// App holds the long-lived components of one process
type App struct {
	Repo        *repository.SQLiteRepository
	Metrics     *metrics.Metrics
	Sink        events.Sink
	Jobs        *service.JobService
	Progression *service.ProgressionService
	Worker      *service.WorkerService
	Breaker     *resilience.Breaker

	closers []func() error
	log     *logger.Logger
}

// Options selects the optional parts of the wiring
type Options struct {
	// WithWorker builds the reviewer, breaker and worker service
	WithWorker bool
	// Reviewer overrides the Gemini reviewer when set
	Reviewer reviewer.Reviewer
}

// New opens the store and builds the services described by cfg
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Metrics: metrics.NewMetrics(), log: log}

	repo, err := repository.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	tree, err := skilltree.LoadTreeFile(cfg.SkillTreePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	engine := skilltree.NewEngine(tree, cfg.Mastery)
	log.Info("skill tree loaded", "path", cfg.SkillTreePath, "nodes", tree.Len())

	if err := a.buildSink(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.Progression = service.NewProgressionService(repo, engine, log)

	// a nil interface, not a nil *Breaker, marks the breaker as absent
	var status service.BreakerStatus
	if opts.WithWorker {
		rev := opts.Reviewer
		if rev == nil {
			gemini, err := reviewer.NewGeminiReviewer(ctx, cfg.Reviewer.APIKey, cfg.Reviewer.Model)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.closers = append(a.closers, gemini.Close)
			rev = gemini
		}

		a.Breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:       "reviewer",
			Threshold:  cfg.Breaker.Threshold,
			CoolDown:   cfg.Breaker.CoolDown,
			Classifier: service.ReviewerClassifier,
			OnStateChange: func(from, to resilience.State, snap resilience.BreakerSnapshot) {
				if err := a.Sink.PublishBreakerHealth(context.Background(), events.BreakerHealth(from, to, snap)); err != nil {
					log.Warn("failed to publish breaker health", "error", err)
				}
			},
		})
		status = a.Breaker

		a.Worker = service.NewWorkerService(service.WorkerDeps{
			Jobs:        repo,
			Submissions: repo,
			Progression: a.Progression,
			Reviewer:    rev,
			Breaker:     a.Breaker,
			Retry:       cfg.Retry.Policy(),
			Sink:        a.Sink,
			Metrics:     a.Metrics,
			Log:         log,
		}, service.WorkerConfig{
			LeaseDuration:   cfg.Worker.LeaseDuration,
			ReviewerTimeout: cfg.Worker.ReviewerTimeout,
			PollInterval:    cfg.Worker.PollInterval,
		})
	}

	a.Jobs = service.NewJobService(repo, repo, status, a.Metrics, log, service.JobServiceConfig{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		DefaultBaseXP: cfg.BaseSubmissionXP,
	})
	return a, nil
}

func (a *App) buildSink(ctx context.Context, cfg *config.Config) error {
	sinks := events.MultiSink{events.NewLogSink(a.log)}
	if cfg.Redis.Addr != "" {
		redisSink, err := events.NewRedisSink(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, redisSink.Close)
		sinks = append(sinks, redisSink)
		a.log.Info("publishing events to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}
	a.Sink = sinks
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// HTTPServiceName is the server name for HTTP spans, empty when tracing is off
func HTTPServiceName(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return cfg.Tracing.ServiceName
}
