// Package main runs a standalone progression pipeline worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"progression-pipeline/internal/app"
	"progression-pipeline/internal/config"
	"progression-pipeline/internal/handler"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/tracing"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath  string
	dbPath      string
	concurrency int
	healthPort  int
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Progression pipeline worker",
	Long: `Claims analysis jobs from the shared SQLite queue, reviews submissions and
applies XP and skill tree progression. Any number of worker processes may share
one database.

A /health endpoint with the reviewer circuit breaker state is served on the
health port unless it is 0.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to SQLite database (overrides config)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker loops (overrides config)")
	rootCmd.Flags().IntVar(&healthPort, "health-port", -1, "health server port, 0 disables (overrides config)")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}
	if healthPort >= 0 {
		cfg.Worker.HealthPort = healthPort
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, log, cfg.Tracing, "worker")
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, log, app.Options{WithWorker: true})
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Worker.ProcessJobs(gctx, cfg.Worker.Concurrency)
	})

	if cfg.Worker.HealthPort > 0 {
		if cfg.LogMode == "prod" || cfg.LogMode == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		server := &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Worker.HealthPort),
			Handler:           handler.NewHealthRouter(handler.NewJobHandler(a.Jobs, a.Metrics, log), log, app.HTTPServiceName(cfg)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("health server starting", "port", cfg.Worker.HealthPort)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	log.Info("worker started, polling for jobs...", "concurrency", cfg.Worker.Concurrency)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
