// Package main runs the progression pipeline HTTP API.
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
	configPath string
	dbPath     string
	port       int
	workers    int
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Progression pipeline HTTP API",
	Long: `Serves submission intake, job queries, user dashboards and operator skill actions.

With --workers > 0 the process also runs an embedded worker pool, so the
health endpoint reports the live circuit breaker state.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to SQLite database (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "embedded worker loops, 0 runs the API only")
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
	if port != 0 {
		cfg.Port = port
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, log, cfg.Tracing, "api")
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, log, app.Options{WithWorker: workers > 0})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		Jobs:         handler.NewJobHandler(a.Jobs, a.Metrics, log),
		Progression:  handler.NewProgressionHandler(a.Progression, log),
		Log:          log,
		ServiceName:  app.HTTPServiceName(cfg),
		AllowOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server starting", "port", cfg.Port, "embedded_workers", workers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	if a.Worker != nil {
		g.Go(func() error {
			return a.Worker.ProcessJobs(gctx, workers)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
