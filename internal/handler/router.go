package handler

import (
	"net/http"
	"progression-pipeline/internal/logger"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig wires handlers into the API router. Nil handlers leave their
// routes unregistered.
type RouterConfig struct {
	Jobs         *JobHandler
	Progression  *ProgressionHandler
	Log          *logger.Logger
	ServiceName  string
	AllowOrigins []string
}

// NewRouter builds the public API router
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := newEngine(cfg.Log, cfg.ServiceName)
	if len(cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:  []string{"Content-Type", headerCorrelationID},
			ExposeHeaders: []string{headerCorrelationID},
			MaxAge:        12 * time.Hour,
		}))
	}

	if cfg.Jobs != nil {
		r.GET("/health", cfg.Jobs.Health)
		r.GET("/metrics", cfg.Jobs.GetMetrics)

		r.POST("/submissions", cfg.Jobs.CreateSubmission)
		r.POST("/submissions/:id/analysis", cfg.Jobs.EnqueueAnalysis)

		r.GET("/jobs", cfg.Jobs.ListJobs)
		r.GET("/jobs/:id", cfg.Jobs.GetJob)
		r.GET("/jobs/:id/attempts", cfg.Jobs.ListAttempts)
		r.POST("/jobs/:id/retry", cfg.Jobs.RetryJob)
	}

	if cfg.Progression != nil {
		users := r.Group("/users/:id")
		{
			users.GET("/dashboard", cfg.Progression.Dashboard)
			users.PUT("/goal", cfg.Progression.SetGoal)
			users.POST("/skills/:skill/grant", cfg.Progression.GrantSkill)
			users.POST("/skills/:skill/activate", cfg.Progression.ActivateSkill)
			users.POST("/skills/:skill/deactivate", cfg.Progression.DeactivateSkill)
		}
	}

	return r
}

// NewHealthRouter builds the minimal router a standalone worker serves
func NewHealthRouter(jobs *JobHandler, log *logger.Logger, serviceName string) *gin.Engine {
	r := newEngine(log, serviceName)
	r.GET("/health", jobs.Health)
	r.GET("/metrics", jobs.GetMetrics)
	return r
}

func newEngine(log *logger.Logger, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if strings.TrimSpace(serviceName) != "" {
		r.Use(otelgin.Middleware(serviceName))
	}
	r.Use(requestLogger(log))
	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.GetHeader(headerCorrelationID); id != "" {
			fields = append(fields, "correlation_id", id)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}
