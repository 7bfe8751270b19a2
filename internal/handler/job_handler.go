package handler

import (
	"errors"
	"net/http"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/metrics"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/service"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	defaultListLimit    = 50
	maxListLimit        = 500
)

// JobHandler handles HTTP requests for submissions and jobs
type JobHandler struct {
	jobService *service.JobService
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *service.JobService, metrics *metrics.Metrics, log *logger.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		metrics:    metrics,
		log:        log.With("handler", "JobHandler"),
	}
}

type createSubmissionResponse struct {
	Submission *models.Submission  `json:"submission"`
	Job        *models.AnalysisJob `json:"job,omitempty"`
}

type enqueueRequest struct {
	CorrelationID string `json:"correlation_id"`
}

// CreateSubmission handles POST /submissions.
// ?enqueue=false stores the submission without requesting analysis.
func (h *JobHandler) CreateSubmission(c *gin.Context) {
	var req models.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("user_id and content must not be blank"))
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.GetHeader(headerCorrelationID)
	}

	skipEnqueue := c.Query("enqueue") == "false"
	sub, job, err := h.jobService.CreateSubmission(c.Request.Context(), &req, skipEnqueue)
	if err != nil {
		respondServiceError(c, h.log, "create submission", err)
		return
	}
	c.JSON(http.StatusCreated, createSubmissionResponse{Submission: sub, Job: job})
}

// EnqueueAnalysis handles POST /submissions/:id/analysis
func (h *JobHandler) EnqueueAnalysis(c *gin.Context) {
	var req enqueueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.GetHeader(headerCorrelationID)
	}

	job, err := h.jobService.Enqueue(c.Request.Context(), c.Param("id"), req.CorrelationID)
	if err != nil {
		respondServiceError(c, h.log, "enqueue analysis", err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetJob handles GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, "get job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /jobs?state=&limit=
func (h *JobHandler) ListJobs(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("state query parameter is required"))
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "invalid_request", errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := h.jobService.ListJobsByState(c.Request.Context(), models.JobState(state), limit)
	if err != nil {
		respondServiceError(c, h.log, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.AnalysisJob{}
	}
	c.JSON(http.StatusOK, jobs)
}

// ListAttempts handles GET /jobs/:id/attempts
func (h *JobHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.jobService.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, "list attempts", err)
		return
	}
	if attempts == nil {
		attempts = []*models.JobAttempt{}
	}
	c.JSON(http.StatusOK, attempts)
}

// RetryJob handles POST /jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.jobService.RetryFailedJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, "retry job", err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetMetrics handles GET /metrics
func (h *JobHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	health, err := h.jobService.Health(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, "health", err)
		return
	}
	c.JSON(http.StatusOK, health)
}
