package handler

import (
	"errors"
	"net/http"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/repository"
	"progression-pipeline/internal/service"

	"github.com/gin-gonic/gin"
)

// APIError is the error body returned by every endpoint
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps an APIError
type ErrorEnvelope struct {
	Error         APIError `json:"error"`
	ExistingJobID string   `json:"existing_job_id,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondServiceError maps service and repository errors onto HTTP statuses.
// Unexpected errors are logged and hidden behind a generic message.
func respondServiceError(c *gin.Context, log *logger.Logger, op string, err error) {
	var dup *repository.DuplicateSubmissionError
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, ErrorEnvelope{
			Error:         APIError{Message: err.Error(), Code: "duplicate_submission"},
			ExistingJobID: dup.ExistingJobID,
		})
	case errors.Is(err, repository.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, repository.ErrSubmissionNotFound):
		respondError(c, http.StatusNotFound, "submission_not_found", err)
	case errors.Is(err, service.ErrUnknownSkill):
		respondError(c, http.StatusNotFound, "unknown_skill", err)
	case errors.Is(err, service.ErrJobNotFailed):
		respondError(c, http.StatusConflict, "job_not_failed", err)
	case errors.Is(err, service.ErrSkillLocked):
		respondError(c, http.StatusConflict, "skill_locked", err)
	case errors.Is(err, service.ErrSkillNotGrantable):
		respondError(c, http.StatusUnprocessableEntity, "skill_not_grantable", err)
	case errors.Is(err, service.ErrInvalidJobState),
		errors.Is(err, service.ErrInvalidBaseXP),
		errors.Is(err, service.ErrInvalidGoal):
		respondError(c, http.StatusBadRequest, "invalid_request", err)
	default:
		log.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "internal", errors.New(op+" failed"))
	}
}
