package handler

import (
	"net/http"
	"progression-pipeline/internal/logger"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/service"

	"github.com/gin-gonic/gin"
)

// ProgressionHandler serves user dashboards and operator skill actions
type ProgressionHandler struct {
	progression *service.ProgressionService
	log         *logger.Logger
}

// NewProgressionHandler creates a new progression handler
func NewProgressionHandler(progression *service.ProgressionService, log *logger.Logger) *ProgressionHandler {
	return &ProgressionHandler{
		progression: progression,
		log:         log.With("handler", "ProgressionHandler"),
	}
}

// Dashboard handles GET /users/:id/dashboard
func (h *ProgressionHandler) Dashboard(c *gin.Context) {
	dash, err := h.progression.Dashboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, h.log, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

// GrantSkill handles POST /users/:id/skills/:skill/grant
func (h *ProgressionHandler) GrantSkill(c *gin.Context) {
	state, err := h.progression.GrantSkill(c.Request.Context(), c.Param("id"), c.Param("skill"))
	if err != nil {
		respondServiceError(c, h.log, "grant skill", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ActivateSkill handles POST /users/:id/skills/:skill/activate
func (h *ProgressionHandler) ActivateSkill(c *gin.Context) {
	skill, err := h.progression.ActivateSkill(c.Request.Context(), c.Param("id"), c.Param("skill"))
	if err != nil {
		respondServiceError(c, h.log, "activate skill", err)
		return
	}
	c.JSON(http.StatusOK, skill)
}

// DeactivateSkill handles POST /users/:id/skills/:skill/deactivate
func (h *ProgressionHandler) DeactivateSkill(c *gin.Context) {
	skill, err := h.progression.DeactivateSkill(c.Request.Context(), c.Param("id"), c.Param("skill"))
	if err != nil {
		respondServiceError(c, h.log, "deactivate skill", err)
		return
	}
	c.JSON(http.StatusOK, skill)
}

// SetGoal handles PUT /users/:id/goal
func (h *ProgressionHandler) SetGoal(c *gin.Context) {
	var req models.SetGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dash, err := h.progression.SetGoal(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondServiceError(c, h.log, "set goal", err)
		return
	}
	c.JSON(http.StatusOK, dash)
}
