package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
)

const maxBatchFoods = 100

type handlers struct {
	plans     PlanService
	nutrients NutrientService
	health    func() metrics.SysHealth
	logger    *slog.Logger
}

func (h *handlers) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, h.health())
}

func (h *handlers) GetPrerequisites(c *gin.Context) {
	userID := c.Param("userId")
	pre, err := h.plans.CheckPrerequisites(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("prerequisite check failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, planner.Prerequisites{OK: false, Message: "failed to check prerequisites"})
		return
	}
	c.JSON(http.StatusOK, pre)
}

func (h *handlers) GeneratePlan(c *gin.Context) {
	userID := c.Param("userId")
	var req planner.Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, planner.StartResult{Success: false, Message: "invalid request body"})
			return
		}
	}
	req.UserID = userID

	res, err := h.plans.Start(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("failed to start plan generation", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, planner.StartResult{Success: false, Message: "failed to start plan generation"})
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *handlers) GetPlanStatus(c *gin.Context) {
	userID := c.Param("userId")
	res, err := h.plans.Status(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read plan status", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	if !res.Success {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) GetPlan(c *gin.Context) {
	userID := c.Param("userId")
	plan, err := h.plans.Plan(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load plan", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan"})
		return
	}
	if plan.Status.Status != planner.StatusReady {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "plan is not ready",
			"planStatus": plan.Status.Status,
			"message":    plan.Status.Message,
		})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *handlers) PutAnswers(c *gin.Context) {
	userID := c.Param("userId")
	var answers planner.Answers
	if err := c.ShouldBindJSON(&answers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answers must be a JSON object"})
		return
	}
	if err := h.plans.SaveAnswers(c.Request.Context(), userID, answers); err != nil {
		h.logger.Error("failed to save answers", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save answers"})
		return
	}
	c.Status(http.StatusNoContent)
}

type nutrientRequest struct {
	Food string `json:"food" binding:"required"`
}

type nutrientBatchRequest struct {
	Foods []string `json:"foods" binding:"required"`
}

func (h *handlers) LookupNutrient(c *gin.Context) {
	var req nutrientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "food is required"})
		return
	}
	m, err := h.nutrients.Lookup(c.Request.Context(), req.Food)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) LookupNutrients(c *gin.Context) {
	var req nutrientBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "foods is required"})
		return
	}
	if len(req.Foods) > maxBatchFoods {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many foods in one request"})
		return
	}
	results, err := h.nutrients.LookupMany(c.Request.Context(), req.Foods)
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *handlers) respondLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, nutrient.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, nutrient.ErrNoResults):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("nutrient lookup failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "nutrient lookup failed"})
	}
}
