// Package api exposes plan generation and nutrient lookups over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
)

// PlanService is the plan generation backend.
type PlanService interface {
	CheckPrerequisites(ctx context.Context, userID string) (planner.Prerequisites, error)
	Start(ctx context.Context, req planner.Request) (planner.StartResult, error)
	Status(ctx context.Context, userID string) (planner.StatusResult, error)
	Plan(ctx context.Context, userID string) (planner.Plan, error)
	SaveAnswers(ctx context.Context, userID string, answers planner.Answers) error
}

// NutrientService resolves foods to macros.
type NutrientService interface {
	Lookup(ctx context.Context, food string) (nutrient.Macros, error)
	LookupMany(ctx context.Context, foods []string) (map[string]nutrient.Macros, error)
}

// Deps are the collaborators of the router.
type Deps struct {
	Plans     PlanService
	Nutrients NutrientService
	// Verifier enables bearer auth on /api when non-nil.
	Verifier *Verifier
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	Health  func() metrics.SysHealth
	Logger  *slog.Logger
}

// NewRouter wires the HTTP routes.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{plans: d.Plans, nutrients: d.Nutrients, health: d.Health, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", h.Health)
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics))
	}

	protected := router.Group("/api")
	protected.Use(Middleware(d.Verifier, logger))

	users := protected.Group("/users/:userId")
	users.Use(requireSameUser())
	users.GET("/plan/prerequisites", h.GetPrerequisites)
	users.POST("/plan/generate", h.GeneratePlan)
	users.GET("/plan/status", h.GetPlanStatus)
	users.GET("/plan", h.GetPlan)
	users.PUT("/answers", h.PutAnswers)

	protected.POST("/nutrients", h.LookupNutrient)
	protected.POST("/nutrients/batch", h.LookupNutrients)

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
