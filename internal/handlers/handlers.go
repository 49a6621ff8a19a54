// Package handlers exposes the analysis API over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/oralscan/internal/auth"
	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/repository"
	"github.com/example/oralscan/internal/usecase"
	"github.com/example/oralscan/internal/verdict"
)

const readinessTimeout = 2 * time.Second

// AnalysisService is the use case surface the handlers depend on.
type AnalysisService interface {
	Analyze(ctx context.Context, userID string, img *intake.Image) (*repository.Analysis, *verdict.Verdict, error)
	History(ctx context.Context, userID string) ([]repository.Analysis, error)
	Get(ctx context.Context, id, userID string) (*repository.Analysis, error)
	Delete(ctx context.Context, id, userID string) error
	Summary(ctx context.Context, userID string) (*usecase.AnalysisSummary, error)
}

// ReadinessCheck probes one dependency for GET /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies wires the routes to their collaborators.
type Dependencies struct {
	Analyses AnalysisService
	Intake   *intake.Reader
	// Auth guards every analysis route.
	Auth gin.HandlerFunc
	// AnalyzeAuth guards POST /api/analysis; defaults to Auth.
	AnalyzeAuth gin.HandlerFunc
	Checks      []ReadinessCheck
	Logger      *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	if deps.AnalyzeAuth == nil {
		deps.AnalyzeAuth = deps.Auth
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &analysisHandler{svc: deps.Analyses, intake: deps.Intake, logger: deps.Logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", readiness(deps.Checks))

	api := router.Group("/api/analysis")
	api.POST("", deps.AnalyzeAuth, h.analyze)
	api.GET("/history", deps.Auth, h.history)
	api.GET("/summary", deps.Auth, h.summary)
	api.GET("/:id", deps.Auth, h.get)
	api.DELETE("/:id", deps.Auth, h.delete)
}

type analysisHandler struct {
	svc    AnalysisService
	intake *intake.Reader
	logger *zap.Logger
}

func (h *analysisHandler) analyze(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	img, err := h.intake.Read(c.Writer, c.Request)
	if err != nil {
		failWith(c, err)
		return
	}

	analysis, v, err := h.svc.Analyze(c.Request.Context(), userID, img)
	if err != nil {
		failWith(c, err)
		return
	}

	c.JSON(http.StatusOK, newAnalysisResponse(analysis, v))
}

func (h *analysisHandler) history(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	analyses, err := h.svc.History(c.Request.Context(), userID)
	if err != nil {
		failWith(c, err)
		return
	}
	c.JSON(http.StatusOK, newHistoryResponse(analyses))
}

func (h *analysisHandler) summary(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summary, err := h.svc.Summary(c.Request.Context(), userID)
	if err != nil {
		failWith(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *analysisHandler) get(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, ok := analysisID(c)
	if !ok {
		return
	}
	analysis, err := h.svc.Get(c.Request.Context(), id, userID)
	if err != nil {
		failWith(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnalysisResponse(analysis, nil))
}

func (h *analysisHandler) delete(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		respondError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, ok := analysisID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, userID); err != nil {
		failWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// analysisID reads the :id parameter; ids that are not UUIDs cannot exist.
func analysisID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "analysis not found")
		return "", false
	}
	return id.String(), true
}

func readiness(checks []ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				_ = c.Error(err)
				results[check.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[check.Name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "unavailable"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
