// Package admin exposes the administrative override surface. Everything
// here sits behind the admin-by-email middleware.
package admin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/recapio/recap-server/internal/errors"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
)

// Handler exposes the admin endpoints.
type Handler struct {
	store  *sqlite.Store
	logger *logger.Logger
}

// NewHandler creates the admin HTTP handler.
func NewHandler(store *sqlite.Store, log *logger.Logger) *Handler {
	return &Handler{store: store, logger: log.WithComponent("admin")}
}

// RegisterRoutes mounts the admin endpoints; the group must carry both
// RequireAuth and RequireAdmin.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/users/:id/clear-lifetime", h.ClearLifetime)
	group.POST("/users/:id/plan", h.SetPlan)
	group.GET("/users/:id/usage", h.Usage)
}

type clearLifetimeRequest struct {
	Plan string `json:"plan"`
}

// ClearLifetime is the one sanctioned way to clear is_lifetime: the storage
// guard blocks every ordinary update path. The body names the plan the user
// lands on, defaulting to free.
func (h *Handler) ClearLifetime(c *gin.Context) {
	userID := c.Param("id")

	req := clearLifetimeRequest{Plan: string(tiers.PlanFree)}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apperrors.AbortWithBadRequest(c, "invalid request body", nil)
		return
	}
	plan := tiers.Plan(req.Plan)
	if _, err := tiers.Get(plan); err != nil {
		apperrors.AbortWithBadRequest(c, "unknown plan", map[string]interface{}{
			"plan": req.Plan,
		})
		return
	}

	err := h.store.AdminClearLifetime(c.Request.Context(), userID, plan)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "user not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to clear lifetime flag", nil)
		return
	}

	h.logger.Info("lifetime flag cleared by admin", slog.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type planRequest struct {
	Plan       string `json:"plan"`
	IsLifetime bool   `json:"is_lifetime"`
}

// SetPlan changes a user's plan to any known tier. Clearing an existing
// lifetime flag this way is rejected by the storage guard; that path goes
// through ClearLifetime.
func (h *Handler) SetPlan(c *gin.Context) {
	userID := c.Param("id")

	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "invalid request body", nil)
		return
	}
	plan := tiers.Plan(req.Plan)
	if _, err := tiers.Get(plan); err != nil {
		apperrors.AbortWithBadRequest(c, "unknown plan", map[string]interface{}{
			"plan": req.Plan,
		})
		return
	}

	err := h.store.UpdateUserPlan(c.Request.Context(), userID, plan, req.IsLifetime)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "user not found", nil)
		return
	}
	if err != nil {
		if strings.Contains(err.Error(), "is_lifetime cannot be cleared") {
			apperrors.AbortWithBadRequest(c, "lifetime flag can only be cleared via the clear-lifetime override", nil)
			return
		}
		apperrors.AbortWithInternal(c, "failed to update plan", nil)
		return
	}

	h.logger.Info("plan changed by admin",
		slog.String("user_id", userID), slog.String("plan", req.Plan))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Usage returns a user's per-month extraction counters.
func (h *Handler) Usage(c *gin.Context) {
	userID := c.Param("id")

	if _, err := h.store.FindUserByID(c.Request.Context(), userID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			apperrors.AbortWithNotFound(c, "user not found", nil)
			return
		}
		apperrors.AbortWithInternal(c, "failed to load user", nil)
		return
	}

	rows, err := h.store.ListUsage(c.Request.Context(), userID)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load usage", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows})
}
