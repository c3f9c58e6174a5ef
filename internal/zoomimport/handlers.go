package zoomimport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/recapio/recap-server/internal/auth"
	apperrors "github.com/recapio/recap-server/internal/errors"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/usage"
)

// Handler exposes the Zoom import endpoint.
type Handler struct {
	service         *Service
	gate            *usage.Gate
	logger          *logger.Logger
	transcribeReady bool
}

// NewHandler creates the Zoom import HTTP handler. An import without a
// working transcription provider can never finish, so that absence is also a
// 501 here.
func NewHandler(service *Service, gate *usage.Gate, log *logger.Logger, transcribeReady bool) *Handler {
	return &Handler{
		service:         service,
		gate:            gate,
		logger:          log.WithComponent("zoom-handler"),
		transcribeReady: transcribeReady,
	}
}

// RegisterRoutes mounts the import endpoint on an authenticated group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/import", h.Import)
}

type importRequest struct {
	MeetingID   string `json:"meeting_id"`
	RecordingID string `json:"recording_id"`
	Topic       string `json:"topic"`
	StartTime   string `json:"start_time"`
}

// Import pulls one cloud recording into the user's meeting history. The
// imported meeting counts against the storage quota like any other.
func (h *Handler) Import(c *gin.Context) {
	user := auth.CurrentUser(c)

	if !h.service.Configured() {
		apperrors.AbortWithNotConfigured(c, "zoom import is not configured", nil)
		return
	}
	if !h.transcribeReady {
		apperrors.AbortWithNotConfigured(c, "transcription is not configured", nil)
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.MeetingID) == "" {
		apperrors.AbortWithBadRequest(c, "meeting_id is required", nil)
		return
	}

	decision, err := h.gate.CheckMeetingQuota(c.Request.Context(), user)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to check quota", nil)
		return
	}
	if !decision.Allowed {
		apperrors.AbortWithQuotaExceeded(c, apperrors.MeetingLimitExceeded(
			string(user.Plan), decision.Used, decision.Max))
		return
	}

	title := req.Topic
	if title == "" && req.StartTime != "" {
		title = "Zoom meeting " + req.StartTime
	}

	meeting, err := h.service.Import(c.Request.Context(), user, ImportRequest{
		MeetingID:   req.MeetingID,
		RecordingID: req.RecordingID,
		Topic:       title,
	})
	switch {
	case errors.Is(err, ErrNotConnected):
		apperrors.AbortWithBadRequest(c, "zoom account is not connected", nil)
		return
	case errors.Is(err, ErrRecordingNotFound):
		apperrors.AbortWithNotFound(c, "recording not found", nil)
		return
	case errors.Is(err, ErrUnsupportedRecording):
		apperrors.AbortWithBadRequest(c, "recording is not an importable audio file", nil)
		return
	case err != nil:
		h.logger.LogError(c.Request.Context(), err, "zoom import failed",
			"user_id", user.ID)
		apperrors.AbortWithInternal(c, "zoom import failed", nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         meeting.ID,
		"title":      meeting.Title,
		"transcript": meeting.RawNotes,
	})
}
