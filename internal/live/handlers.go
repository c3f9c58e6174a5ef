package live

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recapio/recap-server/internal/auth"
	apperrors "github.com/recapio/recap-server/internal/errors"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/usage"
)

// Handler exposes the live session HTTP surface.
type Handler struct {
	service           *Service
	registry          *Registry
	gate              *usage.Gate
	logger            *logger.Logger
	keepaliveInterval time.Duration
	maxChunkBytes     int64
	transcribeReady   bool
}

// NewHandler creates the live HTTP handler. With transcribeReady false the
// session endpoints answer 501: a live session without transcription could
// never produce segments.
func NewHandler(service *Service, registry *Registry, gate *usage.Gate, log *logger.Logger, keepaliveInterval time.Duration, maxChunkBytes int64, transcribeReady bool) *Handler {
	return &Handler{
		service:           service,
		registry:          registry,
		gate:              gate,
		logger:            log.WithComponent("live-handler"),
		keepaliveInterval: keepaliveInterval,
		maxChunkBytes:     maxChunkBytes,
		transcribeReady:   transcribeReady,
	}
}

// RegisterRoutes mounts the live endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/start", h.Start)
	group.GET("/:id/stream", h.Stream)
	group.POST("/:id/chunk", h.Chunk)
	group.POST("/:id/stop", h.Stop)
	group.GET("/:id/status", h.Status)
	group.POST("/:id/memory-hints", h.MemoryHints)
}

type startRequest struct {
	Title        string `json:"title"`
	Participants string `json:"participants"`
}

// Start creates a session, guarded by the single-active-session rule and
// the meeting-storage quota: a session that could never persist its meeting
// should not start. The active-session check runs before the quota check so
// a quota-capped user still learns the id of a session they can reattach to.
func (h *Handler) Start(c *gin.Context) {
	user := auth.CurrentUser(c)

	if !h.transcribeReady {
		apperrors.AbortWithNotConfigured(c, "transcription is not configured", nil)
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apperrors.AbortWithBadRequest(c, "invalid request body", nil)
		return
	}
	if req.Title == "" {
		req.Title = "Live session " + time.Now().UTC().Format("Jan 2 15:04")
	}

	existing, err := h.service.Active(c.Request.Context(), user)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "session_active",
			"session_id": existing.ID,
		})
		return
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithInternal(c, "failed to check active session", nil)
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

	sess, existingID, err := h.service.Start(c.Request.Context(), user, req.Title, req.Participants)
	if errors.Is(err, sqlite.ErrActiveSessionExists) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "session_active",
			"session_id": existingID,
		})
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to start session", nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"title":      sess.Title,
	})
}

// Chunk ingests one audio blob for an active session.
func (h *Handler) Chunk(c *gin.Context) {
	user := auth.CurrentUser(c)
	sessionID := c.Param("id")

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		apperrors.AbortWithBadRequest(c, "audio file is required", nil)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, h.maxChunkBytes+1))
	if err != nil {
		apperrors.AbortWithBadRequest(c, "failed to read audio", nil)
		return
	}
	if int64(len(audio)) > h.maxChunkBytes {
		apperrors.AbortWithBadRequest(c, "audio chunk too large", nil)
		return
	}

	// Omitted and zero are different: a missing field derives the offset
	// from the session start, an explicit zero is stored as zero.
	var timestampMS *int64
	if raw := c.PostForm("timestamp_ms"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			apperrors.AbortWithBadRequest(c, "timestamp_ms must be a non-negative integer", nil)
			return
		}
		timestampMS = &parsed
	}

	formatHint := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	if formatHint == "" {
		formatHint = "webm"
	}

	result, err := h.service.Chunk(c.Request.Context(), user, sessionID, audio, formatHint, timestampMS)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		apperrors.AbortWithNotFound(c, "session not found", nil)
		return
	case errors.Is(err, ErrNotActive):
		apperrors.AbortWithBadRequest(c, "session is not active", nil)
		return
	case err != nil:
		// Per-chunk failure: the session stays active, the next chunk may
		// succeed.
		apperrors.AbortWithInternal(c, "transcription failed", nil)
		return
	}

	if result.Silent {
		c.JSON(http.StatusOK, gin.H{"ok": true, "segment_index": nil, "silent": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "segment_index": *result.SegmentIndex})
}

// Stop finalizes the session.
func (h *Handler) Stop(c *gin.Context) {
	user := auth.CurrentUser(c)
	sessionID := c.Param("id")

	result, err := h.service.Stop(c.Request.Context(), user, sessionID)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		apperrors.AbortWithNotFound(c, "session not found", nil)
		return
	case errors.Is(err, ErrNotActive):
		apperrors.AbortWithBadRequest(c, "session is not active", nil)
		return
	case err != nil:
		apperrors.AbortWithInternal(c, "failed to stop session", nil)
		return
	}

	resp := gin.H{"meeting_id": result.MeetingID, "title": result.Title}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns the session snapshot.
func (h *Handler) Status(c *gin.Context) {
	user := auth.CurrentUser(c)
	sessionID := c.Param("id")

	sess, segmentCount, err := h.service.Status(c.Request.Context(), user, sessionID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "session not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load session", nil)
		return
	}

	resp := gin.H{
		"session_id":    sess.ID,
		"status":        sess.Status,
		"title":         sess.Title,
		"started_at":    sess.StartedAt,
		"segment_count": segmentCount,
	}
	if sess.EndedAt != nil {
		resp["ended_at"] = *sess.EndedAt
	}
	if sess.MeetingID != nil {
		resp["meeting_id"] = *sess.MeetingID
	}
	c.JSON(http.StatusOK, resp)
}

// MemoryHints links the live discussion to prior meetings, read-only.
func (h *Handler) MemoryHints(c *gin.Context) {
	user := auth.CurrentUser(c)
	sessionID := c.Param("id")

	hints, err := h.service.MemoryHints(c.Request.Context(), user, sessionID)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		apperrors.AbortWithNotFound(c, "session not found", nil)
		return
	case errors.Is(err, ErrNotActive):
		apperrors.AbortWithBadRequest(c, "session is not active", nil)
		return
	case err != nil:
		apperrors.AbortWithInternal(c, "failed to compute hints", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hints": hints})
}

// Stream is the live push channel: connected event, replay of persisted
// segments, then new segments as they commit, with periodic keepalives.
func (h *Handler) Stream(c *gin.Context) {
	user := auth.CurrentUser(c)
	sessionID := c.Param("id")

	sess, err := h.service.store.GetLiveSessionOwned(c.Request.Context(), sessionID, user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "session not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load session", nil)
		return
	}
	if sess.Status != sqlite.SessionActive {
		apperrors.AbortWithBadRequest(c, "session is not active", nil)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		apperrors.AbortWithInternal(c, "streaming not supported", nil)
		return
	}

	sub := NewSubscriber(c.Request.Context())
	// Register before the replay query so a segment committed between the
	// two is either replayed or pushed, never lost. The subscriber channel
	// buffers the overlap; duplicates are filtered below.
	h.registry.Subscribe(sessionID, sub)
	defer h.registry.Unsubscribe(sessionID, sub)

	writeEvent(c, flusher, connectedEvent(sessionID))

	segments, err := h.service.store.ListSegmentsOrdered(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "segment replay failed",
			"session_id", sessionID)
		return
	}
	lastIndex := -1
	for _, seg := range segments {
		writeEvent(c, flusher, segmentEvent(seg))
		lastIndex = seg.SegmentIndex
	}

	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event := <-sub.Ch:
			if seg, ok := event.Data.(SegmentEvent); ok {
				if seg.SegmentIndex <= lastIndex {
					continue // already replayed
				}
				lastIndex = seg.SegmentIndex
			}
			if !writeEvent(c, flusher, event) {
				return
			}
			if event.Name == EventStopped {
				return
			}

		case <-keepalive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			h.logger.Debug("stream client disconnected",
				slog.String("session_id", sessionID))
			return

		case <-sub.Context().Done():
			return
		}
	}
}

// writeEvent serializes one SSE event and flushes it.
func writeEvent(c *gin.Context, flusher http.Flusher, event Event) bool {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return true // skip unserializable event, keep the stream alive
	}
	if event.Name != "" {
		if _, err := c.Writer.WriteString("event: " + event.Name + "\n"); err != nil {
			return false
		}
	}
	if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
