package meetings

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/recapio/recap-server/internal/auth"
	apperrors "github.com/recapio/recap-server/internal/errors"
	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/insights"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
	"github.com/recapio/recap-server/internal/usage"
)

// Handler exposes the meeting CRUD, upload, extraction, insight and tracked
// issue endpoints.
type Handler struct {
	service         *Service
	store           *sqlite.Store
	engine          *insights.Engine
	gate            *usage.Gate
	logger          *logger.Logger
	maxUploadBytes  int64
	transcribeReady bool
	extractReady    bool
}

// NewHandler creates the meetings HTTP handler. The two ready flags report
// whether the respective provider is usable (mock mode or an API key present);
// endpoints that need an absent provider answer 501.
func NewHandler(service *Service, store *sqlite.Store, engine *insights.Engine, gate *usage.Gate, log *logger.Logger, maxUploadBytes int64, transcribeReady, extractReady bool) *Handler {
	return &Handler{
		service:         service,
		store:           store,
		engine:          engine,
		gate:            gate,
		logger:          log.WithComponent("meetings-handler"),
		maxUploadBytes:  maxUploadBytes,
		transcribeReady: transcribeReady,
		extractReady:    extractReady,
	}
}

// RegisterRoutes mounts the meeting endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/upload", h.Upload)
	group.POST("/extract", h.Extract)
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PATCH("/:id/transcript", h.UpdateTranscript)
	group.PATCH("/:id/extraction", h.UpdateExtraction)
	group.DELETE("/:id", h.Delete)
	group.GET("/:id/insights", h.Insights)
	group.GET("/:id/whatchanged", h.WhatChanged)
}

// RegisterIssueRoutes mounts the tracked-issue endpoints.
func (h *Handler) RegisterIssueRoutes(group *gin.RouterGroup) {
	group.GET("", h.ListIssues)
	group.POST("/:id/toggle", h.ToggleIssue)
	group.DELETE("/:id", h.DeleteIssue)
}

// Upload ingests a complete audio file. The meeting quota is checked before
// any work happens; the temp file is removed on every exit path.
func (h *Handler) Upload(c *gin.Context) {
	user := auth.CurrentUser(c)

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

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		apperrors.AbortWithBadRequest(c, "audio file is required", nil)
		return
	}
	defer file.Close()

	ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	if !ValidFormat(ext) {
		apperrors.AbortWithBadRequest(c, "unsupported audio format", map[string]interface{}{
			"supported": []string{"mp3", "wav", "m4a", "webm"},
		})
		return
	}
	if header.Size > h.maxUploadBytes {
		apperrors.AbortWithBadRequest(c, "file too large", map[string]interface{}{
			"max_bytes": h.maxUploadBytes,
		})
		return
	}

	if !h.transcribeReady {
		apperrors.AbortWithNotConfigured(c, "transcription is not configured", nil)
		return
	}

	if err := os.MkdirAll(TempUploadDir(), 0o755); err != nil {
		apperrors.AbortWithInternal(c, "failed to stage upload", nil)
		return
	}
	tmp, err := os.CreateTemp(TempUploadDir(), "upload-*."+strings.ToLower(ext))
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to stage upload", nil)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, io.LimitReader(file, h.maxUploadBytes+1))
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		apperrors.AbortWithInternal(c, "failed to stage upload", nil)
		return
	}
	if written > h.maxUploadBytes {
		apperrors.AbortWithBadRequest(c, "file too large", map[string]interface{}{
			"max_bytes": h.maxUploadBytes,
		})
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	meeting, err := h.service.IngestFile(c.Request.Context(), user, tmpPath, title, strings.ToLower(ext))
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "upload ingest failed",
			"user_id", user.ID)
		apperrors.AbortWithInternal(c, "transcription failed", nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         meeting.ID,
		"title":      meeting.Title,
		"transcript": meeting.RawNotes,
	})
}

type extractRequest struct {
	Notes string `json:"notes"`
}

// Extract runs the extractor over free-form notes. Hitting the plan cap is a
// 429 with the quota payload, and the stored count does not move.
func (h *Handler) Extract(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Notes) == "" {
		apperrors.AbortWithBadRequest(c, "notes are required", nil)
		return
	}

	if !h.extractReady {
		apperrors.AbortWithNotConfigured(c, "extraction is not configured", nil)
		return
	}

	decision, err := h.gate.CheckExtract(c.Request.Context(), user)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to check quota", nil)
		return
	}
	if !decision.Allowed {
		config, _ := tiers.Get(user.Plan)
		if config.UsesLifetimeCap() {
			apperrors.AbortWithRateLimit(c, apperrors.FreeLifetimeLimitExceeded(decision.Used, decision.Max))
		} else {
			apperrors.AbortWithRateLimit(c, apperrors.MonthlyLimitExceeded(
				string(user.Plan), decision.Used, decision.Max))
		}
		return
	}

	record, err := h.service.Extract(c.Request.Context(), user, req.Notes)
	if errors.Is(err, extract.ErrDecode) {
		apperrors.AbortWithInternal(c, "failed to parse AI response", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "extraction provider failed", nil)
		return
	}

	c.JSON(http.StatusOK, record)
}

type createRequest struct {
	Title       string          `json:"title"`
	RawNotes    string          `json:"raw_notes"`
	ActionItems *extract.Record `json:"action_items"`
}

// Create persists a meeting from client-provided notes, quota-gated the same
// way the ingest paths are. Title is optional and defaults like the other
// ingest paths do.
func (h *Handler) Create(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "invalid request body", nil)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled meeting"
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

	meeting, err := h.service.SaveManual(c.Request.Context(), user, title, req.RawNotes, req.ActionItems)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to save meeting", nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": meeting.ID})
}

// List returns the user's meetings, newest first.
func (h *Handler) List(c *gin.Context) {
	user := auth.CurrentUser(c)

	meetings, err := h.store.ListMeetingsOwned(c.Request.Context(), user.ID)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to list meetings", nil)
		return
	}

	out := make([]gin.H, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, gin.H{
			"id":         m.ID,
			"title":      m.Title,
			"created_at": m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one meeting with its transcript and decoded extraction record.
func (h *Handler) Get(c *gin.Context) {
	user := auth.CurrentUser(c)

	meeting, err := h.store.GetMeetingOwned(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load meeting", nil)
		return
	}

	record, err := extract.Decode(meeting.ActionItems)
	if err != nil {
		record = extract.EmptyRecord()
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         meeting.ID,
		"title":      meeting.Title,
		"raw_notes":  meeting.RawNotes,
		"extraction": record,
		"created_at": meeting.CreatedAt,
		"updated_at": meeting.UpdatedAt,
	})
}

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

// UpdateTranscript replaces the meeting's raw notes.
func (h *Handler) UpdateTranscript(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Transcript) == "" {
		apperrors.AbortWithBadRequest(c, "transcript is required", nil)
		return
	}

	err := h.store.UpdateMeetingTranscript(c.Request.Context(), c.Param("id"), user.ID, req.Transcript)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to update transcript", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UpdateExtraction replaces the meeting's extraction record with a
// client-edited one.
func (h *Handler) UpdateExtraction(c *gin.Context) {
	user := auth.CurrentUser(c)

	var record extract.Record
	if err := c.ShouldBindJSON(&record); err != nil {
		apperrors.AbortWithBadRequest(c, "invalid extraction record", nil)
		return
	}

	payload, err := record.Marshal()
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to serialize extraction", nil)
		return
	}
	err = h.store.UpdateMeetingExtraction(c.Request.Context(), c.Param("id"), user.ID, payload)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to update extraction", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes the meeting; its transcript segments cascade.
func (h *Handler) Delete(c *gin.Context) {
	user := auth.CurrentUser(c)

	err := h.store.DeleteMeetingOwned(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to delete meeting", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Insights computes the cross-meeting cards for one meeting against the
// window of meetings that preceded it.
func (h *Handler) Insights(c *gin.Context) {
	user := auth.CurrentUser(c)

	meeting, err := h.store.GetMeetingOwned(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load meeting", nil)
		return
	}

	priors, err := h.store.ListMeetingsBeforeOwned(c.Request.Context(), user.ID, meeting.CreatedAt, insights.PriorWindow)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load meeting history", nil)
		return
	}

	cards, err := h.engine.Compute(c.Request.Context(), meeting, priors)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to compute insights", nil)
		return
	}

	resp := gin.H{"meeting_id": meeting.ID, "insights": cards}
	if len(cards) == 0 {
		resp["message"] = "Not enough history yet to surface insights."
	}
	c.JSON(http.StatusOK, resp)
}

// WhatChanged diffs the meeting against the most recent one before it.
func (h *Handler) WhatChanged(c *gin.Context) {
	user := auth.CurrentUser(c)

	meeting, err := h.store.GetMeetingOwned(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "meeting not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load meeting", nil)
		return
	}

	priors, err := h.store.ListMeetingsBeforeOwned(c.Request.Context(), user.ID, meeting.CreatedAt, 1)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to load meeting history", nil)
		return
	}
	var prior *sqlite.Meeting
	if len(priors) > 0 {
		prior = priors[0]
	}

	c.JSON(http.StatusOK, insights.ComputeWhatChanged(meeting, prior))
}

// ListIssues returns the user's tracked issues, open first.
func (h *Handler) ListIssues(c *gin.Context) {
	user := auth.CurrentUser(c)

	issues, err := h.store.ListTrackedIssues(c.Request.Context(), user.ID)
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to list issues", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// ToggleIssue flips an issue between open and resolved.
func (h *Handler) ToggleIssue(c *gin.Context) {
	user := auth.CurrentUser(c)

	issue, err := h.store.ToggleTrackedIssue(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "issue not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to toggle issue", nil)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue removes a tracked issue.
func (h *Handler) DeleteIssue(c *gin.Context) {
	user := auth.CurrentUser(c)

	err := h.store.DeleteTrackedIssue(c.Request.Context(), c.Param("id"), user.ID)
	if errors.Is(err, sqlite.ErrNotFound) {
		apperrors.AbortWithNotFound(c, "issue not found", nil)
		return
	}
	if err != nil {
		apperrors.AbortWithInternal(c, "failed to delete issue", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
