package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapio/recap-server/internal/auth"
	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/insights"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
	"github.com/recapio/recap-server/internal/transcribe"
	"github.com/recapio/recap-server/internal/usage"
)

const testSecret = "meetings-test-secret"

type meetingsTestEnv struct {
	router *gin.Engine
	store  *sqlite.Store
	user   *sqlite.User
	token  string
}

type envOptions struct {
	plan         tiers.Plan
	extractor    extract.Provider
	extractReady bool
}

func newMeetingsTestEnv(t *testing.T, opts envOptions) *meetingsTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u := &sqlite.User{Email: "meetings@example.com", Plan: opts.plan}
	require.NoError(t, store.CreateUser(context.Background(), u))

	token, err := auth.IssueSessionToken(u.ID, testSecret, time.Hour)
	require.NoError(t, err)

	log := logger.New(logger.FromConfig("error", "text"))
	gate := usage.NewGate(store, log)
	extractor := opts.extractor
	if extractor == nil {
		extractor = extract.NewMockProvider()
	}
	service := NewService(store, transcribe.NewMockProvider(), extractor, gate, log)
	engine := insights.NewEngine(store, log)
	handler := NewHandler(service, store, engine, gate, log, 100*1024*1024, true, opts.extractReady)

	router := gin.New()
	authm := auth.NewMiddleware(store, testSecret, "recap_session", "")
	handler.RegisterRoutes(router.Group("/meetings", authm.RequireAuth()))
	handler.RegisterIssueRoutes(router.Group("/issues", authm.RequireAuth()))

	return &meetingsTestEnv{router: router, store: store, user: u, token: token}
}

func (e *meetingsTestEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *meetingsTestEnv) uploadRequest(t *testing.T, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake audio payload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return e.do(t, "POST", "/meetings/upload", &buf, writer.FormDataContentType())
}

func TestUploadCreatesMeeting(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})

	w := env.uploadRequest(t, "weekly-standup.m4a")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "weekly-standup", resp["title"])
	assert.NotEmpty(t, resp["transcript"])

	meeting, err := env.store.GetMeetingOwned(context.Background(), resp["id"].(string), env.user.ID)
	require.NoError(t, err)
	// Upload never runs extraction; the stored record is empty.
	assert.Equal(t, "{}", meeting.ActionItems)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})

	w := env.uploadRequest(t, "notes.txt")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported audio format")
}

func TestUploadBlockedByMeetingQuota(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanFree, extractReady: true})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.CreateMeeting(ctx, &sqlite.Meeting{UserID: env.user.ID, Title: "m"}))
	}

	w := env.uploadRequest(t, "over-quota.mp3")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "meeting_limit")

	count, err := env.store.CountMeetingsOwned(ctx, env.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestExtractFreeLifetimeCap(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanFree, extractReady: true})
	ctx := context.Background()

	// Five extractions spread over past months: the free cap is lifetime,
	// not monthly, so a new month does not reset it.
	for _, month := range []string{"2026-05", "2026-05", "2026-06", "2026-07", "2026-07"} {
		require.NoError(t, env.store.IncrementUsage(ctx, env.user.ID, month))
	}

	w := env.do(t, "POST", "/meetings/extract",
		bytes.NewBufferString(`{"notes":"discussed the roadmap"}`), "application/json")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "limit_reached", resp["error"])
	assert.Equal(t, "Free plan limit reached (5 extracts). Upgrade to continue.", resp["message"])

	// A rejected request moves no counters.
	total, err := env.store.SumUsageAllTime(ctx, env.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}

func TestExtractSucceedsAndConsumes(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})

	w := env.do(t, "POST", "/meetings/extract",
		bytes.NewBufferString(`{"notes":"John will fix the login bug by Friday"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var record extract.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.NotEmpty(t, record.ActionItems)

	used, err := env.store.GetMonthUsage(context.Background(), env.user.ID, sqlite.CurrentMonth())
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)
}

func TestExtractNotConfigured(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: false})

	w := env.do(t, "POST", "/meetings/extract",
		bytes.NewBufferString(`{"notes":"anything"}`), "application/json")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type garbageExtractor struct{}

func (garbageExtractor) Extract(context.Context, string) (string, error) {
	return "I could not produce JSON, sorry.", nil
}

func TestExtractDecodeFailure(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{
		plan: tiers.PlanSubPro, extractor: garbageExtractor{}, extractReady: true,
	})

	w := env.do(t, "POST", "/meetings/extract",
		bytes.NewBufferString(`{"notes":"anything"}`), "application/json")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to parse AI response")

	// Unparsable output never consumes quota.
	used, err := env.store.SumUsageAllTime(context.Background(), env.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, used)
}

func TestCreateWithoutTitle(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro})

	// Title is optional; notes plus an extraction record are enough.
	w := env.do(t, "POST", "/meetings", bytes.NewBufferString(
		`{"raw_notes":"notes without a title","action_items":{"summary":"recap"}}`,
	), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	meeting, err := env.store.GetMeetingOwned(context.Background(), created["id"], env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled meeting", meeting.Title)
	assert.Equal(t, "notes without a title", meeting.RawNotes)
}

func TestListReturnsArray(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro})
	require.NoError(t, env.store.CreateMeeting(context.Background(),
		&sqlite.Meeting{UserID: env.user.ID, Title: "Only"}))

	w := env.do(t, "GET", "/meetings", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Only", list[0]["title"])
}

func TestMeetingLifecycle(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})

	w := env.do(t, "POST", "/meetings", bytes.NewBufferString(
		`{"title":"Planning","raw_notes":"we planned things","action_items":{"summary":"planning recap"}}`,
	), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	w = env.do(t, "GET", "/meetings", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Planning")

	w = env.do(t, "GET", "/meetings/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	extraction := got["extraction"].(map[string]any)
	assert.Equal(t, "planning recap", extraction["summary"])

	w = env.do(t, "PATCH", "/meetings/"+id+"/transcript",
		bytes.NewBufferString(`{"transcript":"corrected transcript"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "PATCH", "/meetings/"+id+"/extraction",
		bytes.NewBufferString(`{"summary":"edited summary"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	meeting, err := env.store.GetMeetingOwned(context.Background(), id, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrected transcript", meeting.RawNotes)
	assert.Contains(t, meeting.ActionItems, "edited summary")
	// Marshal normalized the edited record: collections are arrays, not null.
	assert.Contains(t, meeting.ActionItems, `"action_items":[]`)

	w = env.do(t, "DELETE", "/meetings/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "GET", "/meetings/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMeetingOwnershipIsNotFound(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})
	ctx := context.Background()

	other := &sqlite.User{Email: "other@example.com", Plan: tiers.PlanSubPro}
	require.NoError(t, env.store.CreateUser(ctx, other))
	theirs := &sqlite.Meeting{UserID: other.ID, Title: "Not yours"}
	require.NoError(t, env.store.CreateMeeting(ctx, theirs))

	// Someone else's meeting is indistinguishable from a missing one.
	w := env.do(t, "GET", "/meetings/"+theirs.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, "DELETE", "/meetings/"+theirs.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsightsEndpoint(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})
	ctx := context.Background()

	first := &sqlite.Meeting{
		UserID:    env.user.ID,
		Title:     "Sprint planning",
		RawNotes:  "Attendees: Sarah, John\nSarah: the dashboard redesign needs the authentication flow finished first.",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, env.store.CreateMeeting(ctx, first))

	second := &sqlite.Meeting{
		UserID:   env.user.ID,
		Title:    "Sprint review",
		RawNotes: "Attendees: Sarah, John\nJohn: dashboard authentication is still blocked, we will follow up next week.",
	}
	require.NoError(t, env.store.CreateMeeting(ctx, second))

	w := env.do(t, "GET", "/meetings/"+second.ID+"/insights", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		MeetingID string          `json:"meeting_id"`
		Insights  []insights.Card `json:"insights"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, second.ID, resp.MeetingID)
	require.NotEmpty(t, resp.Insights)

	types := make([]string, 0, len(resp.Insights))
	for _, card := range resp.Insights {
		types = append(types, card.Type)
	}
	assert.Contains(t, types, insights.CardRecurringTopics)
	assert.Contains(t, types, insights.CardRecurringParticipants)

	// The first meeting has no history: empty insights plus a message.
	w = env.do(t, "GET", "/meetings/"+first.ID+"/insights", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var firstResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &firstResp))
	assert.NotEmpty(t, firstResp["message"])
}

func TestWhatChangedEndpoint(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})
	ctx := context.Background()

	priorRecord := &extract.Record{
		ActionItems:       []extract.ActionItem{{Task: "Ship the beta"}},
		ProposedSolutions: []string{"use a queue"},
	}
	priorJSON, err := priorRecord.Marshal()
	require.NoError(t, err)
	prior := &sqlite.Meeting{
		UserID: env.user.ID, Title: "Before", RawNotes: "notes",
		ActionItems: priorJSON,
		CreatedAt:   time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, env.store.CreateMeeting(ctx, prior))

	focalRecord := &extract.Record{
		ActionItems:       []extract.ActionItem{{Task: "Write release notes"}},
		ProposedSolutions: []string{"use a queue", "add caching"},
	}
	focalJSON, err := focalRecord.Marshal()
	require.NoError(t, err)
	focal := &sqlite.Meeting{
		UserID: env.user.ID, Title: "After", RawNotes: "notes",
		ActionItems: focalJSON,
	}
	require.NoError(t, env.store.CreateMeeting(ctx, focal))

	w := env.do(t, "GET", "/meetings/"+focal.ID+"/whatchanged", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var diff insights.WhatChanged
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diff))
	assert.True(t, diff.HasPrior)
	assert.Equal(t, prior.ID, diff.PriorID)
	assert.Contains(t, diff.NewActionItems, "write release notes")
	assert.Contains(t, diff.ResolvedSinceLast, "ship the beta")
	assert.Contains(t, diff.NewSolutions, "add caching")

	// The oldest meeting has nothing before it.
	w = env.do(t, "GET", "/meetings/"+prior.ID+"/whatchanged", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diff))
	assert.False(t, diff.HasPrior)
}

func TestIssueEndpoints(t *testing.T) {
	env := newMeetingsTestEnv(t, envOptions{plan: tiers.PlanSubPro, extractReady: true})
	ctx := context.Background()

	issue := &sqlite.TrackedIssue{UserID: env.user.ID, IssueText: "Fix authentication bug"}
	require.NoError(t, env.store.CreateTrackedIssue(ctx, issue))

	w := env.do(t, "GET", "/issues", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fix authentication bug")

	w = env.do(t, "POST", "/issues/"+issue.ID+"/toggle", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var toggled sqlite.TrackedIssue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toggled))
	assert.True(t, toggled.Resolved)

	// Another user's issue cannot be toggled.
	other := &sqlite.User{Email: "other@example.com", Plan: tiers.PlanFree}
	require.NoError(t, env.store.CreateUser(ctx, other))
	foreign := &sqlite.TrackedIssue{UserID: other.ID, IssueText: "Not yours"}
	require.NoError(t, env.store.CreateTrackedIssue(ctx, foreign))
	w = env.do(t, "POST", "/issues/"+foreign.ID+"/toggle", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "DELETE", "/issues/"+issue.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
