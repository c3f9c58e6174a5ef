package zoomimport

import (
	"context"
	"encoding/json"
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
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/meetings"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
	"github.com/recapio/recap-server/internal/transcribe"
	"github.com/recapio/recap-server/internal/usage"
)

// fakeZoom serves the three endpoints an import touches: token refresh,
// recording metadata and the file download.
type fakeZoom struct {
	server        *httptest.Server
	refreshCalls  int
	lastAuthToken string
}

func newFakeZoom(t *testing.T) *fakeZoom {
	t.Helper()
	f := &fakeZoom{}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/meetings/123/recordings", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuthToken = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"topic": "Weekly sync",
			"recording_files": []map[string]any{
				{"id": "vid-1", "file_type": "MP4", "file_extension": "MP4", "download_url": f.server.URL + "/download/vid-1", "status": "completed"},
				{"id": "rec-1", "file_type": "M4A", "file_extension": "M4A", "download_url": f.server.URL + "/download/rec-1", "status": "completed"},
			},
		})
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake recording bytes"))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newZoomTestService(t *testing.T, fake *fakeZoom) (*Service, *sqlite.Store, *sqlite.User) {
	t.Helper()
	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u := &sqlite.User{Email: "zoom@example.com", Plan: tiers.PlanSubPro}
	require.NoError(t, store.CreateUser(context.Background(), u))

	log := logger.New(logger.FromConfig("error", "text"))
	gate := usage.NewGate(store, log)
	ingest := meetings.NewService(store, transcribe.NewMockProvider(), extract.NewMockProvider(), gate, log)

	service := NewService(store, ingest, log, "client-id", "client-secret")
	service.apiBaseURL = fake.server.URL
	service.tokenURL = fake.server.URL + "/oauth/token"
	service.httpClient = fake.server.Client()
	return service, store, u
}

func TestImportDownloadsAndIngests(t *testing.T) {
	fake := newFakeZoom(t)
	service, store, u := newZoomTestService(t, fake)
	ctx := context.Background()

	require.NoError(t, store.UpdateZoomTokens(ctx, u.ID, "valid-access", "valid-refresh", time.Now().Add(time.Hour)))
	u, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)

	meeting, err := service.Import(ctx, u, ImportRequest{MeetingID: "123", RecordingID: "rec-1"})
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", meeting.Title)
	assert.NotEmpty(t, meeting.RawNotes)
	assert.Equal(t, "Bearer valid-access", fake.lastAuthToken)
	assert.Zero(t, fake.refreshCalls, "a live token is used as-is")

	saved, err := store.GetMeetingOwned(ctx, meeting.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "{}", saved.ActionItems)
}

func TestImportRefreshesExpiredToken(t *testing.T) {
	fake := newFakeZoom(t)
	service, store, u := newZoomTestService(t, fake)
	ctx := context.Background()

	require.NoError(t, store.UpdateZoomTokens(ctx, u.ID, "stale-access", "valid-refresh", time.Now().Add(-time.Hour)))
	u, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)

	_, err = service.Import(ctx, u, ImportRequest{MeetingID: "123", RecordingID: "rec-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.refreshCalls)
	assert.Equal(t, "Bearer fresh-access", fake.lastAuthToken)

	// The refreshed pair is persisted on the user row.
	reloaded, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", reloaded.ZoomAccessToken)
	assert.Equal(t, "fresh-refresh", reloaded.ZoomRefreshToken)
	assert.True(t, reloaded.ZoomTokenExpiresAt.After(time.Now()))
}

func TestImportRequiresLinkedAccount(t *testing.T) {
	fake := newFakeZoom(t)
	service, _, u := newZoomTestService(t, fake)

	_, err := service.Import(context.Background(), u, ImportRequest{MeetingID: "123"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestImportUnknownRecording(t *testing.T) {
	fake := newFakeZoom(t)
	service, store, u := newZoomTestService(t, fake)
	ctx := context.Background()

	require.NoError(t, store.UpdateZoomTokens(ctx, u.ID, "valid-access", "valid-refresh", time.Now().Add(time.Hour)))
	u, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)

	_, err = service.Import(ctx, u, ImportRequest{MeetingID: "123", RecordingID: "nope"})
	assert.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestSelectRecordingDefaultsToAudio(t *testing.T) {
	meta := &recordingsResponse{RecordingFiles: []recordingFile{
		{ID: "vid", FileType: "MP4", Status: "completed"},
		{ID: "aud", FileType: "M4A", Status: "completed"},
	}}

	file, err := selectRecording(meta, "")
	require.NoError(t, err)
	assert.Equal(t, "aud", file.ID)
}

func TestHandlerNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u := &sqlite.User{Email: "zoom@example.com", Plan: tiers.PlanSubPro}
	require.NoError(t, store.CreateUser(context.Background(), u))
	token, err := auth.IssueSessionToken(u.ID, "secret", time.Hour)
	require.NoError(t, err)

	log := logger.New(logger.FromConfig("error", "text"))
	gate := usage.NewGate(store, log)
	ingest := meetings.NewService(store, transcribe.NewMockProvider(), extract.NewMockProvider(), gate, log)
	service := NewService(store, ingest, log, "", "")
	handler := NewHandler(service, gate, log, true)

	router := gin.New()
	authm := auth.NewMiddleware(store, "secret", "recap_session", "")
	handler.RegisterRoutes(router.Group("/zoom", authm.RequireAuth()))

	req := httptest.NewRequest("POST", "/zoom/import", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
