package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapio/recap-server/internal/storage/sqlite"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *Middleware, *sqlite.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewMiddleware(store, testSecret, "recap_session", "Admin@Example.com ")
	router := gin.New()
	router.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CurrentUser(c).ID})
	})
	router.GET("/admin", m.RequireAuth(), m.RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, m, store
}

func issueFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := IssueSessionToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRequireAuthWithCookie(t *testing.T) {
	router, _, store := newTestRouter(t)
	u := &sqlite.User{Email: "user@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), u))

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(&http.Cookie{Name: "recap_session", Value: issueFor(t, u.ID)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), u.ID)
}

func TestRequireAuthWithBearerFallback(t *testing.T) {
	router, _, store := newTestRouter(t)
	u := &sqlite.User{Email: "bearer@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), u))

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueFor(t, u.ID))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuthRejections(t *testing.T) {
	router, _, store := newTestRouter(t)
	u := &sqlite.User{Email: "gone@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), u))

	cases := map[string]func(r *http.Request){
		"no credentials": func(r *http.Request) {},
		"garbage token": func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "recap_session", Value: "not-a-token"})
		},
		"wrong secret": func(r *http.Request) {
			token, err := IssueSessionToken(u.ID, "other-secret", time.Hour)
			require.NoError(t, err)
			r.AddCookie(&http.Cookie{Name: "recap_session", Value: token})
		},
		"expired": func(r *http.Request) {
			token, err := IssueSessionToken(u.ID, testSecret, -time.Minute)
			require.NoError(t, err)
			r.AddCookie(&http.Cookie{Name: "recap_session", Value: token})
		},
		"unknown user": func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "recap_session", Value: issueFor(t, "no-such-user")})
		},
	}

	for name, prepare := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			prepare(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireAdminMatchesEmailCaseInsensitive(t *testing.T) {
	router, _, store := newTestRouter(t)
	admin := &sqlite.User{Email: "ADMIN@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), admin))
	regular := &sqlite.User{Email: "regular@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), regular))

	req := httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "recap_session", Value: issueFor(t, admin.ID)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "recap_session", Value: issueFor(t, regular.ID)})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
