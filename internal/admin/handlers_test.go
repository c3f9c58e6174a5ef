package admin

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapio/recap-server/internal/auth"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
)

const testSecret = "admin-test-secret"

type adminTestEnv struct {
	router     *gin.Engine
	store      *sqlite.Store
	admin      *sqlite.User
	adminToken string
}

func newAdminTestEnv(t *testing.T) *adminTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adminUser := &sqlite.User{Email: "admin@example.com", Plan: tiers.PlanSubPro}
	require.NoError(t, store.CreateUser(context.Background(), adminUser))
	token, err := auth.IssueSessionToken(adminUser.ID, testSecret, time.Hour)
	require.NoError(t, err)

	log := logger.New(logger.FromConfig("error", "text"))
	handler := NewHandler(store, log)

	router := gin.New()
	authm := auth.NewMiddleware(store, testSecret, "recap_session", "admin@example.com")
	handler.RegisterRoutes(router.Group("/admin", authm.RequireAuth(), authm.RequireAdmin()))

	return &adminTestEnv{router: router, store: store, admin: adminUser, adminToken: token}
}

func (e *adminTestEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestClearLifetimeOverride(t *testing.T) {
	env := newAdminTestEnv(t)
	ctx := context.Background()

	target := &sqlite.User{Email: "ltd@example.com", Plan: tiers.PlanLTD, IsLifetime: true}
	require.NoError(t, env.store.CreateUser(ctx, target))

	// The ordinary update path is blocked by the storage guard.
	w := env.do(t, "POST", "/admin/users/"+target.ID+"/plan",
		`{"plan":"free","is_lifetime":false}`, env.adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The override clears the flag and demotes the plan.
	w = env.do(t, "POST", "/admin/users/"+target.ID+"/clear-lifetime", `{"plan":"free"}`, env.adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	after, err := env.store.FindUserByID(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, after.IsLifetime)
	assert.Equal(t, tiers.PlanFree, after.Plan)

	// The guard is back in place afterwards.
	err = env.store.UpdateUserPlan(ctx, target.ID, tiers.PlanLTD, true)
	require.NoError(t, err)
	err = env.store.UpdateUserPlan(ctx, target.ID, tiers.PlanFree, false)
	require.Error(t, err)
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	env := newAdminTestEnv(t)
	ctx := context.Background()

	regular := &sqlite.User{Email: "user@example.com", Plan: tiers.PlanFree}
	require.NoError(t, env.store.CreateUser(ctx, regular))
	token, err := auth.IssueSessionToken(regular.ID, testSecret, time.Hour)
	require.NoError(t, err)

	w := env.do(t, "POST", "/admin/users/"+env.admin.ID+"/clear-lifetime", `{}`, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSetPlanValidation(t *testing.T) {
	env := newAdminTestEnv(t)

	w := env.do(t, "POST", "/admin/users/"+env.admin.ID+"/plan", `{"plan":"platinum"}`, env.adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/admin/users/nope/plan", `{"plan":"sub_basic"}`, env.adminToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageListing(t *testing.T) {
	env := newAdminTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.IncrementUsage(ctx, env.admin.ID, "2026-07"))
	require.NoError(t, env.store.IncrementUsage(ctx, env.admin.ID, "2026-08"))

	w := env.do(t, "GET", "/admin/users/"+env.admin.ID+"/usage", "", env.adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2026-07")
	assert.Contains(t, w.Body.String(), "2026-08")

	w = env.do(t, "GET", "/admin/users/nope/usage", "", env.adminToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
