package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapio/recap-server/internal/tiers"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := InitDatabase(filepath.Join(t.TempDir(), "test.db"), DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestUser(t *testing.T, store *Store, email string) *User {
	t.Helper()
	u := &User{Email: email, Name: "Test User"}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func TestInitDatabaseRunsMigrations(t *testing.T) {
	store := newTestStore(t)

	var n int
	err := store.DB.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = 'users_lifetime_guard'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "lifetime guard trigger should be installed")
}

func TestFindUserByEmailNormalizes(t *testing.T) {
	store := newTestStore(t)
	u := newTestUser(t, store, "  Alice@Example.COM ")

	assert.Equal(t, "alice@example.com", u.Email)

	found, err := store.FindUserByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
	assert.Equal(t, tiers.PlanFree, found.Plan)
}

func TestLifetimeGuardBlocksClearing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "ltd@example.com")

	require.NoError(t, store.UpdateUserPlan(ctx, u.ID, tiers.PlanLTD, true))

	// Any ordinary update that clears the flag must abort at the storage layer.
	err := store.UpdateUserPlan(ctx, u.ID, tiers.PlanFree, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_lifetime cannot be cleared")

	found, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, found.IsLifetime)
	assert.Equal(t, tiers.PlanLTD, found.Plan)

	// Updates that keep the flag set pass through the guard.
	require.NoError(t, store.UpdateUserPlan(ctx, u.ID, tiers.PlanFreeLTD, true))
}

func TestAdminClearLifetimeReinstallsGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "refund@example.com")

	require.NoError(t, store.UpdateUserPlan(ctx, u.ID, tiers.PlanLTD, true))
	require.NoError(t, store.AdminClearLifetime(ctx, u.ID, tiers.PlanFree))

	found, err := store.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, found.IsLifetime)
	assert.Equal(t, tiers.PlanFree, found.Plan)

	// The guard must survive the admin path.
	require.NoError(t, store.UpdateUserPlan(ctx, u.ID, tiers.PlanLTD, true))
	err = store.UpdateUserPlan(ctx, u.ID, tiers.PlanFree, false)
	require.Error(t, err)
}

func TestAdminClearLifetimeUnknownUser(t *testing.T) {
	store := newTestStore(t)
	err := store.AdminClearLifetime(context.Background(), "missing", tiers.PlanFree)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentityLinking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "oauth@example.com")

	ident := &UserIdentity{
		UserID:         u.ID,
		Provider:       "google",
		ProviderUserID: "sub-123",
		Email:          "  OAuth@Example.COM ",
	}
	require.NoError(t, store.UpsertIdentity(ctx, ident))

	found, err := store.FindUserByIdentity(ctx, "google", "sub-123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	// Re-linking the same subject is a no-op, not a duplicate.
	require.NoError(t, store.UpsertIdentity(ctx, &UserIdentity{
		UserID: u.ID, Provider: "google", ProviderUserID: "sub-123", Email: "oauth@example.com",
	}))
	var n int
	require.NoError(t, store.DB.QueryRow(`SELECT COUNT(*) FROM user_identities`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = store.FindUserByIdentity(ctx, "google", "unknown-sub")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentityRequiresEmail(t *testing.T) {
	store := newTestStore(t)
	u := newTestUser(t, store, "noemail@example.com")

	err := store.UpsertIdentity(context.Background(), &UserIdentity{
		UserID: u.ID, Provider: "zoom", ProviderUserID: "sub-9", Email: "   ",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email")
}

func TestStartLiveSessionSingleActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "live@example.com")

	first := &LiveSession{UserID: u.ID, Title: "Standup"}
	firstID, err := store.StartLiveSession(ctx, first)
	require.NoError(t, err)
	require.NotEmpty(t, firstID)

	// A second start while the first is active reports the conflicting ID.
	conflictID, err := store.StartLiveSession(ctx, &LiveSession{UserID: u.ID})
	assert.ErrorIs(t, err, ErrActiveSessionExists)
	assert.Equal(t, firstID, conflictID)

	require.NoError(t, store.FinalizeLiveSession(ctx, firstID, u.ID, SessionCompleted, nil))

	// Finalizing twice is rejected: the session is no longer active.
	err = store.FinalizeLiveSession(ctx, firstID, u.ID, SessionFailed, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.StartLiveSession(ctx, &LiveSession{UserID: u.ID})
	require.NoError(t, err)
}

func TestStartLiveSessionIsPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice@example.com")
	bob := newTestUser(t, store, "bob@example.com")

	_, err := store.StartLiveSession(ctx, &LiveSession{UserID: alice.ID})
	require.NoError(t, err)
	_, err = store.StartLiveSession(ctx, &LiveSession{UserID: bob.ID})
	require.NoError(t, err, "different users each get their own active session")
}

func TestInsertNextSegmentDenseIndices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "segments@example.com")

	sessID, err := store.StartLiveSession(ctx, &LiveSession{UserID: u.ID})
	require.NoError(t, err)

	for i, text := range []string{"first", "second", "third"} {
		seg, err := store.InsertNextSegment(ctx, sessID, text, int64(i*1000), "")
		require.NoError(t, err)
		assert.Equal(t, i, seg.SegmentIndex)
		assert.Equal(t, "Speaker", seg.Speaker)
		assert.True(t, seg.IsFinal)
	}

	segments, err := store.ListSegmentsOrdered(ctx, sessID)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, "first", segments[0].Text)
	assert.Equal(t, "third", segments[2].Text)

	recent, err := store.ListRecentSegments(ctx, sessID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 1, recent[0].SegmentIndex)
	assert.Equal(t, 2, recent[1].SegmentIndex)

	n, err := store.CountSegments(ctx, sessID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestUsageCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "usage@example.com")

	n, err := store.GetMonthUsage(ctx, u.ID, "2026-08")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "missing row reads as zero")

	require.NoError(t, store.IncrementUsage(ctx, u.ID, "2026-07"))
	require.NoError(t, store.IncrementUsage(ctx, u.ID, "2026-08"))
	require.NoError(t, store.IncrementUsage(ctx, u.ID, "2026-08"))

	n, err = store.GetMonthUsage(ctx, u.ID, "2026-08")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	total, err := store.SumUsageAllTime(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestMeetingOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, store, "owner@example.com")
	bob := newTestUser(t, store, "other@example.com")

	m := &Meeting{UserID: alice.ID, Title: "Planning", RawNotes: "notes"}
	require.NoError(t, store.CreateMeeting(ctx, m))
	assert.Equal(t, "{}", m.ActionItems)

	_, err := store.GetMeetingOwned(ctx, m.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotFound, "someone else's meeting looks missing")

	err = store.UpdateMeetingTranscript(ctx, m.ID, bob.ID, "stolen")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpdateMeetingTranscript(ctx, m.ID, alice.ID, "updated notes"))
	require.NoError(t, store.UpdateMeetingExtraction(ctx, m.ID, alice.ID, `{"summary":"done"}`))

	found, err := store.GetMeetingOwned(ctx, m.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated notes", found.RawNotes)
	assert.Equal(t, `{"summary":"done"}`, found.ActionItems)

	require.NoError(t, store.DeleteMeetingOwned(ctx, m.ID, alice.ID))
	err = store.DeleteMeetingOwned(ctx, m.ID, alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMeetingsBeforeOwned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "history@example.com")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		m := &Meeting{UserID: u.ID, Title: "Meeting", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.CreateMeeting(ctx, m))
	}

	prior, err := store.ListMeetingsBeforeOwned(ctx, u.ID, base.Add(3*time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, prior, 2)
	assert.True(t, prior[0].CreatedAt.After(prior[1].CreatedAt), "newest first")

	count, err := store.CountMeetingsOwned(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}

func TestTrackedIssueDedupAndToggle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "issues@example.com")

	ti := &TrackedIssue{UserID: u.ID, IssueText: "Fix the login redirect"}
	require.NoError(t, store.CreateTrackedIssue(ctx, ti))

	// Case and whitespace differences match the same open issue.
	found, err := store.FindOpenIssueByText(ctx, u.ID, "  fix THE   login redirect ")
	require.NoError(t, err)
	assert.Equal(t, ti.ID, found.ID)

	toggled, err := store.ToggleTrackedIssue(ctx, ti.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Resolved)
	require.NotNil(t, toggled.ResolvedAt)

	// Resolved issues no longer match the dedup lookup.
	_, err = store.FindOpenIssueByText(ctx, u.ID, "fix the login redirect")
	assert.ErrorIs(t, err, ErrNotFound)

	reopened, err := store.ToggleTrackedIssue(ctx, ti.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Resolved)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestDeleteUserCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, store, "cascade@example.com")

	m := &Meeting{UserID: u.ID, Title: "To be removed"}
	require.NoError(t, store.CreateMeeting(ctx, m))
	require.NoError(t, store.IncrementUsage(ctx, u.ID, CurrentMonth()))

	_, err := store.DB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, u.ID)
	require.NoError(t, err)

	_, err = store.GetMeetingOwned(ctx, m.ID, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	total, err := store.SumUsageAllTime(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}
