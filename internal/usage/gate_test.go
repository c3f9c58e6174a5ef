package usage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
)

func newTestGate(t *testing.T) (*Gate, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.InitDatabase(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewGate(store, logger.New(logger.FromConfig("error", "text"))), store
}

func newGateUser(t *testing.T, store *sqlite.Store, plan tiers.Plan) *sqlite.User {
	t.Helper()
	u := &sqlite.User{Email: string(plan) + "@example.com", Plan: plan}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func TestFreePlanLifetimeCap(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	u := newGateUser(t, store, tiers.PlanFree)

	// Spread usage over several months: the free cap sums all of them.
	for _, month := range []string{"2026-05", "2026-06", "2026-07", "2026-08", "2026-08"} {
		require.NoError(t, store.IncrementUsage(ctx, u.ID, month))
	}

	decision, err := gate.CheckExtract(ctx, u)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.EqualValues(t, 5, decision.Used)
	assert.EqualValues(t, 5, decision.Max)
	assert.Equal(t, "Free plan limit reached (5 extracts). Upgrade to continue.", decision.Message)

	// A denied check never changes stored usage.
	total, err := store.SumUsageAllTime(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}

func TestFreePlanUnderCap(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	u := newGateUser(t, store, tiers.PlanFree)

	decision, err := gate.CheckExtract(ctx, u)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, 0, decision.Used)
	assert.Empty(t, decision.Message)
}

func TestPaidPlanMonthlyCap(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	u := newGateUser(t, store, tiers.PlanLTD)

	// Last month's usage never counts against a monthly plan.
	require.NoError(t, store.IncrementUsage(ctx, u.ID, "2020-01"))

	decision, err := gate.CheckExtract(ctx, u)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, 0, decision.Used)
	assert.EqualValues(t, 50, decision.Max)

	for i := 0; i < 50; i++ {
		require.NoError(t, gate.Consume(ctx, u.ID))
	}

	decision, err = gate.CheckExtract(ctx, u)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.EqualValues(t, 50, decision.Used)
	assert.Contains(t, decision.Message, "Monthly limit reached")
}

func TestUnknownPlanFallsBackToFree(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	u := newGateUser(t, store, tiers.Plan("mystery"))

	decision, err := gate.CheckExtract(ctx, u)
	require.NoError(t, err)
	assert.EqualValues(t, 5, decision.Max)
}

func TestMeetingQuota(t *testing.T) {
	gate, store := newTestGate(t)
	ctx := context.Background()
	free := newGateUser(t, store, tiers.PlanFree)
	pro := newGateUser(t, store, tiers.PlanSubPro)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateMeeting(ctx, &sqlite.Meeting{UserID: free.ID, Title: "m"}))
		require.NoError(t, store.CreateMeeting(ctx, &sqlite.Meeting{UserID: pro.ID, Title: "m"}))
	}

	decision, err := gate.CheckMeetingQuota(ctx, free)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.EqualValues(t, 3, decision.Used)

	decision, err = gate.CheckMeetingQuota(ctx, pro)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "paid plans have no meeting cap")
}
