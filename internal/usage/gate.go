// Package usage enforces the per-plan extraction and meeting caps. Checks
// run before any provider work; consumption runs only after success, so a
// failed extraction never costs quota.
package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/tiers"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Used    int64  `json:"used"`
	Max     int64  `json:"max"`
	Message string `json:"message,omitempty"`
}

// Gate reads and updates usage counters against the plan table.
type Gate struct {
	store  *sqlite.Store
	logger *logger.Logger
}

// NewGate creates a usage gate over the store.
func NewGate(store *sqlite.Store, log *logger.Logger) *Gate {
	return &Gate{store: store, logger: log.WithComponent("usage")}
}

// CheckExtract reports whether the user may run one more extraction. Free
// plans are capped on the all-time sum; paid plans on the current month.
func (g *Gate) CheckExtract(ctx context.Context, user *sqlite.User) (*Decision, error) {
	cfg, err := tiers.Get(user.Plan)
	if err != nil {
		g.logger.Warn("unknown plan, falling back to free limits",
			slog.String("user_id", user.ID),
			slog.String("plan", string(user.Plan)))
	}

	var used, max int64
	if cfg.UsesLifetimeCap() {
		max = cfg.LifetimeExtracts
		used, err = g.store.SumUsageAllTime(ctx, user.ID)
	} else {
		max = cfg.MonthlyExtracts
		used, err = g.store.GetMonthUsage(ctx, user.ID, sqlite.CurrentMonth())
	}
	if err != nil {
		return nil, err
	}

	decision := &Decision{Allowed: used < max, Used: used, Max: max}
	if !decision.Allowed {
		if cfg.UsesLifetimeCap() {
			decision.Message = fmt.Sprintf("Free plan limit reached (%d extracts). Upgrade to continue.", max)
		} else {
			decision.Message = fmt.Sprintf("Monthly limit reached (%d extracts). Resets next month.", max)
		}
	}
	return decision, nil
}

// Consume records one successful extraction in the current month's bucket.
func (g *Gate) Consume(ctx context.Context, userID string) error {
	if err := g.store.IncrementUsage(ctx, userID, sqlite.CurrentMonth()); err != nil {
		return err
	}
	g.logger.Debug("extraction consumed", slog.String("user_id", userID))
	return nil
}

// CheckMeetingQuota reports whether the user may persist one more meeting.
// Runs before any remote work so a denied request wastes no provider cost.
func (g *Gate) CheckMeetingQuota(ctx context.Context, user *sqlite.User) (*Decision, error) {
	cfg, _ := tiers.Get(user.Plan)
	if cfg.MaxMeetings == 0 {
		return &Decision{Allowed: true}, nil
	}

	count, err := g.store.CountMeetingsOwned(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	decision := &Decision{Allowed: count < cfg.MaxMeetings, Used: count, Max: cfg.MaxMeetings}
	if !decision.Allowed {
		decision.Message = fmt.Sprintf("Free plan allows %d saved meetings. Upgrade or delete a meeting to continue.", cfg.MaxMeetings)
	}
	return decision, nil
}
