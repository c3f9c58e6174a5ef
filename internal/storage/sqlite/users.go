package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recapio/recap-server/internal/tiers"
)

const userColumns = `id, email, name, plan, is_lifetime, stripe_customer_id,
	zoom_access_token, zoom_refresh_token, zoom_token_expires_at,
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u             User
		plan          string
		isLifetime    int
		stripeID      sql.NullString
		zoomAccess    sql.NullString
		zoomRefresh   sql.NullString
		zoomExpiresMs sql.NullInt64
		createdMs     int64
		updatedMs     int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &plan, &isLifetime, &stripeID,
		&zoomAccess, &zoomRefresh, &zoomExpiresMs, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Plan = tiers.Plan(plan)
	u.IsLifetime = isLifetime == 1
	u.StripeCustomerID = nullStr(stripeID)
	u.ZoomAccessToken = nullStr(zoomAccess)
	u.ZoomRefreshToken = nullStr(zoomRefresh)
	if zoomExpiresMs.Valid {
		u.ZoomTokenExpiresAt = msToTime(zoomExpiresMs.Int64)
	}
	u.CreatedAt = msToTime(createdMs)
	u.UpdatedAt = msToTime(updatedMs)
	return &u, nil
}

// NormalizeEmail lower-cases and trims an email so lookups and the unique
// index agree on identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user. A zero ID is replaced with a fresh UUID;
// the email is normalized before insert.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Plan == "" {
		u.Plan = tiers.PlanFree
	}
	u.Email = NormalizeEmail(u.Email)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	var stripeID any
	if u.StripeCustomerID != "" {
		stripeID = u.StripeCustomerID
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, name, plan, is_lifetime, stripe_customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Plan), boolToInt(u.IsLifetime), stripeID,
		timeToMs(u.CreatedAt), timeToMs(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByID returns the user with the given ID or ErrNotFound.
func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// FindUserByEmail returns the user with the given (normalized) email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
	return scanUser(row)
}

// UpdateUserPlan sets a user's plan and lifetime flag. Clearing an existing
// lifetime flag is rejected by the storage-layer guard trigger and surfaces
// here as an error.
func (s *Store) UpdateUserPlan(ctx context.Context, userID string, plan tiers.Plan, isLifetime bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users SET plan = ?, is_lifetime = ?, updated_at = ?
		WHERE id = ?`,
		string(plan), boolToInt(isLifetime), timeToMs(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return requireAffected(res)
}

// AdminClearLifetime is the only path that may clear the lifetime flag. It
// drops the guard trigger, performs the update and reinstalls the trigger in
// a single transaction so the guard is never observably absent.
func (s *Store) AdminClearLifetime(ctx context.Context, userID string, plan tiers.Plan) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DROP TRIGGER users_lifetime_guard`); err != nil {
		return fmt.Errorf("failed to drop lifetime guard: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET plan = ?, is_lifetime = 0, updated_at = ?
		WHERE id = ?`,
		string(plan), timeToMs(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("failed to clear lifetime flag: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		CREATE TRIGGER users_lifetime_guard
		BEFORE UPDATE OF is_lifetime ON users
		WHEN OLD.is_lifetime = 1 AND NEW.is_lifetime = 0
		BEGIN
			SELECT RAISE(ABORT, 'is_lifetime cannot be cleared');
		END`)
	if err != nil {
		return fmt.Errorf("failed to reinstall lifetime guard: %w", err)
	}

	return tx.Commit()
}

// UpdateZoomTokens stores a refreshed Zoom token pair for a user.
func (s *Store) UpdateZoomTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE users
		SET zoom_access_token = ?, zoom_refresh_token = ?, zoom_token_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		accessToken, refreshToken, timeToMs(expiresAt), timeToMs(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("failed to update zoom tokens: %w", err)
	}
	return requireAffected(res)
}

// UpsertIdentity links an OAuth identity to a user, returning the identity
// row. Repeated logins with the same provider subject are a no-op. An
// identity without an email is rejected outright rather than silently
// attached to an account.
func (s *Store) UpsertIdentity(ctx context.Context, ident *UserIdentity) error {
	email := NormalizeEmail(ident.Email)
	if email == "" {
		return fmt.Errorf("identity for provider %s has no email", ident.Provider)
	}
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	ident.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO user_identities (id, user_id, provider, provider_user_id, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, provider_user_id) DO UPDATE SET email = excluded.email`,
		ident.ID, ident.UserID, ident.Provider, ident.ProviderUserID,
		email, timeToMs(ident.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// FindUserByIdentity resolves a provider subject to its linked user.
func (s *Store) FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*User, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+prefixColumns("u", userColumns)+`
		FROM user_identities ui
		JOIN users u ON u.id = ui.user_id
		WHERE ui.provider = ? AND ui.provider_user_id = ?`,
		provider, providerUserID)
	return scanUser(row)
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
