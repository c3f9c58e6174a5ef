package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CurrentMonth returns the usage bucket key for now, e.g. "2026-08".
func CurrentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// GetMonthUsage returns the extract count for one user-month. A missing row
// reads as zero.
func (s *Store) GetMonthUsage(ctx context.Context, userID, month string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT extracts FROM usage WHERE user_id = ? AND month = ?`,
		userID, month).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return n, nil
}

// SumUsageAllTime returns the total extract count across every month the
// user has ever recorded. This is the free-plan lifetime counter.
func (s *Store) SumUsageAllTime(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(extracts), 0) FROM usage WHERE user_id = ?`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage: %w", err)
	}
	return n, nil
}

// IncrementUsage adds one extract to the user's bucket for the month,
// creating the row on first use. Called only after a successful extraction;
// failed provider calls never consume quota.
func (s *Store) IncrementUsage(ctx context.Context, userID, month string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage (user_id, month, extracts) VALUES (?, ?, 1)
		ON CONFLICT(user_id, month) DO UPDATE SET extracts = extracts + 1`,
		userID, month)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// ListUsage returns every usage row for a user, newest month first.
func (s *Store) ListUsage(ctx context.Context, userID string) ([]*UsageRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT user_id, month, extracts FROM usage
		WHERE user_id = ?
		ORDER BY month DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	usage := make([]*UsageRow, 0)
	for rows.Next() {
		var u UsageRow
		if err := rows.Scan(&u.UserID, &u.Month, &u.Extracts); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		usage = append(usage, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage: %w", err)
	}
	return usage, nil
}
