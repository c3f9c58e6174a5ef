package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const issueColumns = `id, user_id, issue_text, notes, source_meeting_id,
	source_meeting_title, resolved, created_at, resolved_at`

func scanIssue(row interface{ Scan(...any) error }) (*TrackedIssue, error) {
	var (
		ti         TrackedIssue
		sourceID   sql.NullString
		resolved   int
		createdMs  int64
		resolvedMs sql.NullInt64
	)
	err := row.Scan(&ti.ID, &ti.UserID, &ti.IssueText, &ti.Notes, &sourceID,
		&ti.SourceMeetingTitle, &resolved, &createdMs, &resolvedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tracked issue: %w", err)
	}
	ti.SourceMeetingID = strPtr(sourceID)
	ti.Resolved = resolved == 1
	ti.CreatedAt = msToTime(createdMs)
	ti.ResolvedAt = msToTimePtr(resolvedMs)
	return &ti, nil
}

// NormalizeIssueText is the dedup key for tracked issues: lower-cased,
// whitespace-collapsed.
func NormalizeIssueText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CreateTrackedIssue inserts an issue for a user.
func (s *Store) CreateTrackedIssue(ctx context.Context, ti *TrackedIssue) error {
	if ti.ID == "" {
		ti.ID = uuid.NewString()
	}
	ti.CreatedAt = time.Now().UTC()

	var sourceID any
	if ti.SourceMeetingID != nil {
		sourceID = *ti.SourceMeetingID
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tracked_issues (id, user_id, issue_text, notes, source_meeting_id, source_meeting_title, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		ti.ID, ti.UserID, ti.IssueText, ti.Notes, sourceID,
		ti.SourceMeetingTitle, timeToMs(ti.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create tracked issue: %w", err)
	}
	return nil
}

// FindOpenIssueByText looks up an unresolved issue matching the normalized
// text, so the insight engine does not file the same item twice.
func (s *Store) FindOpenIssueByText(ctx context.Context, userID, text string) (*TrackedIssue, error) {
	normalized := NormalizeIssueText(text)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM tracked_issues
		WHERE user_id = ? AND resolved = 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ti, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		if NormalizeIssueText(ti.IssueText) == normalized {
			return ti, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open issues: %w", err)
	}
	return nil, ErrNotFound
}

// ListTrackedIssues returns all of a user's issues, open first, newest first
// within each group.
func (s *Store) ListTrackedIssues(ctx context.Context, userID string) ([]*TrackedIssue, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM tracked_issues
		WHERE user_id = ?
		ORDER BY resolved ASC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked issues: %w", err)
	}
	defer rows.Close()

	issues := make([]*TrackedIssue, 0)
	for rows.Next() {
		ti, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, ti)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracked issues: %w", err)
	}
	return issues, nil
}

// ToggleTrackedIssue flips the resolved flag on an owned issue, stamping or
// clearing resolved_at to match.
func (s *Store) ToggleTrackedIssue(ctx context.Context, id, userID string) (*TrackedIssue, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ti, err := scanIssue(tx.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM tracked_issues WHERE id = ? AND user_id = ?`,
		id, userID))
	if err != nil {
		return nil, err
	}

	ti.Resolved = !ti.Resolved
	var resolvedMs any
	if ti.Resolved {
		now := time.Now().UTC()
		ti.ResolvedAt = &now
		resolvedMs = timeToMs(now)
	} else {
		ti.ResolvedAt = nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tracked_issues SET resolved = ?, resolved_at = ?
		WHERE id = ? AND user_id = ?`,
		boolToInt(ti.Resolved), resolvedMs, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle tracked issue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit toggle: %w", err)
	}
	return ti, nil
}

// DeleteTrackedIssue removes an owned issue.
func (s *Store) DeleteTrackedIssue(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM tracked_issues WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete tracked issue: %w", err)
	}
	return requireAffected(res)
}
