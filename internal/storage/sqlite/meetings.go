package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const meetingColumns = `id, user_id, title, raw_notes, action_items, created_at, updated_at`

func scanMeeting(row interface{ Scan(...any) error }) (*Meeting, error) {
	var (
		m         Meeting
		createdMs int64
		updatedMs int64
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Title, &m.RawNotes, &m.ActionItems, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan meeting: %w", err)
	}
	m.CreatedAt = msToTime(createdMs)
	m.UpdatedAt = msToTime(updatedMs)
	return &m, nil
}

// CreateMeeting inserts a meeting. A zero ID gets a fresh UUID and an empty
// ActionItems defaults to "{}" so unextracted meetings are distinguishable
// without a NULL check.
func (s *Store) CreateMeeting(ctx context.Context, m *Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ActionItems == "" {
		m.ActionItems = "{}"
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO meetings (id, user_id, title, raw_notes, action_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Title, m.RawNotes, m.ActionItems,
		timeToMs(m.CreatedAt), timeToMs(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

// GetMeetingOwned returns the meeting only when it belongs to userID.
// A meeting owned by someone else is indistinguishable from a missing one.
func (s *Store) GetMeetingOwned(ctx context.Context, id, userID string) (*Meeting, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = ? AND user_id = ?`,
		id, userID)
	return scanMeeting(row)
}

// ListMeetingsOwned returns all of a user's meetings, newest first.
func (s *Store) ListMeetingsOwned(ctx context.Context, userID string) ([]*Meeting, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// ListMeetingsBeforeOwned returns up to limit meetings created strictly
// before the given time, newest first. Used to gather the prior-meeting
// window for insights and memory hints.
func (s *Store) ListMeetingsBeforeOwned(ctx context.Context, userID string, before time.Time, limit int) ([]*Meeting, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+meetingColumns+` FROM meetings
		WHERE user_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, timeToMs(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prior meetings: %w", err)
	}
	defer rows.Close()
	return collectMeetings(rows)
}

func collectMeetings(rows *sql.Rows) ([]*Meeting, error) {
	meetings := make([]*Meeting, 0)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}
	return meetings, nil
}

// CountMeetingsOwned returns how many meetings the user has persisted.
func (s *Store) CountMeetingsOwned(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meetings WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count meetings: %w", err)
	}
	return n, nil
}

// UpdateMeetingTranscript replaces raw_notes on an owned meeting.
func (s *Store) UpdateMeetingTranscript(ctx context.Context, id, userID, rawNotes string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE meetings SET raw_notes = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		rawNotes, timeToMs(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update transcript: %w", err)
	}
	return requireAffected(res)
}

// UpdateMeetingExtraction replaces the serialized extraction record on an
// owned meeting.
func (s *Store) UpdateMeetingExtraction(ctx context.Context, id, userID, actionItems string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE meetings SET action_items = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		actionItems, timeToMs(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update extraction: %w", err)
	}
	return requireAffected(res)
}

// UpdateMeetingTitle renames an owned meeting.
func (s *Store) UpdateMeetingTitle(ctx context.Context, id, userID, title string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE meetings SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		title, timeToMs(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return requireAffected(res)
}

// DeleteMeetingOwned removes an owned meeting. Live sessions that pointed at
// it keep their row with meeting_id set NULL by the foreign key.
func (s *Store) DeleteMeetingOwned(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM meetings WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	return requireAffected(res)
}
