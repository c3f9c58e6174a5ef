package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrActiveSessionExists is returned by StartLiveSession when the user
// already has an active session. The conflicting session ID rides along in
// the return value.
var ErrActiveSessionExists = errors.New("storage: an active session already exists")

const sessionColumns = `id, user_id, title, participants, status, started_at, ended_at, meeting_id`

func scanSession(row interface{ Scan(...any) error }) (*LiveSession, error) {
	var (
		ls        LiveSession
		startedMs int64
		endedMs   sql.NullInt64
		meetingID sql.NullString
	)
	err := row.Scan(&ls.ID, &ls.UserID, &ls.Title, &ls.Participants, &ls.Status,
		&startedMs, &endedMs, &meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan live session: %w", err)
	}
	ls.StartedAt = msToTime(startedMs)
	ls.EndedAt = msToTimePtr(endedMs)
	ls.MeetingID = strPtr(meetingID)
	return &ls, nil
}

// StartLiveSession creates an active session for the user, enforcing the
// single-active-session invariant inside one transaction. When another
// active session exists its ID is returned with ErrActiveSessionExists and
// nothing is written.
func (s *Store) StartLiveSession(ctx context.Context, sess *LiveSession) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.Status = SessionActive
	sess.StartedAt = time.Now().UTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM live_sessions
		WHERE user_id = ? AND status = ?
		LIMIT 1`, sess.UserID, SessionActive).Scan(&existingID)
	switch {
	case err == nil:
		return existingID, ErrActiveSessionExists
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("failed to check for active session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO live_sessions (id, user_id, title, participants, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, sess.Participants, sess.Status,
		timeToMs(sess.StartedAt))
	if err != nil {
		return "", fmt.Errorf("failed to create live session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit live session: %w", err)
	}
	return sess.ID, nil
}

// GetLiveSessionOwned returns the session only when it belongs to userID.
func (s *Store) GetLiveSessionOwned(ctx context.Context, id, userID string) (*LiveSession, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE id = ? AND user_id = ?`,
		id, userID)
	return scanSession(row)
}

// FindActiveSessionByUser returns the user's active session, if any.
func (s *Store) FindActiveSessionByUser(ctx context.Context, userID string) (*LiveSession, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM live_sessions
		WHERE user_id = ? AND status = ?
		LIMIT 1`, userID, SessionActive)
	return scanSession(row)
}

// FinalizeLiveSession transitions an active session to completed or failed,
// stamps ended_at and optionally links the produced meeting. Finalizing a
// session that is no longer active returns ErrNotFound.
func (s *Store) FinalizeLiveSession(ctx context.Context, id, userID, status string, meetingID *string) error {
	var mid any
	if meetingID != nil {
		mid = *meetingID
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE live_sessions SET status = ?, ended_at = ?, meeting_id = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		status, timeToMs(time.Now().UTC()), mid, id, userID, SessionActive)
	if err != nil {
		return fmt.Errorf("failed to finalize live session: %w", err)
	}
	return requireAffected(res)
}

// CountStaleActiveSessions counts sessions still marked active that started
// before the cutoff. Reported by the background sweep; never auto-failed.
func (s *Store) CountStaleActiveSessions(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM live_sessions
		WHERE status = ? AND started_at < ?`,
		SessionActive, timeToMs(before)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale sessions: %w", err)
	}
	return n, nil
}
