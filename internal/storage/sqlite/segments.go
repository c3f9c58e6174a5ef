package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func scanSegment(row interface{ Scan(...any) error }) (*TranscriptSegment, error) {
	var (
		seg     TranscriptSegment
		isFinal int
	)
	err := row.Scan(&seg.SessionID, &seg.SegmentIndex, &seg.Text,
		&seg.TimestampMS, &seg.Speaker, &isFinal)
	if err != nil {
		return nil, fmt.Errorf("failed to scan segment: %w", err)
	}
	seg.IsFinal = isFinal == 1
	return &seg, nil
}

// InsertNextSegment appends a segment to a session, allocating the next
// dense index atomically. Concurrent chunk uploads for the same session
// serialize on the transaction, so indices never collide or gap.
func (s *Store) InsertNextSegment(ctx context.Context, sessionID, text string, timestampMS int64, speaker string) (*TranscriptSegment, error) {
	if speaker == "" {
		speaker = "Speaker"
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextIndex int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(segment_index) + 1, 0)
		FROM transcript_segments WHERE session_id = ?`, sessionID).Scan(&nextIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate segment index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcript_segments (session_id, segment_index, text, timestamp_ms, speaker, is_final)
		VALUES (?, ?, ?, ?, ?, 1)`,
		sessionID, nextIndex, text, timestampMS, speaker)
	if err != nil {
		return nil, fmt.Errorf("failed to insert segment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit segment: %w", err)
	}

	return &TranscriptSegment{
		SessionID:    sessionID,
		SegmentIndex: nextIndex,
		Text:         text,
		TimestampMS:  timestampMS,
		Speaker:      speaker,
		IsFinal:      true,
	}, nil
}

// ListSegmentsOrdered returns all segments of a session in index order.
func (s *Store) ListSegmentsOrdered(ctx context.Context, sessionID string) ([]*TranscriptSegment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, segment_index, text, timestamp_ms, speaker, is_final
		FROM transcript_segments
		WHERE session_id = ?
		ORDER BY segment_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// ListRecentSegments returns the last limit segments of a session in index
// order. Feeds the rolling window for memory hints.
func (s *Store) ListRecentSegments(ctx context.Context, sessionID string, limit int) ([]*TranscriptSegment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, segment_index, text, timestamp_ms, speaker, is_final
		FROM transcript_segments
		WHERE session_id = ?
		ORDER BY segment_index DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent segments: %w", err)
	}
	defer rows.Close()

	segments, err := collectSegments(rows)
	if err != nil {
		return nil, err
	}
	// Restore ascending index order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments, nil
}

// CountSegments returns how many segments a session holds.
func (s *Store) CountSegments(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_segments WHERE session_id = ?`,
		sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count segments: %w", err)
	}
	return n, nil
}

func collectSegments(rows *sql.Rows) ([]*TranscriptSegment, error) {
	segments := make([]*TranscriptSegment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}
	return segments, nil
}
