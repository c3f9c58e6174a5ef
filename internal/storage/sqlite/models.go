package sqlite

import (
	"time"

	"github.com/recapio/recap-server/internal/tiers"
)

// Live session lifecycle states.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// User is an account row. Email is stored lower-cased and unique.
type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Plan       tiers.Plan `json:"plan"`
	IsLifetime bool       `json:"is_lifetime"`

	StripeCustomerID string `json:"-"`

	ZoomAccessToken    string    `json:"-"`
	ZoomRefreshToken   string    `json:"-"`
	ZoomTokenExpiresAt time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserIdentity links an OAuth identity (provider + subject) to a user.
type UserIdentity struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}

// Meeting is a persisted meeting record. ActionItems holds the serialized
// extraction record as JSON text; "{}" means no extraction has run yet.
type Meeting struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	RawNotes    string    `json:"raw_notes"`
	ActionItems string    `json:"action_items"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LiveSession is one live-capture session. At most one active session exists
// per user; completion links the session to the meeting it produced.
type LiveSession struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Participants string     `json:"participants"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MeetingID    *string    `json:"meeting_id,omitempty"`
}

// TranscriptSegment is one transcribed chunk. Indices are dense per session,
// starting at zero, in arrival order.
type TranscriptSegment struct {
	SessionID    string `json:"-"`
	SegmentIndex int    `json:"segment_index"`
	Text         string `json:"text"`
	TimestampMS  int64  `json:"timestamp_ms"`
	Speaker      string `json:"speaker"`
	IsFinal      bool   `json:"is_final"`
}

// UsageRow counts extractions for one user in one YYYY-MM month.
type UsageRow struct {
	UserID   string `json:"user_id"`
	Month    string `json:"month"`
	Extracts int64  `json:"extracts"`
}

// TrackedIssue is an open item surfaced by the insight engine or filed by
// the user directly.
type TrackedIssue struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	IssueText          string     `json:"issue_text"`
	Notes              string     `json:"notes"`
	SourceMeetingID    *string    `json:"source_meeting_id,omitempty"`
	SourceMeetingTitle string     `json:"source_meeting_title"`
	Resolved           bool       `json:"resolved"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}
