package live

import "github.com/recapio/recap-server/internal/storage/sqlite"

// Event names pushed over the live stream. A segment rides as a bare data
// event; connected and stopped are named.
const (
	EventConnected = "connected"
	EventStopped   = "stopped"
)

// Event is one message on a session's push channel.
type Event struct {
	// Name is the SSE event name; empty means an unnamed data event.
	Name string
	// Data is JSON-serialized into the data field.
	Data any
}

// SegmentEvent is the payload of a segment push.
type SegmentEvent struct {
	SegmentIndex int    `json:"segment_index"`
	Text         string `json:"text"`
	TimestampMS  int64  `json:"timestamp_ms"`
	Speaker      string `json:"speaker"`
	IsFinal      bool   `json:"is_final"`
}

// segmentEvent converts a stored segment into its push payload.
func segmentEvent(seg *sqlite.TranscriptSegment) Event {
	return Event{Data: SegmentEvent{
		SegmentIndex: seg.SegmentIndex,
		Text:         seg.Text,
		TimestampMS:  seg.TimestampMS,
		Speaker:      seg.Speaker,
		IsFinal:      seg.IsFinal,
	}}
}

// connectedEvent greets a fresh subscriber.
func connectedEvent(sessionID string) Event {
	return Event{Name: EventConnected, Data: map[string]string{"session_id": sessionID}}
}

// stoppedEvent closes the stream, carrying the meeting the session produced
// (null when the session failed with no transcript).
func stoppedEvent(sessionID string, meetingID *string) Event {
	return Event{Name: EventStopped, Data: map[string]any{
		"session_id": sessionID,
		"meeting_id": meetingID,
	}}
}
