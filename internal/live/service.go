// Package live implements the live-capture state machine: session start,
// chunk ingestion, the single-subscriber push channel, stop-and-extract, and
// read-only memory hints.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/recapio/recap-server/internal/analysis"
	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/metrics"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/transcribe"
	"github.com/recapio/recap-server/internal/usage"
)

// ErrNotActive is returned when a chunk or stop hits a session that is not
// in the active state. Stopping twice is clean, not corrupting.
var ErrNotActive = errors.New("live: session is not active")

// Memory-hint tuning.
const (
	hintSegmentWindow  = 24
	hintMeetingWindow  = 20
	hintMinShared      = 2
	hintSnippetMax     = 150
	maxHints           = 3
	transcriptJoiner   = "\n\n"
	noTranscriptNotice = "No transcript was captured."
)

// counterResetter is implemented by the mock transcriber; the real provider
// has no per-session state to reset.
type counterResetter interface {
	Reset(sessionID string)
}

// Service drives live sessions end to end.
type Service struct {
	store       *sqlite.Store
	registry    *Registry
	transcriber transcribe.Provider
	extractor   extract.Provider
	gate        *usage.Gate
	logger      *logger.Logger
}

// NewService wires the live session service.
func NewService(store *sqlite.Store, registry *Registry, transcriber transcribe.Provider, extractor extract.Provider, gate *usage.Gate, log *logger.Logger) *Service {
	return &Service{
		store:       store,
		registry:    registry,
		transcriber: transcriber,
		extractor:   extractor,
		gate:        gate,
		logger:      log.WithComponent("live"),
	}
}

// Start creates an active session for the user. When the user already has
// one, the existing session's ID is returned with
// sqlite.ErrActiveSessionExists so the client can attach instead of forking.
func (s *Service) Start(ctx context.Context, user *sqlite.User, title, participants string) (*sqlite.LiveSession, string, error) {
	sess := &sqlite.LiveSession{
		UserID:       user.ID,
		Title:        title,
		Participants: participants,
	}
	sessionID, err := s.store.StartLiveSession(ctx, sess)
	if err != nil {
		return nil, sessionID, err
	}

	if resetter, ok := s.transcriber.(counterResetter); ok {
		resetter.Reset(sessionID)
	}

	s.logger.Info("live session started",
		slog.String("session_id", sessionID),
		slog.String("user_id", user.ID),
		slog.String("title", title))
	return sess, "", nil
}

// Active returns the user's current active session, or sqlite.ErrNotFound.
func (s *Service) Active(ctx context.Context, user *sqlite.User) (*sqlite.LiveSession, error) {
	return s.store.FindActiveSessionByUser(ctx, user.ID)
}

// ChunkResult reports what happened to one uploaded chunk.
type ChunkResult struct {
	Silent       bool
	SegmentIndex *int
}

// Chunk transcribes one audio blob and appends the segment. A chunk whose
// transcription is empty is silent: no segment is allocated and subscribers
// see nothing. Failures here never change session state. A nil timestampMS
// means the client omitted it and the offset is derived from the session
// start; an explicit zero is kept as-is.
func (s *Service) Chunk(ctx context.Context, user *sqlite.User, sessionID string, audio []byte, formatHint string, timestampMS *int64) (*ChunkResult, error) {
	sess, err := s.store.GetLiveSessionOwned(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sqlite.SessionActive {
		return nil, ErrNotActive
	}

	var ts int64
	if timestampMS != nil {
		ts = *timestampMS
	} else if elapsed := time.Since(sess.StartedAt).Milliseconds(); elapsed > 0 {
		ts = elapsed
	}

	start := time.Now()
	text, err := s.transcriber.Transcribe(transcribe.WithSessionID(ctx, sessionID), audio, formatHint)
	metrics.ProviderLatency.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.LogError(ctx, err, "chunk transcription failed",
			"session_id", sessionID)
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		metrics.SilentChunksTotal.Inc()
		s.logger.Debug("silent chunk", slog.String("session_id", sessionID))
		return &ChunkResult{Silent: true}, nil
	}

	seg, err := s.store.InsertNextSegment(ctx, sessionID, text, ts, "")
	if err != nil {
		return nil, err
	}
	metrics.SegmentsTotal.Inc()

	// Push after the insert commits so subscribers always observe indices
	// in increasing order.
	s.registry.Publish(sessionID, segmentEvent(seg))

	s.logger.Debug("segment appended",
		slog.String("session_id", sessionID),
		slog.Int("segment_index", seg.SegmentIndex))

	return &ChunkResult{SegmentIndex: &seg.SegmentIndex}, nil
}

// StopResult is the outcome of stopping a session.
type StopResult struct {
	MeetingID *string
	Title     string
	Message   string
}

// Stop finalizes a session: concatenates the transcript, runs extraction
// (degrading to an empty record on any failure), persists the meeting and
// completes the session. With zero segments the session fails and no
// meeting is written.
func (s *Service) Stop(ctx context.Context, user *sqlite.User, sessionID string) (*StopResult, error) {
	sess, err := s.store.GetLiveSessionOwned(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sqlite.SessionActive {
		return nil, ErrNotActive
	}

	segments, err := s.store.ListSegmentsOrdered(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		if err := s.store.FinalizeLiveSession(ctx, sessionID, user.ID, sqlite.SessionFailed, nil); err != nil {
			return nil, err
		}
		s.registry.Close(sessionID, stoppedEvent(sessionID, nil))
		s.logger.Info("live session stopped with no transcript",
			slog.String("session_id", sessionID))
		return &StopResult{Title: sess.Title, Message: noTranscriptNotice}, nil
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	transcript := strings.Join(parts, transcriptJoiner)

	record := s.extractRecord(ctx, user, transcript)
	actionItems, err := json.Marshal(record)
	if err != nil {
		actionItems = []byte("{}")
	}

	meeting := &sqlite.Meeting{
		UserID:      user.ID,
		Title:       sess.Title,
		RawNotes:    transcript,
		ActionItems: string(actionItems),
	}
	if err := s.store.CreateMeeting(ctx, meeting); err != nil {
		return nil, err
	}
	if err := s.store.FinalizeLiveSession(ctx, sessionID, user.ID, sqlite.SessionCompleted, &meeting.ID); err != nil {
		return nil, err
	}

	s.registry.Close(sessionID, stoppedEvent(sessionID, &meeting.ID))
	s.logger.Info("live session completed",
		slog.String("session_id", sessionID),
		slog.String("meeting_id", meeting.ID),
		slog.Int("segments", len(segments)))

	return &StopResult{MeetingID: &meeting.ID, Title: sess.Title}, nil
}

// extractRecord runs the extractor behind the usage gate. Every failure
// path, quota included, degrades to an empty record: the transcript is
// worth more than the extraction.
func (s *Service) extractRecord(ctx context.Context, user *sqlite.User, transcript string) *extract.Record {
	if s.extractor == nil {
		return extract.EmptyRecord()
	}

	decision, err := s.gate.CheckExtract(ctx, user)
	if err != nil || !decision.Allowed {
		if err == nil {
			s.logger.Info("extraction skipped at stop, quota exhausted",
				slog.String("user_id", user.ID))
		}
		return extract.EmptyRecord()
	}

	start := time.Now()
	raw, err := s.extractor.Extract(ctx, transcript)
	metrics.ProviderLatency.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("error").Inc()
		s.logger.LogError(ctx, err, "extraction failed at stop, saving empty record")
		return extract.EmptyRecord()
	}

	record, err := extract.Decode(raw)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("decode_error").Inc()
		s.logger.Error("extractor response unparsable, saving empty record",
			slog.String("raw", truncate(raw, 800)))
		return extract.EmptyRecord()
	}

	metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
	if err := s.gate.Consume(ctx, user.ID); err != nil {
		s.logger.LogError(ctx, err, "failed to record extraction usage")
	}
	return record
}

// Status returns the session snapshot plus its segment count.
func (s *Service) Status(ctx context.Context, user *sqlite.User, sessionID string) (*sqlite.LiveSession, int64, error) {
	sess, err := s.store.GetLiveSessionOwned(ctx, sessionID, user.ID)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.store.CountSegments(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	return sess, count, nil
}

// MemoryHint links the live discussion to a prior meeting.
type MemoryHint struct {
	MeetingID    string   `json:"meeting_id"`
	Title        string   `json:"title"`
	Date         string   `json:"date"`
	SharedTopics []string `json:"shared_topics"`
	Snippet      string   `json:"snippet"`
}

// MemoryHints matches the session's recent context against the user's prior
// meetings. Read-only: it never changes session state.
func (s *Service) MemoryHints(ctx context.Context, user *sqlite.User, sessionID string) ([]MemoryHint, error) {
	sess, err := s.store.GetLiveSessionOwned(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	if sess.Status != sqlite.SessionActive {
		return nil, ErrNotActive
	}

	segments, err := s.store.ListRecentSegments(ctx, sessionID, hintSegmentWindow)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	liveKeywords := analysis.Keywords(strings.Join(parts, " "))

	meetings, err := s.store.ListMeetingsBeforeOwned(ctx, user.ID, time.Now().UTC(), hintMeetingWindow)
	if err != nil {
		return nil, err
	}

	hints := make([]MemoryHint, 0, maxHints)
	for _, m := range meetings {
		shared := sharedTokens(liveKeywords, analysis.Keywords(m.RawNotes))
		if len(shared) < hintMinShared {
			continue
		}
		hints = append(hints, MemoryHint{
			MeetingID:    m.ID,
			Title:        m.Title,
			Date:         m.CreatedAt.Format("2006-01-02"),
			SharedTopics: shared,
			Snippet:      firstSentenceWith(m.RawNotes, shared),
		})
		if len(hints) == maxHints {
			break
		}
	}
	return hints, nil
}

func sharedTokens(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, token := range b {
		set[token] = struct{}{}
	}
	shared := make([]string, 0, 4)
	for _, token := range a {
		if _, ok := set[token]; ok {
			shared = append(shared, token)
		}
	}
	return shared
}

// firstSentenceWith returns the first sentence of text containing any of
// the keywords, truncated to the snippet limit.
func firstSentenceWith(text string, keywords []string) string {
	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return truncate(sentence, hintSnippetMax)
			}
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
