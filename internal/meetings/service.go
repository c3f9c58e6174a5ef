// Package meetings covers the non-live ingest paths (file upload, manual
// save) and the meeting CRUD surface, including insights and the
// what-changed diff.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/metrics"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/transcribe"
	"github.com/recapio/recap-server/internal/usage"
)

// ErrUnsupportedFormat rejects uploads whose extension is not a supported
// audio container.
var ErrUnsupportedFormat = errors.New("meetings: unsupported audio format")

// allowedExtensions are the accepted upload containers.
var allowedExtensions = map[string]struct{}{
	"mp3": {}, "wav": {}, "m4a": {}, "webm": {},
}

// TempUploadDir returns the directory transient upload blobs live in; the
// background sweeper clears anything left behind by a crashed request.
func TempUploadDir() string {
	return os.TempDir() + string(os.PathSeparator) + "recap-uploads"
}

// Service implements upload ingest and extraction over the store.
type Service struct {
	store       *sqlite.Store
	transcriber transcribe.Provider
	extractor   extract.Provider
	gate        *usage.Gate
	logger      *logger.Logger
}

// NewService wires the meeting ingest service.
func NewService(store *sqlite.Store, transcriber transcribe.Provider, extractor extract.Provider, gate *usage.Gate, log *logger.Logger) *Service {
	return &Service{
		store:       store,
		transcriber: transcriber,
		extractor:   extractor,
		gate:        gate,
		logger:      log.WithComponent("meetings"),
	}
}

// ValidFormat reports whether ext (without dot, any case) is an accepted
// upload container.
func ValidFormat(ext string) bool {
	_, ok := allowedExtensions[strings.ToLower(ext)]
	return ok
}

// IngestFile transcribes an uploaded audio file and persists a meeting with
// the transcript and an empty extraction record. The caller has already
// passed the meeting quota check and owns temp-file cleanup.
func (s *Service) IngestFile(ctx context.Context, user *sqlite.User, path, title, formatHint string) (*sqlite.Meeting, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, audio, formatHint)
	metrics.ProviderLatency.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	meeting := &sqlite.Meeting{
		UserID:   user.ID,
		Title:    title,
		RawNotes: text,
	}
	if err := s.store.CreateMeeting(ctx, meeting); err != nil {
		return nil, err
	}

	s.logger.Info("meeting ingested from upload",
		slog.String("meeting_id", meeting.ID),
		slog.String("user_id", user.ID),
		slog.Int("transcript_chars", len(text)))
	return meeting, nil
}

// Extract runs the extractor over free-form notes, after the usage gate has
// allowed it, and consumes one unit on success. The decode failure is
// distinct so the handler can log the raw response and answer 500.
func (s *Service) Extract(ctx context.Context, user *sqlite.User, notes string) (*extract.Record, error) {
	start := time.Now()
	raw, err := s.extractor.Extract(ctx, notes)
	metrics.ProviderLatency.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	record, err := extract.Decode(raw)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("decode_error").Inc()
		s.logger.Error("extractor response unparsable",
			slog.String("user_id", user.ID),
			slog.String("raw", truncate(raw, 800)))
		return nil, err
	}

	metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
	if err := s.gate.Consume(ctx, user.ID); err != nil {
		s.logger.LogError(ctx, err, "failed to record extraction usage")
	}
	return record, nil
}

// SaveManual persists a meeting from client-provided notes and an optional
// pre-built extraction record.
func (s *Service) SaveManual(ctx context.Context, user *sqlite.User, title, rawNotes string, record *extract.Record) (*sqlite.Meeting, error) {
	actionItems := "{}"
	if record != nil {
		serialized, err := record.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize extraction: %w", err)
		}
		actionItems = serialized
	}

	meeting := &sqlite.Meeting{
		UserID:      user.ID,
		Title:       title,
		RawNotes:    rawNotes,
		ActionItems: actionItems,
	}
	if err := s.store.CreateMeeting(ctx, meeting); err != nil {
		return nil, err
	}
	return meeting, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
