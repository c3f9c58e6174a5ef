// Package zoomimport pulls cloud recordings from the Zoom API into the
// meeting ingest pipeline. Zoom auth state lives on the user row and is
// refreshed lazily when the access token is near expiry.
package zoomimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/meetings"
	"github.com/recapio/recap-server/internal/storage/sqlite"
)

const (
	defaultAPIBaseURL = "https://api.zoom.us/v2"
	defaultTokenURL   = "https://zoom.us/oauth/token"

	// refreshLeeway forces a refresh when the token expires this soon.
	refreshLeeway = 60 * time.Second

	maxDownloadBytes = 500 * 1024 * 1024
)

var (
	// ErrNotConnected means the user never linked a Zoom account.
	ErrNotConnected = errors.New("zoomimport: user has no zoom tokens")
	// ErrRecordingNotFound means the requested recording id is not among the
	// meeting's recording files.
	ErrRecordingNotFound = errors.New("zoomimport: recording not found")
	// ErrUnsupportedRecording means the matched file is not an importable
	// audio container.
	ErrUnsupportedRecording = errors.New("zoomimport: unsupported recording format")
)

// Service imports Zoom cloud recordings.
type Service struct {
	store        *sqlite.Store
	ingest       *meetings.Service
	logger       *logger.Logger
	clientID     string
	clientSecret string
	apiBaseURL   string
	tokenURL     string
	httpClient   *http.Client
}

// NewService wires the Zoom import service against the real Zoom endpoints.
func NewService(store *sqlite.Store, ingest *meetings.Service, log *logger.Logger, clientID, clientSecret string) *Service {
	return &Service{
		store:        store,
		ingest:       ingest,
		logger:       log.WithComponent("zoomimport"),
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBaseURL:   defaultAPIBaseURL,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Configured reports whether Zoom OAuth credentials are present.
func (s *Service) Configured() bool {
	return s.clientID != "" && s.clientSecret != ""
}

type recordingFile struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension"`
	DownloadURL   string `json:"download_url"`
	Status        string `json:"status"`
}

type recordingsResponse struct {
	Topic          string          `json:"topic"`
	RecordingFiles []recordingFile `json:"recording_files"`
}

// ImportRequest identifies one recording file of one Zoom meeting.
type ImportRequest struct {
	MeetingID   string
	RecordingID string
	Topic       string
}

// Import fetches the recording metadata, downloads the matched file to a
// temp path and runs it through the standard ingest pipeline. The temp file
// is removed on every exit path.
func (s *Service) Import(ctx context.Context, user *sqlite.User, req ImportRequest) (*sqlite.Meeting, error) {
	token, err := s.freshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	meta, err := s.fetchRecordings(ctx, token, req.MeetingID)
	if err != nil {
		return nil, err
	}

	file, err := selectRecording(meta, req.RecordingID)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(file.FileExtension)
	if ext == "" {
		ext = "m4a"
	}
	if !meetings.ValidFormat(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRecording, file.FileType)
	}

	path, err := s.download(ctx, token, file.DownloadURL, ext)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	title := req.Topic
	if title == "" {
		title = meta.Topic
	}
	if title == "" {
		title = "Zoom recording"
	}

	meeting, err := s.ingest.IngestFile(ctx, user, path, title, ext)
	if err != nil {
		return nil, err
	}

	s.logger.Info("zoom recording imported",
		slog.String("meeting_id", meeting.ID),
		slog.String("user_id", user.ID),
		slog.String("zoom_meeting_id", req.MeetingID))
	return meeting, nil
}

// freshToken returns a usable access token, refreshing and persisting the
// pair when the cached one expires within the leeway window.
func (s *Service) freshToken(ctx context.Context, user *sqlite.User) (string, error) {
	if user.ZoomAccessToken == "" && user.ZoomRefreshToken == "" {
		return "", ErrNotConnected
	}
	if user.ZoomAccessToken != "" && time.Until(user.ZoomTokenExpiresAt) > refreshLeeway {
		return user.ZoomAccessToken, nil
	}
	if user.ZoomRefreshToken == "" {
		return "", ErrNotConnected
	}

	conf := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.tokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: user.ZoomRefreshToken,
	}).Token()
	if err != nil {
		return "", fmt.Errorf("zoom token refresh failed: %w", err)
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = user.ZoomRefreshToken
	}
	if err := s.store.UpdateZoomTokens(ctx, user.ID, token.AccessToken, refresh, token.Expiry); err != nil {
		return "", err
	}
	user.ZoomAccessToken = token.AccessToken
	user.ZoomRefreshToken = refresh
	user.ZoomTokenExpiresAt = token.Expiry

	s.logger.Info("zoom token refreshed", slog.String("user_id", user.ID))
	return token.AccessToken, nil
}

func (s *Service) fetchRecordings(ctx context.Context, token, meetingID string) (*recordingsResponse, error) {
	url := fmt.Sprintf("%s/meetings/%s/recordings", s.apiBaseURL, meetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zoom recordings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordingNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
		return nil, fmt.Errorf("zoom recordings request returned %d: %s", resp.StatusCode, body)
	}

	var meta recordingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode zoom recordings response: %w", err)
	}
	return &meta, nil
}

// selectRecording picks the file with the requested id. With no id the first
// completed audio-only file wins, matching the desktop client's default.
func selectRecording(meta *recordingsResponse, recordingID string) (*recordingFile, error) {
	if recordingID != "" {
		for i := range meta.RecordingFiles {
			if meta.RecordingFiles[i].ID == recordingID {
				return &meta.RecordingFiles[i], nil
			}
		}
		return nil, ErrRecordingNotFound
	}
	for i := range meta.RecordingFiles {
		f := &meta.RecordingFiles[i]
		if strings.EqualFold(f.FileType, "M4A") && (f.Status == "" || f.Status == "completed") {
			return f, nil
		}
	}
	return nil, ErrRecordingNotFound
}

func (s *Service) download(ctx context.Context, token, url, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("zoom download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("zoom download returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(meetings.TempUploadDir(), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(meetings.TempUploadDir(), "zoom-*."+ext)
	if err != nil {
		return "", err
	}
	path := tmp.Name()

	_, err = io.Copy(tmp, io.LimitReader(resp.Body, maxDownloadBytes))
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(path)
		if err == nil {
			err = closeErr
		}
		return "", fmt.Errorf("failed to stage zoom download: %w", err)
	}
	return path, nil
}
