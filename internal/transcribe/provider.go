// Package transcribe converts audio chunks to text. The real provider ships
// the blob to a speech-to-text HTTP endpoint; the mock cycles through canned
// segments per session for deterministic pipeline tests.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/recapio/recap-server/internal/logger"
)

// Provider converts one audio chunk to text. formatHint is an extension-like
// string ("webm", "mp3") the endpoint needs to detect the container. An
// empty or whitespace-only result means the chunk was silent; the caller
// records no segment for it.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, formatHint string) (string, error)
}

// Client calls an OpenAI-compatible audio transcription endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a transcription client.
func NewClient(apiKey, baseURL, model string, timeoutSeconds int, log *logger.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		logger: log.WithComponent("transcribe"),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio as multipart form data and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, formatHint string) (string, error) {
	if formatHint == "" {
		formatHint = "webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "chunk."+formatHint)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call transcriber: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
		c.logger.Error("transcriber returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", string(respBody)))
		return "", fmt.Errorf("transcriber returned status %d", resp.StatusCode)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode transcriber response: %w", err)
	}

	c.logger.Debug("chunk transcribed",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("text_chars", len(parsed.Text)))

	return parsed.Text, nil
}
