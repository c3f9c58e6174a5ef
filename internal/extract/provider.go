package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/recapio/recap-server/internal/logger"
)

// Provider produces the raw extractor output for a transcript. The caller
// always runs the result through Decode.
type Provider interface {
	Extract(ctx context.Context, transcript string) (string, error)
}

// Client calls an OpenAI-compatible chat-completions endpoint with a fixed
// token budget.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an extraction client for a chat-completions API.
func NewClient(apiKey, baseURL, model string, maxTokens, timeoutSeconds int, log *logger.Logger) *Client {
	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		logger: log.WithComponent("extract"),
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the prompt prefix plus transcript as a single user message
// and returns the raw model text.
func (c *Client) Extract(ctx context.Context, transcript string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: PromptPrefix + transcript},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
		c.logger.Error("extractor returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", string(body)))
		return "", fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode extractor response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("extractor returned no choices")
	}

	c.logger.Debug("extraction completed",
		slog.Int("transcript_chars", len(transcript)),
		slog.Int("response_chars", len(parsed.Choices[0].Message.Content)))

	return parsed.Choices[0].Message.Content, nil
}
