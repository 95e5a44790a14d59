package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/types"
)

// Client produces a structured case summary from a call transcript.
type Client interface {
	Summarize(ctx context.Context, transcript string) (*types.Summary, error)
}

// Endpoint is one OpenAI-compatible chat completions backend.
type Endpoint struct {
	Name    string
	Model   string
	APIKey  string
	BaseURL string
}

// HTTPClient calls OpenAI-compatible endpoints in order until one returns a
// usable summary. The original deployment pairs an OpenAI primary with a
// Groq fallback; both speak the same wire format.
type HTTPClient struct {
	endpoints []Endpoint
	client    *http.Client
	logger    *zap.Logger
}

const systemPrompt = `You are a call center AI assisting a warm transfer. Analyze the conversation transcript and respond with ONLY a JSON object with these fields: issue_type (string), key_points (array of strings), current_status (string), customer_sentiment (string), recommended_actions (array of strings).`

// NewHTTPClient builds the summarizer client from configuration. The
// fallback endpoint is skipped when no fallback base URL is configured.
func NewHTTPClient(cfg config.SummarizerConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoints := []Endpoint{{
		Name:    "primary",
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	}}
	if cfg.FallbackBaseURL != "" {
		endpoints = append(endpoints, Endpoint{
			Name:    "fallback",
			Model:   cfg.FallbackModel,
			APIKey:  cfg.FallbackAPIKey,
			BaseURL: cfg.FallbackBaseURL,
		})
	}

	return &HTTPClient{
		endpoints: endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With(zap.String("component", "summary_client")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize tries each endpoint in order and returns the first structured
// summary. Context cancellation and deadlines abort the whole chain.
func (c *HTTPClient) Summarize(ctx context.Context, transcript string) (*types.Summary, error) {
	start := time.Now()
	var lastErr error

	for _, ep := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := c.summarizeWith(ctx, ep, transcript)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			c.logger.Warn("summarizer endpoint failed",
				zap.String("endpoint", ep.Name),
				zap.String("model", ep.Model),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		s.ProviderUsed = ep.Name
		s.GenerationSecs = time.Since(start).Seconds()
		return s, nil
	}

	return nil, types.NewError(types.ErrSummaryFailed, "all summarizer endpoints failed").WithCause(lastErr)
}

func (c *HTTPClient) summarizeWith(ctx context.Context, ep Endpoint, transcript string) (*types.Summary, error) {
	body := chatRequest{
		Model: ep.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Analyze this call transcript: %s", transcript)},
		},
		Temperature:    0.1,
		MaxTokens:      500,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal summarizer request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(ep.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create summarizer request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("summarizer returned %d: %s", resp.StatusCode, string(msg))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode summarizer response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("summarizer returned no choices")
	}

	return parseSummary(chatResp.Choices[0].Message.Content)
}

// parseSummary extracts the structured summary from the model output.
// Models occasionally wrap JSON in code fences; those are stripped before
// decoding.
func parseSummary(content string) (*types.Summary, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var s types.Summary
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return nil, fmt.Errorf("parse summary JSON: %w", err)
	}
	if s.IssueType == "" && len(s.KeyPoints) == 0 {
		return nil, fmt.Errorf("summary missing required fields")
	}
	return &s, nil
}
