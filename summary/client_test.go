package summary

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/types"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		if status >= 400 {
			http.Error(w, "upstream error", status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

const goodSummaryJSON = `{
	"issue_type": "billing",
	"key_points": ["double charge on invoice 4411", "refund requested"],
	"current_status": "verified duplicate charge",
	"customer_sentiment": "frustrated",
	"recommended_actions": ["issue refund", "confirm by email"]
}`

func TestHTTPClient_Summarize(t *testing.T) {
	srv := chatServer(t, http.StatusOK, goodSummaryJSON)
	defer srv.Close()

	client := NewHTTPClient(config.SummarizerConfig{
		Model:   "gpt-4o-mini",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())

	s, err := client.Summarize(context.Background(), "customer: I was charged twice")
	require.NoError(t, err)
	assert.Equal(t, "billing", s.IssueType)
	assert.Len(t, s.KeyPoints, 2)
	assert.Equal(t, "frustrated", s.CustomerSentiment)
	assert.Equal(t, "primary", s.ProviderUsed)
	assert.Greater(t, s.GenerationSecs, 0.0)
}

func TestHTTPClient_FallbackChain(t *testing.T) {
	primary := chatServer(t, http.StatusInternalServerError, "")
	defer primary.Close()
	fallback := chatServer(t, http.StatusOK, goodSummaryJSON)
	defer fallback.Close()

	client := NewHTTPClient(config.SummarizerConfig{
		Model:           "gpt-4o-mini",
		APIKey:          "k1",
		BaseURL:         primary.URL,
		FallbackModel:   "llama-3.3-70b-versatile",
		FallbackAPIKey:  "k2",
		FallbackBaseURL: fallback.URL,
		Timeout:         5 * time.Second,
	}, zap.NewNop())

	s, err := client.Summarize(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s.ProviderUsed)
}

func TestHTTPClient_AllEndpointsFail(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, "")
	defer srv.Close()

	client := NewHTTPClient(config.SummarizerConfig{
		Model:   "gpt-4o-mini",
		APIKey:  "k",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())

	_, err := client.Summarize(context.Background(), "transcript")
	require.Error(t, err)
	assert.Equal(t, types.ErrSummaryFailed, types.GetErrorCode(err))
}

func TestHTTPClient_DeadlinePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read; without
		// that it never notices the client disconnect and ctx never fires.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewHTTPClient(config.SummarizerConfig{
		Model:   "gpt-4o-mini",
		APIKey:  "k",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Summarize(ctx, "transcript")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseSummary_CodeFences(t *testing.T) {
	s, err := parseSummary("```json\n" + goodSummaryJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "billing", s.IssueType)
}

func TestParseSummary_Invalid(t *testing.T) {
	_, err := parseSummary("I cannot produce a summary.")
	assert.Error(t, err)

	_, err = parseSummary(`{"unrelated": true}`)
	assert.Error(t, err)
}
