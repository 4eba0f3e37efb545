package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/common/config"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.GenerationConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "claude-3-haiku-20240307",
		MaxTokens:   1024,
		Temperature: 0.3,
		Timeout:     2000,
		MaxRetries:  2,
	}, logger.NewTestLogger(t))
}

func successBody(text string) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"usage": map[string]interface{}{
			"input_tokens":  120,
			"output_tokens": 45,
		},
	}
}

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "claude-3-haiku-20240307", payload["model"])
		assert.Equal(t, "answer briefly", payload["system"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successBody("You spent Rp 1.2M last month."))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(), Request{
		SystemInstructions: "answer briefly",
		UserPrompt:         "how much did I spend last month?",
	})

	require.NoError(t, err)
	assert.Equal(t, "You spent Rp 1.2M last month.", resp.AnswerText)
	assert.Equal(t, 165, resp.TokensUsed)
	assert.GreaterOrEqual(t, resp.LatencyMs, int64(0))
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successBody("recovered"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Generate(context.Background(), Request{UserPrompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.AnswerText)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Generate(context.Background(), Request{UserPrompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeGenerationFailed, apperrors.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(successBody("too late"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, Request{UserPrompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeGenerationTimeout, apperrors.CodeOf(err))
}

func TestGenerateEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[],"usage":{"input_tokens":10,"output_tokens":0}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Generate(context.Background(), Request{UserPrompt: "hi"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeGenerationFailed, apperrors.CodeOf(err))
}

func TestGenerateDisabledClient(t *testing.T) {
	client := NewClient(config.GenerationConfig{BaseURL: "http://localhost:9"}, logger.NewNoOpLogger())

	assert.False(t, client.Enabled())
	_, err := client.Generate(context.Background(), Request{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeGenerationFailed, apperrors.CodeOf(err))
}
