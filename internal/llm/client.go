package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finsight/internal/common/config"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/common/metrics"
)

const anthropicVersion = "2023-06-01"

// Request is one generation call. System instructions and the user prompt
// travel separately so the instructions cannot be overridden by user text.
type Request struct {
	SystemInstructions string
	UserPrompt         string
	MaxTokens          int
	Temperature        float64
}

type Response struct {
	AnswerText string
	TokensUsed int
	LatencyMs  int64
}

// Client talks to the hosted generation-model service over its messages API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client
	log         logger.Logger
}

func NewClient(cfg config.GenerationConfig, log logger.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Enabled reports whether the client is configured to make calls at all.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate calls the model, retrying transient failures with exponential
// backoff. A context deadline maps to GENERATION_TIMEOUT, everything else
// terminal maps to GENERATION_FAILED.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if !c.Enabled() {
		return nil, apperrors.New(apperrors.ErrCodeGenerationFailed, "generation client is not configured")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	payload := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.SystemInstructions,
		Messages:    []message{{Role: "user", Content: req.UserPrompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeGenerationFailed, "failed to encode generation request", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				metrics.GenerationCalls.WithLabelValues("timeout").Inc()
				return nil, apperrors.Wrap(apperrors.ErrCodeGenerationTimeout, "generation cancelled while backing off", ctx.Err())
			}
		}

		resp, retryable, err := c.doRequest(ctx, body)
		if err == nil {
			latency := time.Since(start)
			resp.LatencyMs = latency.Milliseconds()
			metrics.GenerationCalls.WithLabelValues("success").Inc()
			metrics.GenerationLatency.Observe(latency.Seconds())
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			metrics.GenerationCalls.WithLabelValues("timeout").Inc()
			return nil, apperrors.Wrap(apperrors.ErrCodeGenerationTimeout, "generation call timed out", ctx.Err())
		}
		if !retryable {
			break
		}
		c.log.Warn("generation call failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}

	metrics.GenerationCalls.WithLabelValues("failure").Inc()
	return nil, apperrors.Wrap(apperrors.ErrCodeGenerationFailed, "generation call failed", lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, err
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("generation service returned status %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("generation service error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, false, fmt.Errorf("generation response contained no text content")
	}

	return &Response{
		AnswerText: text,
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
