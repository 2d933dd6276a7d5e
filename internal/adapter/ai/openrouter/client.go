// Package openrouter implements domain.AIClient against the OpenRouter
// chat-completions API (OpenAI-compatible).
//
// The client performs exactly one attempt per call and classifies failures
// with the domain error taxonomy; retry policy belongs to the evaluation
// orchestrator, not here.
package openrouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/observability"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/config"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

const provider = "openrouter"

// maxCompletionTokens bounds the model's reply; the response format is a
// score line plus two short feedback bullets.
const maxCompletionTokens = 400

// Client calls OpenRouter chat completions.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client. The HTTP timeout is a backstop; per-call
// deadlines come from the caller's context.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 60 * time.Second},
	}
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Evaluate sends one rubric+answer pair and returns the raw model text.
func (c *Client) Evaluate(ctx domain.Context, rubricInstructions, answerText string) (string, error) {
	if c.cfg.OpenRouterAPIKey == "" {
		return "", fmt.Errorf("%w: OPENROUTER_API_KEY missing", domain.ErrInvalidArgument)
	}

	body := map[string]any{
		"model":       c.cfg.OpenRouterModel,
		"temperature": 0.2,
		"max_tokens":  maxCompletionTokens,
		"messages": []map[string]string{
			{"role": "system", "content": rubricInstructions},
			{"role": "user", "content": answerText},
		},
	}
	b, _ := json.Marshal(body)

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenRouterBaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("op=ai.evaluate: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
	r.Header.Set("Content-Type", "application/json")
	if c.cfg.OpenRouterReferer != "" {
		r.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
	}
	if c.cfg.OpenRouterTitle != "" {
		r.Header.Set("X-Title", c.cfg.OpenRouterTitle)
	}

	start := time.Now()
	resp, err := c.hc.Do(r)
	if err != nil {
		observability.ObserveAIRequest(provider, "transport_error", time.Since(start))
		if errors.Is(err, ctx.Err()) || ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("op=ai.evaluate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveAIRequest(provider, "read_error", time.Since(start))
		return "", fmt.Errorf("op=ai.evaluate: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.ObserveAIRequest(provider, "rate_limited", time.Since(start))
		slog.Warn("ai provider rate limited",
			slog.String("provider", provider),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
		return "", fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		observability.ObserveAIRequest(provider, "client_error", time.Since(start))
		slog.Warn("ai provider 4xx",
			slog.String("provider", provider),
			slog.Int("status", resp.StatusCode),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", snippet(bodyBytes, 512)))
		return "", fmt.Errorf("%w: chat status %d", domain.ErrInvalidArgument, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observability.ObserveAIRequest(provider, "server_error", time.Since(start))
		slog.Error("ai provider non-2xx",
			slog.String("provider", provider),
			slog.Int("status", resp.StatusCode),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", snippet(bodyBytes, 512)))
		return "", fmt.Errorf("op=ai.evaluate: chat status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		observability.ObserveAIRequest(provider, "decode_error", time.Since(start))
		return "", fmt.Errorf("op=ai.evaluate: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		observability.ObserveAIRequest(provider, "empty_choices", time.Since(start))
		return "", errors.New("op=ai.evaluate: empty choices")
	}
	observability.ObserveAIRequest(provider, "ok", time.Since(start))
	if out.Model != "" && out.Model != c.cfg.OpenRouterModel {
		slog.Debug("model substitution detected",
			slog.String("requested_model", c.cfg.OpenRouterModel),
			slog.String("actual_model", out.Model))
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
