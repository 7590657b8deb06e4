package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/morallab/moralsim-backend/internal/logger"
	"github.com/morallab/moralsim-backend/internal/utils"
)

// Client is the single entry point to the external generation API. It owns
// retry/backoff, response parsing, and schema enforcement; callers only see
// the typed error kinds in errors.go.
type Client interface {
	Call(ctx context.Context, prompt string, temperature float64, schemaName string, schema map[string]any) (map[string]any, error)
	ModelVersion() string
}

type client struct {
	log        *logger.Logger
	httpClient *http.Client
	apiKey     string
	endpoint   string
	model      string

	maxRetries     int
	initialBackoff time.Duration

	// sleep is swapped in tests for deterministic backoff assertions.
	sleep func(time.Duration)
}

func NewClient(log *logger.Logger) (Client, error) {
	serviceLog := log.With("service", "LLMClient")

	apiKey := utils.GetEnv("LLM_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}
	endpoint := utils.GetEnv("LLM_API_ENDPOINT", "https://openrouter.ai/api/v1/chat/completions", log)
	model := utils.GetEnv("LLM_MODEL", "openai/gpt-4o-mini", log)
	timeoutSec := utils.GetEnvAsInt("LLM_TIMEOUT_SECONDS", 120, log)

	return &client{
		log:            serviceLog,
		httpClient:     &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		apiKey:         apiKey,
		endpoint:       endpoint,
		model:          model,
		maxRetries:     3,
		initialBackoff: 2 * time.Second,
		sleep:          time.Sleep,
	}, nil
}

func (c *client) ModelVersion() string {
	return c.model
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
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

func (c *client) Call(ctx context.Context, prompt string, temperature float64, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" || schema == nil {
		return nil, fmt.Errorf("schema required")
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"strict": true,
				"schema": schema,
			},
		},
	}

	raw, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &InvalidUpstreamResponseError{Body: excerpt(string(raw))}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &InvalidUpstreamResponseError{Body: excerpt(string(raw))}
	}

	text := stripCodeFence(resp.Choices[0].Message.Content)

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &MalformedOutputError{Excerpt: excerpt(text), Err: err}
	}
	return out, nil
}

// doWithRetry retries only on 429, up to maxRetries additional attempts
// with doubling backoff (2s, 4s, 8s). Any other client error propagates
// immediately.
func (c *client) doWithRetry(ctx context.Context, req chatRequest) ([]byte, error) {
	backoff := c.initialBackoff

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		raw, err := c.doOnce(ctx, req)
		if err == nil {
			return raw, nil
		}

		httpErr, ok := err.(*httpError)
		if !ok || httpErr.StatusCode != http.StatusTooManyRequests {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, &RateLimitedError{Attempts: attempt + 1}
		}

		c.log.Warn("LLM request rate limited, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", backoff.String(),
		)
		c.sleep(backoff)
		backoff *= 2
	}
}

func (c *client) doOnce(ctx context.Context, body chatRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://moral-reasoning-study.research")
	req.Header.Set("X-Title", "Moral Reasoning Research Study")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: excerpt(string(raw))}
	}
	return raw, nil
}

// stripCodeFence removes a Markdown code fence the model may have wrapped
// its JSON in.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	} else {
		return text
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func excerpt(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
