// Package llm wraps the OpenAI-compatible chat API behind a small
// synchronous interface. All supported providers speak the same protocol,
// so one client covers them.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/skinsense/skinsense/internal/profile"
	"github.com/skinsense/skinsense/store"
)

// Classified failures. The orchestrator maps these onto user-facing
// behavior; anything else is an internal error.
var (
	// ErrRateLimited means the provider rejected the call with 429.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrTimeout means the call exceeded the configured deadline.
	ErrTimeout = errors.New("llm request timed out")
	// ErrInvalidRequest means the provider rejected the request shape.
	ErrInvalidRequest = errors.New("llm invalid request")
)

// CallStats are the token and timing metrics for a single call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	CacheReadTokens  int   `json:"cache_read_tokens,omitempty"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// Service is the generation interface the orchestrator depends on.
type Service interface {
	// Generate produces one assistant reply for the system prompt and
	// conversation history. Exactly one provider call per invocation; no
	// internal retries. Retry policy belongs to the caller.
	Generate(ctx context.Context, systemPrompt string, history []store.Message) (string, *CallStats, error)
}

type service struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

// NewService builds the chat client for the configured provider. The base
// URL and model defaults come from the profile, so every provider is just
// an OpenAI-compatible endpoint here.
func NewService(profile *profile.Profile) (Service, error) {
	clientConfig := openai.DefaultConfig(profile.LLMAPIKey)
	if profile.LLMBaseURL != "" {
		clientConfig.BaseURL = profile.LLMBaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := time.Duration(profile.LLMTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRPS := profile.LLMMaxRPS
	if maxRPS <= 0 {
		maxRPS = 5
	}

	return &service{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   profile.LLMModel,
		limiter: rate.NewLimiter(rate.Limit(maxRPS), maxRPS),
		timeout: timeout,
	}, nil
}

func (s *service) Generate(ctx context.Context, systemPrompt string, history []store.Message) (string, *CallStats, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", nil, classify(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slog.Debug("llm: generate request", "model", s.model, "history_count", len(history))

	startTime := time.Now()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: convertMessages(systemPrompt, history),
	})
	if err != nil {
		slog.Error("llm: generate request failed", "model", s.model, "error", err)
		return "", nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("llm: empty response")
		return "", nil, errors.New("empty response from llm")
	}

	totalDuration := time.Since(startTime)

	stats := &CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  totalDuration.Milliseconds(),
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	slog.Debug("llm: generate response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", stats.TotalTokens,
		"duration_ms", totalDuration.Milliseconds(),
	)

	return resp.Choices[0].Message.Content, stats, nil
}

// classify folds provider errors into the package error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimited
		case http.StatusBadRequest:
			return ErrInvalidRequest
		}
	}
	return err
}

func convertMessages(systemPrompt string, history []store.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
