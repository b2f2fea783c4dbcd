package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codeloop/config"
	"github.com/isdmx/codeloop/metrics"
)

// completionWeight is how much more a completion token costs against the
// budget than a prompt token.
const completionWeight = 4

const maxErrorBody = 512

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single Chat Completions message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatClient performs JSON-mode requests against an OpenAI-compatible Chat
// Completions backend. Every request is admitted by the budget first.
type ChatClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	budget      Budget
	logger      *zap.Logger
}

// NewChatClient creates a client from the oracle configuration. A nil budget
// admits every call.
func NewChatClient(logger *zap.Logger, cfg config.OracleConfig, budget Budget) *ChatClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &ChatClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		budget:      budget,
		logger:      logger,
	}
}

// Complete sends the conversation and returns the assistant's content.
func (c *ChatClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	estimate := estimateTokens(messages)
	if c.budget != nil && !c.budget.TryConsume(1, estimate) {
		metrics.BudgetRejectedTotal.Inc()
		return "", ErrUsageLimitExceeded
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("backend request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return "", fmt.Errorf("backend returned status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	c.account(estimate, chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)
	return chatResp.Choices[0].Message.Content, nil
}

// account records the reported usage beyond what was reserved up front.
func (c *ChatClient) account(estimate, prompt, completion int64) {
	metrics.OracleTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	metrics.OracleTokensTotal.WithLabelValues("completion").Add(float64(completion))

	if c.budget == nil {
		return
	}
	extra := prompt + completionWeight*completion - estimate
	if extra <= 0 {
		return
	}
	if !c.budget.TryConsume(0, extra) {
		c.logger.Warn("Usage ceiling reached",
			zap.Int64("unrecorded_tokens", extra))
	}
}

func estimateTokens(messages []ChatMessage) int64 {
	var chars int
	for _, m := range messages {
		chars += len(m.Content)
	}
	return int64(chars / 4)
}

// decodeJSON parses a model answer, tolerating a surrounding code fence.
func decodeJSON(content string, v any) error {
	content = stripFence(content)
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
