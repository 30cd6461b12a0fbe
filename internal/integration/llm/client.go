package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"baydigital/pkg/circuitbreaker"
	"baydigital/pkg/config"
	"baydigital/pkg/metrics"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

var ErrNotConfigured = errors.New("llm api key not set")

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (%d): %s", e.StatusCode, e.Message)
}

// Retryable 429 和 5xx 可重试
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client OpenAI 兼容的 chat completions 客户端，带重试和熔断
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	breaker      *circuitbreaker.CircuitBreaker
	maxRetries   int
	initialDelay time.Duration
	logger       *zap.Logger
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.IsFailure = isBreakerFailure

	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		model:        model,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      circuitbreaker.NewCircuitBreaker("llm", breakerCfg),
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		logger:       logger,
	}
}

// WithRetryDelay 测试用：缩短退避时间
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	c.initialDelay = d
	return c
}

func (c *Client) Model() string { return c.model }

func (c *Client) BreakerState() circuitbreaker.State { return c.breaker.GetState() }

// Complete 调用 /chat/completions；429/5xx 指数退避重试，熔断打开时直接失败
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (*Completion, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.initialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var out *Completion
		err := c.breaker.Execute(func() error {
			var callErr error
			out, callErr = c.do(ctx, body)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || !retryable(err) {
			return nil, err
		}
		c.logger.Warn("LLM call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordExternalCall("llm", "error", time.Since(start))
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordExternalCall("llm", strconv.Itoa(resp.StatusCode), time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error.Message != "" {
			apiErr.Message = e.Error.Message
		}
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "empty completion"}
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content:          strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:            model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// retryable 网络错误和 429/5xx
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// isBreakerFailure 4xx 是调用方的问题，不计入熔断
func isBreakerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
