// Package telegram provides the delivery client for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIURL  = "https://api.telegram.org/bot%s/sendMessage"
	defaultTimeout = 10 * time.Second

	// Telegram allows ~30 messages per second per bot.
	defaultRateLimit = 25.0
)

// Config holds telegram client configuration.
type Config struct {
	Enabled   bool
	BotToken  string
	RateLimit float64       // messages per second, 0 means default
	Timeout   time.Duration // per-request timeout, 0 means default
}

// Client performs single message-send attempts against the Telegram Bot API.
// It never retries; retry policy belongs to the queue processor, which
// classifies the returned error via IsRetryable.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewClient creates a new telegram client.
// Returns an error if enabled but the bot token is missing.
func NewClient(config Config) (*Client, error) {
	if config.Enabled && config.BotToken == "" {
		return nil, errors.New("telegram client: bot token is required when enabled")
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("telegram client configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
		"timeout", config.Timeout,
	)

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     defaultAPIURL,
	}, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Send performs one sendMessage attempt. A nil return means delivered; any
// error carries retryability via the IsRetryable contract.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	if !c.config.Enabled {
		slog.Debug("telegram client disabled, skipping", "chat_id", chatID)
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(c.apiURL, c.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (timeout, DNS, connection reset) are transient.
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp, chatID)
}

func (c *Client) handleResponse(resp *http.Response, chatID int64) error {
	var apiResp telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && apiResp.OK:
		slog.Debug("telegram message sent", "chat_id", chatID)
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		if apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    apiResp.Description,
		}

	case resp.StatusCode == http.StatusUnauthorized:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid bot token",
		}

	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest:
		// Blocked bot, unknown chat, malformed message: the recipient will
		// never receive this job as-is.
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: apiResp.Description,
		}

	case resp.StatusCode >= 500:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: apiResp.Description,
		}

	default:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected status: %s", apiResp.Description),
		}
	}
}

// RateLimitError indicates the Bot API asked us to back off.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true; rate limiting is always transient.
func (e *RateLimitError) IsRetryable() bool { return true }

// PermanentError indicates a rejection the recipient will never recover from.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure, including transport errors.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("telegram error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err carries retryable classification and is
// retryable. Unclassified errors report false.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the server-requested backoff for rate-limit errors,
// zero otherwise.
func GetRetryAfter(err error) time.Duration {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}
	return 0
}
