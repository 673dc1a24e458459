package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL    = "https://chat.openai.com/backend-api"
	defaultSessionURL = "https://chat.openai.com/api/auth/session"

	DefaultMaxAttempts      = 3
	DefaultRateLimitBackoff = 30 * time.Second
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the real-clock SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Config holds chat service client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL          string
	SessionURL       string
	SessionCookie    string // forwarded on the session exchange
	Timeout          time.Duration
	MaxAttempts      int
	RateLimitBackoff time.Duration
	Sleep            SleepFunc
}

type Client struct {
	baseURL       string
	sessionURL    string
	sessionCookie string
	maxAttempts   int
	backoff       time.Duration
	sleep         SleepFunc
	client        *http.Client
	logger        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:       cfg.BaseURL,
		sessionURL:    cfg.SessionURL,
		sessionCookie: cfg.SessionCookie,
		maxAttempts:   cfg.MaxAttempts,
		backoff:       cfg.RateLimitBackoff,
		sleep:         cfg.Sleep,
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.sessionURL == "" {
		c.sessionURL = defaultSessionURL
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoff <= 0 {
		c.backoff = DefaultRateLimitBackoff
	}
	if c.sleep == nil {
		c.sleep = SleepContext
	}
	if cfg.Timeout <= 0 {
		c.client.Timeout = 60 * time.Second
	}
	return c
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
}

// SessionToken exchanges the current browser session for a bearer token.
func (c *Client) SessionToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.sessionCookie != "" {
		req.Header.Set("Cookie", c.sessionCookie)
	}

	status, body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if !isSuccess(status) {
		return "", &StatusError{Op: ErrAuth, StatusCode: status}
	}

	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return "", fmt.Errorf("%w: parse session: %v", ErrAuth, err)
	}
	if sess.AccessToken == "" {
		return "", fmt.Errorf("%w: session has no access token", ErrAuth)
	}
	return sess.AccessToken, nil
}

// get issues an authorized GET against the service API.
func (c *Client) get(ctx context.Context, path, credential string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
