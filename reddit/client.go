// Package reddit talks to the Reddit OAuth API: it fetches submission
// listings and performs moderator actions.
package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	maxBodyBytes   = 4 << 20
	karmaCacheSize = 2048
	karmaCacheTTL  = time.Hour
)

// APIError is a non-successful response from the Reddit API.
type APIError struct {
	Endpoint   string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reddit %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("reddit %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound checks if an error is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Config holds client configuration.
type Config struct {
	// HTTPClient should be authorized, see NewHTTPClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// KarmaFilter limits author karma lookups to titles it accepts.
	// Other submissions report zero karma. Nil looks up every author.
	KarmaFilter       func(title string) bool
	BaseURL           string
	UserAgent         string
	RequestsPerMinute int
	Attempts          uint
	RetryDelay        time.Duration
}

// Client fetches listings and executes moderator actions.
type Client struct {
	http        *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	karma       *expirable.LRU[string, int]
	karmaFilter func(string) bool
	baseURL     string
	userAgent   string
	attempts    uint
	retryDelay  time.Duration
}

// New creates a new Reddit client.
func New(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 5
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		http:        client,
		logger:      cfg.Logger,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 5),
		karma:       expirable.NewLRU[string, int](karmaCacheSize, nil, karmaCacheTTL),
		karmaFilter: cfg.KarmaFilter,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		userAgent:   cfg.UserAgent,
		attempts:    attempts,
		retryDelay:  delay,
	}
}

// get performs a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// post submits a form with api_type=json and checks the embedded error list.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("api_type", "json")
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, form, &raw); err != nil {
		return err
	}

	var envelope struct {
		JSON struct {
			Errors [][]any `json:"errors"`
		} `json:"json"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	if len(envelope.JSON.Errors) > 0 {
		return &APIError{Endpoint: path, StatusCode: http.StatusOK, Message: formatAPIErrors(envelope.JSON.Errors)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(fmt.Errorf("rate limiter: %w", err))
			}

			var body io.Reader = http.NoBody
			if form != nil {
				body = strings.NewReader(form.Encode())
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			if form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if c.userAgent != "" {
				req.Header.Set("User-Agent", c.userAgent)
			}

			c.logger.Debug("Reddit API request starting", "method", method, "endpoint", endpoint)

			startTime := time.Now()
			resp, err := c.http.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("Reddit API request failed, will retry",
					"endpoint", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			c.logger.Debug("Reddit API request completed",
				"method", method,
				"endpoint", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"ratelimit_remaining", resp.Header.Get("X-Ratelimit-Remaining"))

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				apiErr := &APIError{
					Endpoint:   endpoint,
					StatusCode: resp.StatusCode,
					Message:    errorMessage(resp.Header.Get("Content-Type"), data),
				}
				if !apiErr.Retryable() {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(c.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Reddit API request after error", "attempt", n, "endpoint", endpoint, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return nil
}

// errorMessage extracts something readable from an error body. Reddit serves
// HTML pages for rate limiting and outages, JSON otherwise.
func errorMessage(contentType string, body []byte) string {
	if strings.Contains(contentType, "text/html") {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			for _, sel := range []string{"title", "h1", "h2"} {
				if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
					return text
				}
			}
			if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
				return truncate(text, 200)
			}
		}
	}

	var apiBody struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &apiBody); err == nil {
		switch {
		case apiBody.Reason != "":
			return apiBody.Reason
		case apiBody.Message != "":
			return apiBody.Message
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func formatAPIErrors(errs [][]any) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		fields := make([]string, 0, len(e))
		for _, f := range e {
			if s, ok := f.(string); ok && s != "" {
				fields = append(fields, s)
			}
		}
		parts = append(parts, strings.Join(fields, ": "))
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
