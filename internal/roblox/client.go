package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	GroupsBaseURL = "https://groups.roblox.com"
	UsersBaseURL  = "https://users.roblox.com"
	AuthBaseURL   = "https://auth.roblox.com"

	csrfHeader = "x-csrf-token"
)

// BaseURLs points the client at the Roblox web APIs
type BaseURLs struct {
	Groups string
	Users  string
	Auth   string
}

// Client is a Roblox web API client authenticated with a .ROBLOSECURITY cookie
type Client struct {
	cookie     string
	httpClient *http.Client
	limiter    *rate.Limiter
	urls       BaseURLs
	logger     *slog.Logger
	timeout    time.Duration

	mu        sync.Mutex
	csrfToken string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs overrides the API hosts
func WithBaseURLs(urls BaseURLs) Option {
	return func(c *Client) { c.urls = urls }
}

// WithRateLimit sets the sustained request rate and burst
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithTimeout sets the per-request timeout. It applies to the client given
// by WithHTTPClient regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new Roblox API client
func NewClient(cookie string, opts ...Option) *Client {
	c := &Client{
		cookie: cookie,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		urls: BaseURLs{
			Groups: GroupsBaseURL,
			Users:  UsersBaseURL,
			Auth:   AuthBaseURL,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

type apiErrorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// doRequest performs a rate limited request and decodes a JSON response into result.
// A 429 is retried once after the advertised delay.
func (c *Client) doRequest(ctx context.Context, op, method, url string, body, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(op, err)
		}

		resp, err := c.send(ctx, method, url, payload)
		if err != nil {
			return transportError(op, err)
		}

		if token := resp.Header.Get(csrfHeader); token != "" {
			c.setCSRFToken(token)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			resp.Body.Close()
			wait := retryAfter(resp)
			c.logger.Debug("Rate limited by Roblox, retrying", "op", op, "wait", wait)
			select {
			case <-ctx.Done():
				return transportError(op, ctx.Err())
			case <-time.After(wait):
			}
			continue
		}

		return c.handleResponse(op, resp, result)
	}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
	}
	if method != http.MethodGet {
		if token := c.token(); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}

	return c.httpClient.Do(req)
}

func (c *Client) handleResponse(op string, resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if result == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("roblox %s: failed to decode response: %w", op, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{
		Kind:       kindForStatus(resp),
		Op:         op,
		StatusCode: resp.StatusCode,
	}
	var parsed apiErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Errors) > 0 {
		apiErr.Message = parsed.Errors[0].Message
	} else if len(raw) > 0 && len(raw) < 512 {
		apiErr.Message = string(raw)
	}
	return apiErr
}

// get performs a GET request and decodes the JSON response
func (c *Client) get(ctx context.Context, op, url string, result interface{}) error {
	return c.doRequest(ctx, op, http.MethodGet, url, nil, result)
}

// RefreshAuth obtains a fresh CSRF token. Roblox answers an unauthenticated-token
// POST to the logout endpoint with 403 and the current token in a header,
// without ending the session.
func (c *Client) RefreshAuth(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError("refresh auth", err)
	}

	c.setCSRFToken("")
	resp, err := c.send(ctx, http.MethodPost, c.urls.Auth+"/v2/logout", nil)
	if err != nil {
		return transportError("refresh auth", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get(csrfHeader)
	if token == "" {
		return &APIError{Kind: KindAuthExpired, Op: "refresh auth", StatusCode: resp.StatusCode, Message: "no csrf token returned"}
	}
	c.setCSRFToken(token)
	c.logger.Debug("Refreshed Roblox CSRF token")
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

func (c *Client) setCSRFToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrfToken = token
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 && secs <= 60 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
