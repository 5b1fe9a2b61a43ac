package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/pubhub/internal/telemetry"
)

// maxResponseBody bounds how much of a content API response is read
const maxResponseBody = 10 << 20

// Client calls the authenticated content API. Tokens are passed per call;
// the client holds no credentials of its own.
type Client struct {
	cfg Config
}

// NewClient creates a content API client
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// get performs an authenticated GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, op, forum, token, path string, query url.Values, out interface{}) error {
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	return c.do(req, op, forum, token, out)
}

// post performs an authenticated form POST and decodes the JSON body into out
func (c *Client) post(ctx context.Context, op, token, path string, form url.Values, out interface{}) error {
	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, op, "", token, out)
}

func (c *Client) do(req *http.Request, op, forum, token string, out interface{}) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	telemetry.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return &APIError{Op: op, Forum: forum, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &APIError{Op: op, Forum: forum, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	c.cfg.Logger.Debugw("Response received", "op", op, "forum", forum, "status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, Forum: forum, StatusCode: resp.StatusCode, Body: truncateBody(body)}
		c.cfg.Logger.Warnw("Request failed", "op", op, "forum", forum, "status", resp.StatusCode, "body", apiErr.Body)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Op: op, Forum: forum, StatusCode: resp.StatusCode, Body: truncateBody(body),
			Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}

func malformed(op, forum, format string, args ...interface{}) error {
	return &APIError{Op: op, Forum: forum, StatusCode: http.StatusOK,
		Err: fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))}
}
