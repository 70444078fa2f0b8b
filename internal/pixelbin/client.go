// Package pixelbin is a client for the parts of the Pixelbin platform API the
// relay needs: organisation identity, credit usage, signed upload targets,
// chunked uploads against those targets, and delivery URL construction.
//
// Requests authenticate with "Authorization: Bearer <base64(token)>".
package pixelbin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/jsonutil"
)

const (
	// DefaultAPIDomain is the platform API base URL.
	DefaultAPIDomain = "https://api.pixelbin.io"

	// DefaultCDNDomain serves transformed assets.
	DefaultCDNDomain = "https://cdn.pixelbin.io"

	defaultTimeout = 60 * time.Second
)

// Client calls the platform API with one credential token.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API domain.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout sets the HTTP client timeout. The client is copied, so a
// client passed to WithHTTPClient is left as the caller configured it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// NewClient creates a platform API client for token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		token:      token,
		baseURL:    DefaultAPIDomain,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the platform or an upload target.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pixelbin: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("pixelbin: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

func (c *Client) authHeader() string {
	return "Bearer " + base64.StdEncoding.EncodeToString([]byte(c.token))
}

// doJSON sends body (if non-nil) as JSON to the API path and decodes the
// response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, path, out)
}

// send executes req, maps non-2xx responses to *APIError and decodes JSON
// bodies into out.
func (c *Client) send(req *http.Request, label string, out any) error {
	start := time.Now()
	log.Debug().Str("method", req.Method).Str("path", label).Msg("Pixelbin API request")

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Pixelbin API response")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Msg("Pixelbin API response")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		log.Error().Int("statusCode", resp.StatusCode).Str("errorMessage", apiErr.Message).Msg("Pixelbin API error")
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, jsonutil.Truncate(string(data), 200))
	}
	return nil
}

// errorMessage pulls "message" out of an error body, falling back to the raw
// (truncated) body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return jsonutil.Truncate(strings.TrimSpace(string(body)), 200)
}
