// Package discord is a minimal Discord REST client and the wire types for
// interactions, follow-up messages and command registration.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL   = "https://discord.com/api/v10"
	defaultUserAgent = "DiscordBot (https://github.com/tjfontaine/interactions-gateway, 1.0)"
	maxErrorBody     = 4 << 10
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every outbound call made with the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// Client talks to the Discord REST API.
type Client struct {
	botToken   string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client authorised with the given bot token. The token is
// only needed for provisioning calls; follow-up edits are authorised by the
// interaction token embedded in the URL.
func NewClient(botToken string, opts ...ClientOption) *Client {
	c := &Client{
		botToken:  botToken,
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned when Discord answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("discord %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("discord %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from an error returned by the client.
// Returns 0 for transport errors.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRetryable reports whether a failed call may succeed if repeated:
// transport errors, timeouts, 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// RetryAfter returns the server-requested delay carried by a 429, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// GetApplication fetches the application owning the bot token.
func (c *Client) GetApplication(ctx context.Context) (*Application, error) {
	var app Application
	if err := c.do(ctx, http.MethodGet, "/applications/@me", nil, true, &app); err != nil {
		return nil, err
	}
	if app.ID == "" {
		return nil, fmt.Errorf("discord GET /applications/@me: response carried no application id")
	}
	return &app, nil
}

// RegisterCommands bulk-overwrites the application's global commands.
func (c *Client) RegisterCommands(ctx context.Context, applicationID string, commands []CommandDescriptor) ([]ApplicationCommand, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("application id is required")
	}
	if commands == nil {
		commands = []CommandDescriptor{}
	}
	path := "/applications/" + url.PathEscape(applicationID) + "/commands"
	var registered []ApplicationCommand
	if err := c.do(ctx, http.MethodPut, path, commands, true, &registered); err != nil {
		return nil, err
	}
	return registered, nil
}

// EditOriginalResponse replaces the deferred response of an interaction with msg.
func (c *Client) EditOriginalResponse(ctx context.Context, applicationID, token string, msg Message) error {
	if applicationID == "" || token == "" {
		return fmt.Errorf("application id and interaction token are required")
	}
	path := "/webhooks/" + url.PathEscape(applicationID) + "/" + url.PathEscape(token) + "/messages/@original"
	return c.do(ctx, http.MethodPatch, path, msg, false, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, authorize bool, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize {
		req.Header.Set("Authorization", "Bot "+c.botToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The interaction token is part of the URL; keep it out of the error text.
		return fmt.Errorf("discord %s %s: %w", method, redactPath(path), unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       redactPath(path),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// redactPath hides the interaction token segment of webhook paths.
func redactPath(path string) string {
	if !strings.HasPrefix(path, "/webhooks/") {
		return path
	}
	parts := strings.Split(path, "/")
	// "", "webhooks", appID, token, ...
	if len(parts) > 3 {
		parts[3] = "<token>"
	}
	return strings.Join(parts, "/")
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the full
// request URL, while keeping the cause inspectable.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &transportError{op: urlErr.Op, err: urlErr.Err}
	}
	return err
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string { return e.op + ": " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Timeout reports whether the underlying cause was a timeout.
func (e *transportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.err, &netErr) && netErr.Timeout()
}

// Temporary is required by net.Error; transport failures are always worth a retry.
func (e *transportError) Temporary() bool { return true }

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
