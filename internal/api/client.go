// Package api is the outbound dispatcher for the commerce REST API. It owns
// the current bearer credential attached to authenticated requests.
package api

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
	"path"
	"strings"
	"sync/atomic"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/findosh/eshotry/internal/middleware"
)

// DefaultUserAgent is sent with every request
const DefaultUserAgent = "eshotry-client"

// ClientConfig provides configuration details to the API client
type ClientConfig struct {
	// Base URL of the commerce API, e.g. http://localhost:8000/api
	URL string
	// Per-request timeout. Timeouts surface as ErrNetworkUnavailable.
	Timeout time.Duration
	// Retries for idempotent requests on transport errors and 5xx
	RetryMax int
	// Override default http transport
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client dispatches requests to the commerce API
type Client struct {
	baseURL    *url.URL
	http       *retryablehttp.Client
	credential Credential
	log        *slog.Logger
}

// Credential is the process-wide bearer token read by every authenticated call.
// Swaps are atomic: a request built after Set returns carries the new value.
type Credential struct {
	token atomic.Pointer[string]
}

// Set replaces the current access token
func (c *Credential) Set(token string) {
	c.token.Store(&token)
}

// Clear removes the current access token
func (c *Credential) Clear() {
	c.token.Store(nil)
}

// Token returns the current access token or empty string
func (c *Credential) Token() string {
	if t := c.token.Load(); t != nil {
		return *t
	}
	return ""
}

// NewClient creates a new API client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("missing API url")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid API url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid API url scheme: %q", baseURL.Scheme)
	}
	baseURL.Path = path.Clean("/" + baseURL.Path)
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}

	c := &Client{
		baseURL: baseURL,
		log:     cfg.Logger,
	}
	c.http = &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: middleware.Chain(cfg.Transport,
				middleware.UserAgent(DefaultUserAgent),
				middleware.Logger(cfg.Logger),
			),
			Timeout: cfg.Timeout,
		},
		Logger:       cfg.Logger,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		RetryMax:     cfg.RetryMax,
		CheckRetry:   checkRetry,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return c, nil
}

// SetCredential attaches token to all subsequent authenticated requests
func (c *Client) SetCredential(token string) {
	c.credential.Set(token)
}

// ClearCredential stops attaching a bearer token
func (c *Client) ClearCredential() {
	c.credential.Clear()
}

// Credential returns the token currently attached to authenticated requests
func (c *Client) Credential() string {
	return c.credential.Token()
}

type authMode int

const (
	// Send no Authorization header. Used by login, register, refresh and the
	// public catalog, where a stale token would turn the call into a 401.
	authNone authMode = iota
	// Attach the current credential
	authCurrent
	// Attach the token given in the request
	authExplicit
)

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	auth   authMode
	token  string
}

type idempotentKey struct{}

// checkRetry retries only idempotent requests, using the library's default
// policy for those
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if idempotent, _ := ctx.Value(idempotentKey{}).(bool); !idempotent {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// do sends a request and decodes a JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, r request, out any) error {
	u, err := c.baseURL.Parse(strings.TrimPrefix(r.path, "/"))
	if err != nil {
		return err
	}
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body []byte
	if r.body != nil {
		if body, err = json.Marshal(r.body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	idempotent := r.method != http.MethodPost
	ctx = context.WithValue(ctx, idempotentKey{}, idempotent)

	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, u.String(), reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch r.auth {
	case authCurrent:
		if token := c.credential.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case authExplicit:
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Caller cancellation is not a network failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrNetworkUnavailable, err)
	}

	if err := checkResponseCode(resp.StatusCode, data); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
