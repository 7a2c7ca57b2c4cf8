// Package llmclient provides the shared HTTP client for AI provider
// implementations: JSON request building, standardized vendor error
// parsing, and line-oriented stream decoding. Requests are single-shot;
// retry policy is the caller's concern, not this client's.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

const defaultTimeout = 120 * time.Second

// Config holds client configuration.
type Config struct {
	// ProviderName identifies the provider in error messages.
	ProviderName string
	// BaseURL is the API base URL, without trailing slash.
	BaseURL string
}

// HeaderSetter sets provider-specific headers (auth, versioning) on each
// outgoing request.
type HeaderSetter func(req *http.Request)

// Client is a thin HTTP client for a single provider.
type Client struct {
	httpClient *http.Client
	cfg        Config
	setHeaders HeaderSetter
}

// New creates a client with a default HTTP client.
func New(cfg Config, setHeaders HeaderSetter) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: defaultTimeout}, cfg, setHeaders)
}

// NewWithHTTPClient creates a client with a caller-supplied HTTP client.
// Used by tests to point providers at httptest servers.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, setHeaders HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		setHeaders: setHeaders,
	}
}

// SetBaseURL updates the base URL.
func (c *Client) SetBaseURL(url string) {
	c.cfg.BaseURL = strings.TrimRight(url, "/")
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Request describes an HTTP request to the provider.
type Request struct {
	Method   string
	Endpoint string // path joined to the base URL, e.g. "/chat/completions"
	Body     any    // JSON-marshaled when non-nil
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes the request and unmarshals a 2xx response body into result.
// Non-2xx responses become *core.APIError.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return core.NewProviderError(c.cfg.ProviderName, http.StatusBadGateway,
			"failed to decode response: "+err.Error(), err)
	}
	return nil
}

// DoRaw executes the request and returns the read response body.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	httpResp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewProviderError(c.cfg.ProviderName, http.StatusBadGateway,
			"failed to read response: "+err.Error(), err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, core.ParseVendorError(c.cfg.ProviderName, httpResp.StatusCode, body)
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// Stream executes the request and hands back the unread response body for
// incremental consumption. The caller owns closing it. Error responses are
// drained and translated like DoRaw.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	httpResp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		httpResp.Body.Close()
		return nil, core.ParseVendorError(c.cfg.ProviderName, httpResp.StatusCode, body)
	}

	return httpResp.Body, nil
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewProviderError(c.cfg.ProviderName, http.StatusInternalServerError,
				"failed to encode request: "+err.Error(), err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := c.cfg.BaseURL + req.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.setHeaders != nil {
		c.setHeaders(httpReq)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(c.cfg.ProviderName, http.StatusBadGateway,
			"request failed: "+err.Error(), err)
	}
	return httpResp, nil
}
