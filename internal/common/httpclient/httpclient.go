// Package httpclient provides the HTTP client used to talk to the REST API of a
// Jupyter server. It handles token authentication, URL building relative to the
// server base path, and error extraction from server responses. The package
// requires a Configurator implementation for the server URL and token.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Configurator provides the server address and credential for a client.
type Configurator interface {
	GetServerURL() string
	GetToken() string
}

// HTTPError represents an error response from the server with HTTP status code and message.
type HTTPError struct {
	StatusCode int    // HTTP status code of the error
	Message    string // server supplied message, or the raw body
}

// Error implements the error interface for HTTPError.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// HTTPClient makes requests against a single Jupyter server.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
}

// ClientOptions contains options for configuring the HTTP client.
type ClientOptions struct {
	DisableCertValidation bool          // skips TLS certificate validation
	Timeout               time.Duration // overall request timeout, 0 means 30s
}

// NewClient creates a new HTTP client using the provided configuration.
func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	clientOpts := ClientOptions{}
	if len(opts) > 0 {
		clientOpts = opts[0]
	}
	return NewClientWithOptions(config, clientOpts)
}

// NewClientWithOptions creates a new HTTP client using the provided configuration and options.
func NewClientWithOptions(config Configurator, opts ClientOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if opts.DisableCertValidation {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return &HTTPClient{
		config:     config,
		httpClient: httpClient,
	}
}

// RequestOptions contains options for making HTTP requests.
type RequestOptions struct {
	Method      string            // HTTP method
	Path        string            // API path relative to the server base URL
	QueryParams map[string]string // optional query parameters
	Body        []byte            // optional request body
}

// ResolveURL joins p onto the server base URL, preserving any base path
// (e.g. /user/name on JupyterHub), and appends the token query parameter
// when a token is configured.
func ResolveURL(baseURL, p, token string, queryParams map[string]string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: %q", baseURL)
	}
	u.Path = path.Join("/", u.Path, p)

	q := u.Query()
	for k, v := range queryParams {
		q.Set(k, v)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// DoRequest makes an HTTP request with the given options and returns the
// response body. Responses with status >= 400 are returned as *HTTPError.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	token := c.config.GetToken()
	u, err := ResolveURL(c.config.GetServerURL(), opts.Path, token, opts.QueryParams)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		bodyReader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode >= 400 {
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return body, nil
}

// GetJSON performs a GET on p and verifies the response is valid JSON.
func (c *HTTPClient) GetJSON(ctx context.Context, p string) ([]byte, error) {
	body, err := c.DoRequest(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   p,
	})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("unexpected non-JSON response from %s", p)
	}
	return body, nil
}

// newHTTPError extracts the message from a Jupyter error body
// ({"message": ..., "reason": ...}) and falls back to the raw body.
func newHTTPError(status int, body []byte) *HTTPError {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return &HTTPError{StatusCode: status, Message: msg}
		}
		if reason := gjson.GetBytes(body, "reason").String(); reason != "" {
			return &HTTPError{StatusCode: status, Message: reason}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &HTTPError{StatusCode: status, Message: msg}
}
