package httpclient

import "context"

// HTTPClientInterface is the subset of HTTPClient used by callers, so that
// tests can substitute a canned implementation.
type HTTPClientInterface interface {
	// DoRequest makes an HTTP request with the given options and returns the response body.
	DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error)

	// GetJSON performs a GET on the given API path and returns the JSON body.
	GetJSON(ctx context.Context, path string) ([]byte, error)
}

// StaticConfig is a Configurator with fixed values.
type StaticConfig struct {
	ServerURL string
	Token     string
}

func (c StaticConfig) GetServerURL() string { return c.ServerURL }
func (c StaticConfig) GetToken() string     { return c.Token }

var _ HTTPClientInterface = &HTTPClient{}
