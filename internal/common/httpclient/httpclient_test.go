package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		token   string
		want    string
		wantErr bool
	}{
		{name: "plain", base: "http://localhost:8888", path: "api/sessions", want: "http://localhost:8888/api/sessions"},
		{name: "trailing slash", base: "http://localhost:8888/", path: "/api/sessions", want: "http://localhost:8888/api/sessions"},
		{name: "base path kept", base: "https://hub.example.com/user/ana", path: "api/sessions", want: "https://hub.example.com/user/ana/api/sessions"},
		{name: "token", base: "http://127.0.0.1:8888", path: "api", token: "s3cr&t", want: "http://127.0.0.1:8888/api?token=s3cr%26t"},
		{name: "no scheme", base: "localhost:8888", path: "api", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ResolveURL(tt.base, tt.path, tt.token, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestGetJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "abc" || r.Header.Get("Authorization") != "token abc" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message": "Forbidden", "reason": null}`))
			return
		}
		w.Write([]byte(`[]`))
	})
	r.Get("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})
	r.Get("/api/plain", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx := context.Background()

	body, err := NewClient(StaticConfig{ServerURL: srv.URL, Token: "abc"}).GetJSON(ctx, "api/sessions")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))

	_, err = NewClient(StaticConfig{ServerURL: srv.URL, Token: "wrong"}).GetJSON(ctx, "api/sessions")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "Forbidden", httpErr.Message)

	_, err = NewClient(StaticConfig{ServerURL: srv.URL}).GetJSON(ctx, "api/broken")
	assert.ErrorContains(t, err, "non-JSON")

	_, err = NewClient(StaticConfig{ServerURL: srv.URL}).GetJSON(ctx, "api/plain")
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "Bad Gateway", httpErr.Message)
}

func TestDisableCertValidation(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version": "2.14.0"}`))
	}))
	defer srv.Close()
	ctx := context.Background()
	config := StaticConfig{ServerURL: srv.URL}

	_, err := NewClient(config).GetJSON(ctx, "api")
	assert.Error(t, err)

	body, err := NewClient(config, ClientOptions{DisableCertValidation: true}).GetJSON(ctx, "api")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "2.14.0"}`, string(body))

	_, err = NewClientWithOptions(config, ClientOptions{Timeout: time.Nanosecond, DisableCertValidation: true}).
		DoRequest(ctx, RequestOptions{Method: http.MethodGet, Path: "api"})
	assert.Error(t, err)
}
