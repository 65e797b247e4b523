package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/kernelexec/internal/common/apperrors"
	"github.com/tansive/kernelexec/internal/common/httpclient"
	"github.com/tansive/kernelexec/internal/kernel/discovery"
	"github.com/tansive/kernelexec/internal/kernel/kerneltest"
)

func TestParseSessions(t *testing.T) {
	body := []byte(`[
		{"id": "s1", "path": "a.ipynb", "name": "a.ipynb", "kernel": {"id": "k1"}},
		{"id": "s2", "notebook": {"path": "legacy/b.ipynb", "name": "b.ipynb"}, "kernel": {"id": "k2"}},
		{"id": "s3", "path": "console", "kernel": null},
		{"id": "s4", "path": "c.ipynb", "kernel": {"id": 7}},
		"junk"
	]`)
	sessions, err := ParseSessions(body, local)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, Session{KernelID: "k1", Path: "a.ipynb", Name: "a.ipynb", Endpoint: local}, sessions[0])
	assert.Equal(t, "legacy/b.ipynb", sessions[1].Path)
	assert.Equal(t, "b.ipynb", sessions[1].Name)

	_, err = ParseSessions([]byte(`{"message": "nope"}`), local)
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	srv := kerneltest.NewServer(t, "tok")
	srv.AddKernel(kerneltest.Session{KernelID: "k1", Path: "work/a.ipynb", Name: "a.ipynb"}, kerneltest.Python)

	ep := discovery.ServerEndpoint{BaseURL: srv.URL, Token: "tok"}
	sessions, err := HTTPFetcher{}.Sessions(context.Background(), ep)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "k1", sessions[0].KernelID)
	assert.Equal(t, ep, sessions[0].Endpoint)

	_, err = HTTPFetcher{}.Sessions(context.Background(), discovery.ServerEndpoint{BaseURL: srv.URL, Token: "bad"})
	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 403, httpErr.StatusCode)
}

func errorAll(err error) string {
	var ae apperrors.Error
	if errors.As(err, &ae) {
		return ae.ErrorAll()
	}
	return err.Error()
}

type fakeFetcher map[string][]Session

func (f fakeFetcher) Sessions(_ context.Context, ep discovery.ServerEndpoint) ([]Session, error) {
	s, ok := f[ep.BaseURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return s, nil
}

func TestCollectSessionsToleratesFailingServer(t *testing.T) {
	down := discovery.ServerEndpoint{BaseURL: "http://down:8888"}
	fetcher := fakeFetcher{local.BaseURL: testSessions()[:1]}

	c := CollectSessions(context.Background(), fetcher, []discovery.ServerEndpoint{down, local})
	assert.Len(t, c.Sessions, 1)
	assert.Equal(t, []string{"http://down:8888", "http://localhost:8888"}, c.Search.Servers)
	require.Len(t, c.Search.Errors, 1)
	assert.Equal(t, "http://down:8888", c.Search.Errors[0].BaseURL)
}

func TestResolverErrors(t *testing.T) {
	all := testSessions()
	fetcher := fakeFetcher{
		local.BaseURL:  []Session{all[0], all[2], all[3]},
		remote.BaseURL: []Session{all[1]},
	}
	r := &Resolver{Fetcher: fetcher, Policy: DefaultPolicy()}
	endpoints := []discovery.ServerEndpoint{local, remote}

	target, err := r.Resolve(context.Background(), endpoints, mustHint(t, "analysis"))
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", target.KernelID)

	_, err = r.Resolve(context.Background(), endpoints, mustHint(t, "train"))
	assert.ErrorIs(t, err, ErrAmbiguousMatch)

	_, err = r.Resolve(context.Background(), endpoints, mustHint(t, "missing"))
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, errorAll(err), "http://gpu-box:8888")

	down := discovery.ServerEndpoint{BaseURL: "http://down:8888"}
	_, err = r.Resolve(context.Background(), []discovery.ServerEndpoint{down}, mustHint(t, "analysis"))
	assert.ErrorIs(t, err, ErrNoSessions)
	assert.Contains(t, errorAll(err), "connection refused")
}

func TestResolverAgainstServer(t *testing.T) {
	srv := kerneltest.NewServer(t, "")
	srv.AddKernel(kerneltest.Session{KernelID: "k-a", Path: "nb/Untitled-1.ipynb", Name: "Untitled-1-jvsc-9c1d.ipynb"}, kerneltest.Python)
	srv.AddKernel(kerneltest.Session{KernelID: "k-b", Path: "nb/report.ipynb", Name: "report.ipynb"}, kerneltest.Python)

	target, err := NewResolver(DefaultPolicy()).Resolve(context.Background(),
		[]discovery.ServerEndpoint{{BaseURL: srv.URL}}, mustHint(t, "Untitled-1.ipynb"))
	require.NoError(t, err)
	assert.Equal(t, "k-a", target.KernelID)
	assert.Equal(t, srv.URL, target.Endpoint.BaseURL)
}
