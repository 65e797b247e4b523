package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/kernelexec/internal/common/apperrors"
	"github.com/tansive/kernelexec/internal/kernel/client"
	"github.com/tansive/kernelexec/internal/kernel/discovery"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
)

func TestReportError(t *testing.T) {
	defer func() { jsonOutput = false }()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, apperrors.ExitOK},
		{"foreign", errors.New("boom"), apperrors.ExitFailure},
		{"no server", discovery.ErrNoServerFound.Msg("none"), apperrors.ExitFailure},
		{"channel", client.ErrChannel.Msg("refused"), apperrors.ExitChannel},
		{"remote", client.ErrRemoteExecution.Msg("ValueError: x"), apperrors.ExitRemoteError},
		{"timeout", client.ErrTimedOut.Msg("slow"), apperrors.ExitTimeout},
		{"handled", ErrAlreadyHandled.New("printed").SetExitCode(apperrors.ExitTimeout), apperrors.ExitTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, reportError(&stdout, &stderr, tt.err))
			assert.Empty(t, stdout.String())
			if tt.err == nil || errors.Is(tt.err, ErrAlreadyHandled) {
				assert.Empty(t, stderr.String())
			} else {
				assert.Contains(t, stderr.String(), "Error: ")
			}
		})
	}
}

func TestReportErrorJSON(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	amb := &matcher.AmbiguousError{Hint: "train", Candidates: []matcher.Candidate{
		{KernelID: "k1", ServerURL: "http://a:8888", Path: "train.ipynb", Name: "train.ipynb"},
		{KernelID: "k2", ServerURL: "http://b:8888", Path: "train.ipynb", Name: "train.ipynb"},
	}}
	var stdout, stderr bytes.Buffer
	assert.Equal(t, apperrors.ExitFailure, reportError(&stdout, &stderr, amb))
	assert.Empty(t, stderr.String())

	var out struct {
		Error      string              `json:"error"`
		ExitCode   int                 `json:"exit_code"`
		Candidates []matcher.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.Error, "multiple sessions matched")
	assert.Equal(t, amb.Candidates, out.Candidates)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kernelexec "+getCLIVersion())
	assert.Contains(t, out, "messaging protocol 5.3")
}

func TestSessionsCmd(t *testing.T) {
	srv := newTestServer(t)

	out, err := runCLI(t, "sessions", "--base-url", srv.URL, "--token", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "KERNEL ID")
	assert.Contains(t, out, kernelA)
	assert.Contains(t, out, kernelB)
	assert.Contains(t, out, kernelC)

	out, err = runCLI(t, "sessions", "--json", "--base-url", srv.URL, "--token", "secret", "--match", "dup")
	require.NoError(t, err)
	var candidates []matcher.Candidate
	require.NoError(t, json.Unmarshal([]byte(out), &candidates))
	require.Len(t, candidates, 2)
	assert.Equal(t, kernelB, candidates[0].KernelID)
	assert.Equal(t, srv.URL, candidates[0].ServerURL)
}

func TestFilterSessions(t *testing.T) {
	sessions := []matcher.Session{
		{KernelID: "k1", Path: "k2-notes.ipynb", Name: "k2-notes.ipynb"},
		{KernelID: "k2", Path: "other.ipynb", Name: "other.ipynb"},
	}
	policy := matcher.DefaultPolicy()

	assert.Len(t, filterSessions(sessions, nil, policy), 2)

	// an exact kernel id wins over substring matches
	hint, err := matcher.ParseHint("k2")
	require.NoError(t, err)
	got := filterSessions(sessions, &hint, policy)
	require.Len(t, got, 1)
	assert.Equal(t, "k2", got[0].KernelID)

	hint, err = matcher.ParseHint("re:notes")
	require.NoError(t, err)
	got = filterSessions(sessions, &hint, policy)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].KernelID)
}

func TestServersCmd(t *testing.T) {
	srv := newTestServer(t)

	out, err := runCLI(t, "servers", "--json", "--base-url", srv.URL, "--token", "secret")
	require.NoError(t, err)
	var infos []ServerInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, srv.URL, infos[0].BaseURL)
	assert.Equal(t, "2.14.0", infos[0].Version)
	assert.Empty(t, infos[0].Error)
}

func TestProbeServers(t *testing.T) {
	srv := newTestServer(t)
	endpoints := []discovery.ServerEndpoint{
		{BaseURL: srv.URL, Token: "secret"},
		{BaseURL: srv.URL, Token: "wrong"},
	}
	infos := probeServers(context.Background(), endpoints, newRESTClient(false))
	require.Len(t, infos, 2)
	assert.Equal(t, "2.14.0", infos[0].Version)
	assert.Contains(t, infos[1].Error, "403")

	var buf bytes.Buffer
	require.NoError(t, printServers(&buf, infos))
	assert.Contains(t, buf.String(), "VERSION")
	assert.Contains(t, buf.String(), "2.14.0")
}

func TestServerVersion(t *testing.T) {
	assert.Equal(t, "2.14.0", serverVersion("2.14.0"))
	assert.Equal(t, "7.0.0-beta.1", serverVersion("v7.0.0-beta.1"))
	assert.Equal(t, "6.5.0", serverVersion("6.5"))
	assert.Equal(t, "dev-build", serverVersion("dev-build"))
	assert.Equal(t, "unknown", serverVersion(""))
}
