package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/kernelexec/internal/kernel/discovery"
)

var (
	local  = discovery.ServerEndpoint{BaseURL: "http://localhost:8888", Token: "a"}
	remote = discovery.ServerEndpoint{BaseURL: "http://gpu-box:8888", Token: "b"}
)

func testSessions() []Session {
	return []Session{
		{KernelID: "11111111-1111-1111-1111-111111111111", Path: "projects/analysis.ipynb", Name: "analysis.ipynb", Endpoint: local},
		{KernelID: "22222222-2222-2222-2222-222222222222", Path: "projects/train.ipynb", Name: "train.ipynb", Endpoint: remote},
		{KernelID: "33333333-3333-3333-3333-333333333333", Path: "scratch/Untitled-1.ipynb", Name: "Untitled-1-jvsc-4f1c2a9e.ipynb", Endpoint: local},
		{KernelID: "44444444-4444-4444-4444-444444444444", Path: "eval/train.ipynb", Name: "train.ipynb", Endpoint: local},
	}
}

func mustHint(t *testing.T, s string) Hint {
	t.Helper()
	h, err := ParseHint(s)
	require.NoError(t, err)
	return h
}

func TestParseHint(t *testing.T) {
	h := mustHint(t, "re:^proj.*\\.ipynb$")
	assert.Equal(t, HintRegex, h.Kind)
	assert.Equal(t, "^proj.*\\.ipynb$", h.Text)

	h = mustHint(t, "id: abc")
	assert.Equal(t, HintKernelID, h.Kind)
	assert.Equal(t, "abc", h.Text)

	h = mustHint(t, "analysis")
	assert.Equal(t, HintPlain, h.Kind)

	for _, bad := range []string{"", "re:", "re:(unclosed", "id:"} {
		_, err := ParseHint(bad)
		assert.ErrorIs(t, err, ErrInvalidHint, bad)
	}
}

func TestResolveUniqueSubstring(t *testing.T) {
	res := Resolve(testSessions(), mustHint(t, "analysis"), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", res.Target.KernelID)
	assert.Equal(t, local, res.Target.Endpoint)
	assert.NoError(t, res.Err())
}

func TestResolveAmbiguousKeepsInputOrder(t *testing.T) {
	res := Resolve(testSessions(), mustHint(t, "train"), DefaultPolicy())
	require.Equal(t, Ambiguous, res.Outcome)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, Candidate{
		KernelID:  "22222222-2222-2222-2222-222222222222",
		ServerURL: "http://gpu-box:8888",
		Path:      "projects/train.ipynb",
		Name:      "train.ipynb",
	}, res.Candidates[0])
	assert.Equal(t, "44444444-4444-4444-4444-444444444444", res.Candidates[1].KernelID)

	err := res.Err()
	assert.ErrorIs(t, err, ErrAmbiguousMatch)
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)
	assert.Contains(t, err.Error(), "44444444-4444-4444-4444-444444444444 | http://localhost:8888 | path=eval/train.ipynb | name=train.ipynb")
}

func TestResolveNoMatch(t *testing.T) {
	res := Resolve(testSessions(), mustHint(t, "nonexistent"), DefaultPolicy())
	assert.Equal(t, NotFound, res.Outcome)
	err := res.Err()
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, err.Error(), "nonexistent")

	res = Resolve(nil, mustHint(t, "analysis"), DefaultPolicy())
	assert.Equal(t, NotFound, res.Outcome)
}

func TestResolveKernelIDShortCircuits(t *testing.T) {
	sessions := testSessions()
	// a session whose name contains another kernel's id
	sessions = append(sessions, Session{
		KernelID: "55555555-5555-5555-5555-555555555555",
		Path:     "notes/11111111-1111-1111-1111-111111111111.ipynb",
		Name:     "11111111-1111-1111-1111-111111111111.ipynb",
		Endpoint: local,
	})

	res := Resolve(sessions, mustHint(t, "11111111-1111-1111-1111-111111111111"), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", res.Target.KernelID)

	res = Resolve(sessions, mustHint(t, "id:11111111-1111-1111-1111-111111111111"), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)

	// id: hints never fall back to text matching
	res = Resolve(sessions, mustHint(t, "id:analysis"), DefaultPolicy())
	assert.Equal(t, NotFound, res.Outcome)
	assert.Contains(t, res.Err().Error(), "kernel id")
}

func TestResolveKernelIDSharedBySessions(t *testing.T) {
	id := "66666666-6666-6666-6666-666666666666"
	sessions := []Session{
		{KernelID: id, Path: "a.ipynb", Name: "a.ipynb", Endpoint: local},
		{KernelID: id, Path: "console-1", Name: "console", Endpoint: local},
	}
	res := Resolve(sessions, KernelIDHint(id), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)

	sessions = append(sessions, Session{KernelID: id, Path: "b.ipynb", Endpoint: remote})
	res = Resolve(sessions, KernelIDHint(id), DefaultPolicy())
	assert.Equal(t, Ambiguous, res.Outcome)
}

func TestResolveRegex(t *testing.T) {
	res := Resolve(testSessions(), mustHint(t, `re:^projects/t`), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", res.Target.KernelID)

	res = Resolve(testSessions(), mustHint(t, `re:\.ipynb$`), DefaultPolicy())
	assert.Equal(t, Ambiguous, res.Outcome)
	assert.Len(t, res.Candidates, 4)
}

func TestSyntheticNames(t *testing.T) {
	sessions := []Session{
		{KernelID: "k1", Path: "", Name: "Untitled-1-jvsc-4f1c2a9e-8d8c-4b6e-a2a1-000000000000.ipynb", Endpoint: local},
		{KernelID: "k2", Path: `C:\work\report-5f0e3b1a-9c3d-4f7e-8a1b-2c3d4e5f6a7b.ipynb`, Endpoint: remote},
	}

	res := Resolve(sessions, mustHint(t, "Untitled-1.ipynb"), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "k1", res.Target.KernelID)

	res = Resolve(sessions, mustHint(t, "report.ipynb"), DefaultPolicy())
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "k2", res.Target.KernelID)

	strict := Policy{}
	res = Resolve(sessions, mustHint(t, "report.ipynb"), strict)
	assert.Equal(t, NotFound, res.Outcome)

	// substring of a generator-suffixed name still matches without normalisation
	res = Resolve(sessions, mustHint(t, "Untitled-1"), strict)
	require.Equal(t, Resolved, res.Outcome)
	assert.Equal(t, "k1", res.Target.KernelID)
}

func TestNotebookStem(t *testing.T) {
	tests := []struct {
		query, candidate string
		want             bool
	}{
		{"report", "report.ipynb", true},
		{"report.ipynb", "dir/report-v2.ipynb", true},
		{"report.IPYNB", "report.ipynb", true},
		{"report.py", "report.ipynb", false},
		{"report", "reporting.ipynb", false},
		{"", "report.ipynb", false},
		{".ipynb", "x.ipynb", false},
	}
	for _, tt := range tests {
		t.Run(tt.query+"~"+tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, notebookLikeMatch(tt.query, tt.candidate))
		})
	}
}

func TestCaseInsensitivePolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Matches(testSessions()[0], mustHint(t, "ANALYSIS")))
	p.CaseInsensitive = true
	assert.True(t, p.Matches(testSessions()[0], mustHint(t, "ANALYSIS")))
}

func TestNormalizeSyntheticName(t *testing.T) {
	assert.Equal(t, "a/b/nb.ipynb", NormalizeSyntheticName(`a\b\nb-jvsc-deadbeef.ipynb`))
	assert.Equal(t, "nb.ipynb", NormalizeSyntheticName("nb-5F0E3B1A-9C3D-4F7E-8A1B-2C3D4E5F6A7B.ipynb"))
	assert.Equal(t, "nb-jvsc-x.py", NormalizeSyntheticName("nb-jvsc-x.py"))
}
