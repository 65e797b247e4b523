// Package matcher narrows the live sessions of one or more Jupyter servers to
// exactly one kernel, given a user-supplied hint. Execution never proceeds on
// an empty or ambiguous match: Resolve returns a tagged Resolution that callers
// either unpack or turn into an error.
package matcher

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tansive/kernelexec/internal/kernel/discovery"
)

// Session is one live kernel bound to a notebook document.
type Session struct {
	KernelID string
	Path     string
	Name     string
	Endpoint discovery.ServerEndpoint
}

// KernelTarget is the resolved address of exactly one kernel.
type KernelTarget struct {
	Endpoint discovery.ServerEndpoint
	KernelID string
}

func (s Session) target() KernelTarget {
	return KernelTarget{Endpoint: s.Endpoint, KernelID: s.KernelID}
}

func (s Session) candidate() Candidate {
	return Candidate{KernelID: s.KernelID, ServerURL: s.Endpoint.BaseURL, Path: s.Path, Name: s.Name}
}

// Policy controls how tolerant text matching is towards editor-generated
// notebook names.
type Policy struct {
	// NormalizeSynthetic also tests path and name with editor suffixes
	// ("-jvsc-<token>", "-<uuid>" before .ipynb) removed, and their base names.
	NormalizeSynthetic bool `yaml:"normalize_synthetic" toml:"normalize_synthetic"`
	// NotebookStem lets "report" or "report.ipynb" match "report-<anything>.ipynb".
	NotebookStem bool `yaml:"notebook_stem" toml:"notebook_stem"`
	// CaseInsensitive folds case for substring tests.
	CaseInsensitive bool `yaml:"case_insensitive" toml:"case_insensitive"`
}

// DefaultPolicy enables both synthetic-name tolerances.
func DefaultPolicy() Policy {
	return Policy{NormalizeSynthetic: true, NotebookStem: true}
}

// Outcome tags a Resolution.
type Outcome int

const (
	NotFound Outcome = iota
	Resolved
	Ambiguous
)

// Resolution is the result of matching a hint against sessions.
type Resolution struct {
	Outcome    Outcome
	Target     KernelTarget // set when Resolved
	Candidates []Candidate  // set when Ambiguous, in input order
	Hint       Hint
}

// Err returns nil for Resolved, *AmbiguousError for Ambiguous and an
// ErrNoMatch-derived error for NotFound.
func (r Resolution) Err() error {
	switch r.Outcome {
	case Resolved:
		return nil
	case Ambiguous:
		return &AmbiguousError{Hint: r.Hint.Text, Candidates: r.Candidates}
	default:
		return ErrNoMatch.Msg(fmt.Sprintf("no sessions matched %s: %s", r.Hint.Kind, r.Hint.Text))
	}
}

// Resolve narrows sessions to one kernel. An exact kernel id always wins over
// text matching; otherwise path and name are both tested.
func Resolve(sessions []Session, hint Hint, policy Policy) Resolution {
	if hint.Kind != HintRegex {
		if r, ok := resolveByID(sessions, hint); ok {
			return r
		}
		if hint.Kind == HintKernelID {
			return Resolution{Outcome: NotFound, Hint: hint}
		}
	}

	var matches []Session
	for _, s := range sessions {
		if policy.Matches(s, hint) {
			matches = append(matches, s)
		}
	}
	return resolution(matches, hint)
}

// resolveByID matches on kernel id. Several sessions bound to the same kernel
// on the same server resolve to one target.
func resolveByID(sessions []Session, hint Hint) (Resolution, bool) {
	var matches []Session
	seen := map[KernelTarget]bool{}
	for _, s := range sessions {
		if s.KernelID != hint.Text {
			continue
		}
		t := s.target()
		t.Endpoint.Token = ""
		if seen[t] {
			continue
		}
		seen[t] = true
		matches = append(matches, s)
	}
	if len(matches) == 0 {
		return Resolution{}, false
	}
	return resolution(matches, hint), true
}

func resolution(matches []Session, hint Hint) Resolution {
	switch len(matches) {
	case 0:
		return Resolution{Outcome: NotFound, Hint: hint}
	case 1:
		return Resolution{Outcome: Resolved, Target: matches[0].target(), Hint: hint}
	default:
		candidates := make([]Candidate, 0, len(matches))
		for _, s := range matches {
			candidates = append(candidates, s.candidate())
		}
		return Resolution{Outcome: Ambiguous, Candidates: candidates, Hint: hint}
	}
}

// Matches reports whether the session's path or name satisfies a text hint.
func (p Policy) Matches(s Session, hint Hint) bool {
	switch hint.Kind {
	case HintKernelID:
		return s.KernelID == hint.Text
	case HintRegex:
		if hint.re == nil {
			return false
		}
		for _, v := range p.values(s) {
			if hint.re.MatchString(v) {
				return true
			}
		}
		return false
	default:
		query := norm.NFC.String(hint.Text)
		for _, v := range p.values(s) {
			if p.contains(v, query) {
				return true
			}
			if p.NotebookStem && notebookLikeMatch(query, v) {
				return true
			}
		}
		return false
	}
}

func (p Policy) contains(value, query string) bool {
	if p.CaseInsensitive {
		return strings.Contains(strings.ToLower(value), strings.ToLower(query))
	}
	return strings.Contains(value, query)
}

// values returns the strings a session is tested by, without duplicates.
func (p Policy) values(s Session) []string {
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, raw := range []string{s.Path, s.Name} {
		if raw == "" {
			continue
		}
		raw = norm.NFC.String(raw)
		add(raw)
		if !p.NormalizeSynthetic {
			continue
		}
		normalized := NormalizeSyntheticName(raw)
		add(baseName(raw))
		add(normalized)
		add(baseName(normalized))
	}
	return out
}

var (
	jvscSuffix = regexp.MustCompile(`-jvsc-[^.]+(\.ipynb)$`)
	uuidSuffix = regexp.MustCompile(`(?i)-[0-9a-f]{8}(?:-[0-9a-f]{4}){3}-[0-9a-f]{12}(\.ipynb)$`)
)

// NormalizeSyntheticName strips the tokens editors append to notebook names,
// e.g. "report-jvsc-1a2b3c.ipynb" and "report-<uuid>.ipynb" both become
// "report.ipynb". Backslashes are converted to slashes.
func NormalizeSyntheticName(v string) string {
	v = strings.ReplaceAll(v, `\`, "/")
	v = jvscSuffix.ReplaceAllString(v, "$1")
	v = uuidSuffix.ReplaceAllString(v, "$1")
	return v
}

// notebookLikeMatch reports whether candidate names the same notebook as
// query: equal stems, or a candidate stem of the form "<query stem>-...".
// When the query carries an extension it must match case-insensitively.
func notebookLikeMatch(query, candidate string) bool {
	qStem, qExt := splitExt(baseName(query))
	cStem, cExt := splitExt(baseName(candidate))
	if qStem == "" {
		return false
	}
	if qExt != "" && !strings.EqualFold(qExt, cExt) {
		return false
	}
	return cStem == qStem || strings.HasPrefix(cStem, qStem+"-")
}

func baseName(v string) string {
	v = strings.ReplaceAll(v, `\`, "/")
	if i := strings.LastIndex(v, "/"); i >= 0 {
		return v[i+1:]
	}
	return v
}

// splitExt splits a base name into stem and extension. A leading dot does
// not start an extension (".env" has no extension).
func splitExt(base string) (string, string) {
	ext := path.Ext(base)
	if ext == base {
		return base, ""
	}
	return strings.TrimSuffix(base, ext), ext
}
