package matcher

import (
	"fmt"
	"strings"

	"github.com/tansive/kernelexec/internal/common/apperrors"
)

// Error definitions for the package.
// All errors are derived from ErrMatch.
var (
	// ErrMatch is the base error for the package.
	ErrMatch = apperrors.New("kernel resolution error").SetExpandError(true)

	// ErrInvalidHint is returned for an empty hint or an unparsable regex.
	ErrInvalidHint = ErrMatch.New("invalid kernel hint")

	// ErrNoSessions is returned when none of the searched servers reported a session.
	ErrNoSessions = ErrMatch.New("unable to find any running sessions on the selected servers")

	// ErrNoMatch is returned when sessions exist but none satisfies the hint.
	ErrNoMatch = ErrMatch.New("no sessions matched")

	// ErrAmbiguousMatch is returned when more than one session satisfies the hint.
	ErrAmbiguousMatch = ErrMatch.New("multiple sessions matched")
)

// Candidate is one session offered for disambiguation.
type Candidate struct {
	KernelID  string `json:"kernel_id"`
	ServerURL string `json:"server_url"`
	Path      string `json:"path"`
	Name      string `json:"name"`
}

// String renders the candidate as a single line.
func (c Candidate) String() string {
	return fmt.Sprintf("%s | %s | path=%s | name=%s", c.KernelID, c.ServerURL, c.Path, c.Name)
}

// AmbiguousError carries every session that matched, in input order.
type AmbiguousError struct {
	Hint       string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "multiple sessions matched %q; specify a kernel id or refine the match:", e.Hint)
	for _, c := range e.Candidates {
		b.WriteString("\n")
		b.WriteString(c.String())
	}
	return b.String()
}

// Unwrap makes errors.Is(err, ErrAmbiguousMatch) hold.
func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguousMatch
}

// ServerError records a failed session query against one server.
type ServerError struct {
	BaseURL string
	Err     error
}

// SearchContext lists what was searched during a failed resolution.
type SearchContext struct {
	Servers []string
	Errors  []ServerError
}

func (s SearchContext) Error() string {
	var b strings.Builder
	b.WriteString("searched servers:")
	for _, srv := range s.Servers {
		b.WriteString("\n- ")
		b.WriteString(srv)
	}
	if len(s.Errors) > 0 {
		b.WriteString("\nsession query errors:")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "\n- %s: %v", e.BaseURL, e.Err)
		}
	}
	return b.String()
}
