package matcher

import (
	"regexp"
	"strings"
)

// Reserved hint prefixes.
const (
	RegexPrefix    = "re:"
	KernelIDPrefix = "id:"
)

// HintKind distinguishes how a hint is tested against sessions.
type HintKind int

const (
	// HintPlain matches an exact kernel id first, then substrings of path and name.
	HintPlain HintKind = iota
	// HintKernelID matches the kernel id only.
	HintKernelID
	// HintRegex matches a regular expression against path and name.
	HintRegex
)

func (k HintKind) String() string {
	switch k {
	case HintKernelID:
		return "kernel id"
	case HintRegex:
		return "regex"
	default:
		return "substring"
	}
}

// Hint is a parsed, user-supplied kernel identifier.
type Hint struct {
	Kind HintKind
	Text string // hint without its prefix
	re   *regexp.Regexp
}

func (h Hint) String() string {
	return h.Text
}

// ParseHint interprets s: "re:<pattern>" is a regex, "id:<kernel id>" an
// exact kernel id, anything else a plain hint.
func ParseHint(s string) (Hint, error) {
	switch {
	case strings.HasPrefix(s, RegexPrefix):
		pattern := strings.TrimPrefix(s, RegexPrefix)
		if pattern == "" {
			return Hint{}, ErrInvalidHint.Msg("empty regex")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Hint{}, ErrInvalidHint.MsgErr("invalid regex: "+err.Error(), err)
		}
		return Hint{Kind: HintRegex, Text: pattern, re: re}, nil
	case strings.HasPrefix(s, KernelIDPrefix):
		id := strings.TrimSpace(strings.TrimPrefix(s, KernelIDPrefix))
		if id == "" {
			return Hint{}, ErrInvalidHint.Msg("empty kernel id")
		}
		return KernelIDHint(id), nil
	default:
		if s == "" {
			return Hint{}, ErrInvalidHint.Msg("empty hint")
		}
		return Hint{Kind: HintPlain, Text: s}, nil
	}
}

// KernelIDHint returns a hint matching only the given kernel id.
func KernelIDHint(id string) Hint {
	return Hint{Kind: HintKernelID, Text: id}
}
