// Package discovery enumerates the Jupyter servers a kernel can be resolved
// against. Servers come either from an explicit override or from the listing
// printed by `jupyter server list --jsonlist`.
package discovery

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/kernelexec/internal/common/apperrors"
)

var (
	// ErrDiscovery is the base error for the package.
	ErrDiscovery = apperrors.New("server discovery error")

	// ErrNoServerFound is returned when no endpoint is available to search.
	ErrNoServerFound = ErrDiscovery.New("no running Jupyter server found")
)

// ServerEndpoint identifies one reachable notebook server.
type ServerEndpoint struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"-"`
	RootDir string `json:"root_dir,omitempty"`
}

// Lister produces the raw server listing. The default runs the jupyter CLI.
type Lister interface {
	List(ctx context.Context) ([]byte, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context) ([]byte, error)

func (f ListerFunc) List(ctx context.Context) ([]byte, error) { return f(ctx) }

// Config controls discovery. There is no package-level state; every caller
// passes its own Config.
type Config struct {
	// Override short-circuits discovery entirely when set.
	Override *ServerEndpoint
	// AutoDiscover enables the listing when no override is given.
	AutoDiscover bool
	// TokenFallback is used for listed servers that report no token.
	TokenFallback string
	// Lister defaults to CommandLister.
	Lister Lister
}

// Discoverer lists candidate servers.
type Discoverer struct {
	config Config
}

// New creates a Discoverer for config.
func New(config Config) *Discoverer {
	if config.Lister == nil {
		config.Lister = CommandLister{}
	}
	return &Discoverer{config: config}
}

// List returns the candidate endpoints in listing order.
func (d *Discoverer) List(ctx context.Context) ([]ServerEndpoint, error) {
	if o := d.config.Override; o != nil {
		ep := *o
		ep.BaseURL = NormalizeBaseURL(ep.BaseURL)
		return []ServerEndpoint{ep}, nil
	}
	if !d.config.AutoDiscover {
		return nil, ErrNoServerFound.Msg("no base URL given and auto-discovery is disabled")
	}

	out, err := d.config.Lister.List(ctx)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("server listing failed")
		return nil, ErrNoServerFound.Err(err).Suffix("provide a base URL")
	}
	servers := ParseServerList(out, d.config.TokenFallback)
	if len(servers) == 0 {
		return nil, ErrNoServerFound.Suffix("provide a base URL")
	}
	log.Ctx(ctx).Debug().Int("count", len(servers)).Msg("discovered servers")
	return servers, nil
}

// CommandLister runs `jupyter server list --jsonlist`. A missing binary or a
// failing command yields an empty listing, not an error.
type CommandLister struct {
	// Command defaults to "jupyter".
	Command string
}

func (c CommandLister) List(ctx context.Context) ([]byte, error) {
	name := c.Command
	if name == "" {
		name = "jupyter"
	}
	cmd := exec.CommandContext(ctx, name, "server", "list", "--jsonlist")
	out, err := cmd.Output()
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("command", name).Msg("jupyter server list unavailable")
		return nil, nil
	}
	return out, nil
}

// trailingArray matches a JSON array of objects at the end of the output,
// for listings preceded by warnings or other non-JSON lines.
var trailingArray = regexp.MustCompile(`(?s)(\[\s*\{.*\}\s*\])\s*$`)

// ParseServerList extracts endpoints from a server listing. Entries that are
// not objects or have no url are skipped.
func ParseServerList(out []byte, tokenFallback string) []ServerEndpoint {
	payload := strings.TrimSpace(string(out))
	if payload == "" {
		return nil
	}
	if !gjson.Valid(payload) {
		m := trailingArray.FindStringSubmatch(payload)
		if m == nil || !gjson.Valid(m[1]) {
			return nil
		}
		payload = m[1]
	}
	parsed := gjson.Parse(payload)
	if !parsed.IsArray() {
		return nil
	}

	var servers []ServerEndpoint
	parsed.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		u := item.Get("url")
		if u.Type != gjson.String || u.String() == "" {
			return true
		}
		token := ""
		if t := item.Get("token"); t.Type == gjson.String {
			token = t.String()
		}
		if token == "" {
			token = tokenFallback
		}
		rootDir := ""
		if r := item.Get("root_dir"); r.Type == gjson.String {
			rootDir = r.String()
		}
		servers = append(servers, ServerEndpoint{
			BaseURL: NormalizeBaseURL(u.String()),
			Token:   token,
			RootDir: rootDir,
		})
		return true
	})
	return servers
}

// NormalizeBaseURL removes trailing slashes.
func NormalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
