package matcher

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/kernelexec/internal/common/httpclient"
	"github.com/tansive/kernelexec/internal/kernel/discovery"
)

// Fetcher lists the live sessions of one server.
type Fetcher interface {
	Sessions(ctx context.Context, endpoint discovery.ServerEndpoint) ([]Session, error)
}

// ClientGetter builds the REST client for an endpoint.
type ClientGetter func(endpoint discovery.ServerEndpoint) httpclient.HTTPClientInterface

// HTTPFetcher queries GET <base>/api/sessions.
type HTTPFetcher struct {
	// NewClient defaults to an httpclient.HTTPClient per endpoint.
	NewClient ClientGetter
}

func defaultClient(endpoint discovery.ServerEndpoint) httpclient.HTTPClientInterface {
	return httpclient.NewClient(httpclient.StaticConfig{ServerURL: endpoint.BaseURL, Token: endpoint.Token})
}

func (f HTTPFetcher) Sessions(ctx context.Context, endpoint discovery.ServerEndpoint) ([]Session, error) {
	newClient := f.NewClient
	if newClient == nil {
		newClient = defaultClient
	}
	body, err := newClient(endpoint).GetJSON(ctx, "api/sessions")
	if err != nil {
		return nil, err
	}
	return ParseSessions(body, endpoint)
}

// ParseSessions decodes an /api/sessions response. Entries without a kernel
// id are skipped; the notebook path is read from "path" or "notebook.path".
func ParseSessions(body []byte, endpoint discovery.ServerEndpoint) ([]Session, error) {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, errors.New("unexpected /api/sessions response shape")
	}
	var sessions []Session
	parsed.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		kernelID := entry.Get("kernel.id")
		if kernelID.Type != gjson.String || kernelID.String() == "" {
			return true
		}
		sessions = append(sessions, Session{
			KernelID: kernelID.String(),
			Path:     firstString(entry, "path", "notebook.path"),
			Name:     firstString(entry, "name", "notebook.name"),
			Endpoint: endpoint,
		})
		return true
	})
	return sessions, nil
}

func firstString(entry gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := entry.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// Collection is the set of sessions gathered across servers.
type Collection struct {
	Sessions []Session
	Search   SearchContext
}

// CollectSessions queries every endpoint in order. A failing server is
// recorded in the search context rather than aborting the collection.
func CollectSessions(ctx context.Context, fetcher Fetcher, endpoints []discovery.ServerEndpoint) Collection {
	var c Collection
	for _, ep := range endpoints {
		c.Search.Servers = append(c.Search.Servers, ep.BaseURL)
		sessions, err := fetcher.Sessions(ctx, ep)
		if err != nil {
			log.Ctx(ctx).Debug().Err(err).Str("server", ep.BaseURL).Msg("session query failed")
			c.Search.Errors = append(c.Search.Errors, ServerError{BaseURL: ep.BaseURL, Err: err})
			continue
		}
		c.Sessions = append(c.Sessions, sessions...)
	}
	return c
}

// Resolver combines session collection and matching.
type Resolver struct {
	Fetcher Fetcher
	Policy  Policy
}

// NewResolver returns a Resolver using HTTPFetcher.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{Fetcher: HTTPFetcher{}, Policy: policy}
}

// Resolve fetches the sessions of every endpoint and narrows them to one
// kernel. No sessions, no match and ambiguity are all errors; the first two
// carry the search context.
func (r *Resolver) Resolve(ctx context.Context, endpoints []discovery.ServerEndpoint, hint Hint) (KernelTarget, error) {
	c := CollectSessions(ctx, r.Fetcher, endpoints)
	if len(c.Sessions) == 0 {
		return KernelTarget{}, ErrNoSessions.Err(c.Search)
	}

	res := Resolve(c.Sessions, hint, r.Policy)
	switch res.Outcome {
	case Resolved:
		log.Ctx(ctx).Debug().
			Str("kernel_id", res.Target.KernelID).
			Str("server", res.Target.Endpoint.BaseURL).
			Msg("resolved kernel")
		return res.Target, nil
	case NotFound:
		return KernelTarget{}, ErrNoMatch.MsgErr(res.Err().Error(), c.Search)
	default:
		return KernelTarget{}, res.Err()
	}
}
