package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tansive/kernelexec/internal/common/httpclient"
	"github.com/tansive/kernelexec/internal/kernel/discovery"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
)

// serverFlags selects the servers a command works against.
type serverFlags struct {
	baseURL      string
	token        string
	autoDiscover bool
	insecure     bool
}

func (f *serverFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Jupyter server base URL; skips discovery")
	cmd.Flags().StringVar(&f.token, "token", "", "Server token (falls back to config, then $"+TokenEnvVar+")")
	cmd.Flags().BoolVar(&f.autoDiscover, "auto-discover", true, `Discover servers with "jupyter server list" when no base URL is set`)
	cmd.Flags().BoolVar(&f.insecure, "insecure", false, "Skip TLS certificate verification")
}

func (f *serverFlags) skipVerify(cfg *Config) bool {
	return f.insecure || cfg.InsecureSkipVerify
}

// restClient returns the client factory used for the servers' REST API.
func (f *serverFlags) restClient(cfg *Config) matcher.ClientGetter {
	return newRESTClient(f.skipVerify(cfg))
}

func newRESTClient(insecure bool) matcher.ClientGetter {
	return func(ep discovery.ServerEndpoint) httpclient.HTTPClientInterface {
		return httpclient.NewClient(
			httpclient.StaticConfig{ServerURL: ep.BaseURL, Token: ep.Token},
			httpclient.ClientOptions{DisableCertValidation: insecure},
		)
	}
}

// discoveryConfig merges the flags with the loaded config. Flags set on the
// command line win.
func (f *serverFlags) discoveryConfig(cmd *cobra.Command, cfg *Config) discovery.Config {
	baseURL := f.baseURL
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	autoDiscover := f.autoDiscover
	if !cmd.Flags().Changed("auto-discover") {
		autoDiscover = cfg.AutoDiscover
	}
	token := cfg.ResolveToken(f.token)

	dc := discovery.Config{
		AutoDiscover:  autoDiscover,
		TokenFallback: token,
		Lister:        discovery.CommandLister{Command: cfg.JupyterCommand},
	}
	if baseURL != "" {
		dc.Override = &discovery.ServerEndpoint{BaseURL: baseURL, Token: token}
	}
	return dc
}

func newServersCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the Jupyter servers kernels are resolved against",
		Long: `List the Jupyter servers kernels are resolved against, with the version each
server reports on /api. Unreachable servers are listed with their error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := GetConfig()
			endpoints, err := discovery.New(flags.discoveryConfig(cmd, cfg)).List(ctx)
			if err != nil {
				return err
			}
			infos := probeServers(ctx, endpoints, flags.restClient(cfg))
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), infos)
			}
			return printServers(cmd.OutOrStdout(), infos)
		},
	}
	flags.bind(cmd)
	return cmd
}

// ServerInfo describes one server as reported by GET /api.
type ServerInfo struct {
	BaseURL string `json:"base_url"`
	RootDir string `json:"root_dir,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// probeServers queries /api on every endpoint. Failures are recorded per
// server.
func probeServers(ctx context.Context, endpoints []discovery.ServerEndpoint, newClient matcher.ClientGetter) []ServerInfo {
	infos := make([]ServerInfo, 0, len(endpoints))
	for _, ep := range endpoints {
		info := ServerInfo{BaseURL: ep.BaseURL, RootDir: ep.RootDir}
		body, err := newClient(ep).GetJSON(ctx, "api")
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Version = serverVersion(gjson.GetBytes(body, "version").String())
		}
		infos = append(infos, info)
	}
	return infos
}

// serverVersion normalises a reported version; unparsable values are kept
// as reported.
func serverVersion(raw string) string {
	if raw == "" {
		return "unknown"
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return raw
	}
	return v.String()
}

func printServers(w io.Writer, infos []ServerInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	upper := cases.Upper(language.Und)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", upper.String("url"), upper.String("version"), upper.String("status"))
	for _, info := range infos {
		status := okLabel.Sprint("ok")
		if info.Error != "" {
			status = errorLabel.Sprint(info.Error)
		}
		version := info.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.BaseURL, version, status)
	}
	return tw.Flush()
}
