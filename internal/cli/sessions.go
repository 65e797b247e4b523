package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tansive/kernelexec/internal/kernel/discovery"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
)

func newSessionsCmd() *cobra.Command {
	var flags serverFlags
	var match string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live notebook sessions across servers",
		Long: `List the live notebook sessions of every selected server. Use it to pick a
--kernel-id or to check what a --kernel-match would select.

Examples:
  kernelexec sessions
  kernelexec sessions --match "re:^experiments/"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := GetConfig()
			endpoints, err := discovery.New(flags.discoveryConfig(cmd, cfg)).List(ctx)
			if err != nil {
				return err
			}

			var hint *matcher.Hint
			if match != "" {
				h, err := matcher.ParseHint(match)
				if err != nil {
					return err
				}
				hint = &h
			}

			c := matcher.CollectSessions(ctx, matcher.HTTPFetcher{NewClient: flags.restClient(cfg)}, endpoints)
			for _, se := range c.Search.Errors {
				warnLabel.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", se.BaseURL, se.Err)
			}
			candidates := filterSessions(c.Sessions, hint, cfg.Matching)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), candidates)
			}
			return printSessions(cmd.OutOrStdout(), candidates)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&match, "match", "", "Only show sessions matching this hint (same syntax as --kernel-match)")
	return cmd
}

// filterSessions keeps the sessions hint matches, or all when hint is nil.
// An exact kernel id selects only that kernel.
func filterSessions(sessions []matcher.Session, hint *matcher.Hint, policy matcher.Policy) []matcher.Candidate {
	if hint != nil && hint.Kind != matcher.HintRegex {
		for _, s := range sessions {
			if s.KernelID == hint.Text {
				*hint = matcher.KernelIDHint(hint.Text)
				break
			}
		}
	}
	out := make([]matcher.Candidate, 0, len(sessions))
	for _, s := range sessions {
		if hint != nil && !policy.Matches(s, *hint) {
			continue
		}
		out = append(out, matcher.Candidate{
			KernelID:  s.KernelID,
			ServerURL: s.Endpoint.BaseURL,
			Path:      s.Path,
			Name:      s.Name,
		})
	}
	return out
}

func printSessions(w io.Writer, candidates []matcher.Candidate) error {
	if len(candidates) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	upper := cases.Upper(language.Und)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		upper.String("kernel id"), upper.String("server"), upper.String("path"), upper.String("name"))
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.KernelID, c.ServerURL, c.Path, c.Name)
	}
	return tw.Flush()
}
