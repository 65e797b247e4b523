package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tansive/kernelexec/internal/common/apperrors"
	"github.com/tansive/kernelexec/internal/common/uuid"
	"github.com/tansive/kernelexec/internal/kernel/client"
	"github.com/tansive/kernelexec/internal/kernel/discovery"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
	"github.com/tansive/kernelexec/internal/kernel/result"
)

// ErrInvalidInput is returned for unusable code sources.
var ErrInvalidInput = apperrors.New("invalid input")

type execOptions struct {
	server         serverFlags
	kernelID       string
	kernelMatch    string
	code           string
	codeFile       string
	codeStdin      bool
	timeout        int
	resultOnly     bool
	connectRetries uint
}

func newExecCmd() *cobra.Command {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute code on a running kernel",
		Long: `Execute code on a running Jupyter kernel and print its output.

The kernel is selected with --kernel-id or --kernel-match. A match hint is
compared with each session's kernel id, then with notebook paths and names;
prefix it with "re:" for a regular expression. Exactly one kernel must match.

Exit codes: 0 success, 1 usage or resolution failure, 2 channel failure,
3 the code raised an error, 4 timeout.

Examples:
  kernelexec exec --kernel-match analysis --code "1+1" --result-only
  kernelexec exec --kernel-match "re:^reports/.*q3" --code-file cell.py
  echo "print('hi')" | kernelexec exec --kernel-id 0b5e3c1e-... --code-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			if !cmd.Flags().Changed("timeout") {
				opts.timeout = cfg.Timeout
			}
			if !cmd.Flags().Changed("connect-retries") {
				opts.connectRetries = cfg.ConnectRetries
			}
			return runExec(cmd, opts, cfg, channelDialer(opts.server.skipVerify(cfg)))
		},
	}
	opts.server.bind(cmd)
	cmd.Flags().StringVar(&opts.kernelID, "kernel-id", "", "Kernel id to execute on")
	cmd.Flags().StringVar(&opts.kernelMatch, "kernel-match", "", `Notebook name, path fragment or kernel id; "re:<pattern>" for a regex`)
	cmd.Flags().StringVarP(&opts.code, "code", "c", "", `Code to execute; a literal "\n" is read as a newline`)
	cmd.Flags().StringVarP(&opts.codeFile, "code-file", "f", "", "Read code from a file")
	cmd.Flags().BoolVar(&opts.codeStdin, "code-stdin", false, "Read code from standard input")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 60, "Seconds to wait for each message from the kernel")
	cmd.Flags().BoolVar(&opts.resultOnly, "result-only", false, "Print only the execution result value or error")
	cmd.Flags().UintVar(&opts.connectRetries, "connect-retries", 0, "Extra attempts to open the kernel channel")

	cmd.MarkFlagsMutuallyExclusive("kernel-id", "kernel-match")
	cmd.MarkFlagsOneRequired("kernel-id", "kernel-match")
	cmd.MarkFlagsMutuallyExclusive("code", "code-file", "code-stdin")
	cmd.MarkFlagsOneRequired("code", "code-file", "code-stdin")
	return cmd
}

func runExec(cmd *cobra.Command, opts execOptions, cfg *Config, dialer client.Dialer) error {
	ctx := cmd.Context()
	if opts.timeout <= 0 {
		return ErrInvalidInput.Msg("--timeout must be a positive number of seconds")
	}
	code, err := readCode(opts, cmd.InOrStdin())
	if err != nil {
		return err
	}

	dc := opts.server.discoveryConfig(cmd, cfg)
	resolver := &matcher.Resolver{
		Fetcher: matcher.HTTPFetcher{NewClient: opts.server.restClient(cfg)},
		Policy:  cfg.Matching,
	}
	target, err := resolveTarget(ctx, opts, dc, resolver)
	if err != nil {
		return err
	}

	if opts.connectRetries > 0 {
		dialer = retryDialer{dialer: dialer, retries: opts.connectRetries, delay: time.Second}
	}
	clientOpts := client.Options{
		Mode:       result.ModeFull,
		Structured: jsonOutput,
		Timeout:    time.Duration(opts.timeout) * time.Second,
	}
	if opts.resultOnly {
		clientOpts.Mode = result.ModeValueOnly
	}

	res, execErr := client.New(dialer).Execute(ctx, target, code, clientOpts)
	if res == nil {
		return execErr
	}
	if err := clientOpts.Write(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if execErr == nil {
		execErr = client.ResultError(res)
	}
	if execErr != nil && jsonOutput {
		// the summary already carries the status
		log.Ctx(ctx).Error().Err(execErr).Msg("execution did not succeed")
		return ErrAlreadyHandled.MsgErr(execErr.Error(), execErr).SetExitCode(apperrors.ExitCodeOf(execErr))
	}
	return execErr
}

// resolveTarget finds the kernel to execute on. A kernel id with an explicit
// base URL is used as is, without listing sessions.
func resolveTarget(ctx context.Context, opts execOptions, dc discovery.Config, resolver *matcher.Resolver) (matcher.KernelTarget, error) {
	logger := log.Ctx(ctx)
	if opts.kernelID != "" && !uuid.IsKernelID(opts.kernelID) {
		logger.Warn().Str("kernel_id", opts.kernelID).Msg("kernel id is not in the usual UUID form")
	}

	endpoints, err := discovery.New(dc).List(ctx)
	if err != nil {
		return matcher.KernelTarget{}, err
	}
	if opts.kernelID != "" && dc.Override != nil {
		logger.Debug().Str("kernel_id", opts.kernelID).Msg("using kernel id without session lookup")
		return matcher.KernelTarget{Endpoint: endpoints[0], KernelID: opts.kernelID}, nil
	}

	var hint matcher.Hint
	if opts.kernelID != "" {
		hint = matcher.KernelIDHint(opts.kernelID)
	} else if hint, err = matcher.ParseHint(opts.kernelMatch); err != nil {
		return matcher.KernelTarget{}, err
	}
	return resolver.Resolve(ctx, endpoints, hint)
}

// readCode returns the code from the selected source.
func readCode(opts execOptions, stdin io.Reader) (string, error) {
	switch {
	case opts.codeFile != "":
		raw, err := os.ReadFile(opts.codeFile)
		if err != nil {
			return "", ErrInvalidInput.MsgErr("unable to read code file: "+err.Error(), err)
		}
		if kind, _ := filetype.Match(raw); kind != filetype.Unknown {
			return "", ErrInvalidInput.Msg(fmt.Sprintf("%s looks like a %s file, not source code", opts.codeFile, kind.MIME.Value))
		}
		return string(raw), nil
	case opts.codeStdin:
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", ErrInvalidInput.MsgErr("unable to read standard input", err)
		}
		return string(raw), nil
	default:
		return strings.ReplaceAll(opts.code, `\n`, "\n"), nil
	}
}

// channelDialer returns the websocket dialer for kernel channels.
func channelDialer(insecure bool) client.Dialer {
	if !insecure {
		return client.WebsocketDialer{}
	}
	d := *websocket.DefaultDialer
	d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return client.WebsocketDialer{Dialer: &d}
}

// retryDialer retries failed channel dials. Only opening the channel is
// retried, so code is never sent twice.
type retryDialer struct {
	dialer  client.Dialer
	retries uint
	delay   time.Duration
}

func (d retryDialer) Dial(ctx context.Context, url string, header http.Header) (client.Conn, error) {
	var conn client.Conn
	err := retry.Do(func() error {
		c, err := d.dialer.Dial(ctx, url, header)
		if err != nil {
			// the server answered; retrying will not change its mind
			if errors.Is(err, websocket.ErrBadHandshake) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		conn = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(d.retries+1),
		retry.Delay(d.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("failed to open kernel channel")
		}))
	if err != nil {
		return nil, err
	}
	return conn, nil
}
