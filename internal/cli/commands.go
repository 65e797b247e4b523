package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tansive/kernelexec/internal/common/apperrors"
	"github.com/tansive/kernelexec/internal/common/logtrace"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
	"github.com/tansive/kernelexec/internal/kernel/protocol"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	logLevel   string
)

// ErrAlreadyHandled marks errors whose output has already been written.
// Derived errors keep their own exit code.
var ErrAlreadyHandled = apperrors.New("already handled")

var okLabel = color.New(color.FgGreen)
var warnLabel = color.New(color.FgYellow)
var errorLabel = color.New(color.FgRed)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kernelexec [command] [flags]",
		Short: "Run code on a live Jupyter kernel from the command line",
		Long: `kernelexec finds a running Jupyter kernel by kernel id or by notebook name
and executes code on it, printing the kernel's output.

Servers are taken from --base-url or discovered with "jupyter server list".

Examples:
  # Evaluate an expression in the kernel behind analysis.ipynb
  kernelexec exec --kernel-match analysis.ipynb --code "df.shape" --result-only

  # Run a file on a known kernel of a remote server
  kernelexec exec --base-url http://gpu-box:8888 --token $TOKEN \
    --kernel-id 0b5e3c1e-7a0e-4b6f-9a51-3f0c2d9d1e11 --code-file train.py

  # List the sessions a --kernel-match is resolved against
  kernelexec sessions`,
		PersistentPreRunE: preRunHandlePersistents,
		SilenceErrors:     true, // Execute reports errors itself
		SilenceUsage:      true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file (.yaml or .toml) to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Diagnostics level written to stderr (trace, debug, info, warn, error, disabled)")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newServersCmd())
	return rootCmd
}

// Execute runs the CLI and exits with the outcome's exit code.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(reportError(os.Stdout, os.Stderr, err))
}

// reportError prints err and returns the process exit code for it.
func reportError(stdout, stderr io.Writer, err error) int {
	if err == nil {
		return apperrors.ExitOK
	}
	code := apperrors.ExitCodeOf(err)
	if errors.Is(err, ErrAlreadyHandled) {
		return code
	}

	msg := errorMessage(err)
	if jsonOutput {
		kv := map[string]any{
			"error":     msg,
			"exit_code": code,
		}
		var amb *matcher.AmbiguousError
		if errors.As(err, &amb) {
			kv["candidates"] = amb.Candidates
		}
		printJSON(stdout, kv)
	} else {
		errorLabel.Fprintf(stderr, "Error: %s\n", msg)
	}
	return code
}

// errorMessage expands attached causes for errors that carry them.
func errorMessage(err error) string {
	var ae apperrors.Error
	if errors.As(err, &ae) {
		return ae.ErrorAll()
	}
	return err.Error()
}

// preRunHandlePersistents handles persistent flags and configuration loading before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	logtrace.InitLogger(logLevel, !jsonOutput)
	loadDotEnv()

	if cmd.Name() == "version" {
		return nil
	}

	// if a config file is provided, it must exist
	required := configFile != ""
	path := configFile
	if path == "" {
		var err error
		path, err = GetDefaultConfigPath()
		if err != nil {
			return err
		}
	}
	c, err := LoadConfig(path, required)
	if err != nil {
		return err
	}
	config = c
	return nil
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kernelexec",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Get the config file path
			configPath := configFile
			if configPath == "" {
				var err error
				if configPath, err = GetDefaultConfigPath(); err != nil {
					configPath = "unknown"
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version":          getCLIVersion(),
					"protocol_version": protocol.Version,
					"config_file":      configPath,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kernelexec %s (messaging protocol %s)\n", getCLIVersion(), protocol.Version)
			fmt.Fprintf(out, "Config file: %s\n", configPath)
			return nil
		},
	}
}

// printJSON prints data as indented JSON to w
func printJSON(w io.Writer, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.1.0"
}
