// Package apperrors provides chainable application errors that carry a process
// exit code. Errors are derived from package-level sentinels with New, and
// remain matchable with errors.Is against every ancestor and attached cause.
package apperrors

// Error extends the standard error interface with derivation, wrapping and
// exit-code management. All methods return Error to support method chaining.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // derives a new error using current as template
	Msg(msg string) Error                  // new message, wraps the original
	MsgErr(msg string, err ...error) Error // new message, wraps the original and extra causes
	Err(err ...error) Error                // attaches causes to the current error
	SetExpandError(bool) Error             // controls whether ErrorAll expands causes
	SetExitCode(int) Error                 // sets the process exit code for the error
	ExitCode() int                         // returns the exit code, 1 when unset
	Prefix(string) Error                   // adds a prefix to the error message
	Suffix(string) Error                   // adds a suffix to the error message
	ErrorAll() string                      // full message including causes
	UnwrapAll() []error                    // all attached causes
}

// Exit codes shared by the CLI. Resolution failures and usage errors both map to
// ExitFailure so that scripts only need to special-case the transport outcomes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitChannel     = 2
	ExitRemoteError = 3
	ExitTimeout     = 4
)
