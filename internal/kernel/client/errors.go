package client

import "github.com/tansive/kernelexec/internal/common/apperrors"

// Error definitions for the package.
// All errors are derived from ErrKernelClient.
var (
	// ErrKernelClient is the base error for the package.
	ErrKernelClient = apperrors.New("kernel client error")

	// ErrChannel is returned when the channel cannot be opened (including
	// authentication failures) or is lost mid-execution.
	ErrChannel = ErrKernelClient.New("kernel channel error").SetExitCode(apperrors.ExitChannel)

	// ErrTimedOut is returned when no terminal message arrives in time. The
	// partial result is returned alongside it.
	ErrTimedOut = ErrKernelClient.New("timed out waiting for kernel").SetExitCode(apperrors.ExitTimeout)

	// ErrRemoteExecution classifies a result whose code raised on the kernel.
	// Execute never returns it; see ResultError.
	ErrRemoteExecution = ErrKernelClient.New("remote execution error").SetExitCode(apperrors.ExitRemoteError)
)
