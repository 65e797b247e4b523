package apperrors

import (
	"errors"
	"strings"
)

// appError is the concrete Error. Values are never mutated after creation;
// every setter returns a copy.
type appError struct {
	msg         string
	base        error   // parent sentinel, for errors.Is
	causes      []error // attached errors
	exitCode    int
	expandError bool
	prefix      string
	suffix      string
}

func (e *appError) Error() string {
	msg := e.msg
	if e.prefix != "" {
		msg = e.prefix + ": " + msg
	}
	if e.suffix != "" {
		msg = msg + ": " + e.suffix
	}
	return msg
}

// ErrorAll returns the message followed by every attached cause when
// expansion is enabled, and the plain message otherwise.
func (e *appError) ErrorAll() string {
	if !e.expandError {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.Error())
	for _, err := range e.causes {
		if err == nil || e.isAncestor(err) {
			continue
		}
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *appError) isAncestor(err error) bool {
	for b := e.base; b != nil; {
		if b == err {
			return true
		}
		ae, ok := b.(*appError)
		if !ok {
			return false
		}
		b = ae.base
	}
	return false
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.causes
}

func (e *appError) derive(msg string, causes []error) *appError {
	return &appError{
		msg:         msg,
		base:        e,
		causes:      causes,
		exitCode:    e.exitCode,
		expandError: e.expandError,
	}
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, append([]error{e}, e.causes...))
}

func (e *appError) New(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, append([]error{e}, errs...))
}

// Err keeps the current message and prefix and attaches errs as causes.
func (e *appError) Err(errs ...error) Error {
	d := e.derive(e.msg, append([]error{e}, errs...))
	d.prefix = e.prefix
	d.suffix = e.suffix
	return d
}

// Prefix and Suffix derive from e, so the decorated error still matches e
// with errors.Is.
func (e *appError) Prefix(p string) Error {
	d := e.derive(e.msg, e.causes)
	d.prefix = p
	d.suffix = e.suffix
	return d
}

func (e *appError) Suffix(s string) Error {
	d := e.derive(e.msg, e.causes)
	d.prefix = e.prefix
	d.suffix = s
	return d
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetExitCode(code int) Error {
	cp := *e
	cp.exitCode = code
	return &cp
}

func (e *appError) ExitCode() int {
	if e.exitCode == 0 {
		return ExitFailure
	}
	return e.exitCode
}

// New creates a root-level error.
func New(msg string) Error {
	return &appError{msg: msg}
}

// Is reports whether target is this error's ancestor or one of its causes.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.causes {
		if err == e {
			continue
		}
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ExitCodeOf returns the exit code carried by err, searching the chain for an
// Error. Nil maps to ExitOK and foreign errors to ExitFailure.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var ae Error
	if errors.As(err, &ae) {
		return ae.ExitCode()
	}
	return ExitFailure
}
