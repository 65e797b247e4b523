// Package client drives one code execution on a resolved Jupyter kernel. It
// opens a dedicated channel, sends a single execute_request and consumes the
// correlated reply stream until the kernel reports idle, aggregating outputs
// into a result.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tansive/kernelexec/internal/common/logtrace"
	"github.com/tansive/kernelexec/internal/common/uuid"
	"github.com/tansive/kernelexec/internal/kernel/matcher"
	"github.com/tansive/kernelexec/internal/kernel/protocol"
	"github.com/tansive/kernelexec/internal/kernel/result"
)

// DefaultTimeout is the per-read wait used when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// State is a step of the execution state machine.
type State int

const (
	StateConnecting State = iota
	StateAwaitingFirstBusy
	StateCollecting
	StateIdle
	StateTimedOut
	StateChannelError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingFirstBusy:
		return "awaiting-busy"
	case StateCollecting:
		return "collecting"
	case StateIdle:
		return "idle"
	case StateTimedOut:
		return "timed-out"
	case StateChannelError:
		return "channel-error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateIdle
}

// Options are the caller-facing execution options.
type Options struct {
	// Mode selects the projection used by Write.
	Mode result.Mode
	// Structured makes Write emit a JSON summary instead of text.
	Structured bool
	// Timeout bounds each read; any inbound frame resets it.
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Write presents res according to the options.
func (o Options) Write(w io.Writer, res *result.ExecutionResult) error {
	if o.Structured {
		enc := json.NewEncoder(w)
		return enc.Encode(res.Summarize(o.Mode))
	}
	return res.RenderText(w, o.Mode)
}

// ResultError returns ErrRemoteExecution when the kernel reported an error in
// res, and nil otherwise.
func ResultError(res *result.ExecutionResult) error {
	if res == nil || res.ErrorInfo == nil {
		return nil
	}
	return ErrRemoteExecution.Msg(fmt.Sprintf("%s: %s", res.ErrorInfo.Type, res.ErrorInfo.Message))
}

// Client executes code on kernels. It holds no per-execution state and is
// safe for concurrent use; every Execute opens its own channel.
type Client struct {
	dialer Dialer
	now    func() time.Time
}

// New returns a Client using dialer, or gorilla/websocket when nil.
func New(dialer Dialer) *Client {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Client{dialer: dialer, now: time.Now}
}

// execution is the state of one Execute call.
type execution struct {
	state   State
	msgID   string
	agg     *result.Aggregator
	logger  zerolog.Logger
	warned  bool
	ignored int
}

func (e *execution) transition(to State) {
	if e.state == to {
		return
	}
	e.logger.Debug().Stringer("from", e.state).Stringer("to", to).Msg("state transition")
	e.state = to
}

// Execute runs code on target and blocks until the kernel reports idle for
// the request, the per-read timeout expires, or ctx is done.
//
// On success the result is complete and err is nil, even when the code raised:
// the exception is in the result's ErrorInfo. On timeout or cancellation the
// partial result is returned with ErrTimedOut. A channel that cannot be opened
// yields ErrChannel and a nil result; a channel lost mid-execution yields
// ErrChannel and the partial result.
func (c *Client) Execute(ctx context.Context, target matcher.KernelTarget, code string, opts Options) (*result.ExecutionResult, error) {
	msgID := uuid.NewMessageID()
	e := &execution{
		state: StateConnecting,
		msgID: msgID,
		agg:   result.NewAggregator(target.KernelID, msgID),
		logger: log.Ctx(ctx).With().
			Str("kernel_id", target.KernelID).
			Str("server", target.Endpoint.BaseURL).
			Str("msg_id", msgID).
			Logger(),
	}

	wsURL, err := ChannelURL(target)
	if err != nil {
		e.transition(StateChannelError)
		return nil, ErrChannel.MsgErr("invalid kernel target: "+err.Error(), err)
	}
	conn, err := c.dialer.Dial(ctx, wsURL, authHeader(target.Endpoint.Token))
	if err != nil {
		e.transition(StateChannelError)
		return nil, ErrChannel.MsgErr(fmt.Sprintf("could not open channel to kernel %s: %v", target.KernelID, err), err)
	}
	defer conn.Close()

	// Closing the channel is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req, err := protocol.NewExecuteRequest(msgID, uuid.NewSessionID(), code, c.now())
	if err != nil {
		e.transition(StateChannelError)
		return nil, ErrChannel.MsgErr("encoding execute request", err)
	}
	if err := conn.WriteMessage(req); err != nil {
		e.transition(StateChannelError)
		return nil, ErrChannel.MsgErr("sending execute request: "+err.Error(), err)
	}
	e.transition(StateAwaitingFirstBusy)

	timeout := opts.timeout()
	for {
		if err := conn.SetReadDeadline(c.readDeadline(ctx, timeout)); err != nil {
			return c.fail(ctx, e, err, timeout)
		}
		data, err := conn.ReadMessage()
		if err != nil {
			return c.fail(ctx, e, err, timeout)
		}
		if done := e.handle(data); done {
			e.transition(StateIdle)
			e.logger.Debug().Int("discarded", e.ignored).Msg("execution complete")
			return e.agg.Finalize(false), nil
		}
	}
}

func (c *Client) readDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := c.now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// fail maps a read error to a terminal state and returns the partial result.
func (c *Client) fail(ctx context.Context, e *execution, err error, timeout time.Duration) (*result.ExecutionResult, error) {
	res := e.agg.Finalize(true)
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.transition(StateTimedOut)
		return res, ErrTimedOut.MsgErr("execution abandoned: "+ctxErr.Error(), ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		e.transition(StateTimedOut)
		e.logger.Warn().Dur("timeout", timeout).Msg("no message from kernel before deadline")
		return res, ErrTimedOut.Msg(fmt.Sprintf("no message from kernel %s within %s", res.KernelID, timeout))
	}
	e.transition(StateChannelError)
	return res, ErrChannel.MsgErr("kernel channel lost: "+err.Error(), err)
}

// handle processes one inbound frame and reports whether the terminal idle
// status for the request was seen.
func (e *execution) handle(data []byte) bool {
	m, err := protocol.Decode(data)
	if err != nil {
		e.logger.Debug().Err(err).Msg("skipping undecodable frame")
		return false
	}
	if logtrace.IsTraceEnabled() {
		e.logger.Trace().
			Str("msg_type", string(m.Type())).
			Str("parent_id", m.ParentID()).
			Msg("inbound frame")
	}
	// Other clients share the kernel's iopub stream.
	if m.ParentID() != e.msgID {
		e.ignored++
		return false
	}
	if !e.warned && !protocol.IsSupportedVersion(m.Header.Version) {
		e.warned = true
		e.logger.Warn().Str("version", m.Header.Version).Msg("kernel speaks an unsupported protocol version")
	}

	switch m.Type() {
	case protocol.MsgStatus:
		var sc protocol.StatusContent
		if err := protocol.DecodeContent(m, &sc); err != nil {
			e.logger.Debug().Err(err).Msg("skipping malformed status")
			return false
		}
		switch sc.ExecutionState {
		case protocol.StateBusy:
			if e.state == StateAwaitingFirstBusy {
				e.transition(StateCollecting)
			}
		case protocol.StateIdle:
			return true
		}
	case protocol.MsgStream, protocol.MsgExecuteResult, protocol.MsgDisplayData, protocol.MsgError:
		if e.state == StateAwaitingFirstBusy {
			e.logger.Debug().Str("msg_type", string(m.Type())).Msg("output before busy status")
		}
		if _, err := e.agg.Add(m); err != nil {
			e.logger.Debug().Err(err).Msg("skipping malformed output")
		}
	}
	return false
}
