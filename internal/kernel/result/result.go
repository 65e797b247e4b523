// Package result aggregates the correlated output messages of one kernel
// execution into a single ExecutionResult, and renders read-time projections
// of it for presentation.
package result

import (
	"encoding/json"
	"sync"

	"github.com/tansive/kernelexec/internal/kernel/protocol"
)

// Mode selects which output kinds a projection exposes.
type Mode int

const (
	// ModeFull exposes every collected output.
	ModeFull Mode = iota
	// ModeValueOnly exposes only execute_result and error outputs.
	ModeValueOnly
)

// Kind is the message kind an output came from.
type Kind string

const (
	KindStream        Kind = Kind(protocol.MsgStream)
	KindExecuteResult Kind = Kind(protocol.MsgExecuteResult)
	KindDisplayData   Kind = Kind(protocol.MsgDisplayData)
	KindError         Kind = Kind(protocol.MsgError)
)

// Output is one collected fragment, in arrival order.
type Output struct {
	Kind    Kind           `json:"type"`
	Content map[string]any `json:"content"`
}

// ErrorInfo describes an exception raised by the executed code.
type ErrorInfo struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback"`
}

// ExecutionResult is the finalized outcome of one execution.
type ExecutionResult struct {
	KernelID     string           `json:"kernel_id"`
	MessageID    string           `json:"msg_id"`
	StreamText   []string         `json:"stream_text"`
	ResultValue  *string          `json:"result_value,omitempty"`
	DisplayItems []map[string]any `json:"display_items"`
	ErrorInfo    *ErrorInfo       `json:"error,omitempty"`
	Outputs      []Output         `json:"outputs"`
	// Incomplete is set when collection ended before the kernel reported idle.
	Incomplete bool `json:"incomplete"`
}

// Failed reports whether the kernel reported an error.
func (r *ExecutionResult) Failed() bool {
	return r.ErrorInfo != nil
}

// Status is "incomplete", "error" or "ok".
func (r *ExecutionResult) Status() string {
	switch {
	case r.Incomplete:
		return "incomplete"
	case r.Failed():
		return "error"
	default:
		return "ok"
	}
}

// Project returns the outputs visible in mode, preserving order.
func (r *ExecutionResult) Project(mode Mode) []Output {
	if mode == ModeFull {
		return r.Outputs
	}
	var out []Output
	for _, o := range r.Outputs {
		if o.Kind == KindExecuteResult || o.Kind == KindError {
			out = append(out, o)
		}
	}
	return out
}

// Aggregator collects fragments for one execution. Its zero value is not
// usable; create it with NewAggregator.
type Aggregator struct {
	mu        sync.Mutex
	res       *ExecutionResult
	finalized bool
}

// NewAggregator starts an empty result for the given execution.
func NewAggregator(kernelID, msgID string) *Aggregator {
	return &Aggregator{
		res: &ExecutionResult{
			KernelID:     kernelID,
			MessageID:    msgID,
			StreamText:   []string{},
			DisplayItems: []map[string]any{},
			Outputs:      []Output{},
		},
	}
}

// Add appends a correlated message. Kinds other than stream, execute_result,
// display_data and error are ignored and reported as false.
func (a *Aggregator) Add(m *protocol.Message) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return false, nil
	}

	switch m.Type() {
	case protocol.MsgStream:
		var sc protocol.StreamContent
		if err := protocol.DecodeContent(m, &sc); err != nil {
			return false, err
		}
		a.res.StreamText = append(a.res.StreamText, sc.Text)
	case protocol.MsgExecuteResult:
		var dc protocol.DataContent
		if err := protocol.DecodeContent(m, &dc); err != nil {
			return false, err
		}
		v := PlainText(dc.Data)
		a.res.ResultValue = &v
	case protocol.MsgDisplayData:
		var dc protocol.DataContent
		if err := protocol.DecodeContent(m, &dc); err != nil {
			return false, err
		}
		a.res.DisplayItems = append(a.res.DisplayItems, dc.Data)
	case protocol.MsgError:
		var ec protocol.ErrorContent
		if err := protocol.DecodeContent(m, &ec); err != nil {
			return false, err
		}
		a.res.ErrorInfo = &ErrorInfo{
			Type:      ec.EName,
			Message:   ec.EValue,
			Traceback: ec.Traceback,
		}
		if a.res.ErrorInfo.Traceback == nil {
			a.res.ErrorInfo.Traceback = []string{}
		}
	default:
		return false, nil
	}

	content := m.Content
	if content == nil {
		content = map[string]any{}
	}
	a.res.Outputs = append(a.res.Outputs, Output{Kind: Kind(m.Type()), Content: content})
	return true, nil
}

// Finalize closes the aggregator and returns the result. incomplete marks a
// result cut short by a timeout or channel failure. Later calls return the
// same result unchanged.
func (a *Aggregator) Finalize(incomplete bool) *ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finalized {
		a.finalized = true
		a.res.Incomplete = incomplete
	}
	return a.res
}

// PlainText returns the text/plain representation of a MIME bundle, or the
// JSON encoding of the whole bundle when it has none.
func PlainText(data map[string]any) string {
	if s, ok := data["text/plain"].(string); ok && s != "" {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
