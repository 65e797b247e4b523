package result

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// RenderText writes the outputs visible in mode as plain text: stream text
// verbatim, values and display data as text/plain (JSON of the bundle when
// absent), errors as their joined traceback.
func (r *ExecutionResult) RenderText(w io.Writer, mode Mode) error {
	for _, o := range r.Project(mode) {
		var err error
		switch o.Kind {
		case KindStream:
			text, _ := o.Content["text"].(string)
			_, err = io.WriteString(w, text)
		case KindExecuteResult, KindDisplayData:
			data, _ := o.Content["data"].(map[string]any)
			_, err = fmt.Fprintln(w, PlainText(data))
		case KindError:
			_, err = fmt.Fprintln(w, errorText(o.Content))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func errorText(content map[string]any) string {
	if tb, ok := content["traceback"].([]any); ok && len(tb) > 0 {
		lines := make([]string, 0, len(tb))
		for _, l := range tb {
			lines = append(lines, fmt.Sprint(l))
		}
		return strings.Join(lines, "\n")
	}
	b, _ := json.Marshal(content)
	return string(b)
}

// Summary is the structured form of a result for machine consumption.
type Summary struct {
	KernelID string   `json:"kernel_id"`
	MsgID    string   `json:"msg_id"`
	Status   string   `json:"status"`
	Outputs  []Output `json:"outputs"`
}

// Summarize projects the result into a Summary.
func (r *ExecutionResult) Summarize(mode Mode) Summary {
	outputs := r.Project(mode)
	if outputs == nil {
		outputs = []Output{}
	}
	return Summary{
		KernelID: r.KernelID,
		MsgID:    r.MessageID,
		Status:   r.Status(),
		Outputs:  outputs,
	}
}
