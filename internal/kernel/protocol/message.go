// Package protocol defines the Jupyter messaging envelope exchanged over a
// kernel's websocket channel, together with typed views of the content of the
// message kinds the execution client consumes.
package protocol

import (
	"time"

	"github.com/Masterminds/semver/v3"
	jsonitor "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Version is the messaging protocol version sent in outbound headers.
const Version = "5.3"

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// MsgType is the header.msg_type of a message.
type MsgType string

const (
	MsgExecuteRequest MsgType = "execute_request"
	MsgExecuteReply   MsgType = "execute_reply"
	MsgExecuteInput   MsgType = "execute_input"
	MsgStream         MsgType = "stream"
	MsgExecuteResult  MsgType = "execute_result"
	MsgDisplayData    MsgType = "display_data"
	MsgError          MsgType = "error"
	MsgStatus         MsgType = "status"
)

// ExecutionState is the content.execution_state of a status message.
type ExecutionState string

const (
	StateBusy     ExecutionState = "busy"
	StateIdle     ExecutionState = "idle"
	StateStarting ExecutionState = "starting"
)

// Header is the header (or parent_header) of a message.
type Header struct {
	MsgID    string  `json:"msg_id,omitempty"`
	MsgType  MsgType `json:"msg_type,omitempty"`
	Username string  `json:"username,omitempty"`
	Session  string  `json:"session,omitempty"`
	Date     string  `json:"date,omitempty"`
	Version  string  `json:"version,omitempty"`
}

// Message is one envelope on the channel.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel,omitempty"`
	// Some servers repeat msg_type and msg_id at the top level.
	MsgType MsgType `json:"msg_type,omitempty"`
	MsgID   string  `json:"msg_id,omitempty"`
}

// Type returns the message type, preferring the header.
func (m *Message) Type() MsgType {
	if m.Header.MsgType != "" {
		return m.Header.MsgType
	}
	return m.MsgType
}

// ParentID returns the correlation id this message replies to.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// ExecuteRequestContent is the content of an execute_request.
type ExecuteRequestContent struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

// NewExecuteRequest builds the shell-channel execute_request envelope for code.
func NewExecuteRequest(msgID, session, code string, now time.Time) ([]byte, error) {
	msg := struct {
		Header       Header                `json:"header"`
		ParentHeader struct{}              `json:"parent_header"`
		Metadata     struct{}              `json:"metadata"`
		Content      ExecuteRequestContent `json:"content"`
		Channel      string                `json:"channel"`
	}{
		Header: Header{
			MsgID:    msgID,
			MsgType:  MsgExecuteRequest,
			Username: "api",
			Session:  session,
			Date:     now.UTC().Format(time.RFC3339Nano),
			Version:  Version,
		},
		Content: ExecuteRequestContent{
			Code:            code,
			StoreHistory:    true,
			UserExpressions: map[string]string{},
			StopOnError:     true,
		},
		Channel: "shell",
	}
	return json.Marshal(&msg)
}

// Decode parses one inbound frame.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding kernel message")
	}
	return &m, nil
}

// StreamContent is the content of a stream message.
type StreamContent struct {
	Name string `mapstructure:"name"` // stdout or stderr
	Text string `mapstructure:"text"`
}

// DataContent is the content of execute_result and display_data messages.
type DataContent struct {
	ExecutionCount int            `mapstructure:"execution_count"`
	Data           map[string]any `mapstructure:"data"`
	Metadata       map[string]any `mapstructure:"metadata"`
}

// ErrorContent is the content of an error message.
type ErrorContent struct {
	EName     string   `mapstructure:"ename"`
	EValue    string   `mapstructure:"evalue"`
	Traceback []string `mapstructure:"traceback"`
}

// StatusContent is the content of a status message.
type StatusContent struct {
	ExecutionState ExecutionState `mapstructure:"execution_state"`
}

// DecodeContent decodes m.Content into out, one of the *Content types above.
func DecodeContent(m *Message, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(m.Content); err != nil {
		return errors.Wrapf(err, "decoding %s content", m.Type())
	}
	return nil
}

var supportedVersions = mustConstraint(">= 5.0, < 6.0")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// IsSupportedVersion reports whether a header version is a 5.x protocol.
// An empty version is accepted since older servers omit it.
func IsSupportedVersion(v string) bool {
	if v == "" {
		return true
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	return supportedVersions.Check(sv)
}
