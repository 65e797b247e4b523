package kerneltest

import (
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"
)

var seq atomic.Int64

const envelope = `{"header": {"msg_type": "", "version": "5.3"}, "parent_header": {}, "metadata": {}, "content": {}, "channel": "iopub"}`

// Message builds an iopub frame of msgType replying to parent, with content
// given as raw JSON.
func Message(parent, msgType, content string) []byte {
	out, _ := sjson.Set(envelope, "header.msg_type", msgType)
	out, _ = sjson.Set(out, "header.msg_id", "srv-"+strconv.FormatInt(seq.Add(1), 10))
	if parent != "" {
		out, _ = sjson.Set(out, "parent_header.msg_id", parent)
		out, _ = sjson.Set(out, "parent_header.msg_type", "execute_request")
	}
	out, _ = sjson.SetRaw(out, "content", content)
	return []byte(out)
}

// Status builds a status frame.
func Status(parent, state string) []byte {
	out, _ := sjson.Set(`{}`, "execution_state", state)
	return Message(parent, "status", out)
}

// Stream builds a stream frame.
func Stream(parent, name, text string) []byte {
	out, _ := sjson.Set(`{}`, "name", name)
	out, _ = sjson.Set(out, "text", text)
	return Message(parent, "stream", out)
}

// Result builds an execute_result frame with a text/plain value.
func Result(parent, text string) []byte {
	out, _ := sjson.Set(`{"execution_count": 1, "metadata": {}}`, "data.text/plain", text)
	return Message(parent, "execute_result", out)
}

// Display builds a display_data frame.
func Display(parent, mime, value string) []byte {
	out, _ := sjson.Set(`{"metadata": {}, "data": {}}`, "data."+strings.ReplaceAll(mime, ".", `\.`), value)
	return Message(parent, "display_data", out)
}

// Error builds an error frame.
func Error(parent, ename, evalue string, traceback ...string) []byte {
	out, _ := sjson.Set(`{}`, "ename", ename)
	out, _ = sjson.Set(out, "evalue", evalue)
	if traceback == nil {
		traceback = []string{}
	}
	out, _ = sjson.Set(out, "traceback", traceback)
	return Message(parent, "error", out)
}

// Frames wraps payloads without delay.
func Frames(data ...[]byte) []Frame {
	out := make([]Frame, 0, len(data))
	for _, d := range data {
		out = append(out, Frame{Data: d})
	}
	return out
}

var (
	addition = regexp.MustCompile(`^\s*(-?\d+)\s*\+\s*(-?\d+)\s*$`)
	printArg = regexp.MustCompile(`^\s*print\((?:'|")(.*)(?:'|")\)\s*$`)
)

// Python is a tiny stand-in for an IPython kernel. It understands integer
// addition ("1+1"), print('text'), and "raise <Name>(<msg>)"; any other code
// completes silently. Replies interleave a status frame from another client.
func Python(req Request) []Frame {
	id := req.MsgID
	frames := [][]byte{
		Status(id, "busy"),
		Message(id, "execute_input", `{"code": "", "execution_count": 1}`),
		Stream("other-client", "stdout", "not yours\n"),
	}
	for _, line := range strings.Split(req.Code, "\n") {
		switch {
		case addition.MatchString(line):
			m := addition.FindStringSubmatch(line)
			a, _ := strconv.Atoi(m[1])
			b, _ := strconv.Atoi(m[2])
			frames = append(frames, Result(id, strconv.Itoa(a+b)))
		case printArg.MatchString(line):
			frames = append(frames, Stream(id, "stdout", printArg.FindStringSubmatch(line)[1]+"\n"))
		case strings.HasPrefix(strings.TrimSpace(line), "raise "):
			name, msg := parseRaise(strings.TrimPrefix(strings.TrimSpace(line), "raise "))
			frames = append(frames,
				Error(id, name, msg,
					"Traceback (most recent call last):",
					"  Cell In[1], line 1",
					name+": "+msg),
				Status("other-client", "idle"),
				Status(id, "idle"))
			return Frames(frames...)
		}
	}
	frames = append(frames, Status("other-client", "idle"), Status(id, "idle"))
	return Frames(frames...)
}

func parseRaise(expr string) (string, string) {
	name, rest, ok := strings.Cut(expr, "(")
	if !ok {
		return expr, ""
	}
	msg := strings.TrimSuffix(rest, ")")
	msg = strings.Trim(msg, `'"`)
	return name, msg
}

// Hang replies busy and the given stream text, then never reports idle.
func Hang(text string) Script {
	return func(req Request) []Frame {
		return Frames(Status(req.MsgID, "busy"), Stream(req.MsgID, "stdout", text))
	}
}

// Slow sends each of Python's frames after delay.
func Slow(delay time.Duration) Script {
	return func(req Request) []Frame {
		frames := Python(req)
		for i := range frames {
			frames[i].Delay = delay
		}
		return frames
	}
}
