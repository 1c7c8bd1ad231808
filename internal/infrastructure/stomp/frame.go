package stomp

import (
	"bytes"
	"fmt"
	"strings"
)

// Command is the leading verb of a frame.
type Command string

const (
	// client commands
	CommandConnect    Command = "CONNECT"
	CommandSubscribe  Command = "SUBSCRIBE"
	CommandSend       Command = "SEND"
	CommandDisconnect Command = "DISCONNECT"

	// server commands
	CommandConnected Command = "CONNECTED"
	CommandError     Command = "ERROR"
	CommandMessage   Command = "MESSAGE"
)

// Header is one name:value pair. Order is preserved on the wire.
type Header struct {
	Name  string
	Value string
}

// Frame is one text frame: VERB, header lines, empty line, body, NUL.
type Frame struct {
	Command Command
	Headers []Header
	Body    []byte
}

func NewFrame(cmd Command, headers ...Header) *Frame {
	return &Frame{Command: cmd, Headers: headers}
}

// Header returns the first value for name, empty string when absent.
func (f *Frame) Header(name string) string {
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Marshal renders the frame as VERB\nheader:value\n...\n\n[body]\x00.
func (f *Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(string(f.Command))
	b.WriteByte('\n')
	for _, h := range f.Headers {
		b.WriteString(h.Name)
		b.WriteByte(':')
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse decodes one inbound frame. Headers and body are separated by the
// first empty line; a trailing NUL is tolerated, as are \r\n line endings.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	head := data
	var body []byte
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		head = data[:i]
		body = data[i+2:]
	} else if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		head = data[:i]
		body = data[i+4:]
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	cmd := strings.TrimSpace(lines[0])
	if cmd == "" {
		return nil, fmt.Errorf("frame without command")
	}

	f := &Frame{Command: Command(cmd), Body: body}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		f.Headers = append(f.Headers, Header{Name: name, Value: value})
	}
	return f, nil
}
