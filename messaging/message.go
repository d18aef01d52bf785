// Package messaging connects the job engines to a STOMP broker. A single
// dispatcher subscribes to the job queues, persists every command to a
// durable inbox, runs it through a bounded worker pool, streams progress
// to the progress topic, and delivers terminal results through a durable
// outbox so they survive broker outages and process restarts.
package messaging

import (
	"bytes"
	"fmt"
	"strings"
)

// Command header names on the wire.
const (
	HeaderCommand  = "PlastronCommand"
	HeaderJobID    = "PlastronJobId"
	HeaderJobError = "PlastronJobError"
	HeaderState    = "PlastronJobState"

	// HeaderReplyTo marks a synchronous command; the terminal response is
	// sent there instead of the status queue.
	HeaderReplyTo = "reply-to"

	// HeaderDestination records where a persisted outbox message is bound.
	HeaderDestination = "destination"

	headerContentType = "content-type"

	// argPrefix introduces command argument headers, e.g.
	// "PlastronArg-model: Item".
	argPrefix = "PlastronArg-"
)

// Commands routed by the dispatcher.
const (
	CommandImport    = "import"
	CommandUpdate    = "update"
	CommandPublish   = "publish"
	CommandUnpublish = "unpublish"
	CommandTemplate  = "template"
)

// Header is one STOMP header. Order is preserved so a persisted message
// replays byte-identically.
type Header struct {
	Name  string
	Value string
}

// Message is a broker message: ordered headers plus an opaque body.
type Message struct {
	Headers []Header
	Body    []byte
}

// Get returns the first value of the named header, or "".
func (m *Message) Get(name string) string {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Set replaces the first value of the named header, appending when the
// header is not present yet.
func (m *Message) Set(name, value string) {
	for i, h := range m.Headers {
		if h.Name == name {
			m.Headers[i].Value = value
			return
		}
	}
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// Command returns the command name of the message.
func (m *Message) Command() string {
	return m.Get(HeaderCommand)
}

// JobID returns the job id of the message.
func (m *Message) JobID() string {
	return m.Get(HeaderJobID)
}

// ContentType returns the message's content type, or "".
func (m *Message) ContentType() string {
	return m.Get(headerContentType)
}

// Args collects the command arguments: every "PlastronArg-<name>" header
// keyed by its lowercased <name>.
func (m *Message) Args() map[string]string {
	args := make(map[string]string)
	for _, h := range m.Headers {
		if strings.HasPrefix(h.Name, argPrefix) {
			args[strings.ToLower(strings.TrimPrefix(h.Name, argPrefix))] = h.Value
		}
	}
	return args
}

// EncodeFrame renders the message in the durable frame-text form: one
// "Name: value" line per header, a blank line, then the body verbatim.
func EncodeFrame(m Message) []byte {
	var b bytes.Buffer
	for _, h := range m.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(m.Body)
	return b.Bytes()
}

// DecodeFrame parses the frame-text form back into a message.
func DecodeFrame(data []byte) (Message, error) {
	var m Message
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			return m, fmt.Errorf("malformed frame: unterminated header line %q", data)
		}
		line := data[:nl]
		data = data[nl+1:]
		if len(line) == 0 {
			m.Body = append([]byte(nil), data...)
			return m, nil
		}
		name, value, ok := strings.Cut(string(line), ": ")
		if !ok {
			return m, fmt.Errorf("malformed frame header line %q", line)
		}
		m.Headers = append(m.Headers, Header{Name: name, Value: value})
	}
	return m, fmt.Errorf("malformed frame: missing header terminator")
}
