package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Protocol is the leading token of every start line.
	Protocol = "ASR"
	// Version is the protocol revision sent by this client.
	Version = "2.4"
)

// Command names a protocol method.
type Command string

// Client to server commands.
const (
	CreateSessionCmd     Command = "CREATE_SESSION"
	SetParametersCmd     Command = "SET_PARAMETERS"
	DefineGrammarCmd     Command = "DEFINE_GRAMMAR"
	StartRecognitionCmd  Command = "START_RECOGNITION"
	StartInputTimersCmd  Command = "START_INPUT_TIMERS"
	SendAudioCmd         Command = "SEND_AUDIO"
	CancelRecognitionCmd Command = "CANCEL_RECOGNITION"
	ReleaseSessionCmd    Command = "RELEASE_SESSION"
)

// Server to client commands.
const (
	ResponseCmd          Command = "RESPONSE"
	StartOfSpeechCmd     Command = "START_OF_SPEECH"
	EndOfSpeechCmd       Command = "END_OF_SPEECH"
	RecognitionResultCmd Command = "RECOGNITION_RESULT"
)

// Header names used on the wire.
const (
	HeaderContentLength     = "Content-Length"
	HeaderContentType       = "Content-Type"
	HeaderContentID         = "Content-ID"
	HeaderAccept            = "Accept"
	HeaderLastPacket        = "LastPacket"
	HeaderMethod            = "Method"
	HeaderResult            = "Result"
	HeaderSessionStatus     = "Session-Status"
	HeaderResultStatus      = "Result-Status"
	HeaderErrorCode         = "Error-Code"
	HeaderMessage           = "Message"
	HeaderHandle            = "Handle"
	HeaderUserAgent         = "User-Agent"
	HeaderChannelIdentifier = "Channel-Identifier"
)

// Content types.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeSRGS    = "application/srgs"
	ContentTypeURIList = "text/uri-list"
	ContentTypeRaw     = "audio/raw"
	ContentTypeWAV     = "audio/wav"
)

var (
	// ErrMalformed is returned when a frame does not follow the line grammar.
	ErrMalformed = errors.New("asr codec: malformed frame")
	// ErrUnknownCommand is returned for a well-formed start line with an unknown method.
	ErrUnknownCommand = errors.New("asr codec: unknown command")
)

var knownCommands = map[Command]struct{}{
	CreateSessionCmd:     {},
	SetParametersCmd:     {},
	DefineGrammarCmd:     {},
	StartRecognitionCmd:  {},
	StartInputTimersCmd:  {},
	SendAudioCmd:         {},
	CancelRecognitionCmd: {},
	ReleaseSessionCmd:    {},
	ResponseCmd:          {},
	StartOfSpeechCmd:     {},
	EndOfSpeechCmd:       {},
	RecognitionResultCmd: {},
}

// Known reports whether cmd is part of the protocol.
func Known(cmd Command) bool {
	_, ok := knownCommands[cmd]
	return ok
}

// Header is one "Key: Value" line.
type Header struct {
	Key   string
	Value string
}

// Headers keeps header lines in wire order. Keys are case-preserving.
type Headers []Header

// Get returns the value for key. An exact match wins over a case-insensitive one.
func (h Headers) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup is Get with a presence flag.
func (h Headers) Lookup(key string) (string, bool) {
	for _, hdr := range h {
		if hdr.Key == key {
			return hdr.Value, true
		}
	}
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Set replaces the first header matching key or appends a new one.
func (h *Headers) Set(key, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Key, key) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Header{Key: key, Value: value})
}

// Del removes every header matching key.
func (h *Headers) Del(key string) {
	out := (*h)[:0]
	for _, hdr := range *h {
		if !strings.EqualFold(hdr.Key, key) {
			out = append(out, hdr)
		}
	}
	*h = out
}

// Map flattens the headers. Later duplicates win.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, hdr := range h {
		out[hdr.Key] = hdr.Value
	}
	return out
}

// Message is one decoded or to-be-encoded protocol frame.
type Message struct {
	Version string
	Command Command
	Headers Headers
	Body    []byte
}

// JSON decodes the body into v. An empty body leaves v untouched.
func (m Message) JSON(v any) error {
	if len(bytes.TrimSpace(m.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", m.Command, err)
	}
	return nil
}

// BodyMap decodes a JSON body to a generic map; an empty body gives an empty map.
func (m Message) BodyMap() (map[string]any, error) {
	out := map[string]any{}
	if err := m.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode renders msg on the wire. Content-Length is always rewritten to match the body
// when a body is present or the header was requested.
func Encode(msg Message) []byte {
	version := msg.Version
	if version == "" {
		version = Version
	}

	headers := append(Headers(nil), msg.Headers...)
	if len(msg.Body) > 0 || headers.Has(HeaderContentLength) {
		headers.Set(HeaderContentLength, strconv.Itoa(len(msg.Body)))
	}

	var buf bytes.Buffer
	buf.Grow(64 + len(msg.Body))
	buf.WriteString(Protocol)
	buf.WriteByte(' ')
	buf.WriteString(version)
	buf.WriteByte(' ')
	buf.WriteString(string(msg.Command))
	buf.WriteByte('\n')
	for _, hdr := range headers {
		buf.WriteString(hdr.Key)
		buf.WriteString(": ")
		buf.WriteString(hdr.Value)
		buf.WriteByte('\n')
	}
	if headers.Has(HeaderContentLength) {
		buf.WriteByte('\n')
		buf.Write(msg.Body)
	}
	return buf.Bytes()
}

// Decode parses one frame.
func Decode(frame []byte) (Message, error) {
	head, body, hasBody := splitHead(frame)

	lines := strings.Split(strings.ReplaceAll(string(head), "\r", ""), "\n")
	if len(lines) == 0 {
		return Message{}, ErrMalformed
	}

	fields := strings.Fields(lines[0])
	if len(fields) != 3 || fields[0] != Protocol {
		return Message{}, fmt.Errorf("%w: start line %q", ErrMalformed, lines[0])
	}
	msg := Message{Version: fields[1], Command: Command(fields[2])}
	if !Known(msg.Command) {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[2])
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Message{}, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return Message{}, fmt.Errorf("%w: empty header key", ErrMalformed)
		}
		msg.Headers = append(msg.Headers, Header{Key: key, Value: strings.TrimSpace(value)})
	}

	if !hasBody {
		return msg, nil
	}
	raw, ok := msg.Headers.Lookup(HeaderContentLength)
	if !ok {
		if len(body) > 0 {
			msg.Body = body
		}
		return msg, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 {
		return Message{}, fmt.Errorf("%w: content length %q", ErrMalformed, raw)
	}
	if size > len(body) {
		return Message{}, fmt.Errorf("%w: content length %d exceeds payload %d", ErrMalformed, size, len(body))
	}
	msg.Body = body[:size]
	return msg, nil
}

// splitHead cuts the frame at the first blank line, accepting both \n\n and \r\n\r\n.
func splitHead(frame []byte) (head []byte, body []byte, ok bool) {
	lf := bytes.Index(frame, []byte("\n\n"))
	crlf := bytes.Index(frame, []byte("\r\n\r\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return frame[:crlf], frame[crlf+4:], true
	case lf >= 0:
		return frame[:lf], frame[lf+2:], true
	default:
		return bytes.TrimRight(frame, "\r\n"), nil, false
	}
}
