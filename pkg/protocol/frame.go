package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Frame is the envelope written to the push transport for every event.
type Frame struct {
	ID       string          `json:"id"`
	Event    Kind            `json:"event"`
	Priority Priority        `json:"priority"`
	SentAt   int64           `json:"sent_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MalformedError marks a single undecodable frame. Readers report it and keep going.
type MalformedError struct {
	Raw []byte
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("protocol: malformed frame: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsMalformed reports whether err wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// DecodeFrame parses one JSON frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &MalformedError{Raw: data, Err: err}
	}
	if !f.Event.Valid() {
		return Frame{}, &MalformedError{Raw: data, Err: errors.New("missing event kind")}
	}
	return f, nil
}

// EncodeFrame serializes a frame as a single JSON line.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// EncodeSSE renders a frame using the text/event-stream framing.
func EncodeSSE(f Frame) ([]byte, error) {
	data, err := EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	return WrapSSE(f.ID, f.Event, data), nil
}

// WrapSSE frames an already encoded JSON frame.
func WrapSSE(id string, kind Kind, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + len(id) + 32)
	if id != "" {
		buf.WriteString("id: ")
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	buf.WriteString("event: ")
	buf.WriteString(kind.String())
	buf.WriteByte('\n')
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// SSEReader decodes frames from a text/event-stream body.
type SSEReader struct {
	r *bufio.Reader
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until a complete event arrives. A *MalformedError is returned for a single bad
// event and the reader stays usable; any other error is terminal for the stream.
func (s *SSEReader) Next() (Frame, error) {
	var (
		data  []byte
		id    string
		event string
		seen  bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return Frame{}, io.EOF
			}
			if !errors.Is(err, io.EOF) {
				return Frame{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			return s.finish(id, event, data)
		}
		seen = true

		// comment lines keep proxies from timing out and carry nothing
		if strings.HasPrefix(line, ":") {
			seen = data != nil || id != "" || event != ""
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id = value
		case "event":
			event = value
		case "data":
			if data != nil {
				data = append(data, '\n')
			}
			data = append(data, value...)
		}
	}
}

func (s *SSEReader) finish(id, event string, data []byte) (Frame, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return Frame{}, err
	}
	if f.ID == "" {
		f.ID = id
	}
	if event != "" && event != f.Event.String() {
		return Frame{}, &MalformedError{Raw: data, Err: fmt.Errorf("event field %q disagrees with payload %q", event, f.Event)}
	}
	return f, nil
}
