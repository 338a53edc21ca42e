package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const (
	helloType      = "hello"
	maxHelloLength = 4096
)

// Hello is the single newline-terminated JSON line a viewer sends after
// connecting.
type Hello struct {
	Type          string `json:"type"`
	ViewerName    string `json:"viewer_name"`
	ViewerVersion string `json:"viewer_version"`
	Universe      uint16 `json:"universe"`
}

// ParseHello decodes one hello line without its terminator.
func ParseHello(line []byte) (Hello, error) {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	var h Hello
	if err := json.Unmarshal(line, &h); err != nil {
		return Hello{}, &HelloError{Reason: "malformed json", Err: err}
	}
	if h.Type != helloType {
		return Hello{}, &HelloError{Reason: fmt.Sprintf("unexpected message type %q", h.Type)}
	}
	return h, nil
}

// MarshalLine encodes h as a newline-terminated hello, the way a viewer sends it.
func (h Hello) MarshalLine() ([]byte, error) {
	if h.Type == "" {
		h.Type = helloType
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// readLine accumulates r into buf until it holds a newline and returns the
// bytes before it. Whatever followed the newline is left in buf.
func readLine(r io.Reader, buf *[]byte, max int) ([]byte, error) {
	chunk := make([]byte, 512)
	var readErr error
	for {
		if i := bytes.IndexByte(*buf, '\n'); i >= 0 {
			line := append([]byte(nil), (*buf)[:i]...)
			*buf = (*buf)[i+1:]
			return line, nil
		}
		if len(*buf) > max {
			return nil, &HelloError{Reason: fmt.Sprintf("no newline in first %d bytes", max)}
		}
		if readErr != nil {
			return nil, readErr
		}

		n, err := r.Read(chunk)
		*buf = append(*buf, chunk[:n]...)
		readErr = err
	}
}
