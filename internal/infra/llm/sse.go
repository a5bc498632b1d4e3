package llm

import (
	"bufio"
	"io"
	"strings"
)

const (
	sseInitialBuffer = 64 * 1024
	sseMaxBuffer     = 2 * 1024 * 1024
)

// sseEvent is one dispatched server-sent event. Multiple data lines are
// joined with "\n".
type sseEvent struct {
	Name string
	Data string
}

// sseReader splits a text/event-stream body into events. Comment lines and
// fields other than event and data are ignored.
type sseReader struct {
	scanner *bufio.Scanner
	event   sseEvent
	err     error
}

func newSSEReader(body io.Reader) *sseReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxBuffer)
	return &sseReader{scanner: scanner}
}

// Next advances to the next event with a non-empty payload.
func (r *sseReader) Next() bool {
	var name string
	var data []string
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			r.event = sseEvent{Name: name, Data: strings.Join(data, "\n")}
			return true
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	r.err = r.scanner.Err()
	if len(data) > 0 {
		r.event = sseEvent{Name: name, Data: strings.Join(data, "\n")}
		return true
	}
	return false
}

// Event returns the event read by the last successful Next.
func (r *sseReader) Event() sseEvent {
	return r.event
}

// Err reports the first read error, if any.
func (r *sseReader) Err() error {
	return r.err
}
