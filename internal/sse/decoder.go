// Package sse decodes server-sent-event streams incrementally. The decoder
// owns its own partial-line buffer, so network-chunk boundaries falling
// mid-line are handled centrally rather than at every call site.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one decoded stream event.
type Event struct {
	Name string // optional "event:" field, empty for plain data events
	Data string
}

// Decoder reads events from a stream. It is a lazy, finite, non-restartable
// sequence: call Next until it returns io.EOF.
type Decoder struct {
	r       *bufio.Reader
	pending string // accumulated "event:" name for the next data line
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next event. It returns io.EOF when the stream ends, or
// the underlying read error. Blank lines and comment lines are skipped.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return Event{}, err
		}

		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			d.pending = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev := Event{
				Name: d.pending,
				Data: strings.TrimSpace(strings.TrimPrefix(line, "data:")),
			}
			d.pending = ""
			return ev, nil
		}
		// Unknown field: skip.
	}
}

// readLine reads one full line, reassembling lines longer than the buffer.
func (d *Decoder) readLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, err := d.r.ReadString('\n')
		sb.WriteString(chunk)
		if err != nil {
			if err == io.EOF && sb.Len() > 0 && strings.TrimSpace(sb.String()) != "" {
				// Final line without trailing newline.
				return strings.TrimSuffix(sb.String(), "\n"), nil
			}
			return "", err
		}
		if strings.HasSuffix(chunk, "\n") {
			return strings.TrimSuffix(sb.String(), "\n"), nil
		}
	}
}
