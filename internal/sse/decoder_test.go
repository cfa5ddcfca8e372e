package sse

import (
	"io"
	"strings"
	"testing"
)

// chunkedReader returns at most n bytes per Read, simulating network-chunk
// boundaries falling mid-line.
type chunkedReader struct {
	s string
	n int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.s) == 0 {
		return 0, io.EOF
	}
	n := c.n
	if n > len(c.s) {
		n = len(c.s)
	}
	copy(p, c.s[:n])
	c.s = c.s[n:]
	return n, nil
}

func collect(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		out = append(out, ev)
	}
}

func TestDecoder_DataLines(t *testing.T) {
	stream := "data: {\"content\":\"Hello\"}\n" +
		"data: {\"content\":\" world\"}\n" +
		"data: {\"done\":true}\n"

	events := collect(t, NewDecoder(strings.NewReader(stream)))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Data != `{"content":"Hello"}` {
		t.Errorf("unexpected first event: %q", events[0].Data)
	}
	if events[2].Data != `{"done":true}` {
		t.Errorf("unexpected last event: %q", events[2].Data)
	}
}

func TestDecoder_ChunkBoundaryMidLine(t *testing.T) {
	stream := "data: {\"content\":\"split across many tiny reads\"}\n" +
		"data: {\"done\":true}\n"

	for _, chunk := range []int{1, 2, 3, 7} {
		d := NewDecoder(&chunkedReader{s: stream, n: chunk})
		events := collect(t, d)
		if len(events) != 2 {
			t.Fatalf("chunk=%d: expected 2 events, got %d", chunk, len(events))
		}
		if events[0].Data != `{"content":"split across many tiny reads"}` {
			t.Errorf("chunk=%d: unexpected data %q", chunk, events[0].Data)
		}
	}
}

func TestDecoder_SkipsBlankAndCommentLines(t *testing.T) {
	stream := ": keepalive\n\n\ndata: one\n\n: another comment\ndata: two\n"

	events := collect(t, NewDecoder(strings.NewReader(stream)))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Data != "one" || events[1].Data != "two" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestDecoder_EventNames(t *testing.T) {
	stream := "event: done\ndata: {\"sources\":[]}\ndata: plain\n"

	events := collect(t, NewDecoder(strings.NewReader(stream)))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != "done" {
		t.Errorf("expected event name 'done', got %q", events[0].Name)
	}
	if events[1].Name != "" {
		t.Errorf("expected name cleared after use, got %q", events[1].Name)
	}
}

func TestDecoder_CRLFLines(t *testing.T) {
	stream := "data: windows\r\ndata: linebreaks\r\n"

	events := collect(t, NewDecoder(strings.NewReader(stream)))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Data != "windows" {
		t.Errorf("expected CR stripped, got %q", events[0].Data)
	}
}

func TestDecoder_FinalLineWithoutNewline(t *testing.T) {
	stream := "data: first\ndata: last"

	events := collect(t, NewDecoder(strings.NewReader(stream)))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Data != "last" {
		t.Errorf("expected trailing line decoded, got %q", events[1].Data)
	}
}

func TestDecoder_EmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
