package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kaolin-io/kaolin/types"
)

// dataPrefix is the SSE field marker each event line carries.
const dataPrefix = "data: "

// Flusher is the subset of http.Flusher the writer needs.
type Flusher interface {
	Flush()
}

// EventWriter frames events for a server-sent-events response: one
// JSON object per event, prefixed with "data: " and terminated by a
// blank line, flushed immediately so the client sees each event as it
// happens.
type EventWriter struct {
	w       io.Writer
	flusher Flusher
}

// NewEventWriter creates an event writer. flusher may be nil when the
// underlying writer does not buffer.
func NewEventWriter(w io.Writer, flusher Flusher) *EventWriter {
	return &EventWriter{w: w, flusher: flusher}
}

// Write frames one event.
func (ew *EventWriter) Write(ev types.StreamEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "%s%s\n\n", dataPrefix, body); err != nil {
		return fmt.Errorf("stream: write event: %w", err)
	}
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
	return nil
}

// Decoder reads framed events back off a byte stream. Reads may split
// anywhere; the decoder finds frame boundaries on its own. Malformed
// frames are skipped, not stream-fatal: a consumer that loses one
// event still processes the rest.
type Decoder struct {
	scanner *bufio.Scanner
	dropped int
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next well-formed event, or io.EOF when the stream
// ends.
func (d *Decoder) Next() (types.StreamEvent, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		payload, ok := bytes.CutPrefix(line, []byte(dataPrefix))
		if !ok {
			d.dropped++
			continue
		}

		var ev types.StreamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.dropped++
			continue
		}
		return ev, nil
	}

	if err := d.scanner.Err(); err != nil {
		return types.StreamEvent{}, fmt.Errorf("stream: read: %w", err)
	}
	return types.StreamEvent{}, io.EOF
}

// Dropped reports how many malformed frames were skipped.
func (d *Decoder) Dropped() int {
	return d.dropped
}
