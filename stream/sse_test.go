package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kaolin-io/kaolin/types"
)

type countingFlusher struct {
	flushes int
}

func (f *countingFlusher) Flush() { f.flushes++ }

func TestEventWriter_Framing(t *testing.T) {
	var buf bytes.Buffer
	flusher := &countingFlusher{}
	ew := NewEventWriter(&buf, flusher)

	ev := types.NewStreamEvent(types.PhaseStarted, "coder", "starting")
	if err := ew.Write(ev); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "data: {") {
		t.Errorf("frame = %q", out)
	}
	if !strings.HasSuffix(out, "}\n\n") {
		t.Errorf("frame not blank-line terminated: %q", out)
	}
	if flusher.flushes != 1 {
		t.Errorf("flushes = %d, want 1", flusher.flushes)
	}
}

func TestWriterDecoderRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	ew := NewEventWriter(&buf, nil)

	phases := []types.Phase{types.PhaseStarted, types.PhaseThinking, types.PhaseCompleted}
	for _, phase := range phases {
		if err := ew.Write(types.NewStreamEvent(phase, "coder", "msg")); err != nil {
			t.Fatalf("write %s: %v", phase, err)
		}
	}

	d := NewDecoder(&buf)
	for _, want := range phases {
		ev, err := d.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if ev.EventType != want {
			t.Errorf("event = %s, want %s", ev.EventType, want)
		}
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("end of stream = %v, want io.EOF", err)
	}
}

func TestDecoder_SkipsMalformedFrames(t *testing.T) {
	raw := "data: {\"type\":\"status\",\"event_type\":\"started\",\"agent_name\":\"coder\",\"message\":\"\",\"timestamp\":\"t\"}\n\n" +
		"data: {not json}\n\n" +
		"garbage line without marker\n\n" +
		"data: {\"type\":\"completed\",\"event_type\":\"completed\",\"agent_name\":\"coder\",\"message\":\"\",\"timestamp\":\"t\"}\n\n"

	d := NewDecoder(strings.NewReader(raw))

	first, err := d.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.EventType != types.PhaseStarted {
		t.Errorf("first = %s", first.EventType)
	}

	second, err := d.Next()
	if err != nil {
		t.Fatalf("next after malformed frames: %v", err)
	}
	if second.EventType != types.PhaseCompleted {
		t.Errorf("second = %s", second.EventType)
	}

	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("end of stream = %v, want io.EOF", err)
	}
	if d.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", d.Dropped())
	}
}

func TestDecoder_SplitReads(t *testing.T) {
	raw := "data: {\"type\":\"status\",\"event_type\":\"thinking\",\"agent_name\":\"coder\",\"message\":\"m\",\"timestamp\":\"t\"}\n\n"

	// Deliver one byte at a time; the decoder must still find the
	// frame boundary.
	d := NewDecoder(&oneByteReader{data: []byte(raw)})

	ev, err := d.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.EventType != types.PhaseThinking || ev.Message != "m" {
		t.Errorf("event = %+v", ev)
	}
}

// oneByteReader yields one byte per Read call.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
