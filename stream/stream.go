// Package stream carries the ordered progress protocol between the
// reasoning loop and the transport layer.
//
// The producer pushes events onto a bounded channel; the transport
// consumes and frames them. Ordering invariants are enforced at the
// producer side: iteration ordinals never decrease and exactly one
// terminal event ends the stream.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaolin-io/kaolin/types"
)

// DefaultBuffer is the default channel capacity.
const DefaultBuffer = 64

// Emit errors.
var (
	// ErrTerminalSent is returned when emitting after a terminal event.
	ErrTerminalSent = errors.New("stream: terminal event already sent")
	// ErrIterationOrder is returned when an event's iteration ordinal
	// goes backwards.
	ErrIterationOrder = errors.New("stream: iteration ordinal went backwards")
)

// Stream is one query's event sequence.
type Stream struct {
	ch            chan types.StreamEvent
	lastIteration int
	terminalSent  bool
}

// New creates a stream with the given buffer capacity (DefaultBuffer
// when size <= 0).
func New(size int) *Stream {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Stream{ch: make(chan types.StreamEvent, size)}
}

// Events is the consumer side. It is closed by Close once the producer
// is done.
func (s *Stream) Events() <-chan types.StreamEvent {
	return s.ch
}

// Emit pushes one event, blocking until the consumer has room or ctx
// is done. Emit rejects events that would violate stream ordering:
// anything after a terminal event, or an iteration ordinal lower than
// one already emitted.
func (s *Stream) Emit(ctx context.Context, ev types.StreamEvent) error {
	if s.terminalSent {
		return ErrTerminalSent
	}
	if ev.Iteration != 0 && ev.Iteration < s.lastIteration {
		return fmt.Errorf("%w: %d after %d", ErrIterationOrder, ev.Iteration, s.lastIteration)
	}

	select {
	case s.ch <- ev:
	case <-ctx.Done():
		return fmt.Errorf("stream: emit: %w", ctx.Err())
	}

	if ev.Iteration > s.lastIteration {
		s.lastIteration = ev.Iteration
	}
	if ev.EventType.IsTerminal() {
		s.terminalSent = true
	}
	return nil
}

// Close ends the stream. The producer must call it exactly once, after
// the terminal event.
func (s *Stream) Close() {
	close(s.ch)
}
