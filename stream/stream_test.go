package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/kaolin-io/kaolin/types"
)

func TestStream_OrderPreserved(t *testing.T) {
	s := New(8)
	ctx := t.Context()

	phases := []types.Phase{types.PhaseStarted, types.PhaseThinking, types.PhaseExecuting, types.PhaseCompleted}
	for _, phase := range phases {
		if err := s.Emit(ctx, types.NewStreamEvent(phase, "coder", "")); err != nil {
			t.Fatalf("emit %s: %v", phase, err)
		}
	}
	s.Close()

	var got []types.Phase
	for ev := range s.Events() {
		got = append(got, ev.EventType)
	}
	if len(got) != len(phases) {
		t.Fatalf("events = %d, want %d", len(got), len(phases))
	}
	for i, phase := range phases {
		if got[i] != phase {
			t.Errorf("event %d = %s, want %s", i, got[i], phase)
		}
	}
}

func TestStream_SingleTerminal(t *testing.T) {
	s := New(8)
	ctx := t.Context()

	if err := s.Emit(ctx, types.NewStreamEvent(types.PhaseCompleted, "coder", "")); err != nil {
		t.Fatalf("emit terminal: %v", err)
	}

	err := s.Emit(ctx, types.NewStreamEvent(types.PhaseError, "coder", ""))
	if !errors.Is(err, ErrTerminalSent) {
		t.Errorf("second terminal error = %v, want ErrTerminalSent", err)
	}
	err = s.Emit(ctx, types.NewStreamEvent(types.PhaseThinking, "coder", ""))
	if !errors.Is(err, ErrTerminalSent) {
		t.Errorf("status after terminal error = %v, want ErrTerminalSent", err)
	}
}

func TestStream_IterationMonotone(t *testing.T) {
	s := New(8)
	ctx := t.Context()

	ev := types.NewStreamEvent(types.PhaseIterationComplete, "coder", "")
	ev.Iteration = 2
	if err := s.Emit(ctx, ev); err != nil {
		t.Fatalf("emit: %v", err)
	}

	back := types.NewStreamEvent(types.PhaseThinking, "coder", "")
	back.Iteration = 1
	if err := s.Emit(ctx, back); !errors.Is(err, ErrIterationOrder) {
		t.Errorf("backwards iteration error = %v, want ErrIterationOrder", err)
	}

	same := types.NewStreamEvent(types.PhaseExecuting, "coder", "")
	same.Iteration = 2
	if err := s.Emit(ctx, same); err != nil {
		t.Errorf("same iteration should be fine: %v", err)
	}

	// Events without an ordinal (e.g. terminal) are always allowed.
	if err := s.Emit(ctx, types.NewStreamEvent(types.PhaseCompleted, "coder", "")); err != nil {
		t.Errorf("terminal without ordinal: %v", err)
	}
}

func TestStream_EmitHonorsCancellation(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(t.Context())

	// Fill the buffer so the next emit blocks.
	if err := s.Emit(ctx, types.NewStreamEvent(types.PhaseStarted, "coder", "")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	cancel()
	err := s.Emit(ctx, types.NewStreamEvent(types.PhaseThinking, "coder", ""))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("emit on canceled ctx = %v, want context.Canceled", err)
	}
}
