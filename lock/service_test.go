package lock

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(Config{URL: "not-a-url"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestAcquire_SecondAcquireFails(t *testing.T) {
	s, _ := newTestService(t)
	ctx := t.Context()

	ok, err := s.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ok, err = s.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire of a held lock should return false")
	}

	// A different session is unaffected.
	ok, err = s.Acquire(ctx, "s2")
	if err != nil {
		t.Fatalf("acquire s2: %v", err)
	}
	if !ok {
		t.Fatal("acquire of a different session should succeed")
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	s, _ := newTestService(t)
	ctx := t.Context()

	if _, err := s.Acquire(ctx, "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.Release(ctx, "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := s.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := t.Context()

	if err := s.Release(ctx, "never-locked"); err != nil {
		t.Fatalf("release of unheld lock should be a no-op, got %v", err)
	}
	if err := s.Release(ctx, "never-locked"); err != nil {
		t.Fatalf("repeated release should be a no-op, got %v", err)
	}
}

func TestAcquire_LockExpires(t *testing.T) {
	s, mr := newTestService(t)
	ctx := t.Context()

	if _, err := s.Acquire(ctx, "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(DefaultTTL + time.Second)

	ok, err := s.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if !ok {
		t.Fatal("lock should self-expire after TTL")
	}
}

func TestIsLocked(t *testing.T) {
	s, _ := newTestService(t)
	ctx := t.Context()

	locked, err := s.IsLocked(ctx, "s1")
	if err != nil {
		t.Fatalf("isLocked: %v", err)
	}
	if locked {
		t.Fatal("unheld session should not report locked")
	}

	if _, err := s.Acquire(ctx, "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	locked, err = s.IsLocked(ctx, "s1")
	if err != nil {
		t.Fatalf("isLocked: %v", err)
	}
	if !locked {
		t.Fatal("held session should report locked")
	}
}
