package mergelock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	locker, err := NewRedisLocker("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create locker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	return locker, s
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, _ := setupTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "word_suggestions", "ws1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := locker.Acquire(ctx, "word_suggestions", "ws1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	if _, err := locker.Acquire(ctx, "word_suggestions", "ws2"); err != nil {
		t.Fatalf("other suggestions must not be blocked: %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := locker.Acquire(ctx, "word_suggestions", "ws1"); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
}

func TestLeaseExpires(t *testing.T) {
	locker, s := setupTestLocker(t)
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "example_suggestions", "es1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := locker.Acquire(ctx, "example_suggestions", "es1"); err != nil {
		t.Fatalf("expired lease should be reacquirable: %v", err)
	}
}

func TestReleaseDoesNotDropForeignLease(t *testing.T) {
	locker, s := setupTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "corpus_suggestions", "cs1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := locker.Acquire(ctx, "corpus_suggestions", "cs1"); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release failed: %v", err)
	}
	if !s.Exists("merge:corpus_suggestions:cs1") {
		t.Fatal("stale release removed the current holder's lease")
	}
}

func TestNilLeaseRelease(t *testing.T) {
	var lease *Lease
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("nil Release should be a no-op: %v", err)
	}
}
