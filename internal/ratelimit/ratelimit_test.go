package ratelimit

import (
	"testing"
	"time"
)

func TestAllowUnderLimit(t *testing.T) {
	l := New(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !l.Allow("alice") {
			t.Fatalf("event %d should be allowed", i+1)
		}
	}
}

func TestDenyOverLimit(t *testing.T) {
	l := New(3, time.Hour)

	for i := 0; i < 3; i++ {
		l.Allow("alice")
	}
	if l.Allow("alice") {
		t.Fatal("4th event should be denied")
	}
}

func TestKeysIndependent(t *testing.T) {
	l := New(2, time.Hour)

	l.Allow("alice")
	l.Allow("alice")

	if l.Allow("alice") {
		t.Fatal("alice should be denied")
	}
	if !l.Allow("bob") {
		t.Fatal("bob should be allowed")
	}
}

func TestWindowSlides(t *testing.T) {
	l := New(2, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("alice")
	l.Allow("alice")
	if l.Allow("alice") {
		t.Fatal("should be denied inside the window")
	}

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow("alice") {
		t.Fatal("should be allowed after the window slides past")
	}
}

func TestRejectionsDoNotExtendWindow(t *testing.T) {
	l := New(1, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("alice")
	// Hammering while denied must not be recorded.
	for i := 0; i < 5; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i+1) * 10 * time.Second) }
		l.Allow("alice")
	}

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow("alice") {
		t.Fatal("denied attempts pushed the window out")
	}
}

func TestRemaining(t *testing.T) {
	l := New(3, time.Hour)

	if got := l.Remaining("alice"); got != 3 {
		t.Fatalf("fresh key Remaining = %d, want 3", got)
	}
	l.Allow("alice")
	l.Allow("alice")
	if got := l.Remaining("alice"); got != 1 {
		t.Fatalf("Remaining = %d, want 1", got)
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	l := New(2, time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Allow("alice")
	l.Allow("bob")

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Sweep()

	l.mu.Lock()
	n := len(l.hits)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d keys survive the sweep, want 0", n)
	}
}
