package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, ttl time.Duration) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTracker(client, ttl)
}

func TestHeartbeatThenOnline(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	ctx := context.Background()

	online, err := tr.Online(ctx, "u1")
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	if online {
		t.Error("expected offline before any heartbeat")
	}

	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	online, err = tr.Online(ctx, "u1")
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	if !online {
		t.Error("expected online after heartbeat")
	}
}

func TestOnlineExpiresByTimestamp(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Move the tracker's clock past the TTL; the stored stamp is now stale
	// even though the Redis key still exists.
	tr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	online, err := tr.Online(ctx, "u1")
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	if online {
		t.Error("expected offline once the stamp aged past the TTL")
	}
}

func TestStaleFor(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	ctx := context.Background()

	stale, err := tr.StaleFor(ctx, "ghost", 30*time.Second)
	if err != nil {
		t.Fatalf("StaleFor: %v", err)
	}
	if !stale {
		t.Error("expected a user with no heartbeat to be stale")
	}

	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	stale, err = tr.StaleFor(ctx, "u1", 30*time.Second)
	if err != nil {
		t.Fatalf("StaleFor: %v", err)
	}
	if stale {
		t.Error("expected fresh heartbeat to not be stale")
	}

	tr.now = func() time.Time { return time.Now().Add(45 * time.Second) }
	stale, err = tr.StaleFor(ctx, "u1", 30*time.Second)
	if err != nil {
		t.Fatalf("StaleFor: %v", err)
	}
	if !stale {
		t.Error("expected heartbeat to be stale past the grace period")
	}
}

func TestLastSeenRoundTrip(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	last, err := tr.LastSeen(ctx, "u1")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if last.Before(before) || last.After(time.Now().Add(time.Second)) {
		t.Errorf("LastSeen %v outside expected window", last)
	}
}
