package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceKey returns the Redis key holding a user's last heartbeat.
func presenceKey(userID string) string {
	return "user:" + userID + ":online"
}

// Tracker records last-seen timestamps per user in Redis. Liveness is always
// computed from the stored timestamp; the key TTL only garbage-collects
// stamps nobody will read again.
type Tracker struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewTracker creates a Tracker that considers a user online while their
// latest heartbeat is no older than ttl.
func NewTracker(client redis.Cmdable, ttl time.Duration) *Tracker {
	return &Tracker{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the liveness window.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// Heartbeat stamps the current time for the user.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	stamp := t.now().Unix()
	if err := t.client.Set(ctx, presenceKey(userID), stamp, t.ttl).Err(); err != nil {
		return fmt.Errorf("presence: heartbeat %s: %w", userID, err)
	}
	return nil
}

// Online reports whether the user's last heartbeat is within the TTL.
// A missing stamp means offline.
func (t *Tracker) Online(ctx context.Context, userID string) (bool, error) {
	last, err := t.LastSeen(ctx, userID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return t.now().Sub(last) <= t.ttl, nil
}

// StaleFor reports whether the user's heartbeat has been missing or older
// than age. Used by the disconnect watchdog with the grace period.
func (t *Tracker) StaleFor(ctx context.Context, userID string, age time.Duration) (bool, error) {
	last, err := t.LastSeen(ctx, userID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return t.now().Sub(last) > age, nil
}

// LastSeen returns the user's last heartbeat time, or the zero time when no
// stamp exists.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	val, err := t.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("presence: last seen %s: %w", userID, err)
	}
	stamp, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence: bad stamp for %s: %w", userID, err)
	}
	return time.Unix(stamp, 0), nil
}
