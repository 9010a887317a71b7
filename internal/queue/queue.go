package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "matchmaking:queue"

// activeRoomKey is the authoritative placement pointer: while it exists the
// user is in a match and must not be queued.
func activeRoomKey(userID string) string {
	return "user:" + userID + ":active_room"
}

var (
	// ErrAlreadyQueued is returned when the user is already waiting or
	// already placed in an active room.
	ErrAlreadyQueued = errors.New("already queued")

	// ErrNotQueued is returned by Cancel when the user has no queue entry,
	// including when a pairing cycle claimed it first.
	ErrNotQueued = errors.New("not queued")
)

// Entry is one waiting user.
type Entry struct {
	UserID     string
	EnqueuedAt time.Time
}

// Queue is the FIFO waiting list, backed by a Redis sorted set scored by
// enqueue time. All multi-step operations run as Lua scripts so that enqueue
// dedup, cancellation, and pairing never race each other.
type Queue struct {
	client redis.Cmdable
	now    func() time.Time
}

// New creates a Queue on the given Redis client.
func New(client redis.Cmdable) *Queue {
	return &Queue{client: client, now: time.Now}
}

// enqueueScript rejects users that hold an active-room placement or are
// already in the set. Returns -1 for placed, 0 for duplicate, 1 for added.
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return -1
end
return redis.call("ZADD", KEYS[1], "NX", ARGV[2], ARGV[1])
`)

// popPairScript removes and returns the two oldest entries with their
// scores, or nothing when fewer than two users are waiting.
var popPairScript = redis.NewScript(`
local entries = redis.call("ZRANGE", KEYS[1], 0, 1, "WITHSCORES")
if #entries < 4 then
	return {}
end
redis.call("ZREM", KEYS[1], entries[1], entries[3])
return entries
`)

// Enqueue appends the user to the waiting list.
func (q *Queue) Enqueue(ctx context.Context, userID string) error {
	score := float64(q.now().UnixNano())
	res, err := enqueueScript.Run(ctx, q.client,
		[]string{queueKey, activeRoomKey(userID)}, userID, score).Int()
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", userID, err)
	}
	if res != 1 {
		return fmt.Errorf("queue: %s: %w", userID, ErrAlreadyQueued)
	}
	return nil
}

// Cancel removes the user's entry. Exactly one of Cancel and a concurrent
// pairing cycle wins; the loser observes ErrNotQueued.
func (q *Queue) Cancel(ctx context.Context, userID string) error {
	removed, err := q.client.ZRem(ctx, queueKey, userID).Result()
	if err != nil {
		return fmt.Errorf("queue: cancel %s: %w", userID, err)
	}
	if removed == 0 {
		return fmt.Errorf("queue: %s: %w", userID, ErrNotQueued)
	}
	return nil
}

// PopPair atomically claims the two oldest entries. It returns ok=false
// without error when fewer than two users are waiting.
func (q *Queue) PopPair(ctx context.Context) (a, b Entry, ok bool, err error) {
	vals, err := popPairScript.Run(ctx, q.client, []string{queueKey}).Slice()
	if err != nil {
		return Entry{}, Entry{}, false, fmt.Errorf("queue: pop pair: %w", err)
	}
	if len(vals) < 4 {
		return Entry{}, Entry{}, false, nil
	}
	a, err = parseEntry(vals[0], vals[1])
	if err != nil {
		return Entry{}, Entry{}, false, err
	}
	b, err = parseEntry(vals[2], vals[3])
	if err != nil {
		return Entry{}, Entry{}, false, err
	}
	return a, b, true, nil
}

// Requeue restores a claimed entry at its original position. Used when a
// pairing cycle discards a stale partner.
func (q *Queue) Requeue(ctx context.Context, e Entry) error {
	err := q.client.ZAddNX(ctx, queueKey, redis.Z{
		Score:  float64(e.EnqueuedAt.UnixNano()),
		Member: e.UserID,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: requeue %s: %w", e.UserID, err)
	}
	return nil
}

// Contains reports whether the user is currently waiting.
func (q *Queue) Contains(ctx context.Context, userID string) (bool, error) {
	_, err := q.client.ZScore(ctx, queueKey, userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: contains %s: %w", userID, err)
	}
	return true, nil
}

// Len returns the number of waiting users.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

func parseEntry(member, score any) (Entry, error) {
	id, ok := member.(string)
	if !ok {
		return Entry{}, fmt.Errorf("queue: unexpected member %v", member)
	}
	s, ok := score.(string)
	if !ok {
		return Entry{}, fmt.Errorf("queue: unexpected score %v", score)
	}
	nanos, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: bad score for %s: %w", id, err)
	}
	return Entry{UserID: id, EnqueuedAt: time.Unix(0, int64(nanos))}, nil
}
