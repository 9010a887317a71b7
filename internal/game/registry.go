package game

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// gameTTL bounds the lifetime of every game key so an orphaned room cannot
// leak. Matches are minutes long; an hour is generous.
const gameTTL = time.Hour

const activeRoomsKey = "rooms:active"

func metaKey(room string) string       { return "game:" + room + ":meta" }
func timerKey(room string) string      { return "game:" + room + ":time_left" }
func readyKey(room string) string      { return "game:" + room + ":ready" }
func endedKey(room string) string      { return "game:" + room + ":ended" }
func wordKey(room, uid string) string  { return "game:" + room + ":player:" + uid + ":word" }
func guessKey(room, uid string) string { return "game:" + room + ":guesses:" + uid }
func placementKey(uid string) string   { return "user:" + uid + ":active_room" }
func slotKey(uid string) string        { return "user:" + uid + ":active_is_p1" }

// Registry is the durable room store. Every mutation that must be atomic
// across processes runs as a Lua script or a single Redis command.
type Registry struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRegistry creates a Registry on the given Redis client.
func NewRegistry(client redis.Cmdable) *Registry {
	return &Registry{client: client, now: time.Now}
}

// CreateRoom allocates a room for the two players, assigns their opening
// words, and installs the placement pointers. The room starts in the waiting
// phase; the timer only runs once both players join.
func (r *Registry) CreateRoom(ctx context.Context, p1, p2 string, duration time.Duration, word1, word2 string) (string, error) {
	room := uuid.NewString()
	now := r.now().Unix()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, metaKey(room), map[string]any{
		"p1":         p1,
		"p2":         p2,
		"phase":      string(PhaseWaiting),
		"score_p1":   0,
		"score_p2":   0,
		"duration":   int(duration.Seconds()),
		"created_at": now,
	})
	pipe.Expire(ctx, metaKey(room), gameTTL)
	pipe.Set(ctx, wordKey(room, p1), word1, gameTTL)
	pipe.Set(ctx, wordKey(room, p2), word2, gameTTL)
	pipe.Set(ctx, placementKey(p1), room, gameTTL)
	pipe.Set(ctx, placementKey(p2), room, gameTTL)
	pipe.Set(ctx, slotKey(p1), "1", gameTTL)
	pipe.Set(ctx, slotKey(p2), "0", gameTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("registry: create room for %s/%s: %w", p1, p2, err)
	}
	return room, nil
}

// Meta reads the room header.
func (r *Registry) Meta(ctx context.Context, room string) (Meta, error) {
	vals, err := r.client.HGetAll(ctx, metaKey(room)).Result()
	if err != nil {
		return Meta{}, fmt.Errorf("registry: meta %s: %w", room, err)
	}
	if len(vals) == 0 {
		return Meta{}, fmt.Errorf("registry: %s: %w", room, ErrRoomNotFound)
	}
	m := Meta{
		Room:      room,
		P1:        vals["p1"],
		P2:        vals["p2"],
		Phase:     Phase(vals["phase"]),
		ScoreP1:   atoi(vals["score_p1"]),
		ScoreP2:   atoi(vals["score_p2"]),
		Duration:  atoi(vals["duration"]),
		CreatedAt: int64(atoi(vals["created_at"])),
		StartedAt: int64(atoi(vals["start_time"])),
	}
	return m, nil
}

// readyScript records a join ack and activates the room once both players
// have acked. Returns -1 for an unknown room, 1 when this ack activated the
// room, 0 otherwise (already active, already finished, or still waiting).
var readyScript = redis.NewScript(`
local phase = redis.call("HGET", KEYS[1], "phase")
if not phase then
	return -1
end
if phase ~= "waiting" then
	return 0
end
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("EXPIRE", KEYS[2], ARGV[3])
if redis.call("SCARD", KEYS[2]) < 2 then
	return 0
end
redis.call("HSET", KEYS[1], "phase", "active", "start_time", ARGV[2])
local duration = redis.call("HGET", KEYS[1], "duration")
redis.call("SET", KEYS[3], duration, "EX", tonumber(ARGV[3]))
redis.call("SADD", KEYS[4], ARGV[4])
return 1
`)

// MarkReady acks a player's join. The second distinct ack flips the room to
// active, seeds the countdown, and registers the room with the timer sweep.
// Re-acking is a no-op, so duplicate join deliveries are harmless.
func (r *Registry) MarkReady(ctx context.Context, room, userID string) (activated bool, err error) {
	res, err := readyScript.Run(ctx, r.client,
		[]string{metaKey(room), readyKey(room), timerKey(room), activeRoomsKey},
		userID, r.now().Unix(), int(gameTTL.Seconds()), room).Int()
	if err != nil {
		return false, fmt.Errorf("registry: mark ready %s in %s: %w", userID, room, err)
	}
	if res == -1 {
		return false, fmt.Errorf("registry: %s: %w", room, ErrRoomNotFound)
	}
	return res == 1, nil
}

// PlayerWord returns the player's current target word.
func (r *Registry) PlayerWord(ctx context.Context, room, userID string) (string, error) {
	word, err := r.client.Get(ctx, wordKey(room, userID)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("registry: no word for %s in %s: %w", userID, room, ErrRoomNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("registry: word for %s in %s: %w", userID, room, err)
	}
	return word, nil
}

// solveScript swaps the player's word and bumps their score only while the
// room is still active and the stored word still equals the word just solved.
// A duplicate delivery of the same solve loses the compare and scores
// nothing; a solve racing a remote finish loses the phase check, so a
// finished room's scores never move.
var solveScript = redis.NewScript(`
if redis.call("HGET", KEYS[2], "phase") ~= "active" then
	return 0
end
local cur = redis.call("GET", KEYS[1])
if cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "EX", tonumber(ARGV[4]))
redis.call("HINCRBY", KEYS[2], ARGV[3], 1)
return 1
`)

// RecordSolve applies a solved word: compare-and-swap to newWord and
// increment the slot's score. Reports whether this call won the swap.
func (r *Registry) RecordSolve(ctx context.Context, room, userID, solved, newWord string, isP1 bool) (bool, error) {
	field := "score_p2"
	if isP1 {
		field = "score_p1"
	}
	res, err := solveScript.Run(ctx, r.client,
		[]string{wordKey(room, userID), metaKey(room)},
		solved, newWord, field, int(gameTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("registry: record solve in %s: %w", room, err)
	}
	return res == 1, nil
}

// appendGuessScript records a guess only while the room is active, so a
// guess racing a remote finish cannot grow a finished room's history.
var appendGuessScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "phase") ~= "active" then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[2]))
return 1
`)

// AppendGuess stores a guess in the player's history. An append that lost a
// race with the finish transition is silently dropped.
func (r *Registry) AppendGuess(ctx context.Context, room, userID, guess string) error {
	err := appendGuessScript.Run(ctx, r.client,
		[]string{metaKey(room), guessKey(room, userID)},
		guess, int(gameTTL.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("registry: append guess in %s: %w", room, err)
	}
	return nil
}

// GuessHistory returns the player's guesses in submission order.
func (r *Registry) GuessHistory(ctx context.Context, room, userID string) ([]string, error) {
	guesses, err := r.client.LRange(ctx, guessKey(room, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: guess history in %s: %w", room, err)
	}
	return guesses, nil
}

// TimeLeft returns the room's remaining seconds.
func (r *Registry) TimeLeft(ctx context.Context, room string) (int, error) {
	val, err := r.client.Get(ctx, timerKey(room)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("registry: time left %s: %w", room, err)
	}
	return atoi(val), nil
}

// DecrTimer atomically decrements the room's countdown and returns the new
// value. A missing timer key decrements below zero; callers treat negative
// values as already expired.
func (r *Registry) DecrTimer(ctx context.Context, room string) (int, error) {
	n, err := r.client.Decr(ctx, timerKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: decr timer %s: %w", room, err)
	}
	return int(n), nil
}

// endScript claims the finish guard and flips the phase. Returns 1 when this
// caller won the transition, 0 when the room was already finished.
var endScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "EX", tonumber(ARGV[2])) == false then
	return 0
end
redis.call("HSET", KEYS[2], "phase", "finished")
redis.call("SREM", KEYS[3], ARGV[3])
return 1
`)

// MarkEnded performs the terminal transition exactly once per room. Only the
// caller that wins the guard may emit game_over and hand off to the recorder.
func (r *Registry) MarkEnded(ctx context.Context, room string, reason FinishReason) (won bool, err error) {
	res, err := endScript.Run(ctx, r.client,
		[]string{endedKey(room), metaKey(room), activeRoomsKey},
		string(reason), int(gameTTL.Seconds()), room).Int()
	if err != nil {
		return false, fmt.Errorf("registry: mark ended %s: %w", room, err)
	}
	return res == 1, nil
}

// ActiveRooms lists rooms currently in the active phase.
func (r *Registry) ActiveRooms(ctx context.Context) ([]string, error) {
	rooms, err := r.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: active rooms: %w", err)
	}
	return rooms, nil
}

// DropActive removes a room from the active sweep set. Used when the sweep
// finds a member whose keys already expired.
func (r *Registry) DropActive(ctx context.Context, room string) error {
	if err := r.client.SRem(ctx, activeRoomsKey, room).Err(); err != nil {
		return fmt.Errorf("registry: drop active %s: %w", room, err)
	}
	return nil
}

// ActiveMatch resolves the user's placement pointer. ok is false when the
// user is not in a match.
func (r *Registry) ActiveMatch(ctx context.Context, userID string) (room string, isP1 bool, ok bool, err error) {
	room, err = r.client.Get(ctx, placementKey(userID)).Result()
	if err == redis.Nil {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, fmt.Errorf("registry: active match %s: %w", userID, err)
	}
	slot, err := r.client.Get(ctx, slotKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return "", false, false, fmt.Errorf("registry: slot %s: %w", userID, err)
	}
	return room, slot == "1", true, nil
}

// ClearPlacement drops a user's placement pointers. Used to repair a pointer
// that outlived its room's keys.
func (r *Registry) ClearPlacement(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, placementKey(userID), slotKey(userID)).Err(); err != nil {
		return fmt.Errorf("registry: clear placement %s: %w", userID, err)
	}
	return nil
}

// Cleanup removes every key belonging to the room, including both players'
// placement pointers. Called after the match record is persisted.
func (r *Registry) Cleanup(ctx context.Context, room string) error {
	meta, err := r.Meta(ctx, room)
	if err != nil {
		// Already cleaned up.
		return nil
	}
	keys := []string{
		metaKey(room), timerKey(room), readyKey(room), endedKey(room),
		wordKey(room, meta.P1), wordKey(room, meta.P2),
		guessKey(room, meta.P1), guessKey(room, meta.P2),
		placementKey(meta.P1), placementKey(meta.P2),
		slotKey(meta.P1), slotKey(meta.P2),
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("registry: cleanup %s: %w", room, err)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
