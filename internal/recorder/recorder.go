package recorder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/game"
)

// recordedTTL bounds the lifetime of the recorded guard key.
const recordedTTL = time.Hour

func recordedKey(room string) string {
	return "game:" + room + ":recorded"
}

// Match is the persisted history row for one finished room.
type Match struct {
	ID        uint   `gorm:"primaryKey"`
	Room      string `gorm:"uniqueIndex;size:64"`
	P1ID      string `gorm:"index;size:64"`
	P2ID      string `gorm:"index;size:64"`
	ScoreP1   int
	ScoreP2   int
	WinnerID  *string `gorm:"size:64"`
	Reason    string  `gorm:"size:16"`
	Duration  int
	CreatedAt time.Time
}

// UserStats is a player's aggregate record.
type UserStats struct {
	UserID     string  `json:"user_id"`
	Username   string  `json:"username"`
	TotalGames int     `json:"total_games"`
	TotalWins  int     `json:"total_wins"`
	WinRate    float64 `json:"win_rate"`
}

// Store persists match rows and aggregate counters.
type Store interface {
	// SaveMatch inserts the match row and increments both players'
	// games-played (and the winner's wins) in one transaction.
	SaveMatch(ctx context.Context, m *Match) error

	// Stats returns a player's aggregates.
	Stats(ctx context.Context, userID string) (UserStats, error)

	// Leaderboard returns the top players by wins.
	Leaderboard(ctx context.Context, limit int) ([]UserStats, error)
}

// Recorder writes finished matches to storage exactly once per room and
// archives the room's registry keys afterwards.
type Recorder struct {
	store  Store
	client redis.Cmdable
	events *bus.Bus
	reg    *game.Registry
}

// New creates a Recorder.
func New(store Store, client redis.Cmdable, events *bus.Bus, reg *game.Registry) *Recorder {
	return &Recorder{store: store, client: client, events: events, reg: reg}
}

// HandleEvent consumes control-channel events, recording finished matches.
func (r *Recorder) HandleEvent(ctx context.Context, ev bus.Event) error {
	switch ev.Type {
	case bus.TypeRecordMatch:
		var p bus.RecordMatchPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return r.Record(ctx, ev.Room, p)
	case bus.TypeStartGame:
		log.Printf("recorder: room %s started", ev.Room)
		return nil
	}
	return nil
}

// Record persists one finished match. Re-invocation for an already-recorded
// room is a no-op: a Redis guard claims the room first, and the unique index
// on the room column backstops the guard across restarts. A storage failure
// releases the guard so a redelivered event can retry; the match outcome
// itself is already final and is never re-run.
func (r *Recorder) Record(ctx context.Context, room string, p bus.RecordMatchPayload) error {
	claimed, err := r.client.SetNX(ctx, recordedKey(room), "1", recordedTTL).Result()
	if err != nil {
		return fmt.Errorf("recorder: claim %s: %w", room, err)
	}
	if !claimed {
		log.Printf("recorder: room %s already recorded, skipping", room)
		return nil
	}

	m := &Match{
		Room:     room,
		P1ID:     p.P1,
		P2ID:     p.P2,
		ScoreP1:  p.Scores.P1,
		ScoreP2:  p.Scores.P2,
		Reason:   p.Reason,
		Duration: p.Duration,
	}
	if p.WinnerID != "" {
		winner := p.WinnerID
		m.WinnerID = &winner
	}

	if err := r.store.SaveMatch(ctx, m); err != nil {
		if delErr := r.client.Del(ctx, recordedKey(room)).Err(); delErr != nil {
			log.Printf("recorder: release guard for %s: %v", room, delErr)
		}
		return fmt.Errorf("recorder: persist %s: %w", room, err)
	}
	log.Printf("recorder: room %s saved (%s %d - %d %s)", room, p.P1, p.Scores.P1, p.Scores.P2, p.P2)

	saved, err := bus.New(bus.TypeMatchSaved, room, bus.MatchSavedPayload{
		WinnerID: p.WinnerID,
		Scores:   p.Scores,
	})
	if err != nil {
		return err
	}
	if err := r.events.Publish(ctx, bus.ChannelEvents, saved); err != nil {
		log.Printf("recorder: publish match_saved for %s: %v", room, err)
	}

	if err := r.reg.Cleanup(ctx, room); err != nil {
		log.Printf("recorder: cleanup %s: %v", room, err)
	}
	return nil
}
