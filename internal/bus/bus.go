package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Channels carried over Redis pub/sub. Gateways subscribe to ChannelEvents
// for client-facing fan-out; workers subscribe to ChannelControl for
// process-to-process handoffs.
const (
	ChannelEvents  = "events"
	ChannelControl = "control"
)

// Type identifies an event schema.
type Type string

const (
	TypeMatchFound   Type = "match_found"
	TypeMatchStarted Type = "match_started"
	TypeTimerUpdate  Type = "timer_update"
	TypeScoreUpdate  Type = "score_update"
	TypeGameOver     Type = "game_over"
	TypeMatchSaved   Type = "match_saved"
	TypeStartGame    Type = "start_game"
	TypeRecordMatch  Type = "record_match"
	TypePairRequest  Type = "pair_request"
)

// Event is the immutable record exchanged between processes. Consumers must
// treat duplicate delivery as harmless.
type Event struct {
	Type    Type            `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MatchFoundPayload announces a pairing to both players.
type MatchFoundPayload struct {
	Players [2]string `json:"players"`
}

// TimerUpdatePayload carries the countdown for a room.
type TimerUpdatePayload struct {
	TimeLeft int `json:"time_left"`
}

// Scores is the score pair in player-slot order.
type Scores struct {
	P1 int `json:"p1"`
	P2 int `json:"p2"`
}

// ScoreUpdatePayload is broadcast to a room after a solve.
type ScoreUpdatePayload struct {
	Scores Scores `json:"scores"`
}

// GameOverPayload is the final snapshot delivered to both players.
type GameOverPayload struct {
	FinalScores   Scores `json:"final_scores"`
	WinnerID      string `json:"winner_id,omitempty"`
	Reason        string `json:"reason"`
	SurrenderedBy string `json:"surrendered_by,omitempty"`
}

// MatchSavedPayload confirms the match record was persisted.
type MatchSavedPayload struct {
	WinnerID string `json:"winner_id,omitempty"`
	Scores   Scores `json:"scores"`
}

// RecordMatchPayload hands a finished match to the recorder worker.
type RecordMatchPayload struct {
	P1            string `json:"p1"`
	P2            string `json:"p2"`
	Scores        Scores `json:"scores"`
	WinnerID      string `json:"winner_id,omitempty"`
	Reason        string `json:"reason"`
	SurrenderedBy string `json:"surrendered_by,omitempty"`
	Duration      int    `json:"duration"`
}

// New builds an event with the payload marshaled in place.
func New(t Type, room string, payload any) (Event, error) {
	ev := Event{Type: t, Room: room}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("bus: marshal %s payload: %w", t, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bus: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Bus publishes and subscribes events over Redis pub/sub.
type Bus struct {
	client *redis.Client
}

// NewBus creates a Bus on the given Redis client.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish sends the event on the channel.
func (b *Bus) Publish(ctx context.Context, channel string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("bus: publish %s on %s: %w", ev.Type, channel, err)
	}
	return nil
}

// Subscribe delivers events from the channel to handler until ctx is
// cancelled. Malformed messages and handler errors are logged and skipped;
// the subscription itself never dies on them.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(context.Context, Event) error) error {
	sub := b.client.Subscribe(ctx, channel)
	defer sub.Close()

	// Block until the subscription is live so callers can publish
	// immediately after Subscribe returns control to their goroutine.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("bus: bad event on %s: %v", channel, err)
				continue
			}
			if err := handler(ctx, ev); err != nil {
				log.Printf("bus: handler for %s failed: %v", ev.Type, err)
			}
		}
	}
}
