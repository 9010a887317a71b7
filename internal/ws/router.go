package ws

import (
	"context"
	"log"

	"github.com/christopherjohns/wordbattle/internal/bus"
)

type matchFoundPayload struct {
	Room      string `json:"room"`
	IsPlayerA bool   `json:"is_player_a"`
}

// Router fans bus events out to this gateway's clients. Pairing
// announcements go to each player individually since neither has joined the
// room channel yet; everything else goes to whoever follows the room.
type Router struct {
	hub    *Hub
	events *bus.Bus
}

// NewRouter creates the event fan-out.
func NewRouter(hub *Hub, events *bus.Bus) *Router {
	return &Router{hub: hub, events: events}
}

// Run subscribes to the events channel until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	return r.events.Subscribe(ctx, bus.ChannelEvents, r.route)
}

func (r *Router) route(_ context.Context, ev bus.Event) error {
	switch ev.Type {
	case bus.TypeMatchFound:
		var p bus.MatchFoundPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		for i, player := range p.Players {
			r.hub.SendToUser(player, string(ev.Type), matchFoundPayload{
				Room:      ev.Room,
				IsPlayerA: i == 0,
			})
		}
	case bus.TypeMatchStarted, bus.TypeTimerUpdate, bus.TypeScoreUpdate,
		bus.TypeGameOver, bus.TypeMatchSaved:
		r.hub.BroadcastRoom(ev.Room, string(ev.Type), ev.Payload)
	default:
		log.Printf("ws: unrouted event %s", ev.Type)
	}
	return nil
}
