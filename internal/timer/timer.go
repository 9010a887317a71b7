package timer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/presence"
)

// Engine advances every active room's countdown. A single per-second sweep
// iterates the active set rather than running one goroutine per room, so one
// worker carries any number of concurrent matches.
type Engine struct {
	session  *game.Session
	presence *presence.Tracker
	events   *bus.Bus
	grace    time.Duration
	interval time.Duration
}

// New creates the timer engine. grace is how long a player's heartbeat may
// go stale mid-match before the opponent wins by forfeit.
func New(session *game.Session, tracker *presence.Tracker, events *bus.Bus, grace time.Duration) *Engine {
	return &Engine{
		session:  session,
		presence: tracker,
		events:   events,
		grace:    grace,
		interval: time.Second,
	}
}

// Run sweeps once per second until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	log.Printf("timer: engine running, sweep every %v", e.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep ticks every active room once. Redis failures are logged and retried
// on the next sweep; a room is never dropped, only delayed.
func (e *Engine) Sweep(ctx context.Context) {
	rooms, err := e.session.Registry().ActiveRooms(ctx)
	if err != nil {
		log.Printf("timer: list active rooms: %v", err)
		return
	}
	for _, room := range rooms {
		if err := e.Tick(ctx, room); err != nil {
			log.Printf("timer: tick %s: %v", room, err)
		}
	}
}

// Tick advances one room by one second. Ticking a room that finished (or
// vanished) between sweeps is a no-op.
func (e *Engine) Tick(ctx context.Context, room string) error {
	reg := e.session.Registry()

	meta, err := reg.Meta(ctx, room)
	if errors.Is(err, game.ErrRoomNotFound) {
		// Keys expired out from under the active set; drop the orphan.
		return reg.DropActive(ctx, room)
	}
	if err != nil {
		return err
	}
	if meta.Phase != game.PhaseActive {
		return nil
	}

	if forfeited, err := e.checkPresence(ctx, room, meta); err != nil {
		log.Printf("timer: presence check %s: %v", room, err)
	} else if forfeited {
		return nil
	}

	left, err := reg.DecrTimer(ctx, room)
	if err != nil {
		return err
	}
	if left < 0 {
		// Another worker already drove this clock to zero.
		return e.session.FinishByTimeout(ctx, room)
	}

	ev, err := bus.New(bus.TypeTimerUpdate, room, bus.TimerUpdatePayload{TimeLeft: left})
	if err != nil {
		return err
	}
	if err := e.events.Publish(ctx, bus.ChannelEvents, ev); err != nil {
		return err
	}

	if left == 0 {
		log.Printf("timer: room %s expired", room)
		return e.session.FinishByTimeout(ctx, room)
	}
	return nil
}

// checkPresence forfeits the match against a player whose heartbeat has been
// stale longer than the grace period.
func (e *Engine) checkPresence(ctx context.Context, room string, meta game.Meta) (bool, error) {
	for _, player := range []string{meta.P1, meta.P2} {
		stale, err := e.presence.StaleFor(ctx, player, e.grace)
		if err != nil {
			return false, err
		}
		if stale {
			log.Printf("timer: %s stale beyond %v in room %s, forfeiting", player, e.grace, room)
			return true, e.session.Forfeit(ctx, room, player)
		}
	}
	return false, nil
}
