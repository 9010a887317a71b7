package matchmaker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/presence"
	"github.com/christopherjohns/wordbattle/internal/queue"
)

// Matchmaker runs pairing cycles: claim the two oldest queue entries, verify
// both are still reachable, and room them.
type Matchmaker struct {
	queue    *queue.Queue
	session  *game.Session
	presence *presence.Tracker
	events   *bus.Bus
	interval time.Duration
}

// New creates a Matchmaker that attempts pairing every interval.
func New(q *queue.Queue, session *game.Session, tracker *presence.Tracker, events *bus.Bus, interval time.Duration) *Matchmaker {
	return &Matchmaker{
		queue:    q,
		session:  session,
		presence: tracker,
		events:   events,
		interval: interval,
	}
}

// Run executes pairing cycles until ctx is cancelled. A cycle runs on every
// tick and whenever a gateway publishes a pair_request after an enqueue, so
// a fresh pair does not sit out a full interval. Each cycle drains the queue
// of as many pairs as it holds; Redis failures back off to the next wakeup
// rather than dropping anyone.
func (m *Matchmaker) Run(ctx context.Context) error {
	nudge := make(chan struct{}, 1)
	go func() {
		err := m.events.Subscribe(ctx, bus.ChannelControl, func(_ context.Context, ev bus.Event) error {
			if ev.Type != bus.TypePairRequest {
				return nil
			}
			select {
			case nudge <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("matchmaker: pair_request subscriber: %v", err)
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Printf("matchmaker: running, pairing every %v", m.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-nudge:
		}
		m.drain(ctx)
	}
}

func (m *Matchmaker) drain(ctx context.Context) {
	for {
		paired, err := m.RunCycle(ctx)
		if err != nil {
			log.Printf("matchmaker: cycle: %v", err)
			return
		}
		if !paired {
			return
		}
	}
}

// RunCycle performs one pairing attempt. It reports whether a room was
// created so callers can keep draining a deep queue.
func (m *Matchmaker) RunCycle(ctx context.Context) (bool, error) {
	a, b, ok, err := m.queue.PopPair(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	aliveA, err := m.presence.Online(ctx, a.UserID)
	if err != nil {
		return false, m.requeueBoth(ctx, a, b, err)
	}
	aliveB, err := m.presence.Online(ctx, b.UserID)
	if err != nil {
		return false, m.requeueBoth(ctx, a, b, err)
	}

	// Stale entries are discarded without pairing; a live partner goes back
	// at its original position.
	if !aliveA || !aliveB {
		if aliveA {
			if err := m.queue.Requeue(ctx, a); err != nil {
				return false, err
			}
		} else {
			log.Printf("matchmaker: discarding offline %s", a.UserID)
		}
		if aliveB {
			if err := m.queue.Requeue(ctx, b); err != nil {
				return false, err
			}
		} else {
			log.Printf("matchmaker: discarding offline %s", b.UserID)
		}
		return false, nil
	}

	room, err := m.session.Create(ctx, a.UserID, b.UserID)
	if err != nil {
		// Room creation is all-or-nothing, so both entries can safely go
		// back for the next cycle.
		return false, m.requeueBoth(ctx, a, b, err)
	}
	log.Printf("matchmaker: matched %s vs %s in room %s", a.UserID, b.UserID, room)

	found, err := bus.New(bus.TypeMatchFound, room, bus.MatchFoundPayload{
		Players: [2]string{a.UserID, b.UserID},
	})
	if err != nil {
		return true, err
	}
	if err := m.events.Publish(ctx, bus.ChannelEvents, found); err != nil {
		return true, err
	}

	start, err := bus.New(bus.TypeStartGame, room, bus.MatchFoundPayload{
		Players: [2]string{a.UserID, b.UserID},
	})
	if err != nil {
		return true, err
	}
	if err := m.events.Publish(ctx, bus.ChannelControl, start); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Matchmaker) requeueBoth(ctx context.Context, a, b queue.Entry, cause error) error {
	if err := m.queue.Requeue(ctx, a); err != nil {
		log.Printf("matchmaker: requeue %s: %v", a.UserID, err)
	}
	if err := m.queue.Requeue(ctx, b); err != nil {
		log.Printf("matchmaker: requeue %s: %v", b.UserID, err)
	}
	return cause
}
