package matchmaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/presence"
	"github.com/christopherjohns/wordbattle/internal/queue"
)

type fixedWords struct{}

func (fixedWords) Random() string       { return "CRANE" }
func (fixedWords) Contains(string) bool { return true }

type testRig struct {
	mm      *Matchmaker
	queue   *queue.Queue
	session *game.Session
	tracker *presence.Tracker
	client  *redis.Client
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewBus(client)
	q := queue.New(client)
	tracker := presence.NewTracker(client, time.Minute)
	session := game.NewSession(game.NewRegistry(client), b, fixedWords{}, 300*time.Second)
	return &testRig{
		mm:      New(q, session, tracker, b, time.Second),
		queue:   q,
		session: session,
		tracker: tracker,
		client:  client,
	}
}

func TestCycleCreatesOneRoom(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if err := rig.tracker.Heartbeat(ctx, u); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
		if err := rig.queue.Enqueue(ctx, u); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	found := make(chan bus.Event, 2)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go bus.NewBus(rig.client).Subscribe(subCtx, bus.ChannelEvents, func(_ context.Context, ev bus.Event) error {
		if ev.Type == bus.TypeMatchFound {
			found <- ev
		}
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	paired, err := rig.mm.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !paired {
		t.Fatal("expected a pairing")
	}

	// Both removed from the queue atomically with room creation.
	n, _ := rig.queue.Len(ctx)
	if n != 0 {
		t.Errorf("expected empty queue, got %d entries", n)
	}

	var payload bus.MatchFoundPayload
	var room string
	select {
	case ev := <-found:
		room = ev.Room
		if err := ev.Decode(&payload); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for match_found")
	}
	if payload.Players != [2]string{"alice", "bob"} {
		t.Errorf("expected oldest-first slots, got %v", payload.Players)
	}

	// Placement pointers agree with the announced slots.
	gotRoom, isP1, ok, err := rig.session.ActiveMatch(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("ActiveMatch alice: ok=%v err=%v", ok, err)
	}
	if gotRoom != room || !isP1 {
		t.Errorf("alice placement (%s, p1=%v), expected (%s, true)", gotRoom, isP1, room)
	}
	_, isP1, ok, _ = rig.session.ActiveMatch(ctx, "bob")
	if !ok || isP1 {
		t.Errorf("bob placement p1=%v, expected player B", isP1)
	}
}

func TestPairedUserCannotRequeue(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		rig.tracker.Heartbeat(ctx, u)
		rig.queue.Enqueue(ctx, u)
	}
	if _, err := rig.mm.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// Invariant: a user is never in the queue and an active room at once.
	err := rig.queue.Enqueue(ctx, "alice")
	if !errors.Is(err, queue.ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued for roomed user, got %v", err)
	}
}

func TestStalePartnerDiscarded(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// alice heartbeats; ghost never does.
	rig.tracker.Heartbeat(ctx, "alice")
	if err := rig.queue.Enqueue(ctx, "alice"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := rig.queue.Enqueue(ctx, "ghost"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	paired, err := rig.mm.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if paired {
		t.Fatal("expected no pairing with a stale partner")
	}

	// alice is back waiting; ghost is gone for good.
	waiting, _ := rig.queue.Contains(ctx, "alice")
	if !waiting {
		t.Error("expected alice requeued")
	}
	waiting, _ = rig.queue.Contains(ctx, "ghost")
	if waiting {
		t.Error("expected ghost discarded")
	}

	// No room was created for either.
	if _, _, ok, _ := rig.session.ActiveMatch(ctx, "alice"); ok {
		t.Error("alice should not be placed")
	}
}

func TestPairRequestTriggersCycleBetweenTicks(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An hour-long interval: only a pair_request can drive the pairing.
	mm := New(rig.queue, rig.session, rig.tracker, bus.NewBus(rig.client), time.Hour)
	go mm.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	for _, u := range []string{"alice", "bob"} {
		if err := rig.tracker.Heartbeat(ctx, u); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
		if err := rig.queue.Enqueue(ctx, u); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ev, err := bus.New(bus.TypePairRequest, "", nil)
	if err != nil {
		t.Fatalf("New event: %v", err)
	}
	if err := bus.NewBus(rig.client).Publish(ctx, bus.ChannelControl, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok, _ := rig.session.ActiveMatch(ctx, "alice"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pair_request never produced a room")
}

func TestCycleNoopOnShortQueue(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if paired, err := rig.mm.RunCycle(ctx); err != nil || paired {
		t.Fatalf("empty queue: paired=%v err=%v", paired, err)
	}

	rig.tracker.Heartbeat(ctx, "alice")
	rig.queue.Enqueue(ctx, "alice")
	if paired, err := rig.mm.RunCycle(ctx); err != nil || paired {
		t.Fatalf("single entry: paired=%v err=%v", paired, err)
	}
	n, _ := rig.queue.Len(ctx)
	if n != 1 {
		t.Errorf("lone entry must survive, got %d", n)
	}
}
