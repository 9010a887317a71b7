package ws

import (
	"encoding/json"
	"testing"
)

// stubClient makes a client with a hand-fed send channel so hub routing can
// be observed without a live connection.
func stubClient(userID string) *Client {
	return &Client{userID: userID, send: make(chan []byte, 8)}
}

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return env
	default:
		t.Fatal("expected a queued frame")
	}
	return Envelope{}
}

func TestSendToUserHitsEveryConnection(t *testing.T) {
	h := NewHub(NewConnManager())
	tab1 := stubClient("alice")
	tab2 := stubClient("alice")
	other := stubClient("bob")
	h.register(tab1)
	h.register(tab2)
	h.register(other)

	h.SendToUser("alice", "timer_update", map[string]int{"time_left": 9})

	for _, c := range []*Client{tab1, tab2} {
		env := recv(t, c)
		if env.Type != "timer_update" {
			t.Errorf("got type %q, want timer_update", env.Type)
		}
	}
	if len(other.send) != 0 {
		t.Error("bob must not receive alice's frame")
	}
}

func TestBroadcastRoomOnlyReachesMembers(t *testing.T) {
	h := NewHub(NewConnManager())
	a := stubClient("alice")
	b := stubClient("bob")
	c := stubClient("carol")
	for _, cl := range []*Client{a, b, c} {
		h.register(cl)
	}
	h.joinRoom(a, "room-1")
	h.joinRoom(b, "room-1")
	h.joinRoom(c, "room-2")

	h.BroadcastRoom("room-1", "score_update", nil)

	recv(t, a)
	recv(t, b)
	if len(c.send) != 0 {
		t.Error("room-2 member must not receive room-1 broadcast")
	}
	if got := h.RoomCount("room-1"); got != 2 {
		t.Errorf("RoomCount = %d, want 2", got)
	}
}

func TestJoinRoomMovesClient(t *testing.T) {
	h := NewHub(NewConnManager())
	a := stubClient("alice")
	h.register(a)

	h.joinRoom(a, "room-1")
	h.joinRoom(a, "room-1") // idempotent
	if got := h.RoomCount("room-1"); got != 1 {
		t.Fatalf("RoomCount(room-1) = %d, want 1", got)
	}

	h.joinRoom(a, "room-2")
	if got := h.RoomCount("room-1"); got != 0 {
		t.Errorf("old room still has %d members", got)
	}
	if got := h.RoomCount("room-2"); got != 1 {
		t.Errorf("RoomCount(room-2) = %d, want 1", got)
	}

	h.leaveRoom(a)
	if got := h.RoomCount("room-2"); got != 0 {
		t.Errorf("RoomCount(room-2) after leave = %d, want 0", got)
	}
	h.leaveRoom(a) // idempotent
}

func TestUnregisterClearsIndexes(t *testing.T) {
	h := NewHub(NewConnManager())
	a := stubClient("alice")
	h.register(a)
	h.joinRoom(a, "room-1")

	h.unregister(a)

	if h.UserConnected("alice") {
		t.Error("alice still indexed after unregister")
	}
	if got := h.RoomCount("room-1"); got != 0 {
		t.Errorf("room still has %d members", got)
	}
	h.BroadcastRoom("room-1", "score_update", nil)
	if len(a.send) != 0 {
		t.Error("unregistered client received a frame")
	}
}
