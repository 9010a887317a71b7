package ws

import (
	"encoding/json"
	"log"
	"sync"

	"nhooyr.io/websocket"
)

// Client represents a connected player on this gateway process.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu     sync.Mutex
	roomID string
}

// setRoom records the room channel the client joined.
func (c *Client) setRoom(room string) {
	c.mu.Lock()
	c.roomID = room
	c.mu.Unlock()
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Envelope is the JSON frame exchanged over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub indexes this gateway's clients by user and by room so bus events can
// be fanned out to exactly the right connections. Players in the same match
// may be connected through different gateway processes; each hub only ever
// delivers to its own.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	byRoom map[string]map[*Client]struct{}
	conns  *ConnManager
}

// NewHub creates an empty Hub.
func NewHub(conns *ConnManager) *Hub {
	return &Hub{
		byUser: make(map[string]map[*Client]struct{}),
		byRoom: make(map[string]map[*Client]struct{}),
		conns:  conns,
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// register adds an identified client to the user index.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	h.mu.Unlock()
}

// unregister removes a client from both indexes.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.byUser[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	if room := c.room(); room != "" {
		if clients, ok := h.byRoom[room]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.byRoom, room)
			}
		}
	}
	h.mu.Unlock()
}

// joinRoom subscribes a client to a room's events. Idempotent; a client
// follows at most one room at a time, so joining a new room leaves the old.
func (h *Hub) joinRoom(c *Client, room string) {
	old := c.room()
	if old == room {
		return
	}
	h.mu.Lock()
	if old != "" {
		if clients, ok := h.byRoom[old]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.byRoom, old)
			}
		}
	}
	if h.byRoom[room] == nil {
		h.byRoom[room] = make(map[*Client]struct{})
	}
	h.byRoom[room][c] = struct{}{}
	h.mu.Unlock()
	c.setRoom(room)
}

// leaveRoom drops the client's room subscription, if any.
func (h *Hub) leaveRoom(c *Client) {
	room := c.room()
	if room == "" {
		return
	}
	h.mu.Lock()
	if clients, ok := h.byRoom[room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byRoom, room)
		}
	}
	h.mu.Unlock()
	c.setRoom("")
}

// SendToUser delivers an envelope to every connection of one user.
func (h *Hub) SendToUser(userID, typ string, payload any) {
	data, ok := h.marshal(typ, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := collect(h.byUser[userID])
	h.mu.RUnlock()
	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// BroadcastRoom delivers an envelope to every client following a room.
func (h *Hub) BroadcastRoom(room, typ string, payload any) {
	data, ok := h.marshal(typ, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := collect(h.byRoom[room])
	h.mu.RUnlock()
	for _, c := range targets {
		h.conns.Send(c, data)
	}
}

// sendTo delivers an envelope to a single client.
func (h *Hub) sendTo(c *Client, typ string, payload any) {
	data, ok := h.marshal(typ, payload)
	if !ok {
		return
	}
	h.conns.Send(c, data)
}

// RoomCount returns the number of clients following a room on this gateway.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRoom[room])
}

// UserConnected reports whether the user has a connection on this gateway.
func (h *Hub) UserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) marshal(typ string, payload any) ([]byte, bool) {
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("ws: marshal %s payload: %v", typ, err)
			return nil, false
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("ws: marshal %s envelope: %v", typ, err)
		return nil, false
	}
	return data, true
}

// collect snapshots a client set so the lock is released before sending.
func collect(set map[*Client]struct{}) []*Client {
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	return targets
}
