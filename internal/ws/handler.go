package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/presence"
	"github.com/christopherjohns/wordbattle/internal/wordle"
)

// helloTimeout bounds how long an anonymous connection may sit before
// identifying itself.
const helloTimeout = 10 * time.Second

// Client to server frame types.
const (
	typeHello     = "hello"
	typeJoinRoom  = "join_room"
	typeGuess     = "guess"
	typeSurrender = "surrender"
	typeHeartbeat = "heartbeat"
)

// Server to client frame types not carried on the bus.
const (
	typeGuessFeedback = "guess_feedback"
	typeGuessError    = "guess_error"
	typeNewWord       = "new_word"
	typeError         = "error"
)

type helloPayload struct {
	UserID string `json:"user_id"`
}

type joinRoomPayload struct {
	Room string `json:"room"`
}

type guessPayload struct {
	Room  string `json:"room"`
	Guess string `json:"guess"`
}

type surrenderPayload struct {
	Room string `json:"room"`
}

type guessFeedbackPayload struct {
	Guess  string          `json:"guess"`
	Colors wordle.Feedback `json:"colors"`
	Solved bool            `json:"solved"`
}

type guessErrorPayload struct {
	Reason string `json:"reason"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection read loop.
type Handler struct {
	hub      *Hub
	session  *game.Session
	presence *presence.Tracker
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(hub *Hub, session *game.Session, tracker *presence.Tracker) *Handler {
	return &Handler{hub: hub, session: session, presence: tracker}
}

// ServeHTTP accepts the WebSocket, waits for the hello handshake, then
// dispatches frames until the connection drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is enforced by the fronting proxy
	})
	if err != nil {
		log.Printf("ws: accept: %v", err)
		return
	}

	c := &Client{conn: conn}
	userID, err := h.awaitHello(r.Context(), c)
	if err != nil {
		log.Printf("ws: handshake from %s: %v", r.RemoteAddr, err)
		conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}
	c.userID = userID

	ctx := h.hub.ConnMgr().Add(c)
	if ctx.Err() != nil {
		return
	}
	h.hub.register(c)
	defer func() {
		h.hub.unregister(c)
		h.hub.ConnMgr().Remove(c)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := h.presence.Heartbeat(ctx, userID); err != nil {
		log.Printf("ws: heartbeat for %s: %v", userID, err)
	}
	log.Printf("ws: %s connected", userID)

	h.readLoop(ctx, c)
	log.Printf("ws: %s disconnected", userID)
}

// awaitHello reads the first frame, which must identify the user.
func (h *Handler) awaitHello(ctx context.Context, c *Client) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Type != typeHello {
		return "", errors.New("first frame must be hello")
	}
	var p helloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", err
	}
	if p.UserID == "" {
		return "", errors.New("hello without user_id")
	}
	return p.UserID, nil
}

// readLoop consumes frames until the connection or the manager context ends.
// Every frame, whatever its type, counts as a liveness signal.
func (h *Handler) readLoop(ctx context.Context, c *Client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		h.hub.ConnMgr().TouchActivity(c)
		if err := h.presence.Heartbeat(ctx, c.userID); err != nil {
			log.Printf("ws: heartbeat for %s: %v", c.userID, err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.hub.sendTo(c, typeError, errorPayload{Message: "malformed frame"})
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, env Envelope) {
	switch env.Type {
	case typeHeartbeat:
		// Presence was already refreshed above.
	case typeJoinRoom:
		var p joinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Room == "" {
			h.hub.sendTo(c, typeError, errorPayload{Message: "join_room needs a room"})
			return
		}
		h.handleJoin(ctx, c, p.Room)
	case typeGuess:
		var p guessPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Room == "" {
			h.hub.sendTo(c, typeError, errorPayload{Message: "guess needs a room"})
			return
		}
		h.handleGuess(ctx, c, p.Room, p.Guess)
	case typeSurrender:
		var p surrenderPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Room == "" {
			h.hub.sendTo(c, typeError, errorPayload{Message: "surrender needs a room"})
			return
		}
		if err := h.session.Surrender(ctx, c.userID, p.Room); err != nil {
			h.hub.sendTo(c, typeError, errorPayload{Message: errorReason(err)})
		}
	default:
		h.hub.sendTo(c, typeError, errorPayload{Message: "unknown frame type"})
	}
}

// handleJoin subscribes the client to the room before acking so the
// match_started broadcast triggered by the second ack cannot slip past it.
func (h *Handler) handleJoin(ctx context.Context, c *Client, room string) {
	h.hub.joinRoom(c, room)
	if err := h.session.Join(ctx, c.userID, room); err != nil {
		h.hub.leaveRoom(c)
		h.hub.sendTo(c, typeError, errorPayload{Message: errorReason(err)})
	}
}

func (h *Handler) handleGuess(ctx context.Context, c *Client, room, guess string) {
	res, err := h.session.SubmitGuess(ctx, c.userID, room, guess)
	if err != nil {
		h.hub.sendTo(c, typeGuessError, guessErrorPayload{Reason: errorReason(err)})
		return
	}
	h.hub.sendTo(c, typeGuessFeedback, guessFeedbackPayload{
		Guess:  res.Guess,
		Colors: res.Colors,
		Solved: res.Solved,
	})
	if res.Solved {
		h.hub.sendTo(c, typeNewWord, nil)
	}
}

// errorReason maps domain errors to the stable reason strings clients key on.
func errorReason(err error) string {
	switch {
	case errors.Is(err, wordle.ErrInvalidGuess):
		return "invalid_guess"
	case errors.Is(err, wordle.ErrNotAWord):
		return "not_a_word"
	case errors.Is(err, game.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, game.ErrMatchNotStarted):
		return "match_not_started"
	case errors.Is(err, game.ErrMatchFinished):
		return "match_finished"
	case errors.Is(err, game.ErrNotInRoom):
		return "not_in_room"
	default:
		return "internal_error"
	}
}
