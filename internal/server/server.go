package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/queue"
	"github.com/christopherjohns/wordbattle/internal/ratelimit"
	"github.com/christopherjohns/wordbattle/internal/recorder"
	"github.com/christopherjohns/wordbattle/internal/ws"
)

// userHeader carries the caller's identity, set by the fronting auth proxy.
const userHeader = "X-User-ID"

const defaultLeaderboardLimit = 10

// Server is the gateway's HTTP surface: the queue and match endpoints plus
// the WebSocket mount.
type Server struct {
	addr    string
	mux     *http.ServeMux
	httpSrv *http.Server

	queue   *queue.Queue
	session *game.Session
	store   recorder.Store
	wsh     *ws.Handler
	events  *bus.Bus
	limiter *ratelimit.Limiter
}

// New creates a Server listening on addr.
func New(addr string, q *queue.Queue, session *game.Session, store recorder.Store, wsh *ws.Handler, events *bus.Bus) *Server {
	s := &Server{
		addr:    addr,
		mux:     http.NewServeMux(),
		queue:   q,
		session: session,
		store:   store,
		wsh:     wsh,
		events:  events,
		limiter: ratelimit.New(10, time.Minute),
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	log.Printf("server: listening on %s", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/queue/join", s.withUser(s.rateLimited(s.handleQueueJoin)))
	s.mux.HandleFunc("POST /api/queue/cancel", s.withUser(s.rateLimited(s.handleQueueCancel)))
	s.mux.HandleFunc("GET /api/match/active", s.withUser(s.handleActiveMatch))
	s.mux.HandleFunc("GET /api/stats", s.withUser(s.handleStats))
	s.mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	s.mux.Handle("GET /ws", s.wsh)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser extracts the identity header or rejects the request.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader)
			return
		}
		next(w, r, userID)
	}
}

// rateLimited caps how often one user may hit a mutating endpoint.
func (s *Server) rateLimited(next userHandler) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		if !s.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "slow down")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.queue.Enqueue(r.Context(), userID)
	switch {
	case errors.Is(err, queue.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, "already queued or in a match")
	case err != nil:
		log.Printf("server: enqueue %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
	default:
		s.nudgeMatchmaker(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	}
}

// nudgeMatchmaker asks the matchmaker to pair right away instead of waiting
// for its next tick. Best effort: the tick will pick the entry up anyway.
func (s *Server) nudgeMatchmaker(ctx context.Context) {
	ev, err := bus.New(bus.TypePairRequest, "", nil)
	if err != nil {
		log.Printf("server: pair request: %v", err)
		return
	}
	if err := s.events.Publish(ctx, bus.ChannelControl, ev); err != nil {
		log.Printf("server: pair request: %v", err)
	}
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.queue.Cancel(r.Context(), userID)
	switch {
	case errors.Is(err, queue.ErrNotQueued):
		writeError(w, http.StatusNotFound, "not queued")
	case err != nil:
		log.Printf("server: cancel %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleActiveMatch(w http.ResponseWriter, r *http.Request, userID string) {
	room, isP1, ok, err := s.session.ActiveMatch(r.Context(), userID)
	if err != nil {
		log.Printf("server: active match for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active match")
		return
	}
	state, err := s.session.Snapshot(r.Context(), room)
	if err != nil {
		if errors.Is(err, game.ErrRoomNotFound) {
			// Stale pointer: the room's keys are gone but the placement
			// survived. Repair it so the user can queue again.
			if err := s.session.Registry().ClearPlacement(r.Context(), userID); err != nil {
				log.Printf("server: clear stale placement for %s: %v", userID, err)
			}
			writeError(w, http.StatusNotFound, "no active match")
			return
		}
		log.Printf("server: snapshot %s: %v", room, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":        room,
		"is_player_a": isP1,
		"phase":       string(state.Meta.Phase),
		"time_left":   state.TimeLeft,
		"scores": map[string]int{
			"p1": state.Meta.ScoreP1,
			"p2": state.Meta.ScoreP2,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := s.store.Stats(r.Context(), userID)
	if err != nil {
		log.Printf("server: stats for %s: %v", userID, err)
		writeError(w, http.StatusNotFound, "no stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be 1..100")
			return
		}
		limit = n
	}
	board, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		log.Printf("server: leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "leaderboard failed")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
