package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/wordle"
)

// WordSource supplies target words and dictionary membership. Satisfied by
// *wordle.Dictionary.
type WordSource interface {
	Random() string
	Contains(word string) bool
}

// GuessResult is what the guessing player gets back.
type GuessResult struct {
	Guess  string
	Colors wordle.Feedback
	Solved bool
	Scores bus.Scores
}

// Session drives the per-room match lifecycle: waiting until both players
// join, active while the countdown runs, finished exactly once.
//
// Mutations for one room are serialized two ways: a per-room lock keeps the
// two players on this process from interleaving, and every cross-process
// mutation in the registry is a single atomic Redis operation, so gateways on
// different hosts cannot corrupt score or word state either.
type Session struct {
	reg      *Registry
	events   *bus.Bus
	words    WordSource
	duration time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSession creates the session state machine.
func NewSession(reg *Registry, events *bus.Bus, words WordSource, duration time.Duration) *Session {
	return &Session{
		reg:      reg,
		events:   events,
		words:    words,
		duration: duration,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Registry exposes the underlying room registry.
func (s *Session) Registry() *Registry {
	return s.reg
}

func (s *Session) roomLock(room string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[room]
	if !ok {
		l = &sync.Mutex{}
		s.locks[room] = l
	}
	return l
}

func (s *Session) releaseLock(room string) {
	s.mu.Lock()
	delete(s.locks, room)
	s.mu.Unlock()
}

// Create pairs two players into a fresh room with independent opening words.
func (s *Session) Create(ctx context.Context, p1, p2 string) (string, error) {
	return s.reg.CreateRoom(ctx, p1, p2, s.duration, s.words.Random(), s.words.Random())
}

// Join acks a player's arrival in the room. Idempotent; the second distinct
// ack starts the match and announces it.
func (s *Session) Join(ctx context.Context, userID, room string) error {
	l := s.roomLock(room)
	l.Lock()
	defer l.Unlock()

	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	if _, ok := meta.Player(userID); !ok {
		return fmt.Errorf("game: %s in %s: %w", userID, room, ErrNotInRoom)
	}
	if meta.Phase == PhaseFinished {
		return fmt.Errorf("game: %s: %w", room, ErrMatchFinished)
	}

	activated, err := s.reg.MarkReady(ctx, room, userID)
	if err != nil {
		return err
	}
	if activated {
		log.Printf("game: room %s active, %s vs %s", room, meta.P1, meta.P2)
		ev, err := bus.New(bus.TypeMatchStarted, room, nil)
		if err != nil {
			return err
		}
		if err := s.events.Publish(ctx, bus.ChannelEvents, ev); err != nil {
			return err
		}
	}
	return nil
}

// SubmitGuess validates and scores one guess. Malformed guesses and
// out-of-dictionary words fail without touching state. A solve bumps the
// player's score, installs a fresh word, and broadcasts the new score to the
// room.
func (s *Session) SubmitGuess(ctx context.Context, userID, room, guess string) (GuessResult, error) {
	if err := wordle.ValidateGuess(guess); err != nil {
		return GuessResult{}, err
	}
	if !s.words.Contains(guess) {
		return GuessResult{}, fmt.Errorf("%q: %w", guess, wordle.ErrNotAWord)
	}

	l := s.roomLock(room)
	l.Lock()
	defer l.Unlock()

	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return GuessResult{}, err
	}
	isP1, ok := meta.Player(userID)
	if !ok {
		return GuessResult{}, fmt.Errorf("game: %s in %s: %w", userID, room, ErrNotInRoom)
	}
	switch meta.Phase {
	case PhaseWaiting:
		return GuessResult{}, fmt.Errorf("game: %s: %w", room, ErrMatchNotStarted)
	case PhaseFinished:
		return GuessResult{}, fmt.Errorf("game: %s: %w", room, ErrMatchFinished)
	}

	target, err := s.reg.PlayerWord(ctx, room, userID)
	if err != nil {
		return GuessResult{}, err
	}

	colors, solved := wordle.Evaluate(guess, target)
	if err := s.reg.AppendGuess(ctx, room, userID, guess); err != nil {
		return GuessResult{}, err
	}

	if solved {
		won, err := s.reg.RecordSolve(ctx, room, userID, target, s.words.Random(), isP1)
		if err != nil {
			return GuessResult{}, err
		}
		if won {
			if err := s.publishScores(ctx, room); err != nil {
				log.Printf("game: score update for %s: %v", room, err)
			}
		}
	}

	meta, err = s.reg.Meta(ctx, room)
	if err != nil {
		return GuessResult{}, err
	}
	return GuessResult{
		Guess:  guess,
		Colors: colors,
		Solved: solved,
		Scores: bus.Scores{P1: meta.ScoreP1, P2: meta.ScoreP2},
	}, nil
}

// Surrender ends the match immediately; the surrendering player loses
// regardless of score.
func (s *Session) Surrender(ctx context.Context, userID, room string) error {
	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	isP1, ok := meta.Player(userID)
	if !ok {
		return fmt.Errorf("game: %s in %s: %w", userID, room, ErrNotInRoom)
	}
	if meta.Phase == PhaseFinished {
		return fmt.Errorf("game: %s: %w", room, ErrMatchFinished)
	}

	winner := meta.P1
	if isP1 {
		winner = meta.P2
	}
	return s.Finish(ctx, room, ReasonSurrender, winner, userID)
}

// Forfeit ends the match against a player who went dark past the disconnect
// grace period.
func (s *Session) Forfeit(ctx context.Context, room, absentUserID string) error {
	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	isP1, ok := meta.Player(absentUserID)
	if !ok {
		return fmt.Errorf("game: %s in %s: %w", absentUserID, room, ErrNotInRoom)
	}
	winner := meta.P1
	if isP1 {
		winner = meta.P2
	}
	return s.Finish(ctx, room, ReasonDisconnect, winner, "")
}

// FinishByTimeout ends the match when the countdown hits zero; the winner is
// whoever solved more words, with equal scores a tie.
func (s *Session) FinishByTimeout(ctx context.Context, room string) error {
	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	winner := ""
	if meta.ScoreP1 > meta.ScoreP2 {
		winner = meta.P1
	} else if meta.ScoreP2 > meta.ScoreP1 {
		winner = meta.P2
	}
	return s.Finish(ctx, room, ReasonTimeout, winner, "")
}

// Finish performs the terminal transition exactly once. The caller that wins
// the registry guard publishes the final snapshot to both players and hands
// the result to the recorder; every other caller is a no-op.
func (s *Session) Finish(ctx context.Context, room string, reason FinishReason, winnerID, surrenderedBy string) error {
	l := s.roomLock(room)
	l.Lock()
	defer l.Unlock()

	won, err := s.reg.MarkEnded(ctx, room, reason)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	defer s.releaseLock(room)

	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	scores := bus.Scores{P1: meta.ScoreP1, P2: meta.ScoreP2}
	log.Printf("game: room %s finished (%s), %s %d - %d %s", room, reason, meta.P1, scores.P1, scores.P2, meta.P2)

	over, err := bus.New(bus.TypeGameOver, room, bus.GameOverPayload{
		FinalScores:   scores,
		WinnerID:      winnerID,
		Reason:        string(reason),
		SurrenderedBy: surrenderedBy,
	})
	if err != nil {
		return err
	}
	if err := s.events.Publish(ctx, bus.ChannelEvents, over); err != nil {
		return err
	}

	record, err := bus.New(bus.TypeRecordMatch, room, bus.RecordMatchPayload{
		P1:            meta.P1,
		P2:            meta.P2,
		Scores:        scores,
		WinnerID:      winnerID,
		Reason:        string(reason),
		SurrenderedBy: surrenderedBy,
		Duration:      meta.Duration,
	})
	if err != nil {
		return err
	}
	return s.events.Publish(ctx, bus.ChannelControl, record)
}

// ActiveMatch lets a reconnecting client rediscover its match.
func (s *Session) ActiveMatch(ctx context.Context, userID string) (room string, isP1 bool, ok bool, err error) {
	return s.reg.ActiveMatch(ctx, userID)
}

// Snapshot reads the full state of a room.
func (s *Session) Snapshot(ctx context.Context, room string) (MatchState, error) {
	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return MatchState{}, err
	}
	timeLeft, err := s.reg.TimeLeft(ctx, room)
	if err != nil {
		return MatchState{}, err
	}
	g1, err := s.reg.GuessHistory(ctx, room, meta.P1)
	if err != nil {
		return MatchState{}, err
	}
	g2, err := s.reg.GuessHistory(ctx, room, meta.P2)
	if err != nil {
		return MatchState{}, err
	}
	return MatchState{
		Meta:      meta,
		TimeLeft:  timeLeft,
		GuessesP1: g1,
		GuessesP2: g2,
	}, nil
}

func (s *Session) publishScores(ctx context.Context, room string) error {
	meta, err := s.reg.Meta(ctx, room)
	if err != nil {
		return err
	}
	ev, err := bus.New(bus.TypeScoreUpdate, room, bus.ScoreUpdatePayload{
		Scores: bus.Scores{P1: meta.ScoreP1, P2: meta.ScoreP2},
	})
	if err != nil {
		return err
	}
	return s.events.Publish(ctx, bus.ChannelEvents, ev)
}
