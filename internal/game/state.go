package game

import "errors"

// Phase is the lifecycle stage of a match.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// FinishReason records why a match ended.
type FinishReason string

const (
	ReasonTimeout    FinishReason = "timeout"
	ReasonSurrender  FinishReason = "surrender"
	ReasonDisconnect FinishReason = "disconnect"
)

var (
	// ErrRoomNotFound is returned for unknown or already-archived rooms.
	ErrRoomNotFound = errors.New("room not found")

	// ErrMatchFinished is returned for any gameplay action on a finished
	// match.
	ErrMatchFinished = errors.New("match already finished")

	// ErrMatchNotStarted is returned for guesses submitted before both
	// players have joined.
	ErrMatchNotStarted = errors.New("match not started")

	// ErrNotInRoom is returned when the acting user holds neither player
	// slot of the room.
	ErrNotInRoom = errors.New("user is not a player in this room")
)

// Meta is the room header stored in the registry.
type Meta struct {
	Room      string
	P1        string
	P2        string
	Phase     Phase
	ScoreP1   int
	ScoreP2   int
	Duration  int
	CreatedAt int64
	StartedAt int64
}

// Player reports whether userID holds a slot, and which one.
func (m Meta) Player(userID string) (isP1 bool, ok bool) {
	switch userID {
	case m.P1:
		return true, true
	case m.P2:
		return false, true
	}
	return false, false
}

// MatchState is a full snapshot of one room.
type MatchState struct {
	Meta
	TimeLeft  int
	Reason    FinishReason
	WinnerID  string
	GuessesP1 []string
	GuessesP2 []string
}
