package worker

import (
	"errors"
	"time"

	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/protocol"
)

var (
	// ErrUnknownMatch is returned when a command references a match the worker does not host.
	ErrUnknownMatch = errors.New("unknown match")
	// ErrUnauthorized is returned when a non-owner attempts an owner-gated action.
	ErrUnauthorized = errors.New("requester does not own the match")
	// ErrWorkerFull is returned when a create command exceeds the hosting capacity.
	ErrWorkerFull = errors.New("worker at capacity")
	// ErrWorkerStopped is returned when commands arrive after shutdown began.
	ErrWorkerStopped = errors.New("worker stopped")
)

// Command is the closed union of messages a worker accepts on its inbox.
// Commands carrying a Reply channel are request/response; a nil Reply makes
// them fire-and-forget.
type Command interface {
	isCommand()
}

// CreateMatch allocates a new match inside the worker.
type CreateMatch struct {
	MatchID string
	OwnerID string
	Config  game.Config
	Reply   chan<- error
}

// JoinMatch admits a player into a hosted match.
type JoinMatch struct {
	MatchID  string
	PlayerID string
	Name     string
	Reply    chan<- error
}

// LeaveMatch removes a player; the match aborts when nobody remains.
type LeaveMatch struct {
	MatchID  string
	PlayerID string
	Reply    chan<- error
}

// UpdateSettings replaces the config of an unstarted match. Owner-gated.
type UpdateSettings struct {
	MatchID     string
	RequesterID string
	Config      game.Config
	Reply       chan<- error
}

// SubmitInput appends intents to a player's input buffer.
type SubmitInput struct {
	MatchID  string
	PlayerID string
	// Frame is kept as float64 so the input gate can reject non-finite values.
	Frame   float64
	Intents []input.Intent
}

// ControlMatch applies an owner-gated lifecycle action.
type ControlMatch struct {
	MatchID     string
	RequesterID string
	Action      protocol.GameAction
	Reply       chan<- error
}

// QueryLoad requests the worker's live load snapshot.
type QueryLoad struct {
	Reply chan<- LoadStatus
}

func (CreateMatch) isCommand()    {}
func (JoinMatch) isCommand()      {}
func (LeaveMatch) isCommand()     {}
func (UpdateSettings) isCommand() {}
func (SubmitInput) isCommand()    {}
func (ControlMatch) isCommand()   {}
func (QueryLoad) isCommand()      {}

// LoadStatus is the live load snapshot used for dispatch decisions.
type LoadStatus struct {
	WorkerID      string              `json:"worker_id"`
	ActiveMatches int                 `json:"active_matches"`
	Players       int                 `json:"players"`
	Capacity      int                 `json:"capacity"`
	Tick          TickMetricsSnapshot `json:"tick"`
}

// HasRoom reports whether the worker can host another match.
func (s LoadStatus) HasRoom() bool {
	return s.ActiveMatches < s.Capacity
}

// TickMetricsSnapshot summarises observed simulation tick durations.
type TickMetricsSnapshot struct {
	Samples int           `json:"samples"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// AverageFPS derives the frames-per-second equivalent of the sampled tick duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}
