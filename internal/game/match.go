package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"paddlearena/engine/internal/geom"
	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/protocol"
)

// MaxPlayers bounds how many players a 1v1 match admits.
const MaxPlayers = 2

var (
	// ErrMatchFull indicates the match already holds the maximum player count.
	ErrMatchFull = errors.New("match is full")
	// ErrDuplicatePlayer is returned when a player id is already registered.
	ErrDuplicatePlayer = errors.New("player already joined")
	// ErrUnknownPlayer is returned when a player id is not part of the match.
	ErrUnknownPlayer = errors.New("player not in match")
	// ErrNotEnoughPlayers is returned when starting a match below two players.
	ErrNotEnoughPlayers = errors.New("match requires at least two players")
	// ErrBadTransition is returned for lifecycle transitions the state machine forbids.
	ErrBadTransition = errors.New("invalid lifecycle transition")
	// ErrMatchStarted guards settings mutations once the match has left waiting.
	ErrMatchStarted = errors.New("match already started")
)

// ActiveInputs holds the persistent control flags folded from buffered intents.
type ActiveInputs struct {
	Up   bool
	Down bool
}

// Paddle tracks the vertical kinematics of one player's paddle.
type Paddle struct {
	Y  float64
	VY float64
}

// Player is one participant of a match together with their input pipeline.
type Player struct {
	ID     string
	Name   string
	Score  int
	Paddle Paddle
	Active ActiveInputs
	Inputs *input.Buffer
}

// Ball tracks the ball kinematics.
type Ball struct {
	Pos geom.Vec2
	Vel geom.Vec2
}

// Match is the authoritative state of one running or pending game. It is owned
// exclusively by a single worker goroutine for its entire lifetime and performs
// no internal locking.
type Match struct {
	ID      string
	OwnerID string

	cfg       Config
	players   []*Player
	ball      Ball
	lifecycle protocol.Lifecycle
	frame     uint64
	rng       *rand.Rand
}

// Option configures optional match behaviour at construction time.
type Option func(*Match)

// WithSeed makes the ball spawn direction deterministic, primarily for tests.
func WithSeed(seed int64) Option {
	return func(m *Match) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// NewMatch constructs a match in the waiting state.
func NewMatch(id, ownerID string, cfg Config, opts ...Option) (*Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("match config: %w", err)
	}
	match := &Match{
		ID:        id,
		OwnerID:   ownerID,
		cfg:       cfg,
		lifecycle: protocol.LifecycleWaiting,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(match)
		}
	}
	return match, nil
}

// Config returns the active tuning for the match.
func (m *Match) Config() Config { return m.cfg }

// Lifecycle reports the current lifecycle state.
func (m *Match) Lifecycle() protocol.Lifecycle { return m.lifecycle }

// Frame reports the current simulation frame counter.
func (m *Match) Frame() uint64 { return m.frame }

// PlayerCount reports how many players are currently registered.
func (m *Match) PlayerCount() int { return len(m.players) }

// AddPlayer registers a participant, centering their paddle.
func (m *Match) AddPlayer(id, name string) error {
	if id == "" {
		return ErrUnknownPlayer
	}
	if len(m.players) >= MaxPlayers {
		return ErrMatchFull
	}
	for _, player := range m.players {
		if player.ID == id {
			return ErrDuplicatePlayer
		}
	}
	m.players = append(m.players, &Player{
		ID:     id,
		Name:   name,
		Paddle: Paddle{Y: (m.cfg.WorldHeight - m.cfg.PaddleHeight) / 2},
		Inputs: input.NewBuffer(input.DefaultRetention),
	})
	return nil
}

// RemovePlayer drops a participant; the match stops when nobody remains.
func (m *Match) RemovePlayer(id string) error {
	for i, player := range m.players {
		if player.ID == id {
			m.players = append(m.players[:i], m.players[i+1:]...)
			if len(m.players) == 0 && m.lifecycle != protocol.LifecycleStopped {
				m.lifecycle = protocol.LifecycleStopped
			}
			return nil
		}
	}
	return ErrUnknownPlayer
}

// Player returns the participant with the given id.
func (m *Match) Player(id string) (*Player, bool) {
	for _, player := range m.players {
		if player.ID == id {
			return player, true
		}
	}
	return nil, false
}

// UpdateConfig replaces the tuning of an unstarted match.
func (m *Match) UpdateConfig(cfg Config) error {
	if m.lifecycle != protocol.LifecycleWaiting {
		return ErrMatchStarted
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("match config: %w", err)
	}
	m.cfg = cfg
	//1.- Re-center paddles so existing players respect the new field geometry.
	for _, player := range m.players {
		player.Paddle = Paddle{Y: (cfg.WorldHeight - cfg.PaddleHeight) / 2}
	}
	return nil
}

// QueueInput buffers intents for a player's future frame.
func (m *Match) QueueInput(playerID string, frame uint64, intents []input.Intent) error {
	player, ok := m.Player(playerID)
	if !ok {
		return ErrUnknownPlayer
	}
	player.Inputs.Append(frame, intents...)
	return nil
}

// Start transitions waiting → playing; it requires at least two players.
func (m *Match) Start() error {
	if m.lifecycle != protocol.LifecycleWaiting {
		return fmt.Errorf("%w: %s → playing", ErrBadTransition, m.lifecycle)
	}
	if len(m.players) < 2 {
		return ErrNotEnoughPlayers
	}
	m.lifecycle = protocol.LifecyclePlaying
	return nil
}

// Pause suspends a playing match without resetting state.
func (m *Match) Pause() error {
	if m.lifecycle != protocol.LifecyclePlaying {
		return fmt.Errorf("%w: %s → paused", ErrBadTransition, m.lifecycle)
	}
	m.lifecycle = protocol.LifecyclePaused
	return nil
}

// Resume continues a paused match.
func (m *Match) Resume() error {
	if m.lifecycle != protocol.LifecyclePaused {
		return fmt.Errorf("%w: %s → playing", ErrBadTransition, m.lifecycle)
	}
	m.lifecycle = protocol.LifecyclePlaying
	return nil
}

// Stop moves the match to its terminal state. Stopping twice is a no-op.
func (m *Match) Stop() {
	m.lifecycle = protocol.LifecycleStopped
}

// Scores returns the per-player score map.
func (m *Match) Scores() map[string]int {
	scores := make(map[string]int, len(m.players))
	for _, player := range m.players {
		scores[player.ID] = player.Score
	}
	return scores
}

// Leader returns the id of the highest-scoring player, breaking ties by id sort.
func (m *Match) Leader() string {
	best := ""
	bestScore := -1
	for _, player := range m.sortedPlayers() {
		if player.Score > bestScore {
			best = player.ID
			bestScore = player.Score
		}
	}
	return best
}

// Sides maps each player id to the field side derived from lexicographic id order.
//
// The lowest id defends the left side. This rule is deliberate: it makes side
// assignment reproducible across restarts without negotiation.
func (m *Match) Sides() map[string]protocol.Side {
	sides := make(map[string]protocol.Side, len(m.players))
	for i, player := range m.sortedPlayers() {
		if i == 0 {
			sides[player.ID] = protocol.SideLeft
		} else {
			sides[player.ID] = protocol.SideRight
		}
	}
	return sides
}

// Snapshot builds the outbound state event for the current frame.
func (m *Match) Snapshot() *protocol.StateEvent {
	paddles := make([]protocol.PaddleState, 0, len(m.players))
	for i, player := range m.sortedPlayers() {
		side := protocol.SideLeft
		if i > 0 {
			side = protocol.SideRight
		}
		paddles = append(paddles, protocol.PaddleState{
			PlayerID: player.ID,
			Side:     side,
			Y:        player.Paddle.Y,
			VY:       player.Paddle.VY,
			Width:    m.cfg.PaddleWidth,
			Height:   m.cfg.PaddleHeight,
		})
	}
	return &protocol.StateEvent{
		MatchID: m.ID,
		Frame:   m.frame,
		Ball: protocol.BallState{
			Position: m.ball.Pos,
			Velocity: m.ball.Vel,
			Radius:   m.cfg.BallRadius,
		},
		Paddles:   paddles,
		Scores:    m.Scores(),
		Lifecycle: m.lifecycle,
	}
}

func (m *Match) sortedPlayers() []*Player {
	sorted := append([]*Player(nil), m.players...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}
