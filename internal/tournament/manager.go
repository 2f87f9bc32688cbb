package tournament

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
)

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Starter dispatches a backing engine match for a ready bracket slot.
type Starter interface {
	CreateMatch(ctx context.Context, matchID, ownerID string, cfg game.Config) (string, error)
}

// Manager owns every live tournament and routes backing-match results back
// into their brackets.
type Manager struct {
	mu      sync.Mutex
	starter Starter
	events  chan<- *protocol.Event
	logger  *logging.Logger
	cfg     game.Config
	rng     *rand.Rand

	byID   map[string]*Tournament
	byCode map[string]*Tournament
	byGame map[string]*Match
	owners map[string]*Tournament
}

// ManagerOption customises manager construction.
type ManagerOption func(*Manager)

// WithRandSeed makes ids and join codes deterministic, primarily for tests.
func WithRandSeed(seed int64) ManagerOption {
	return func(m *Manager) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// NewManager constructs a manager dispatching backing matches via starter and
// announcing round progression on the events channel.
func NewManager(starter Starter, cfg game.Config, events chan<- *protocol.Event, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.L()
	}
	manager := &Manager{
		starter: starter,
		events:  events,
		logger:  logger,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		byID:    make(map[string]*Tournament),
		byCode:  make(map[string]*Tournament),
		byGame:  make(map[string]*Match),
		owners:  make(map[string]*Tournament),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

// Create registers a new waiting tournament. The owner still joins explicitly.
func (m *Manager) Create(ownerID string, maxPlayers int) (*Tournament, error) {
	//1.- Reject non-power-of-two sizes synchronously, before any allocation.
	if !ValidSize(maxPlayers) {
		return nil, fmt.Errorf("create tournament: %w", ErrInvalidSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Tournament{
		ID:          fmt.Sprintf("t-%08x", m.rng.Uint32()),
		JoinCode:    m.newJoinCode(),
		OwnerID:     ownerID,
		MaxPlayers:  maxPlayers,
		State:       StateWaiting,
		TotalRounds: TotalRounds(maxPlayers),
	}
	m.byID[t.ID] = t
	m.byCode[t.JoinCode] = t
	m.logger.Info("tournament created",
		logging.String("tournament", t.ID),
		logging.Int("max_players", maxPlayers))
	return t.snapshot(), nil
}

// Join adds a player by join code. Reaching capacity generates the bracket and
// moves the tournament to in-progress in the same critical section.
func (m *Manager) Join(code, playerID string) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byCode[code]
	if !ok {
		return nil, ErrUnknownTournament
	}
	if t.State != StateWaiting {
		return nil, ErrNotJoinable
	}
	for _, joined := range t.Players {
		if joined == playerID {
			return nil, ErrAlreadyJoined
		}
	}
	t.Players = append(t.Players, playerID)

	//1.- Capacity reached: bracket generation and the state flip are atomic so
	// no join can slip in between.
	if len(t.Players) == t.MaxPlayers {
		t.Rounds = GenerateBracket(t.ID, t.Players)
		t.State = StateInProgress
		t.CurrentRound = 1
		m.emitRound(t, nil)
		m.logger.Info("tournament started",
			logging.String("tournament", t.ID),
			logging.Int("rounds", t.TotalRounds))
	}
	return t.snapshot(), nil
}

// SetReady flags the player's pending current-round slot. Once both sides are
// ready the backing match is dispatched and linked via its game id.
func (m *Manager) SetReady(ctx context.Context, tournamentID, playerID string) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[tournamentID]
	if !ok {
		return nil, ErrUnknownTournament
	}
	slot := t.activeMatch(playerID)
	if slot == nil {
		return nil, ErrNotParticipant
	}
	switch playerID {
	case slot.Player1:
		slot.Ready1 = true
	case slot.Player2:
		slot.Ready2 = true
	}
	if !slot.bothReady() || slot.GameID != "" {
		return t.snapshot(), nil
	}

	//1.- Both ready: dispatch the backing match exactly once.
	if _, err := m.starter.CreateMatch(ctx, slot.ID, slot.Player1, m.cfg); err != nil {
		//2.- Leave readiness set so a retry after capacity frees up works.
		return nil, fmt.Errorf("dispatch bracket match %s: %w", slot.ID, err)
	}
	slot.GameID = slot.ID
	m.byGame[slot.GameID] = slot
	m.owners[slot.GameID] = t
	m.logger.Info("bracket match dispatched",
		logging.String("tournament", t.ID),
		logging.String("game", slot.GameID))
	return t.snapshot(), nil
}

// HandleMatchFinished feeds a backing-match result into its bracket. It is
// shaped to hang off the workers' finished hook; unknown game ids are ignored
// because most engine matches are not tournament-backed.
func (m *Manager) HandleMatchFinished(gameID, winnerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.byGame[gameID]
	if !ok {
		return
	}
	t := m.owners[gameID]
	delete(m.byGame, gameID)
	delete(m.owners, gameID)
	if slot.WinnerID != "" || !slot.contains(winnerID) {
		m.logger.Warn("discarding invalid bracket result",
			logging.String("game", gameID), logging.String("winner", winnerID))
		return
	}
	slot.WinnerID = winnerID

	//1.- Propagate the winner into the next round's slot.
	if slot.Round < t.TotalRounds {
		next := t.Rounds[slot.Round][slot.Index/2]
		if slot.Index%2 == 0 {
			next.Player1 = winnerID
		} else {
			next.Player2 = winnerID
		}
	} else {
		t.ChampionID = winnerID
		t.State = StateCompleted
		t.CurrentRound = t.TotalRounds
	}

	//2.- Advance the round counter once every slot in it has resolved.
	if t.State == StateInProgress && m.roundResolved(t, slot.Round) {
		t.CurrentRound = slot.Round + 1
	}
	m.emitRound(t, winners(t, slot.Round))
	m.logger.Info("bracket advanced",
		logging.String("tournament", t.ID),
		logging.Int("round", slot.Round),
		logging.String("winner", winnerID))
}

// Get returns a snapshot by tournament id.
func (m *Manager) Get(tournamentID string) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[tournamentID]
	if !ok {
		return nil, ErrUnknownTournament
	}
	return t.snapshot(), nil
}

// GetByCode returns a snapshot by join code.
func (m *Manager) GetByCode(code string) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byCode[code]
	if !ok {
		return nil, ErrUnknownTournament
	}
	return t.snapshot(), nil
}

func (m *Manager) roundResolved(t *Tournament, round int) bool {
	for _, slot := range t.Rounds[round-1] {
		if slot.WinnerID == "" {
			return false
		}
	}
	return true
}

func winners(t *Tournament, round int) []string {
	var out []string
	for _, slot := range t.Rounds[round-1] {
		if slot.WinnerID != "" {
			out = append(out, slot.WinnerID)
		}
	}
	return out
}

func (m *Manager) emitRound(t *Tournament, advanced []string) {
	if m.events == nil {
		return
	}
	event := &protocol.Event{Type: protocol.EventRound, Round: &protocol.RoundEvent{
		TournamentID: t.ID,
		Round:        t.CurrentRound,
		AdvancedIDs:  advanced,
		Participants: append([]string(nil), t.Players...),
	}}
	select {
	case m.events <- event:
	default:
		m.logger.Warn("event channel saturated, dropping round event",
			logging.String("tournament", t.ID))
	}
}

func (m *Manager) newJoinCode() string {
	for {
		code := make([]byte, 6)
		for i := range code {
			code[i] = joinCodeAlphabet[m.rng.Intn(len(joinCodeAlphabet))]
		}
		if _, taken := m.byCode[string(code)]; !taken {
			return string(code)
		}
	}
}
