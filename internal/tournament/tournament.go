// Package tournament implements single-elimination brackets over the match
// engine. The package owns bracket bookkeeping only; backing matches run on
// workers and report back through the manager's finished hook.
package tournament

import (
	"errors"
	"fmt"
	"math/bits"
)

// Tournament lifecycle states.
type State string

const (
	StateWaiting    State = "waiting"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
)

var (
	// ErrInvalidSize rejects player counts that are not a power of two.
	ErrInvalidSize = errors.New("max players must be a power of two of at least 2")
	// ErrUnknownTournament reports a lookup miss by id or join code.
	ErrUnknownTournament = errors.New("unknown tournament")
	// ErrNotJoinable reports a join against a started or completed bracket.
	ErrNotJoinable = errors.New("tournament no longer accepts players")
	// ErrAlreadyJoined rejects duplicate entries.
	ErrAlreadyJoined = errors.New("player already joined")
	// ErrNotParticipant reports readiness from a player outside the bracket slot.
	ErrNotParticipant = errors.New("player has no pending bracket match")
)

// Match is one bracket slot. Player slots are empty until earlier rounds
// resolve; GameID links the backing engine match once both players are ready.
type Match struct {
	ID       string `json:"id"`
	Round    int    `json:"round"`
	Index    int    `json:"index"`
	Player1  string `json:"player1,omitempty"`
	Player2  string `json:"player2,omitempty"`
	Ready1   bool   `json:"ready1"`
	Ready2   bool   `json:"ready2"`
	WinnerID string `json:"winner_id,omitempty"`
	GameID   string `json:"game_id,omitempty"`
}

func (m *Match) bothReady() bool { return m.Ready1 && m.Ready2 }

func (m *Match) hasBothPlayers() bool { return m.Player1 != "" && m.Player2 != "" }

func (m *Match) contains(playerID string) bool {
	return playerID != "" && (m.Player1 == playerID || m.Player2 == playerID)
}

// Tournament is the full bracket state.
type Tournament struct {
	ID           string     `json:"id"`
	JoinCode     string     `json:"join_code"`
	OwnerID      string     `json:"owner_id"`
	MaxPlayers   int        `json:"max_players"`
	Players      []string   `json:"players"`
	State        State      `json:"state"`
	CurrentRound int        `json:"current_round"`
	TotalRounds  int        `json:"total_rounds"`
	Rounds       [][]*Match `json:"rounds,omitempty"`
	ChampionID   string     `json:"champion_id,omitempty"`
}

// ValidSize reports whether count is an acceptable bracket size.
func ValidSize(count int) bool {
	return count >= 2 && bits.OnesCount(uint(count)) == 1
}

// TotalRounds returns log2 of a valid bracket size.
func TotalRounds(count int) int {
	return bits.TrailingZeros(uint(count))
}

// GenerateBracket builds the full round structure for the joined player list.
// It is a pure function of the joined order: round one pairs adjacent entries,
// later rounds start empty and fill as winners propagate.
func GenerateBracket(tournamentID string, players []string) [][]*Match {
	total := TotalRounds(len(players))
	rounds := make([][]*Match, total)
	for round := 1; round <= total; round++ {
		size := len(players) >> uint(round)
		slots := make([]*Match, size)
		for index := 0; index < size; index++ {
			slot := &Match{
				ID:    fmt.Sprintf("%s-r%d-m%d", tournamentID, round, index+1),
				Round: round,
				Index: index,
			}
			//1.- Only round one is seeded directly from the joined order.
			if round == 1 {
				slot.Player1 = players[index*2]
				slot.Player2 = players[index*2+1]
			}
			slots[index] = slot
		}
		rounds[round-1] = slots
	}
	return rounds
}

// activeMatch finds the pending current-round slot containing the player.
func (t *Tournament) activeMatch(playerID string) *Match {
	if t.CurrentRound < 1 || t.CurrentRound > t.TotalRounds {
		return nil
	}
	for _, slot := range t.Rounds[t.CurrentRound-1] {
		if slot.WinnerID == "" && slot.contains(playerID) {
			return slot
		}
	}
	return nil
}

// snapshot deep-copies the tournament for callers outside the manager lock.
func (t *Tournament) snapshot() *Tournament {
	clone := *t
	clone.Players = append([]string(nil), t.Players...)
	clone.Rounds = make([][]*Match, len(t.Rounds))
	for i, round := range t.Rounds {
		clone.Rounds[i] = make([]*Match, len(round))
		for j, slot := range round {
			copied := *slot
			clone.Rounds[i][j] = &copied
		}
	}
	return &clone
}
