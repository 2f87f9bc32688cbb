// Package protocol defines the typed messages exchanged between the dispatcher,
// worker units, and the WebSocket relay. Each direction carries a closed union:
// inbound client frames and outbound match events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"paddlearena/engine/internal/geom"
	"paddlearena/engine/internal/input"
)

// Lifecycle enumerates the match lifecycle states.
type Lifecycle string

const (
	LifecycleWaiting Lifecycle = "waiting"
	LifecyclePlaying Lifecycle = "playing"
	LifecyclePaused  Lifecycle = "paused"
	LifecycleStopped Lifecycle = "stopped"
)

// GameAction enumerates the owner-gated match control verbs.
type GameAction string

const (
	ActionStart  GameAction = "start"
	ActionPause  GameAction = "pause"
	ActionResume GameAction = "resume"
	ActionAbort  GameAction = "abort"
)

// Valid reports whether the action names a known control verb.
func (a GameAction) Valid() bool {
	switch a {
	case ActionStart, ActionPause, ActionResume, ActionAbort:
		return true
	}
	return false
}

// Side identifies which half of the field a paddle defends.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// EventType tags outbound match events.
type EventType string

const (
	EventState    EventType = "state"
	EventStart    EventType = "start"
	EventFinished EventType = "finished"
	EventAbort    EventType = "abort"
	EventRound    EventType = "round"
)

// ErrUnknownEvent signals an envelope whose type tag is outside the closed union.
var ErrUnknownEvent = errors.New("unknown event type")

// BallState mirrors the ball kinematics inside a state broadcast.
type BallState struct {
	Position geom.Vec2 `json:"position"`
	Velocity geom.Vec2 `json:"velocity"`
	Radius   float64   `json:"radius"`
}

// PaddleState mirrors one paddle inside a state broadcast.
type PaddleState struct {
	PlayerID string  `json:"player_id"`
	Side     Side    `json:"side"`
	Y        float64 `json:"y"`
	VY       float64 `json:"vy"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// StateEvent is the periodic authoritative snapshot pushed to match clients.
type StateEvent struct {
	MatchID   string         `json:"match_id"`
	Frame     uint64         `json:"frame"`
	Ball      BallState      `json:"ball"`
	Paddles   []PaddleState  `json:"paddles"`
	Scores    map[string]int `json:"scores"`
	Lifecycle Lifecycle      `json:"lifecycle"`
}

// StartEvent announces the scheduled match start so clients can count down in sync.
type StartEvent struct {
	MatchID   string          `json:"match_id"`
	Sides     map[string]Side `json:"sides"`
	StartAtMs int64           `json:"start_at_ms"`
}

// FinishedEvent reports the final score when a match completes.
type FinishedEvent struct {
	MatchID  string         `json:"match_id"`
	WinnerID string         `json:"winner_id,omitempty"`
	Scores   map[string]int `json:"scores"`
}

// AbortEvent notifies clients that the match was cancelled.
type AbortEvent struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason,omitempty"`
}

// RoundEvent announces tournament round progression. Participants is the
// relay's routing key: only those players' sockets receive the event.
type RoundEvent struct {
	TournamentID string   `json:"tournament_id"`
	Round        int      `json:"round"`
	AdvancedIDs  []string `json:"advanced_ids"`
	Participants []string `json:"participants,omitempty"`
}

// Event is the outbound envelope produced by workers and consumed by the relay.
// Exactly one payload pointer is set, matching the Type tag.
type Event struct {
	Type     EventType      `json:"type"`
	State    *StateEvent    `json:"state,omitempty"`
	Start    *StartEvent    `json:"start,omitempty"`
	Finished *FinishedEvent `json:"finished,omitempty"`
	Abort    *AbortEvent    `json:"abort,omitempty"`
	Round    *RoundEvent    `json:"round,omitempty"`
}

// MatchID extracts the routing key from whichever payload is populated.
func (e *Event) MatchID() string {
	if e == nil {
		return ""
	}
	switch e.Type {
	case EventState:
		if e.State != nil {
			return e.State.MatchID
		}
	case EventStart:
		if e.Start != nil {
			return e.Start.MatchID
		}
	case EventFinished:
		if e.Finished != nil {
			return e.Finished.MatchID
		}
	case EventAbort:
		if e.Abort != nil {
			return e.Abort.MatchID
		}
	}
	return ""
}

// Encode marshals the event envelope for transport delivery.
func (e *Event) Encode() ([]byte, error) {
	if e == nil {
		return nil, errors.New("nil event")
	}
	return json.Marshal(e)
}

// ClientFrameType tags inbound frames received over an attached socket.
type ClientFrameType string

const (
	FrameInput   ClientFrameType = "input"
	FrameControl ClientFrameType = "control"
)

// InputFrame carries frame-scheduled intents from a client.
//
// The frame id arrives as a float64 so the input gate can reject non-finite
// values before integer conversion.
type InputFrame struct {
	Frame   float64        `json:"frame"`
	Intents []input.Intent `json:"intents"`
}

// ControlFrame carries an owner-gated lifecycle action from a client.
type ControlFrame struct {
	Action GameAction `json:"action"`
}

// ClientFrame is the inbound envelope decoded from an attached socket.
type ClientFrame struct {
	Type    ClientFrameType `json:"type"`
	Input   *InputFrame     `json:"input,omitempty"`
	Control *ControlFrame   `json:"control,omitempty"`
}

// DecodeClientFrame parses and validates an inbound envelope.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode client frame: %w", err)
	}
	switch frame.Type {
	case FrameInput:
		if frame.Input == nil {
			return nil, fmt.Errorf("%w: input frame missing payload", ErrUnknownEvent)
		}
	case FrameControl:
		if frame.Control == nil {
			return nil, fmt.Errorf("%w: control frame missing payload", ErrUnknownEvent)
		}
		if !frame.Control.Action.Valid() {
			return nil, fmt.Errorf("%w: action %q", ErrUnknownEvent, frame.Control.Action)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Type)
	}
	return &frame, nil
}
