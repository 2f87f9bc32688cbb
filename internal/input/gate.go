package input

import (
	"sync"

	"paddlearena/engine/internal/geom"
)

// DropReason enumerates why an inbound intent batch was rejected by the gate.
type DropReason string

const (
	DropReasonNone       DropReason = ""
	DropReasonUnknownKey DropReason = "unknown_key"
	DropReasonBadFrame   DropReason = "bad_frame"
	DropReasonStale      DropReason = "stale"
	DropReasonTooFar     DropReason = "too_far_ahead"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether an intent batch passed validation.
type Decision struct {
	Accepted bool
	Reason   DropReason
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	UnknownKey uint64 `json:"unknown_key"`
	BadFrame   uint64 `json:"bad_frame"`
	Stale      uint64 `json:"stale"`
	TooFar     uint64 `json:"too_far_ahead"`
}

// Metrics stores per-player drop counters for diagnostics.
type Metrics struct {
	mu    sync.RWMutex
	drops map[string]DropCounters
}

// NewMetrics provisions an empty metrics container.
func NewMetrics() *Metrics {
	return &Metrics{drops: make(map[string]DropCounters)}
}

func (m *Metrics) observe(playerID string, reason DropReason) {
	if m == nil || playerID == "" || reason == DropReasonNone {
		return
	}
	//1.- Lock while mutating the counters so concurrent updates stay consistent.
	m.mu.Lock()
	current := m.drops[playerID]
	switch reason {
	case DropReasonUnknownKey:
		current.UnknownKey++
	case DropReasonBadFrame:
		current.BadFrame++
	case DropReasonStale:
		current.Stale++
	case DropReasonTooFar:
		current.TooFar++
	}
	m.drops[playerID] = current
	m.mu.Unlock()
}

// Snapshot returns a deep copy of the counters for external consumption.
func (m *Metrics) Snapshot() map[string]DropCounters {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(m.drops))
	for playerID, counters := range m.drops {
		clone[playerID] = counters
	}
	return clone
}

// Forget removes a player's counters when the connection closes.
func (m *Metrics) Forget(playerID string) {
	if m == nil || playerID == "" {
		return
	}
	m.mu.Lock()
	delete(m.drops, playerID)
	m.mu.Unlock()
}

// Gate validates inbound intent batches before they reach a player's buffer.
//
// The upstream transport decodes frame ids into float64 before conversion, so
// the gate rejects non-finite values alongside unknown keys, frames the
// simulation has already consumed, and frames implausibly far ahead.
type Gate struct {
	maxAhead uint64
	metrics  *Metrics
}

// NewGate constructs a gate bounding how far ahead of the simulation a frame may target.
func NewGate(maxAhead int, metrics *Metrics) *Gate {
	if maxAhead <= 0 {
		maxAhead = DefaultRetention
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Gate{maxAhead: uint64(maxAhead), metrics: metrics}
}

// Evaluate applies key, finiteness, and window guards to the intent batch.
func (g *Gate) Evaluate(playerID string, rawFrame float64, currentFrame uint64, intents []Intent) Decision {
	if g == nil {
		return Decision{Accepted: true}
	}
	//1.- Reject non-finite or non-positive frame ids before any conversion.
	if !geom.IsFinite(rawFrame) || rawFrame < 1 {
		g.metrics.observe(playerID, DropReasonBadFrame)
		return Decision{Reason: DropReasonBadFrame}
	}
	frame := uint64(rawFrame)
	//2.- Drop frames the simulation has already consumed; they can never apply.
	if frame <= currentFrame {
		g.metrics.observe(playerID, DropReasonStale)
		return Decision{Reason: DropReasonStale}
	}
	//3.- Bound how far ahead a client may schedule input to cap buffer growth.
	if frame > currentFrame+g.maxAhead {
		g.metrics.observe(playerID, DropReasonTooFar)
		return Decision{Reason: DropReasonTooFar}
	}
	//4.- Require every intent to name a known control channel.
	for _, intent := range intents {
		if !intent.Key.Valid() {
			g.metrics.observe(playerID, DropReasonUnknownKey)
			return Decision{Reason: DropReasonUnknownKey}
		}
	}
	return Decision{Accepted: true}
}

// Forget discards the drop counters held for a departed player.
func (g *Gate) Forget(playerID string) {
	if g == nil {
		return
	}
	g.metrics.Forget(playerID)
}

// Metrics returns a snapshot of the latest drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	return g.metrics.Snapshot()
}
