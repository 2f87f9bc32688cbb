package input

import (
	"math"
	"testing"
)

func TestBufferPopConsumesExactlyOnce(t *testing.T) {
	buffer := NewBuffer(0)
	buffer.Append(10, Intent{Key: KeyUp, Pressed: true})
	buffer.Append(10, Intent{Key: KeyUp, Pressed: false})

	intents := buffer.PopFrame(10)
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if buffer.PopFrame(10) != nil {
		t.Fatal("second pop must return nothing")
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d frames", buffer.Len())
	}
}

func TestBufferEvictsOldestPastRetention(t *testing.T) {
	buffer := NewBuffer(3)
	for frame := uint64(1); frame <= 5; frame++ {
		buffer.Append(frame, Intent{Key: KeyDown, Pressed: true})
	}

	if buffer.Len() != 3 {
		t.Fatalf("expected retention cap of 3, got %d", buffer.Len())
	}
	if buffer.PopFrame(1) != nil || buffer.PopFrame(2) != nil {
		t.Fatal("oldest frames should have been evicted")
	}
	frames := buffer.Frames()
	if len(frames) != 3 || frames[0] != 3 || frames[2] != 5 {
		t.Fatalf("unexpected surviving frames: %v", frames)
	}
}

func TestBufferPopMissingFrame(t *testing.T) {
	buffer := NewBuffer(0)
	buffer.Append(7, Intent{Key: KeyUp, Pressed: true})

	if buffer.PopFrame(6) != nil {
		t.Fatal("expected nil for a frame with no entries")
	}
	if buffer.Len() != 1 {
		t.Fatalf("missing-frame pop must not disturb stored frames, got %d", buffer.Len())
	}
}

func TestGateRejectsNonFiniteFrames(t *testing.T) {
	gate := NewGate(300, nil)

	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -4} {
		decision := gate.Evaluate("p1", raw, 5, []Intent{{Key: KeyUp, Pressed: true}})
		if decision.Accepted {
			t.Fatalf("frame %v must be rejected", raw)
		}
		if decision.Reason != DropReasonBadFrame {
			t.Fatalf("frame %v: unexpected reason %q", raw, decision.Reason)
		}
	}
}

func TestGateRejectsStaleAndFarFrames(t *testing.T) {
	gate := NewGate(10, nil)
	intents := []Intent{{Key: KeyDown, Pressed: true}}

	if d := gate.Evaluate("p1", 5, 5, intents); d.Reason != DropReasonStale {
		t.Fatalf("expected stale drop, got %q", d.Reason)
	}
	if d := gate.Evaluate("p1", 16, 5, intents); d.Reason != DropReasonTooFar {
		t.Fatalf("expected too-far drop, got %q", d.Reason)
	}
	if d := gate.Evaluate("p1", 15, 5, intents); !d.Accepted {
		t.Fatalf("frame at window edge must pass, got %q", d.Reason)
	}
}

func TestGateRejectsUnknownKeysAndCounts(t *testing.T) {
	metrics := NewMetrics()
	gate := NewGate(300, metrics)

	decision := gate.Evaluate("p2", 10, 5, []Intent{{Key: Key("left"), Pressed: true}})
	if decision.Accepted || decision.Reason != DropReasonUnknownKey {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	counters := gate.Metrics()["p2"]
	if counters.UnknownKey != 1 {
		t.Fatalf("expected one unknown-key drop, got %+v", counters)
	}

	metrics.Forget("p2")
	if gate.Metrics() != nil {
		t.Fatal("expected empty metrics after forget")
	}
}
