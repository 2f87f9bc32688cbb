package handshake

import (
	"errors"
	"testing"
	"time"

	"paddlearena/engine/internal/logging"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	registry := NewRegistry(logging.NewTestLogger(), WithClock(clock.Now))
	return registry, clock
}

func TestTicketRoundTrip(t *testing.T) {
	registry, _ := newTestRegistry(t)

	token, err := registry.Mint("alice", "m1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(token) != tokenBytes*2 {
		t.Fatalf("unexpected token length %d", len(token))
	}

	claims, err := registry.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.PlayerID != "alice" || claims.MatchID != "m1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTicketIsSingleUse(t *testing.T) {
	registry, _ := newTestRegistry(t)
	token, err := registry.Mint("alice", "m1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := registry.Validate(token); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if _, err := registry.Validate(token); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("expected ErrTicketInvalid on replay, got %v", err)
	}
}

func TestTicketExpiryFailsClosed(t *testing.T) {
	registry, clock := newTestRegistry(t)
	token, err := registry.Mint("alice", "m1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	clock.Advance(DefaultTTL + time.Second)
	if _, err := registry.Validate(token); !errors.Is(err, ErrTicketExpired) {
		t.Fatalf("expected ErrTicketExpired, got %v", err)
	}
	//1.- The expired token burned on redemption.
	if _, err := registry.Validate(token); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("expected ErrTicketInvalid after burn, got %v", err)
	}
}

func TestUnknownTicketRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)
	if _, err := registry.Validate("deadbeef"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("expected ErrTicketInvalid, got %v", err)
	}
}

func TestSweepPurgesOnlyExpired(t *testing.T) {
	registry, clock := newTestRegistry(t)
	stale, err := registry.Mint("alice", "m1")
	if err != nil {
		t.Fatalf("mint stale: %v", err)
	}
	clock.Advance(DefaultTTL + time.Second)
	fresh, err := registry.Mint("bob", "m1")
	if err != nil {
		t.Fatalf("mint fresh: %v", err)
	}

	if removed := registry.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected 1 outstanding ticket, got %d", registry.Len())
	}
	if _, err := registry.Validate(stale); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("swept ticket should be invalid, got %v", err)
	}
	if _, err := registry.Validate(fresh); err != nil {
		t.Fatalf("fresh ticket should validate, got %v", err)
	}
}

func TestCustomTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	registry := NewRegistry(logging.NewTestLogger(), WithClock(clock.Now), WithTTL(10*time.Second))
	token, err := registry.Mint("alice", "m1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	clock.Advance(11 * time.Second)
	if _, err := registry.Validate(token); !errors.Is(err, ErrTicketExpired) {
		t.Fatalf("expected ErrTicketExpired under custom TTL, got %v", err)
	}
}
