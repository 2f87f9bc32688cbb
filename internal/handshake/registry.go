// Package handshake issues single-use connection tickets. The HTTP API mints a
// ticket when a player is admitted to a match; the WebSocket relay redeems it
// exactly once before attaching the socket. Expired or replayed tickets fail
// closed.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"paddlearena/engine/internal/logging"
)

const (
	// DefaultTTL bounds how long a minted ticket stays redeemable.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval paces the background purge of expired tickets.
	DefaultSweepInterval = time.Minute

	tokenBytes = 16
)

var (
	// ErrTicketInvalid reports an unknown or already-redeemed ticket.
	ErrTicketInvalid = errors.New("ticket invalid")
	// ErrTicketExpired reports a ticket past its TTL.
	ErrTicketExpired = errors.New("ticket expired")
)

// Claims is the identity a redeemed ticket vouches for.
type Claims struct {
	PlayerID string
	MatchID  string
}

type pending struct {
	claims    Claims
	expiresAt time.Time
}

// Registry holds pending connection tickets.
type Registry struct {
	mu      sync.Mutex
	tickets map[string]pending

	ttl    time.Duration
	sweep  time.Duration
	clock  func() time.Time
	logger *logging.Logger
}

// Option customises registry construction.
type Option func(*Registry)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithTTL overrides the ticket lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSweepInterval overrides the purge cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.sweep = interval
		}
	}
}

// NewRegistry constructs an empty ticket registry.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.L()
	}
	registry := &Registry{
		tickets: make(map[string]pending),
		ttl:     DefaultTTL,
		sweep:   DefaultSweepInterval,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Mint issues a fresh single-use ticket for the player and match pair.
func (r *Registry) Mint(playerID, matchID string) (string, error) {
	//1.- Tokens come from the system CSPRNG; they are bearer credentials.
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[token] = pending{
		claims:    Claims{PlayerID: playerID, MatchID: matchID},
		expiresAt: r.clock().Add(r.ttl),
	}
	return token, nil
}

// Validate redeems a ticket. Redemption removes it, so a second attempt with
// the same token fails regardless of expiry.
func (r *Registry) Validate(token string) (Claims, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tickets[token]
	if !ok {
		return Claims{}, ErrTicketInvalid
	}
	//1.- Delete before the expiry check so even an expired token burns.
	delete(r.tickets, token)
	if r.clock().After(entry.expiresAt) {
		return Claims{}, ErrTicketExpired
	}
	return entry.claims, nil
}

// Len reports the number of outstanding tickets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

// Sweep drops every expired ticket and reports how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	removed := 0
	for token, entry := range r.tickets {
		if now.After(entry.expiresAt) {
			delete(r.tickets, token)
			removed++
		}
	}
	return removed
}

// Run sweeps expired tickets on the configured cadence until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Debug("expired tickets purged", logging.Int("count", removed))
			}
		}
	}
}
