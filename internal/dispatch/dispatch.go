// Package dispatch places new matches on the least loaded worker. Load is a
// weighted blend of hosted matches and connected players so a worker running
// many idle lobbies does not shadow one running a few full games.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/worker"
)

// ErrCapacityExhausted reports that no worker can host another match.
var ErrCapacityExhausted = errors.New("every server is full")

// ErrMatchNotFound reports that no worker currently hosts the match.
var ErrMatchNotFound = errors.New("match not found")

// Weights tunes the load score blend.
type Weights struct {
	Match  int
	Player int
}

// DefaultWeights mirrors the engine defaults.
func DefaultWeights() Weights { return Weights{Match: 1, Player: 2} }

// Score folds a worker's load snapshot into a single comparable number.
func (w Weights) Score(status worker.LoadStatus) int {
	return status.ActiveMatches*w.Match + status.Players*w.Player
}

// Pool is the minimal worker surface the dispatcher needs.
type Pool interface {
	Workers() []*worker.Worker
}

// StaticPool is a fixed worker set satisfying Pool.
type StaticPool []*worker.Worker

// Workers returns the pool members in registration order.
func (p StaticPool) Workers() []*worker.Worker { return p }

// Registry maps live matches to their hosting worker so transports can route
// commands without consulting every worker.
type Registry struct {
	mu      sync.RWMutex
	byMatch map[string]*worker.Worker
}

// NewRegistry constructs an empty routing table.
func NewRegistry() *Registry {
	return &Registry{byMatch: make(map[string]*worker.Worker)}
}

// Register records the hosting worker for a match.
func (r *Registry) Register(matchID string, host *worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMatch[matchID] = host
}

// Lookup resolves the worker hosting a match.
func (r *Registry) Lookup(matchID string) (*worker.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.byMatch[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return host, nil
}

// Forget removes a finished or aborted match from the table.
func (r *Registry) Forget(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byMatch, matchID)
}

// Len reports the number of routed matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMatch)
}

// Dispatcher assigns matches across a fixed set of workers.
type Dispatcher struct {
	pool     Pool
	weights  Weights
	registry *Registry
	logger   *logging.Logger
}

// New constructs a dispatcher over the given pool. Placed matches are recorded
// in the registry for later routing.
func New(pool Pool, weights Weights, registry *Registry, logger *logging.Logger) *Dispatcher {
	if weights.Match <= 0 && weights.Player <= 0 {
		weights = DefaultWeights()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Dispatcher{pool: pool, weights: weights, registry: registry, logger: logger}
}

// Registry exposes the routing table shared with transports.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Pick returns the worker with the lowest weighted load that still has room.
// Ties keep the first worker encountered so repeated picks stay stable.
func (d *Dispatcher) Pick(ctx context.Context) (*worker.Worker, error) {
	var chosen *worker.Worker
	best := 0
	for _, candidate := range d.pool.Workers() {
		//1.- Poll each worker for a live load snapshot.
		status, err := candidate.QueryLoad(ctx)
		if err != nil {
			d.logger.Warn("worker load query failed",
				logging.String("worker", candidate.ID()), logging.Error(err))
			continue
		}
		//2.- Full workers never receive new matches regardless of score.
		if !status.HasRoom() {
			continue
		}
		score := d.weights.Score(status)
		if chosen == nil || score < best {
			chosen = candidate
			best = score
		}
	}
	if chosen == nil {
		return nil, ErrCapacityExhausted
	}
	return chosen, nil
}

// Loads returns a live load snapshot for every reachable worker.
func (d *Dispatcher) Loads(ctx context.Context) []worker.LoadStatus {
	var loads []worker.LoadStatus
	for _, candidate := range d.pool.Workers() {
		status, err := candidate.QueryLoad(ctx)
		if err != nil {
			continue
		}
		loads = append(loads, status)
	}
	return loads
}

// CreateMatch places a new match on the least loaded worker and returns the
// hosting worker's id.
func (d *Dispatcher) CreateMatch(ctx context.Context, matchID, ownerID string, cfg game.Config) (string, error) {
	target, err := d.Pick(ctx)
	if err != nil {
		return "", err
	}
	reply := make(chan error, 1)
	if !target.Send(worker.CreateMatch{MatchID: matchID, OwnerID: ownerID, Config: cfg, Reply: reply}) {
		return "", worker.ErrWorkerStopped
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-reply:
		if err != nil {
			return "", fmt.Errorf("create match on %s: %w", target.ID(), err)
		}
	}
	d.registry.Register(matchID, target)
	d.logger.Info("match dispatched",
		logging.String("match", matchID), logging.String("worker", target.ID()))
	return target.ID(), nil
}
