// Package httpapi exposes the engine's REST surface: match and tournament
// management plus operational probes. Realtime traffic flows over the
// WebSocket relay; the input route here is a degraded-mode fallback only.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"paddlearena/engine/internal/dispatch"
	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/handshake"
	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/replay"
	"paddlearena/engine/internal/tournament"
	"paddlearena/engine/internal/worker"
)

// ReadinessProvider exposes relay state required for readiness checks.
type ReadinessProvider interface {
	SnapshotCounts() (clients, pendingTickets int)
	Uptime() time.Duration
}

// RateLimiter gates how frequently a keyed caller may invoke match creation.
type RateLimiter interface {
	Allow(key string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Dispatcher  *dispatch.Dispatcher
	Tournaments *tournament.Manager
	Tickets     *handshake.Registry
	Readiness   ReadinessProvider
	RateLimiter RateLimiter
	ReplayDir   string
	TimeSource  func() time.Time
}

// HandlerSet bundles the engine's HTTP handlers.
type HandlerSet struct {
	logger      *logging.Logger
	dispatcher  *dispatch.Dispatcher
	tournaments *tournament.Manager
	tickets     *handshake.Registry
	readiness   ReadinessProvider
	rateLimiter RateLimiter
	replayDir   string
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		dispatcher:  opts.Dispatcher,
		tournaments: opts.Tournaments,
		tickets:     opts.Tickets,
		readiness:   opts.Readiness,
		rateLimiter: opts.RateLimiter,
		replayDir:   opts.ReplayDir,
		now:         now,
	}
}

// Register attaches all routes to the provided router.
func (h *HandlerSet) Register(router *mux.Router) {
	if router == nil {
		return
	}
	router.HandleFunc("/livez", h.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.ReadinessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/statusz", h.StatusHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matches", h.CreateMatchHandler()).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/join", h.JoinMatchHandler()).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/control", h.ControlMatchHandler()).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/input", h.InputFallbackHandler()).Methods(http.MethodPost)
	api.HandleFunc("/tournaments", h.CreateTournamentHandler()).Methods(http.MethodPost)
	api.HandleFunc("/tournaments/join", h.JoinTournamentHandler()).Methods(http.MethodPost)
	api.HandleFunc("/tournaments/{id}/ready", h.ReadyTournamentHandler()).Methods(http.MethodPost)
	api.HandleFunc("/tournaments/{id}", h.TournamentStatusHandler()).Methods(http.MethodGet)
	api.HandleFunc("/replays", h.ReplayListHandler()).Methods(http.MethodGet)
	api.HandleFunc("/time", h.TimeHandler()).Methods(http.MethodGet)
}

// TimeHandler returns the server clock so clients can align scheduled start
// countdowns with the engine's notion of now.
func (h *HandlerSet) TimeHandler() http.HandlerFunc {
	type response struct {
		ServerTimeMs int64 `json:"server_time_ms"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{ServerTimeMs: h.now().UnixMilli()})
	}
}

// CreateMatchHandler dispatches a new match and returns the owner's ticket.
func (h *HandlerSet) CreateMatchHandler() http.HandlerFunc {
	type request struct {
		OwnerID string       `json:"owner_id"`
		Name    string       `json:"name"`
		Config  *game.Config `json:"config,omitempty"`
	}
	type response struct {
		MatchID  string `json:"match_id"`
		WorkerID string `json:"worker_id"`
		Ticket   string `json:"ticket"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		if req.OwnerID == "" {
			http.Error(w, "owner_id is required", http.StatusBadRequest)
			return
		}
		//1.- Match creation is the expensive path, so it alone is rate limited,
		// keyed on the owner so one client cannot exhaust the shared budget.
		if h.rateLimiter != nil && !h.rateLimiter.Allow(req.OwnerID) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		cfg := game.DefaultConfig()
		if req.Config != nil {
			cfg = *req.Config
		}
		matchID := newID("m")
		workerID, err := h.dispatcher.CreateMatch(r.Context(), matchID, req.OwnerID, cfg)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}

		//2.- The owner joins their own match immediately and gets a ticket.
		host, err := h.dispatcher.Registry().Lookup(matchID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		name := req.Name
		if name == "" {
			name = req.OwnerID
		}
		if err := sendAndWait(r.Context(), host, func(reply chan<- error) worker.Command {
			return worker.JoinMatch{MatchID: matchID, PlayerID: req.OwnerID, Name: name, Reply: reply}
		}); err != nil {
			h.writeDomainError(w, err)
			return
		}
		ticket, err := h.tickets.Mint(req.OwnerID, matchID)
		if err != nil {
			h.logger.Error("ticket mint failed", logging.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, response{MatchID: matchID, WorkerID: workerID, Ticket: ticket})
	}
}

// JoinMatchHandler admits a player to an existing match.
func (h *HandlerSet) JoinMatchHandler() http.HandlerFunc {
	type request struct {
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
	}
	type response struct {
		MatchID string `json:"match_id"`
		Ticket  string `json:"ticket"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := mux.Vars(r)["id"]
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		if req.PlayerID == "" {
			http.Error(w, "player_id is required", http.StatusBadRequest)
			return
		}
		host, err := h.dispatcher.Registry().Lookup(matchID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		name := req.Name
		if name == "" {
			name = req.PlayerID
		}
		if err := sendAndWait(r.Context(), host, func(reply chan<- error) worker.Command {
			return worker.JoinMatch{MatchID: matchID, PlayerID: req.PlayerID, Name: name, Reply: reply}
		}); err != nil {
			h.writeDomainError(w, err)
			return
		}
		ticket, err := h.tickets.Mint(req.PlayerID, matchID)
		if err != nil {
			h.logger.Error("ticket mint failed", logging.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, response{MatchID: matchID, Ticket: ticket})
	}
}

// ControlMatchHandler forwards lifecycle actions to the hosting worker.
func (h *HandlerSet) ControlMatchHandler() http.HandlerFunc {
	type request struct {
		PlayerID string              `json:"player_id"`
		Action   protocol.GameAction `json:"action"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := mux.Vars(r)["id"]
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		if !req.Action.Valid() {
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		host, err := h.dispatcher.Registry().Lookup(matchID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if err := sendAndWait(r.Context(), host, func(reply chan<- error) worker.Command {
			return worker.ControlMatch{MatchID: matchID, RequesterID: req.PlayerID, Action: req.Action, Reply: reply}
		}); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// InputFallbackHandler accepts input frames over HTTP for clients without a
// live socket. Delivery is fire-and-forget, mirroring the relay path.
func (h *HandlerSet) InputFallbackHandler() http.HandlerFunc {
	type request struct {
		PlayerID string         `json:"player_id"`
		Frame    float64        `json:"frame"`
		Intents  []input.Intent `json:"intents"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := mux.Vars(r)["id"]
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		host, err := h.dispatcher.Registry().Lookup(matchID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		host.Send(worker.SubmitInput{MatchID: matchID, PlayerID: req.PlayerID, Frame: req.Frame, Intents: req.Intents})
		w.WriteHeader(http.StatusAccepted)
	}
}

// CreateTournamentHandler registers a new bracket.
func (h *HandlerSet) CreateTournamentHandler() http.HandlerFunc {
	type request struct {
		OwnerID    string `json:"owner_id"`
		MaxPlayers int    `json:"max_players"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		snapshot, err := h.tournaments.Create(req.OwnerID, req.MaxPlayers)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)
	}
}

// JoinTournamentHandler admits a player by join code.
func (h *HandlerSet) JoinTournamentHandler() http.HandlerFunc {
	type request struct {
		Code     string `json:"code"`
		PlayerID string `json:"player_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		snapshot, err := h.tournaments.Join(req.Code, req.PlayerID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// ReadyTournamentHandler flags bracket readiness for the player.
func (h *HandlerSet) ReadyTournamentHandler() http.HandlerFunc {
	type request struct {
		PlayerID string `json:"player_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tournamentID := mux.Vars(r)["id"]
		var req request
		if !h.decode(w, r, &req) {
			return
		}
		snapshot, err := h.tournaments.SetReady(r.Context(), tournamentID, req.PlayerID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// TournamentStatusHandler returns the bracket snapshot.
func (h *HandlerSet) TournamentStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := h.tournaments.Get(mux.Vars(r)["id"])
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// ReplayListHandler lists persisted replay bundles, newest first.
func (h *HandlerSet) ReplayListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.replayDir == "" {
			writeJSON(w, http.StatusOK, []replay.Manifest{})
			return
		}
		manifests, err := replay.List(h.replayDir)
		if err != nil {
			h.logger.Warn("replay listing failed", logging.Error(err))
			http.Error(w, "replay listing unavailable", http.StatusServiceUnavailable)
			return
		}
		if manifests == nil {
			manifests = []replay.Manifest{}
		}
		writeJSON(w, http.StatusOK, manifests)
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports relay readiness and connection counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingTickets int     `json:"pending_tickets"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Clients, resp.PendingTickets = h.readiness.SnapshotCounts()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// StatusHandler reports per-worker load for operators.
func (h *HandlerSet) StatusHandler() http.HandlerFunc {
	type response struct {
		Workers []worker.LoadStatus `json:"workers"`
		Matches int                 `json:"matches"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		loads := h.dispatcher.Loads(ctx)
		resp := response{Workers: loads, Matches: h.dispatcher.Registry().Len()}
		if resp.Workers == nil {
			resp.Workers = []worker.LoadStatus{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *HandlerSet) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps engine sentinels onto HTTP status codes.
func (h *HandlerSet) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrCapacityExhausted), errors.Is(err, worker.ErrWorkerFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrMatchNotFound),
		errors.Is(err, worker.ErrUnknownMatch),
		errors.Is(err, tournament.ErrUnknownTournament),
		errors.Is(err, game.ErrUnknownPlayer):
		status = http.StatusNotFound
	case errors.Is(err, worker.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, game.ErrMatchFull),
		errors.Is(err, game.ErrDuplicatePlayer),
		errors.Is(err, game.ErrBadTransition),
		errors.Is(err, game.ErrMatchStarted),
		errors.Is(err, game.ErrNotEnoughPlayers),
		errors.Is(err, tournament.ErrNotJoinable),
		errors.Is(err, tournament.ErrAlreadyJoined),
		errors.Is(err, tournament.ErrNotParticipant):
		status = http.StatusConflict
	case errors.Is(err, tournament.ErrInvalidSize):
		status = http.StatusBadRequest
	case errors.Is(err, worker.ErrWorkerStopped):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

// sendAndWait performs a synchronous command round-trip against a worker.
func sendAndWait(ctx context.Context, host *worker.Worker, build func(reply chan<- error) worker.Command) error {
	reply := make(chan error, 1)
	if !host.Send(build(reply)) {
		return worker.ErrWorkerStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

func newID(prefix string) string {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return prefix + "-" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return prefix + "-" + hex.EncodeToString(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
