package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paddlearena/engine/internal/dispatch"
	"paddlearena/engine/internal/handshake"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/worker"
)

const sendBufferSize = 256

// Client is one attached WebSocket connection bound to a single match.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	playerID string
	matchID  string
}

// Relay bridges WebSocket clients and the worker pool: inbound frames become
// worker commands, outbound worker events fan out to the match's sockets.
type Relay struct {
	logger       *logging.Logger
	tickets      *handshake.Registry
	registry     *dispatch.Registry
	events       <-chan *protocol.Event
	upgrader     websocket.Upgrader
	maxPayload   int64
	pingInterval time.Duration
	started      time.Time

	mu      sync.Mutex
	byMatch map[string]map[*Client]bool
	clients int
}

// RelayOptions configures relay construction.
type RelayOptions struct {
	Logger         *logging.Logger
	Tickets        *handshake.Registry
	Registry       *dispatch.Registry
	Events         <-chan *protocol.Event
	AllowedOrigins []string
	MaxPayload     int64
	PingInterval   time.Duration
}

// NewRelay constructs a relay consuming worker events from opts.Events.
func NewRelay(opts RelayOptions) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	relay := &Relay{
		logger:       logger,
		tickets:      opts.Tickets,
		registry:     opts.Registry,
		events:       opts.Events,
		maxPayload:   opts.MaxPayload,
		pingInterval: pingInterval,
		started:      time.Now(),
		byMatch:      make(map[string]map[*Client]bool),
	}
	relay.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(opts.AllowedOrigins),
	}
	return relay
}

// originChecker admits every origin when none are configured, otherwise only
// exact matches from the allow list.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := strings.TrimRight(r.Header.Get("Origin"), "/")
		if origin == "" {
			return true
		}
		return set[origin]
	}
}

// SnapshotCounts reports attached clients and outstanding tickets.
func (rl *Relay) SnapshotCounts() (clients, pendingTickets int) {
	rl.mu.Lock()
	clients = rl.clients
	rl.mu.Unlock()
	if rl.tickets != nil {
		pendingTickets = rl.tickets.Len()
	}
	return clients, pendingTickets
}

// Uptime reports how long the relay has been serving.
func (rl *Relay) Uptime() time.Duration {
	return time.Since(rl.started)
}

// ServeWS upgrades a ticketed request and attaches the socket to its match.
func (rl *Relay) ServeWS(w http.ResponseWriter, r *http.Request) {
	//1.- Redeem the single-use ticket before any upgrade work happens.
	token := strings.TrimSpace(r.URL.Query().Get("ticket"))
	if token == "" {
		http.Error(w, "ticket required", http.StatusUnauthorized)
		return
	}
	claims, err := rl.tickets.Validate(token)
	if err != nil {
		rl.logger.Warn("ticket rejected", logging.Error(err))
		http.Error(w, "ticket rejected", http.StatusUnauthorized)
		return
	}

	//2.- The match must still be live; tickets can outlast short matches.
	host, err := rl.registry.Lookup(claims.MatchID)
	if err != nil {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	if rl.maxPayload > 0 {
		conn.SetReadLimit(rl.maxPayload)
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		playerID: claims.PlayerID,
		matchID:  claims.MatchID,
	}
	rl.attach(client)
	rl.logger.Info("client attached",
		logging.String("player", client.playerID),
		logging.String("match", client.matchID))

	go rl.readPump(client, host)
	go rl.writePump(client)
}

// readPump decodes inbound frames and forwards them to the hosting worker.
// Malformed frames are dropped; they never tear down the connection.
func (rl *Relay) readPump(client *Client, host *worker.Worker) {
	defer func() {
		rl.detach(client)
		client.conn.Close()
		//1.- Tell the worker the player is gone so empty matches abort.
		host.Send(worker.LeaveMatch{MatchID: client.matchID, PlayerID: client.playerID})
		rl.logger.Info("client detached",
			logging.String("player", client.playerID),
			logging.String("match", client.matchID))
	}()
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			rl.logger.Debug("dropping malformed frame",
				logging.String("player", client.playerID), logging.Error(err))
			continue
		}
		switch frame.Type {
		case protocol.FrameInput:
			host.Send(worker.SubmitInput{
				MatchID:  client.matchID,
				PlayerID: client.playerID,
				Frame:    frame.Input.Frame,
				Intents:  frame.Input.Intents,
			})
		case protocol.FrameControl:
			host.Send(worker.ControlMatch{
				MatchID:     client.matchID,
				RequesterID: client.playerID,
				Action:      frame.Control.Action,
			})
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (rl *Relay) writePump(client *Client) {
	ticker := time.NewTicker(rl.pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// Pump fans worker events out to their match's clients until ctx is cancelled.
func (rl *Relay) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-rl.events:
			if !ok {
				return
			}
			data, err := event.Encode()
			if err != nil {
				rl.logger.Warn("event encode failed", logging.Error(err))
				continue
			}
			rl.deliver(event, data)
		}
	}
}

// deliver pushes the payload to the target match's clients. Events without a
// match routing key are tournament round advances; those route on the round's
// participant list so unrelated matches never see another bracket's traffic.
func (rl *Relay) deliver(event *protocol.Event, data []byte) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if matchID := event.MatchID(); matchID != "" {
		rl.deliverLocked(rl.byMatch[matchID], data)
		return
	}
	if event.Type == protocol.EventRound && event.Round != nil && len(event.Round.Participants) > 0 {
		recipients := make(map[string]bool, len(event.Round.Participants))
		for _, id := range event.Round.Participants {
			recipients[id] = true
		}
		for _, members := range rl.byMatch {
			for client := range members {
				if recipients[client.playerID] {
					rl.sendLocked(client, members, data)
				}
			}
		}
		return
	}
	for _, members := range rl.byMatch {
		rl.deliverLocked(members, data)
	}
}

// deliverLocked fans the payload out to a member set. Callers must hold the mutex.
func (rl *Relay) deliverLocked(members map[*Client]bool, data []byte) {
	for client := range members {
		rl.sendLocked(client, members, data)
	}
}

// sendLocked sends without blocking; a slow client loses its connection
// rather than stalling the fan-out. Callers must hold the mutex.
func (rl *Relay) sendLocked(client *Client, members map[*Client]bool, data []byte) {
	select {
	case client.send <- data:
	default:
		close(client.send)
		delete(members, client)
		rl.clients--
		rl.logger.Warn("dropping slow client",
			logging.String("player", client.playerID),
			logging.String("match", client.matchID))
	}
}

func (rl *Relay) attach(client *Client) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	members := rl.byMatch[client.matchID]
	if members == nil {
		members = make(map[*Client]bool)
		rl.byMatch[client.matchID] = members
	}
	members[client] = true
	rl.clients++
}

func (rl *Relay) detach(client *Client) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	members, ok := rl.byMatch[client.matchID]
	if !ok {
		return
	}
	if members[client] {
		delete(members, client)
		rl.clients--
	}
	if len(members) == 0 {
		delete(rl.byMatch, client.matchID)
	}
}
