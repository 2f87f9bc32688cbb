package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"paddlearena/engine/internal/dispatch"
	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/handshake"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/websockettest"
	"paddlearena/engine/internal/worker"
)

type relayFixture struct {
	server   *httptest.Server
	relay    *Relay
	worker   *worker.Worker
	registry *dispatch.Registry
	tickets  *handshake.Registry
	events   chan *protocol.Event
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := logging.NewTestLogger()
	events := make(chan *protocol.Event, 256)
	registry := dispatch.NewRegistry()
	tickets := handshake.NewRegistry(logger)

	unit := worker.New("w1", 8, events, logger)
	go unit.Run(ctx)

	relay := NewRelay(RelayOptions{
		Logger:   logger,
		Tickets:  tickets,
		Registry: registry,
		Events:   events,
	})
	go relay.Pump(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/ws", relay.ServeWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &relayFixture{server: server, relay: relay, worker: unit, registry: registry, tickets: tickets, events: events}
}

func (f *relayFixture) createMatch(t *testing.T, matchID, ownerID string) {
	t.Helper()
	reply := make(chan error, 1)
	f.worker.Send(worker.CreateMatch{MatchID: matchID, OwnerID: ownerID, Config: game.DefaultConfig(), Reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("create match: %v", err)
	}
	f.registry.Register(matchID, f.worker)
}

func (f *relayFixture) joinMatch(t *testing.T, matchID, playerID string) string {
	t.Helper()
	reply := make(chan error, 1)
	f.worker.Send(worker.JoinMatch{MatchID: matchID, PlayerID: playerID, Name: playerID, Reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("join match: %v", err)
	}
	ticket, err := f.tickets.Mint(playerID, matchID)
	if err != nil {
		t.Fatalf("mint ticket: %v", err)
	}
	return ticket
}

func (f *relayFixture) dial(t *testing.T, ticket string) *websocket.Conn {
	t.Helper()
	conn, _, err := websockettest.DialTicket(f.server.URL, "/ws", ticket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event protocol.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &event
}

func TestRelayRejectsBadTickets(t *testing.T) {
	f := newRelayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without ticket, got %d", resp.StatusCode)
	}

	resp, err = http.Get(f.server.URL + "/ws?ticket=bogus")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bogus ticket, got %d", resp.StatusCode)
	}
}

func TestRelayTicketIsSingleUse(t *testing.T) {
	f := newRelayFixture(t)
	f.createMatch(t, "m1", "alice")
	ticket := f.joinMatch(t, "m1", "alice")

	f.dial(t, ticket)

	resp, err := http.Get(f.server.URL + "/ws?ticket=" + ticket)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on ticket replay, got %d", resp.StatusCode)
	}
}

func TestRelayStartAndAbortFlow(t *testing.T) {
	f := newRelayFixture(t)
	f.createMatch(t, "m1", "alice")
	aliceTicket := f.joinMatch(t, "m1", "alice")
	bobTicket := f.joinMatch(t, "m1", "bob")

	alice := f.dial(t, aliceTicket)
	bob := f.dial(t, bobTicket)

	waitFor(t, func() bool {
		clients, _ := f.relay.SnapshotCounts()
		return clients == 2
	})

	//1.- A non-owner start is silently dropped; no event is produced.
	control := func(conn *websocket.Conn, action string) {
		payload := map[string]any{"type": "control", "control": map[string]any{"action": action}}
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write control: %v", err)
		}
	}
	control(bob, "start")

	//2.- The owner's start reaches both clients with the scheduled timestamp.
	control(alice, "start")
	for _, conn := range []*websocket.Conn{alice, bob} {
		event := readEvent(t, conn)
		if event.Type != protocol.EventStart {
			t.Fatalf("expected start event, got %q", event.Type)
		}
		if event.Start.StartAtMs <= time.Now().Add(2*time.Second).UnixMilli() {
			t.Fatalf("start not scheduled ahead: %d", event.Start.StartAtMs)
		}
		if len(event.Start.Sides) != 2 {
			t.Fatalf("expected two assigned sides, got %+v", event.Start.Sides)
		}
	}

	//3.- Input frames are accepted without tearing down the socket.
	inputFrame := map[string]any{
		"type":  "input",
		"input": map[string]any{"frame": 10, "intents": []map[string]any{{"key": "up", "pressed": true}}},
	}
	data, err := json.Marshal(inputFrame)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	if err := alice.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write input: %v", err)
	}

	//4.- The owner's abort fans out to every attached client.
	control(alice, "abort")
	for _, conn := range []*websocket.Conn{alice, bob} {
		event := readEvent(t, conn)
		if event.Type != protocol.EventAbort {
			t.Fatalf("expected abort event, got %q", event.Type)
		}
		if event.Abort.MatchID != "m1" {
			t.Fatalf("abort for wrong match %q", event.Abort.MatchID)
		}
	}
}

func TestRelayRoundEventsReachParticipantsOnly(t *testing.T) {
	f := newRelayFixture(t)
	f.createMatch(t, "m1", "alice")
	f.createMatch(t, "m2", "carol")
	aliceTicket := f.joinMatch(t, "m1", "alice")
	carolTicket := f.joinMatch(t, "m2", "carol")

	alice := f.dial(t, aliceTicket)
	carol := f.dial(t, carolTicket)
	waitFor(t, func() bool {
		clients, _ := f.relay.SnapshotCounts()
		return clients == 2
	})

	//1.- A round event listing only alice must not reach carol's socket.
	f.events <- &protocol.Event{Type: protocol.EventRound, Round: &protocol.RoundEvent{
		TournamentID: "t1",
		Round:        2,
		AdvancedIDs:  []string{"alice"},
		Participants: []string{"alice"},
	}}

	event := readEvent(t, alice)
	if event.Type != protocol.EventRound {
		t.Fatalf("expected round event for participant, got %q", event.Type)
	}
	if event.Round.TournamentID != "t1" || event.Round.Round != 2 {
		t.Fatalf("unexpected round payload %+v", event.Round)
	}

	//2.- The pump is serial, so carol's first message proves the round event
	// skipped her: it is the abort that was enqueued afterwards.
	f.events <- &protocol.Event{Type: protocol.EventAbort, Abort: &protocol.AbortEvent{
		MatchID: "m2",
		Reason:  "cleanup",
	}}
	event = readEvent(t, carol)
	if event.Type != protocol.EventAbort {
		t.Fatalf("expected abort as carol's first event, got %q", event.Type)
	}
}

func TestRelayMalformedFramesAreDropped(t *testing.T) {
	f := newRelayFixture(t)
	f.createMatch(t, "m1", "alice")
	ticket := f.joinMatch(t, "m1", "alice")
	conn := f.dial(t, ticket)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp"}`)); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}

	//1.- The connection survives; a valid control frame still works.
	payload := []byte(`{"type":"control","control":{"action":"abort"}}`)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write control: %v", err)
	}
	event := readEvent(t, conn)
	if event.Type != protocol.EventAbort {
		t.Fatalf("expected abort event, got %q", event.Type)
	}
}

func waitFor(t *testing.T, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
