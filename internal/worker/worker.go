// Package worker hosts the isolated execution units that own match state and
// run the fixed-timestep simulation loop. A worker communicates with the rest
// of the engine exclusively through its command inbox and the shared outbound
// event channel; no other goroutine may touch its matches.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
)

const (
	// FixedStep is the simulation timestep in seconds.
	FixedStep = 1.0 / 60.0
	// MaxDelta clamps observed elapsed time so a stalled host cannot trigger a
	// spiral of death while the accumulator catches up.
	MaxDelta = 0.2
	// StartLead schedules match starts this far ahead so clients can count down.
	StartLead = 3 * time.Second

	tickInterval     = time.Second / 120
	defaultInboxSize = 256
)

// MatchRecorder persists match artefacts for downstream consumers.
type MatchRecorder interface {
	RecordEvent(frame uint64, kind string, payload []byte) error
	RecordFrame(frame uint64, payload []byte) error
	Close() error
}

// RecorderFactory opens a recorder for a newly created match.
type RecorderFactory func(matchID string) (MatchRecorder, error)

// FinishedHook observes match completion, typically for tournament progression.
type FinishedHook func(matchID, winnerID string)

// ClosedHook observes every match removal, finished and aborted alike, so
// routing tables can drop the match on all exit paths.
type ClosedHook func(matchID string)

type simState struct {
	accumulator float64
	startAt     time.Time
	recorder    MatchRecorder
}

// Worker is a single execution unit hosting a bounded set of matches.
type Worker struct {
	id       string
	capacity int
	logger   *logging.Logger
	inbox    chan Command
	events   chan<- *protocol.Event
	gate     *input.Gate
	monitor  *TickMonitor
	clock    func() time.Time

	newRecorder RecorderFactory
	onFinished  FinishedHook
	onClosed    ClosedHook
	matchOpts   []game.Option

	matches map[string]*game.Match
	sims    map[string]*simState

	done chan struct{}
}

// Option customises worker construction.
type Option func(*Worker)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithRecorderFactory enables per-match replay recording.
func WithRecorderFactory(factory RecorderFactory) Option {
	return func(w *Worker) {
		w.newRecorder = factory
	}
}

// WithFinishedHook registers a completion observer.
func WithFinishedHook(hook FinishedHook) Option {
	return func(w *Worker) {
		w.onFinished = hook
	}
}

// WithClosedHook registers a removal observer covering finished and aborted
// matches alike.
func WithClosedHook(hook ClosedHook) Option {
	return func(w *Worker) {
		w.onClosed = hook
	}
}

// WithMatchOptions forwards options to every match the worker creates.
func WithMatchOptions(opts ...game.Option) Option {
	return func(w *Worker) {
		w.matchOpts = append(w.matchOpts, opts...)
	}
}

// New constructs a worker publishing outbound events to the provided channel.
func New(id string, capacity int, events chan<- *protocol.Event, logger *logging.Logger, opts ...Option) *Worker {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.L()
	}
	worker := &Worker{
		id:       id,
		capacity: capacity,
		logger:   logger.With(logging.String("worker", id)),
		inbox:    make(chan Command, defaultInboxSize),
		events:   events,
		gate:     input.NewGate(input.DefaultRetention, nil),
		monitor:  NewTickMonitor(),
		clock:    time.Now,
		matches:  make(map[string]*game.Match),
		sims:     make(map[string]*simState),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(worker)
		}
	}
	return worker
}

// ID returns the worker's stable identifier.
func (w *Worker) ID() string { return w.id }

// Send enqueues a command, reporting false once the worker has stopped.
func (w *Worker) Send(cmd Command) bool {
	if w == nil || cmd == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	case w.inbox <- cmd:
		return true
	}
}

// QueryLoad performs a synchronous load round-trip against the worker.
func (w *Worker) QueryLoad(ctx context.Context) (LoadStatus, error) {
	reply := make(chan LoadStatus, 1)
	if !w.Send(QueryLoad{Reply: reply}) {
		return LoadStatus{}, ErrWorkerStopped
	}
	select {
	case <-ctx.Done():
		return LoadStatus{}, ctx.Err()
	case status := <-reply:
		return status, nil
	}
}

// Run drives the worker loop until the context is cancelled. Shutdown aborts
// every hosted match so clients receive an explicit abort event.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := w.clock()
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case cmd := <-w.inbox:
			w.handle(cmd)
		case <-ticker.C:
			now := w.clock()
			delta := now.Sub(last).Seconds()
			last = now
			w.advance(delta, now)
		}
	}
}

// handle applies a single inbox command. Malformed or misaddressed commands are
// logged no-ops; they never crash the loop.
func (w *Worker) handle(cmd Command) {
	switch c := cmd.(type) {
	case CreateMatch:
		w.reply(c.Reply, w.createMatch(c))
	case JoinMatch:
		w.reply(c.Reply, w.joinMatch(c))
	case LeaveMatch:
		w.reply(c.Reply, w.leaveMatch(c))
	case UpdateSettings:
		w.reply(c.Reply, w.updateSettings(c))
	case SubmitInput:
		w.submitInput(c)
	case ControlMatch:
		w.reply(c.Reply, w.controlMatch(c))
	case QueryLoad:
		if c.Reply != nil {
			c.Reply <- w.loadStatus()
		}
	default:
		w.logger.Warn("dropping unknown command")
	}
}

func (w *Worker) reply(ch chan<- error, err error) {
	if ch != nil {
		ch <- err
	}
}

func (w *Worker) createMatch(cmd CreateMatch) error {
	if len(w.matches) >= w.capacity {
		return ErrWorkerFull
	}
	match, err := game.NewMatch(cmd.MatchID, cmd.OwnerID, cmd.Config, w.matchOpts...)
	if err != nil {
		return err
	}
	sim := &simState{}
	if w.newRecorder != nil {
		recorder, err := w.newRecorder(cmd.MatchID)
		if err != nil {
			w.logger.Warn("replay recorder unavailable",
				logging.String("match", cmd.MatchID), logging.Error(err))
		} else {
			sim.recorder = recorder
		}
	}
	w.matches[cmd.MatchID] = match
	w.sims[cmd.MatchID] = sim
	w.logger.Info("match created",
		logging.String("match", cmd.MatchID), logging.String("owner", cmd.OwnerID))
	return nil
}

func (w *Worker) joinMatch(cmd JoinMatch) error {
	match, ok := w.matches[cmd.MatchID]
	if !ok {
		w.logger.Warn("join for unknown match", logging.String("match", cmd.MatchID))
		return ErrUnknownMatch
	}
	return match.AddPlayer(cmd.PlayerID, cmd.Name)
}

func (w *Worker) leaveMatch(cmd LeaveMatch) error {
	match, ok := w.matches[cmd.MatchID]
	if !ok {
		w.logger.Warn("leave for unknown match", logging.String("match", cmd.MatchID))
		return ErrUnknownMatch
	}
	if err := match.RemovePlayer(cmd.PlayerID); err != nil {
		return err
	}
	w.gate.Forget(cmd.PlayerID)
	if match.PlayerCount() == 0 {
		w.abortMatch(cmd.MatchID, "all players disconnected")
	}
	return nil
}

func (w *Worker) updateSettings(cmd UpdateSettings) error {
	match, ok := w.matches[cmd.MatchID]
	if !ok {
		w.logger.Warn("settings for unknown match", logging.String("match", cmd.MatchID))
		return ErrUnknownMatch
	}
	if cmd.RequesterID != match.OwnerID {
		w.logger.Debug("settings denied for non-owner",
			logging.String("match", cmd.MatchID), logging.String("requester", cmd.RequesterID))
		return ErrUnauthorized
	}
	return match.UpdateConfig(cmd.Config)
}

func (w *Worker) submitInput(cmd SubmitInput) {
	match, ok := w.matches[cmd.MatchID]
	if !ok {
		w.logger.Debug("input for unknown match", logging.String("match", cmd.MatchID))
		return
	}
	decision := w.gate.Evaluate(cmd.PlayerID, cmd.Frame, match.Frame(), cmd.Intents)
	if !decision.Accepted {
		w.logger.Debug("input rejected",
			logging.String("match", cmd.MatchID),
			logging.String("player", cmd.PlayerID),
			logging.String("reason", decision.Reason.String()))
		return
	}
	if err := match.QueueInput(cmd.PlayerID, uint64(cmd.Frame), cmd.Intents); err != nil {
		w.logger.Debug("input for unknown player",
			logging.String("match", cmd.MatchID), logging.String("player", cmd.PlayerID))
	}
}

func (w *Worker) controlMatch(cmd ControlMatch) error {
	match, ok := w.matches[cmd.MatchID]
	if !ok {
		//1.- Abort is idempotent: a second abort targets an already-removed
		// match and must stay a silent no-op.
		if cmd.Action == protocol.ActionAbort {
			return nil
		}
		w.logger.Warn("control for unknown match", logging.String("match", cmd.MatchID))
		return ErrUnknownMatch
	}
	if cmd.RequesterID != match.OwnerID {
		w.logger.Debug("control denied for non-owner",
			logging.String("match", cmd.MatchID), logging.String("requester", cmd.RequesterID))
		return ErrUnauthorized
	}

	switch cmd.Action {
	case protocol.ActionStart:
		if err := match.Start(); err != nil {
			return err
		}
		sim := w.sims[cmd.MatchID]
		//2.- Reset the accumulator and gate stepping until the announced start.
		sim.accumulator = 0
		sim.startAt = w.clock().Add(StartLead)
		w.emit(&protocol.Event{Type: protocol.EventStart, Start: &protocol.StartEvent{
			MatchID:   cmd.MatchID,
			Sides:     match.Sides(),
			StartAtMs: sim.startAt.UnixMilli(),
		}})
		w.record(cmd.MatchID, match.Frame(), "start", nil)
		return nil
	case protocol.ActionPause:
		return match.Pause()
	case protocol.ActionResume:
		return match.Resume()
	case protocol.ActionAbort:
		w.abortMatch(cmd.MatchID, "aborted by owner")
		return nil
	default:
		return protocol.ErrUnknownEvent
	}
}

// advance runs the fixed-step accumulator for every hosted match. There is no
// ordering guarantee across matches; fairness comes from visiting each match
// once per pass.
func (w *Worker) advance(delta float64, now time.Time) {
	if delta <= 0 || len(w.matches) == 0 {
		return
	}
	//1.- Clamp the elapsed time before any accumulation happens.
	if delta > MaxDelta {
		delta = MaxDelta
	}
	passStart := time.Now()
	for id, match := range w.matches {
		sim := w.sims[id]
		if match.Lifecycle() != protocol.LifecyclePlaying {
			continue
		}
		if !sim.startAt.IsZero() && now.Before(sim.startAt) {
			continue
		}
		sim.accumulator += delta
		for sim.accumulator >= FixedStep {
			sim.accumulator -= FixedStep
			result := match.Step(FixedStep)
			if result.Broadcast {
				snapshot := match.Snapshot()
				w.emit(&protocol.Event{Type: protocol.EventState, State: snapshot})
				if payload, err := json.Marshal(snapshot); err == nil {
					w.recordFrame(id, snapshot.Frame, payload)
				}
			}
			if result.ScorerID != "" {
				w.record(id, match.Frame(), "score", []byte(result.ScorerID))
			}
			if result.Finished {
				w.finishMatch(id, match)
				break
			}
		}
	}
	w.monitor.Observe(time.Since(passStart))
}

func (w *Worker) finishMatch(id string, match *game.Match) {
	winner := match.Leader()
	w.emit(&protocol.Event{Type: protocol.EventFinished, Finished: &protocol.FinishedEvent{
		MatchID:  id,
		WinnerID: winner,
		Scores:   match.Scores(),
	}})
	w.record(id, match.Frame(), "finished", []byte(winner))
	w.closeRecorder(id)
	delete(w.matches, id)
	delete(w.sims, id)
	w.logger.Info("match finished",
		logging.String("match", id), logging.String("winner", winner))
	if w.onClosed != nil {
		w.onClosed(id)
	}
	if w.onFinished != nil {
		w.onFinished(id, winner)
	}
}

func (w *Worker) abortMatch(id, reason string) {
	match, ok := w.matches[id]
	if !ok {
		return
	}
	match.Stop()
	w.emit(&protocol.Event{Type: protocol.EventAbort, Abort: &protocol.AbortEvent{
		MatchID: id,
		Reason:  reason,
	}})
	w.record(id, match.Frame(), "abort", []byte(reason))
	w.closeRecorder(id)
	delete(w.matches, id)
	delete(w.sims, id)
	w.logger.Info("match aborted",
		logging.String("match", id), logging.String("reason", reason))
	if w.onClosed != nil {
		w.onClosed(id)
	}
}

func (w *Worker) loadStatus() LoadStatus {
	players := 0
	for _, match := range w.matches {
		players += match.PlayerCount()
	}
	return LoadStatus{
		WorkerID:      w.id,
		ActiveMatches: len(w.matches),
		Players:       players,
		Capacity:      w.capacity,
		Tick:          w.monitor.Snapshot(),
	}
}

func (w *Worker) shutdown() {
	//1.- Abort every hosted match so clients see an explicit abort, not a hang.
	for id := range w.matches {
		w.abortMatch(id, "worker shutting down")
	}
	close(w.done)
	w.logger.Info("worker stopped")
}

// emit pushes an event without blocking; the transport consumes asynchronously
// and a saturated channel sheds state traffic rather than stalling simulation.
func (w *Worker) emit(event *protocol.Event) {
	if w.events == nil {
		return
	}
	select {
	case w.events <- event:
	default:
		w.logger.Warn("event channel saturated, dropping",
			logging.String("type", string(event.Type)))
	}
}

func (w *Worker) record(id string, frame uint64, kind string, payload []byte) {
	sim, ok := w.sims[id]
	if !ok || sim.recorder == nil {
		return
	}
	if err := sim.recorder.RecordEvent(frame, kind, payload); err != nil {
		w.logger.Warn("replay event write failed",
			logging.String("match", id), logging.Error(err))
	}
}

func (w *Worker) recordFrame(id string, frame uint64, payload []byte) {
	sim, ok := w.sims[id]
	if !ok || sim.recorder == nil {
		return
	}
	if err := sim.recorder.RecordFrame(frame, payload); err != nil {
		w.logger.Warn("replay frame write failed",
			logging.String("match", id), logging.Error(err))
	}
}

func (w *Worker) closeRecorder(id string) {
	sim, ok := w.sims[id]
	if !ok || sim.recorder == nil {
		return
	}
	if err := sim.recorder.Close(); err != nil {
		w.logger.Warn("replay recorder close failed",
			logging.String("match", id), logging.Error(err))
	}
	sim.recorder = nil
}
