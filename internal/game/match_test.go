package game

import (
	"errors"
	"testing"

	"paddlearena/engine/internal/geom"
	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/protocol"
)

const fixedStep = 1.0 / 60.0

func geomVec(x, y float64) geom.Vec2 { return geom.Vec2{X: x, Y: y} }

func newTestMatch(t *testing.T, cfg Config) *Match {
	t.Helper()
	match, err := NewMatch("m-1", "alice", cfg, WithSeed(7))
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	if err := match.AddPlayer("alice", "Alice"); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if err := match.AddPlayer("bob", "Bob"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	return match
}

func TestAddPlayerLimits(t *testing.T) {
	match, err := NewMatch("m-1", "alice", DefaultConfig())
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	if err := match.AddPlayer("alice", "Alice"); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if err := match.AddPlayer("alice", "Alice"); !errors.Is(err, ErrDuplicatePlayer) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if err := match.AddPlayer("bob", "Bob"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if err := match.AddPlayer("carol", "Carol"); !errors.Is(err, ErrMatchFull) {
		t.Fatalf("expected full rejection, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	match := newTestMatch(t, DefaultConfig())

	if err := match.Pause(); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("pause before start must fail, got %v", err)
	}
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := match.Start(); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("double start must fail, got %v", err)
	}
	if err := match.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := match.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	match.Stop()
	match.Stop() // idempotent
	if match.Lifecycle() != protocol.LifecycleStopped {
		t.Fatalf("expected stopped, got %s", match.Lifecycle())
	}
}

func TestStartRequiresTwoPlayers(t *testing.T) {
	match, err := NewMatch("m-1", "alice", DefaultConfig())
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	if err := match.AddPlayer("alice", "Alice"); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if err := match.Start(); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("expected not-enough-players, got %v", err)
	}
}

func TestSidesAssignedByIDOrder(t *testing.T) {
	match := newTestMatch(t, DefaultConfig())
	sides := match.Sides()
	if sides["alice"] != protocol.SideLeft || sides["bob"] != protocol.SideRight {
		t.Fatalf("unexpected sides: %+v", sides)
	}
}

func TestUpdateConfigOnlyBeforeStart(t *testing.T) {
	match := newTestMatch(t, DefaultConfig())

	cfg := DefaultConfig()
	cfg.PaddleMaxSpeed = 500
	if err := match.UpdateConfig(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if match.Config().PaddleMaxSpeed != 500 {
		t.Fatalf("config not applied: %+v", match.Config())
	}

	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := match.UpdateConfig(cfg); !errors.Is(err, ErrMatchStarted) {
		t.Fatalf("expected started rejection, got %v", err)
	}
}

func TestFixedStepDeterminism(t *testing.T) {
	run := func() *protocol.StateEvent {
		match := newTestMatch(t, DefaultConfig())
		if err := match.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		//1.- Feed an identical input schedule into both runs.
		_ = match.QueueInput("alice", 30, []input.Intent{{Key: input.KeyUp, Pressed: true}})
		_ = match.QueueInput("alice", 90, []input.Intent{{Key: input.KeyUp, Pressed: false}})
		_ = match.QueueInput("bob", 50, []input.Intent{{Key: input.KeyDown, Pressed: true}})
		for i := 0; i < 600; i++ {
			match.Step(fixedStep)
		}
		return match.Snapshot()
	}

	first := run()
	second := run()

	if first.Ball != second.Ball {
		t.Fatalf("ball diverged: %+v vs %+v", first.Ball, second.Ball)
	}
	if len(first.Paddles) != len(second.Paddles) {
		t.Fatalf("paddle count diverged")
	}
	for i := range first.Paddles {
		if first.Paddles[i] != second.Paddles[i] {
			t.Fatalf("paddle %d diverged: %+v vs %+v", i, first.Paddles[i], second.Paddles[i])
		}
	}
	if first.Frame != second.Frame {
		t.Fatalf("frame diverged: %d vs %d", first.Frame, second.Frame)
	}
}

func TestInputAppliedExactlyOnceAtDelayedFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputDelayFrames = 5
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	//1.- Schedule a press for frame 10; it must apply while processing frame 15.
	_ = match.QueueInput("alice", 10, []input.Intent{{Key: input.KeyUp, Pressed: true}})

	alice, _ := match.Player("alice")
	for i := 0; i < 14; i++ {
		match.Step(fixedStep)
		if alice.Active.Up {
			t.Fatalf("input applied early at frame %d", match.Frame())
		}
	}
	match.Step(fixedStep)
	if match.Frame() != 15 {
		t.Fatalf("unexpected frame counter: %d", match.Frame())
	}
	if !alice.Active.Up {
		t.Fatal("input not applied at the delayed frame")
	}
	//2.- The buffer entry must be consumed; the flag persists but nothing re-applies.
	if alice.Inputs.Len() != 0 {
		t.Fatalf("buffer should be drained, %d frames remain", alice.Inputs.Len())
	}
}

func TestPaddleStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	//1.- Hold "up" forever and verify the paddle never escapes the field.
	_ = match.QueueInput("alice", 1, []input.Intent{{Key: input.KeyUp, Pressed: true}})
	lo := cfg.WallThickness
	hi := cfg.WorldHeight - cfg.WallThickness - cfg.PaddleHeight
	alice, _ := match.Player("alice")
	for i := 0; i < 1200; i++ {
		match.Step(fixedStep)
		if alice.Paddle.Y < lo || alice.Paddle.Y > hi {
			t.Fatalf("paddle escaped bounds at frame %d: y=%g", match.Frame(), alice.Paddle.Y)
		}
	}
	if alice.Paddle.Y != lo {
		t.Fatalf("expected paddle pinned to top wall, got %g", alice.Paddle.Y)
	}
	if alice.Paddle.VY != 0 {
		t.Fatalf("wall clamp must zero velocity, got %g", alice.Paddle.VY)
	}
}

func TestScoringIncrementsByOneAndResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreLimit = 0
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	//1.- Drive the ball straight off the left edge, bypassing the left paddle.
	match.ball = Ball{
		Pos: geomVec(cfg.PaddleOffset/2, cfg.WorldHeight/2+200),
		Vel: geomVec(-cfg.BallSpeed, 0),
	}
	var scorer string
	total := 0
	for i := 0; i < 240 && scorer == ""; i++ {
		result := match.Step(fixedStep)
		if result.ScorerID != "" {
			scorer = result.ScorerID
			total++
		}
	}
	if scorer != "bob" {
		t.Fatalf("left exit must credit the right player, got %q", scorer)
	}
	if total != 1 {
		t.Fatalf("expected exactly one scoring event, got %d", total)
	}
	scores := match.Scores()
	if scores["bob"] != 1 || scores["alice"] != 0 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
	//2.- The ball must re-center with zero vertical velocity.
	if match.ball.Pos.X != cfg.WorldWidth/2 || match.ball.Pos.Y != cfg.WorldHeight/2 {
		t.Fatalf("ball not centered: %+v", match.ball.Pos)
	}
	if match.ball.Vel.Y != 0 {
		t.Fatalf("vertical velocity must be zero after reset, got %g", match.ball.Vel.Y)
	}
}

func TestScoreLimitFinishesMatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreLimit = 1
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	match.ball = Ball{
		Pos: geomVec(cfg.PaddleOffset/2, cfg.WorldHeight/2+200),
		Vel: geomVec(-cfg.BallSpeed, 0),
	}
	finished := false
	for i := 0; i < 240 && !finished; i++ {
		result := match.Step(fixedStep)
		finished = result.Finished
	}
	if !finished {
		t.Fatal("score limit never finished the match")
	}
	if match.Lifecycle() != protocol.LifecycleStopped {
		t.Fatalf("expected stopped lifecycle, got %s", match.Lifecycle())
	}
	if match.Leader() != "bob" {
		t.Fatalf("expected bob as leader, got %q", match.Leader())
	}
}

func TestBallReflectsOffWalls(t *testing.T) {
	cfg := DefaultConfig()
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	match.ball = Ball{
		Pos: geomVec(cfg.WorldWidth/2, cfg.WallThickness+cfg.BallRadius+1),
		Vel: geomVec(0.001, -300),
	}
	match.Step(fixedStep)
	if match.ball.Vel.Y <= 0 {
		t.Fatalf("expected reflected vertical velocity, got %g", match.ball.Vel.Y)
	}
	if match.ball.Pos.Y-cfg.BallRadius < cfg.WallThickness {
		t.Fatalf("ball clipped into the wall: y=%g", match.ball.Pos.Y)
	}
}

func TestPaddleHitFlipsAndAddsSpin(t *testing.T) {
	cfg := DefaultConfig()
	match := newTestMatch(t, cfg)
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	//1.- Park the ball just right of the left paddle, moving left, hitting low.
	alice, _ := match.Player("alice")
	alice.Paddle.Y = cfg.WorldHeight/2 - cfg.PaddleHeight/2
	match.ball = Ball{
		Pos: geomVec(cfg.PaddleOffset+cfg.PaddleWidth+cfg.BallRadius+1, alice.Paddle.Y+cfg.PaddleHeight*0.9),
		Vel: geomVec(-cfg.BallSpeed, 0),
	}
	match.Step(fixedStep)
	if match.ball.Vel.X <= 0 {
		t.Fatalf("expected horizontal flip, got vx=%g", match.ball.Vel.X)
	}
	if match.ball.Vel.Y <= 0 {
		t.Fatalf("low impact must add downward spin, got vy=%g", match.ball.Vel.Y)
	}
}

// TestTwoPlayerScenario reproduces the full flow: join, start, centered spawn,
// simulate until the ball exits left, then verify score and reset state.
func TestTwoPlayerScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreLimit = 0
	match := newTestMatch(t, cfg)

	scores := match.Scores()
	if scores["alice"] != 0 || scores["bob"] != 0 {
		t.Fatalf("scores must open at zero: %+v", scores)
	}
	if err := match.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	//1.- First step spawns the ball at field center.
	match.Step(fixedStep)
	snapshot := match.Snapshot()
	nearCenter := func(v, want float64) bool { return v > want-20 && v < want+20 }
	if !nearCenter(snapshot.Ball.Position.X, cfg.WorldWidth/2) || !nearCenter(snapshot.Ball.Position.Y, cfg.WorldHeight/2) {
		t.Fatalf("ball did not spawn near center: %+v", snapshot.Ball.Position)
	}

	//2.- Force a leftward serve past a parked paddle and run until the exit.
	alice, _ := match.Player("alice")
	alice.Paddle.Y = cfg.WallThickness
	match.ball = Ball{
		Pos: geomVec(cfg.WorldWidth/2, cfg.WorldHeight-cfg.WallThickness-cfg.BallRadius-5),
		Vel: geomVec(-cfg.BallSpeed, 0),
	}
	var scorer string
	for i := 0; i < 600 && scorer == ""; i++ {
		scorer = match.Step(fixedStep).ScorerID
	}
	if scorer != "bob" {
		t.Fatalf("expected bob to score on left exit, got %q", scorer)
	}
	if match.Scores()["bob"] != 1 {
		t.Fatalf("unexpected scores: %+v", match.Scores())
	}
	if match.ball.Pos.X != cfg.WorldWidth/2 || match.ball.Vel.Y != 0 {
		t.Fatalf("ball must re-center with vy=0, got pos=%+v vel=%+v", match.ball.Pos, match.ball.Vel)
	}
}
