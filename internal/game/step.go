package game

import (
	"math"

	"paddlearena/engine/internal/input"
	"paddlearena/engine/internal/protocol"
)

// StepResult reports the observable side effects of one fixed simulation step.
type StepResult struct {
	// Broadcast is set when the state sync cadence elapsed this frame.
	Broadcast bool
	// ScorerID names the player who scored during this step, if any.
	ScorerID string
	// Finished is set when the score limit was reached and the match stopped.
	Finished bool
}

// Step advances the match by one fixed timestep. The processing order is
// load-bearing: input folding must precede paddle integration, paddles must
// move before ball collision, and scoring runs on the post-collision position.
func (m *Match) Step(dt float64) StepResult {
	var result StepResult
	if m == nil || m.lifecycle != protocol.LifecyclePlaying || dt <= 0 {
		return result
	}

	//1.- Advance the frame counter; frame N's inputs target N+inputDelay.
	m.frame++

	//2.- Fold buffered intents for the delayed target frame into persistent flags.
	if delay := uint64(m.cfg.InputDelayFrames); m.frame > delay {
		target := m.frame - delay
		for _, player := range m.players {
			for _, intent := range player.Inputs.PopFrame(target) {
				switch intent.Key {
				case input.KeyUp:
					player.Active.Up = intent.Pressed
				case input.KeyDown:
					player.Active.Down = intent.Pressed
				}
			}
		}
	}

	//3.- Integrate paddles in deterministic side order.
	sorted := m.sortedPlayers()
	for _, player := range sorted {
		m.stepPaddle(player, dt)
	}

	//4.- Integrate the ball against walls and paddles.
	m.stepBall(dt, sorted)

	//5.- Award a point when the ball left the field horizontally.
	result.ScorerID = m.applyScoring(sorted)
	if result.ScorerID != "" && m.cfg.ScoreLimit > 0 {
		if scorer, ok := m.Player(result.ScorerID); ok && scorer.Score >= m.cfg.ScoreLimit {
			m.lifecycle = protocol.LifecycleStopped
			result.Finished = true
		}
	}

	//6.- Flag the broadcast cadence so the worker can emit a state event.
	result.Broadcast = m.frame%uint64(m.cfg.StateSyncRate) == 0
	return result
}

func (m *Match) stepPaddle(player *Player, dt float64) {
	paddle := &player.Paddle
	up, down := player.Active.Up, player.Active.Down
	switch {
	case up && !down:
		paddle.VY -= m.cfg.PaddleAccel * dt
	case down && !up:
		paddle.VY += m.cfg.PaddleAccel * dt
	default:
		// Friction is exponentiated against dt*60 so decay matches the 60 Hz
		// reference regardless of the actual step size.
		paddle.VY *= math.Pow(m.cfg.PaddleFriction, dt*60)
	}
	if paddle.VY > m.cfg.PaddleMaxSpeed {
		paddle.VY = m.cfg.PaddleMaxSpeed
	} else if paddle.VY < -m.cfg.PaddleMaxSpeed {
		paddle.VY = -m.cfg.PaddleMaxSpeed
	}

	paddle.Y += paddle.VY * dt
	lo := m.cfg.WallThickness
	hi := m.cfg.WorldHeight - m.cfg.WallThickness - m.cfg.PaddleHeight
	//1.- Clamp into the playfield and zero velocity so energy cannot build
	// against a wall.
	if paddle.Y < lo {
		paddle.Y = lo
		paddle.VY = 0
	} else if paddle.Y > hi {
		paddle.Y = hi
		paddle.VY = 0
	}
}

func (m *Match) stepBall(dt float64, sorted []*Player) {
	ball := &m.ball

	//1.- Spawn at field center with a random horizontal direction when idle.
	if ball.Vel.IsZero() {
		ball.Pos.X = m.cfg.WorldWidth / 2
		ball.Pos.Y = m.cfg.WorldHeight / 2
		direction := 1.0
		if m.rng.Intn(2) == 0 {
			direction = -1.0
		}
		ball.Vel.X = direction * m.cfg.BallSpeed
		ball.Vel.Y = 0
	}

	ball.Pos = ball.Pos.Add(ball.Vel.Scale(dt))

	//2.- Reflect off the horizontal walls, clamping back inside.
	radius := m.cfg.BallRadius
	top := m.cfg.WallThickness
	bottom := m.cfg.WorldHeight - m.cfg.WallThickness
	if ball.Pos.Y-radius < top {
		ball.Pos.Y = top + radius
		ball.Vel.Y = -ball.Vel.Y
	} else if ball.Pos.Y+radius > bottom {
		ball.Pos.Y = bottom - radius
		ball.Vel.Y = -ball.Vel.Y
	}

	//3.- Test paddles left-then-right; only the first hit applies.
	for i, player := range sorted {
		if i >= MaxPlayers {
			break
		}
		minX := m.cfg.PaddleOffset
		towardPaddle := ball.Vel.X < 0
		if i > 0 {
			minX = m.cfg.WorldWidth - m.cfg.PaddleOffset - m.cfg.PaddleWidth
			towardPaddle = ball.Vel.X > 0
		}
		if !towardPaddle {
			// Ignore paddles the ball is already leaving so a single contact
			// cannot flip the velocity twice across adjacent frames.
			continue
		}
		if !m.ballHitsPaddle(player, minX) {
			continue
		}
		ball.Vel.X = -ball.Vel.X
		impact := (ball.Pos.Y - player.Paddle.Y) / m.cfg.PaddleHeight
		ball.Vel.Y += (impact - 0.5) * m.cfg.BallSpeedIncrement
		break
	}
}

func (m *Match) ballHitsPaddle(player *Player, minX float64) bool {
	ball := m.ball
	radius := m.cfg.BallRadius
	if ball.Pos.X+radius < minX || ball.Pos.X-radius > minX+m.cfg.PaddleWidth {
		return false
	}
	if ball.Pos.Y+radius < player.Paddle.Y || ball.Pos.Y-radius > player.Paddle.Y+m.cfg.PaddleHeight {
		return false
	}
	return true
}

func (m *Match) applyScoring(sorted []*Player) string {
	ball := &m.ball
	var scorer *Player
	switch {
	case ball.Pos.X < 0:
		//1.- Exiting left awards the point to the right-side player.
		if len(sorted) >= 2 {
			scorer = sorted[len(sorted)-1]
		}
	case ball.Pos.X > m.cfg.WorldWidth:
		if len(sorted) >= 1 {
			scorer = sorted[0]
		}
	default:
		return ""
	}
	if scorer == nil {
		m.resetBall()
		return ""
	}
	scorer.Score++
	m.resetBall()
	return scorer.ID
}

// resetBall recenters the ball and re-derives the serve direction from the
// already-centered x position, so every serve goes left. Kept deliberately;
// changing it would alter observable gameplay.
func (m *Match) resetBall() {
	m.ball.Pos.X = m.cfg.WorldWidth / 2
	m.ball.Pos.Y = m.cfg.WorldHeight / 2
	if m.ball.Pos.X < m.cfg.WorldWidth/2 {
		m.ball.Vel.X = m.cfg.BallSpeed
	} else {
		m.ball.Vel.X = -m.cfg.BallSpeed
	}
	m.ball.Vel.Y = 0
}
