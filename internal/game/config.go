package game

import "fmt"

// Config captures the physical tuning for a single match.
type Config struct {
	WorldWidth    float64 `json:"world_width"`
	WorldHeight   float64 `json:"world_height"`
	WallThickness float64 `json:"wall_thickness"`

	PaddleWidth    float64 `json:"paddle_width"`
	PaddleHeight   float64 `json:"paddle_height"`
	PaddleOffset   float64 `json:"paddle_offset"`
	PaddleAccel    float64 `json:"paddle_accel"`
	PaddleFriction float64 `json:"paddle_friction"`
	PaddleMaxSpeed float64 `json:"paddle_max_speed"`

	BallRadius         float64 `json:"ball_radius"`
	BallSpeed          float64 `json:"ball_speed"`
	BallSpeedIncrement float64 `json:"ball_speed_increment"`

	// InputDelayFrames defers buffered input so network jitter averages out.
	InputDelayFrames int `json:"input_delay_frames"`
	// StateSyncRate emits a state broadcast every N simulation frames.
	StateSyncRate int `json:"state_sync_rate"`
	// ScoreLimit ends the match when a player reaches it; zero plays forever.
	ScoreLimit int `json:"score_limit"`
}

// DefaultConfig returns the production tuning for a 1v1 match.
func DefaultConfig() Config {
	return Config{
		WorldWidth:         800,
		WorldHeight:        600,
		WallThickness:      10,
		PaddleWidth:        12,
		PaddleHeight:       90,
		PaddleOffset:       20,
		PaddleAccel:        2400,
		PaddleFriction:     0.85,
		PaddleMaxSpeed:     420,
		BallRadius:         8,
		BallSpeed:          360,
		BallSpeedIncrement: 180,
		InputDelayFrames:   5,
		StateSyncRate:      2,
		ScoreLimit:         11,
	}
}

// Validate rejects configurations that cannot host a playable field.
func (c Config) Validate() error {
	if c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		return fmt.Errorf("world dimensions must be positive, got %gx%g", c.WorldWidth, c.WorldHeight)
	}
	if c.WallThickness < 0 {
		return fmt.Errorf("wall thickness must be non-negative, got %g", c.WallThickness)
	}
	if c.PaddleHeight <= 0 || c.PaddleWidth <= 0 {
		return fmt.Errorf("paddle dimensions must be positive, got %gx%g", c.PaddleWidth, c.PaddleHeight)
	}
	if c.PaddleHeight+2*c.WallThickness >= c.WorldHeight {
		return fmt.Errorf("paddle height %g does not fit the field", c.PaddleHeight)
	}
	if c.PaddleFriction < 0 || c.PaddleFriction >= 1 {
		return fmt.Errorf("paddle friction must be in [0,1), got %g", c.PaddleFriction)
	}
	if c.PaddleMaxSpeed <= 0 || c.PaddleAccel <= 0 {
		return fmt.Errorf("paddle accel and max speed must be positive, got %g/%g", c.PaddleAccel, c.PaddleMaxSpeed)
	}
	if c.BallRadius <= 0 || c.BallSpeed <= 0 {
		return fmt.Errorf("ball radius and speed must be positive, got %g/%g", c.BallRadius, c.BallSpeed)
	}
	if c.InputDelayFrames < 0 {
		return fmt.Errorf("input delay frames must be non-negative, got %d", c.InputDelayFrames)
	}
	if c.StateSyncRate <= 0 {
		return fmt.Errorf("state sync rate must be positive, got %d", c.StateSyncRate)
	}
	if c.ScoreLimit < 0 {
		return fmt.Errorf("score limit must be non-negative, got %d", c.ScoreLimit)
	}
	return nil
}
