package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the engine listens on.
	DefaultAddr = ":43190"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16

	// DefaultPartiesPerCore caps how many matches a single worker may host.
	DefaultPartiesPerCore = 8
	// DefaultMatchWeight scores active match count during dispatch.
	DefaultMatchWeight = 1
	// DefaultPlayerWeight scores connected player count during dispatch.
	DefaultPlayerWeight = 2

	// DefaultInputDelayFrames defers input application to absorb network jitter.
	DefaultInputDelayFrames = 5
	// DefaultStateSyncRate broadcasts a state event every N simulation frames.
	DefaultStateSyncRate = 2

	// DefaultTicketTTL bounds how long a pending-connection ticket stays valid.
	DefaultTicketTTL = 5 * time.Minute
	// DefaultTicketSweepInterval controls how often expired tickets are purged.
	DefaultTicketSweepInterval = time.Minute

	// DefaultCreateWindow bounds how frequently match creation may be requested.
	DefaultCreateWindow = 10 * time.Second
	// DefaultCreateBurst sets how many matches may be created per window.
	DefaultCreateBurst = 16

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "engine.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the engine service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration

	// Workers sets how many worker units are spawned; zero means one per CPU.
	Workers        int
	PartiesPerCore int
	MatchWeight    int
	PlayerWeight   int

	InputDelayFrames int
	StateSyncRate    int

	TicketTTL           time.Duration
	TicketSweepInterval time.Duration

	CreateWindow time.Duration
	CreateBurst  int

	// ReplayDir enables on-disk match recording when non-empty.
	ReplayDir string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the engine configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:             getString("ENGINE_ADDR", DefaultAddr),
		AllowedOrigins:      parseList(os.Getenv("ENGINE_ALLOWED_ORIGINS")),
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		PingInterval:        DefaultPingInterval,
		PartiesPerCore:      DefaultPartiesPerCore,
		MatchWeight:         DefaultMatchWeight,
		PlayerWeight:        DefaultPlayerWeight,
		InputDelayFrames:    DefaultInputDelayFrames,
		StateSyncRate:       DefaultStateSyncRate,
		TicketTTL:           DefaultTicketTTL,
		TicketSweepInterval: DefaultTicketSweepInterval,
		CreateWindow:        DefaultCreateWindow,
		CreateBurst:         DefaultCreateBurst,
		ReplayDir:           strings.TrimSpace(os.Getenv("ENGINE_REPLAY_DIR")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ENGINE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ENGINE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ENGINE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_WORKERS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_WORKERS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Workers = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_PARTIES_PER_CORE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_PARTIES_PER_CORE must be a positive integer, got %q", raw))
		} else {
			cfg.PartiesPerCore = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_MATCH_WEIGHT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_MATCH_WEIGHT must be a non-negative integer, got %q", raw))
		} else {
			cfg.MatchWeight = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_PLAYER_WEIGHT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_PLAYER_WEIGHT must be a non-negative integer, got %q", raw))
		} else {
			cfg.PlayerWeight = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_INPUT_DELAY_FRAMES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_INPUT_DELAY_FRAMES must be a non-negative integer, got %q", raw))
		} else {
			cfg.InputDelayFrames = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_STATE_SYNC_RATE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_STATE_SYNC_RATE must be a positive integer, got %q", raw))
		} else {
			cfg.StateSyncRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_TICKET_TTL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_TICKET_TTL must be a positive duration, got %q", raw))
		} else {
			cfg.TicketTTL = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_TICKET_SWEEP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_TICKET_SWEEP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.TicketSweepInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_CREATE_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_CREATE_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.CreateWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_CREATE_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_CREATE_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.CreateBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ENGINE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
