package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENGINE_ADDR", "")
	t.Setenv("ENGINE_ALLOWED_ORIGINS", "")
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "")
	t.Setenv("ENGINE_PING_INTERVAL", "")
	t.Setenv("ENGINE_WORKERS", "")
	t.Setenv("ENGINE_PARTIES_PER_CORE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.Workers != 0 {
		t.Fatalf("expected auto worker count, got %d", cfg.Workers)
	}
	if cfg.PartiesPerCore != DefaultPartiesPerCore {
		t.Fatalf("expected default parties per core %d, got %d", DefaultPartiesPerCore, cfg.PartiesPerCore)
	}
	if cfg.MatchWeight != DefaultMatchWeight || cfg.PlayerWeight != DefaultPlayerWeight {
		t.Fatalf("unexpected dispatch weights: %d/%d", cfg.MatchWeight, cfg.PlayerWeight)
	}
	if cfg.InputDelayFrames != DefaultInputDelayFrames {
		t.Fatalf("expected default input delay %d, got %d", DefaultInputDelayFrames, cfg.InputDelayFrames)
	}
	if cfg.TicketTTL != DefaultTicketTTL || cfg.TicketSweepInterval != DefaultTicketSweepInterval {
		t.Fatalf("unexpected ticket timings: %v/%v", cfg.TicketTTL, cfg.TicketSweepInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_ADDR", "127.0.0.1:9000")
	t.Setenv("ENGINE_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("ENGINE_WORKERS", "4")
	t.Setenv("ENGINE_PARTIES_PER_CORE", "16")
	t.Setenv("ENGINE_MATCH_WEIGHT", "3")
	t.Setenv("ENGINE_PLAYER_WEIGHT", "5")
	t.Setenv("ENGINE_INPUT_DELAY_FRAMES", "8")
	t.Setenv("ENGINE_STATE_SYNC_RATE", "4")
	t.Setenv("ENGINE_TICKET_TTL", "2m")
	t.Setenv("ENGINE_REPLAY_DIR", "/tmp/replays")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.Workers != 4 || cfg.PartiesPerCore != 16 {
		t.Fatalf("unexpected worker config: %d/%d", cfg.Workers, cfg.PartiesPerCore)
	}
	if cfg.MatchWeight != 3 || cfg.PlayerWeight != 5 {
		t.Fatalf("unexpected weights: %d/%d", cfg.MatchWeight, cfg.PlayerWeight)
	}
	if cfg.InputDelayFrames != 8 || cfg.StateSyncRate != 4 {
		t.Fatalf("unexpected simulation knobs: %d/%d", cfg.InputDelayFrames, cfg.StateSyncRate)
	}
	if cfg.TicketTTL != 2*time.Minute {
		t.Fatalf("unexpected ticket TTL: %v", cfg.TicketTTL)
	}
	if cfg.ReplayDir != "/tmp/replays" {
		t.Fatalf("unexpected replay dir: %q", cfg.ReplayDir)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("ENGINE_PING_INTERVAL", "abc")
	t.Setenv("ENGINE_PARTIES_PER_CORE", "0")
	t.Setenv("ENGINE_TICKET_TTL", "never")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"ENGINE_MAX_PAYLOAD_BYTES",
		"ENGINE_PING_INTERVAL",
		"ENGINE_PARTIES_PER_CORE",
		"ENGINE_TICKET_TTL",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	t.Setenv("ENGINE_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}
