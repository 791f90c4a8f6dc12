package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"empty signaling url", func(c *Config) { c.Signaling.URL = "" }},
		{"empty user id", func(c *Config) { c.Signaling.UserID = "" }},
		{"empty jwt secret", func(c *Config) { c.Signaling.JWTSecret = "" }},
		{"zero sends per second", func(c *Config) { c.Signaling.SendsPerSecond = 0 }},
		{"no stun servers", func(c *Config) { c.WebRTC.STUNServers = nil }},
		{"half-open port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}},
		{"zero call timeout", func(c *Config) { c.Calls.CallTimeout = 0 }},
		{"conference limit of one", func(c *Config) { c.Calls.MaxConferenceParticipants = 1 }},
		{"no quality presets", func(c *Config) { c.Quality.Presets = nil }},
		{"duplicate preset name", func(c *Config) {
			c.Quality.Presets = append(c.Quality.Presets, c.Quality.Presets[0])
		}},
		{"packet loss above one", func(c *Config) { c.Quality.Thresholds.Good.MaxPacketLoss = 1.5 }},
		{"tracing without jaeger url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"rate limiting without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signaling:
  url: ws://signal.example.com/ws
  user_id: agent-7
calls:
  call_timeout: 45s
  max_conference_participants: 12
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.URL != "ws://signal.example.com/ws" {
		t.Errorf("signaling url not applied, got %q", cfg.Signaling.URL)
	}
	if cfg.Signaling.UserID != "agent-7" {
		t.Errorf("user id not applied, got %q", cfg.Signaling.UserID)
	}
	if cfg.Calls.CallTimeout != 45*time.Second {
		t.Errorf("call timeout not applied, got %v", cfg.Calls.CallTimeout)
	}
	if cfg.Calls.MaxConferenceParticipants != 12 {
		t.Errorf("conference limit not applied, got %d", cfg.Calls.MaxConferenceParticipants)
	}
	// Untouched sections keep their defaults.
	if len(cfg.Quality.Presets) != 3 {
		t.Errorf("expected default presets to survive, got %d", len(cfg.Quality.Presets))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALLMESH_USER_ID", "env-user")
	t.Setenv("CALLMESH_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.UserID != "env-user" {
		t.Errorf("env user id not applied, got %q", cfg.Signaling.UserID)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env log level not applied, got %q", cfg.Logging.Level)
	}
}
