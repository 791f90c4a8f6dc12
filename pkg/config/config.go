package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signaling struct {
		URL            string        `yaml:"url"`
		UserID         string        `yaml:"user_id"`
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendsPerSecond float64       `yaml:"sends_per_second"`
		SendBurst      int           `yaml:"send_burst"`
		Reconnect      struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"reconnect"`
	} `yaml:"signaling"`

	WebRTC struct {
		STUNServers []string `yaml:"stun_servers"`
		PortRange   struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Calls struct {
		CallTimeout               time.Duration `yaml:"call_timeout"`
		IdleSweepInterval         time.Duration `yaml:"idle_sweep_interval"`
		IdleThreshold             time.Duration `yaml:"idle_threshold"`
		MaxConferenceParticipants int           `yaml:"max_conference_participants"`
		ReconcileInterval         time.Duration `yaml:"reconcile_interval"`
	} `yaml:"calls"`

	Quality struct {
		Presets []QualityPreset `yaml:"presets"`

		Thresholds struct {
			Excellent QualityThreshold `yaml:"excellent"`
			Good      QualityThreshold `yaml:"good"`
			Fair      QualityThreshold `yaml:"fair"`
		} `yaml:"thresholds"`
	} `yaml:"quality"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

type QualityPreset struct {
	Name      string `yaml:"name"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Framerate int    `yaml:"framerate"`
	Bitrate   int    `yaml:"bitrate"`
}

type QualityThreshold struct {
	MaxPacketLoss    float64       `yaml:"max_packet_loss"`
	MaxRoundTripTime time.Duration `yaml:"max_rtt"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signaling
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url must not be empty")
	}
	if c.Signaling.UserID == "" {
		return fmt.Errorf("signaling.user_id must not be empty")
	}
	if c.Signaling.JWTSecret == "" {
		return fmt.Errorf("signaling.jwt_secret must not be empty")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.SendsPerSecond <= 0 {
		return fmt.Errorf("signaling.sends_per_second must be > 0")
	}
	if c.Signaling.SendBurst <= 0 {
		return fmt.Errorf("signaling.send_burst must be > 0")
	}

	// WebRTC
	if len(c.WebRTC.STUNServers) == 0 {
		return fmt.Errorf("webrtc.stun_servers must not be empty")
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Calls
	if c.Calls.CallTimeout <= 0 {
		return fmt.Errorf("calls.call_timeout must be > 0")
	}
	if c.Calls.IdleSweepInterval <= 0 {
		return fmt.Errorf("calls.idle_sweep_interval must be > 0")
	}
	if c.Calls.IdleThreshold <= 0 {
		return fmt.Errorf("calls.idle_threshold must be > 0")
	}
	if c.Calls.MaxConferenceParticipants <= 1 {
		return fmt.Errorf("calls.max_conference_participants must be > 1")
	}
	if c.Calls.ReconcileInterval <= 0 {
		return fmt.Errorf("calls.reconcile_interval must be > 0")
	}

	// Quality
	if len(c.Quality.Presets) == 0 {
		return fmt.Errorf("quality.presets must not be empty")
	}
	seen := make(map[string]bool)
	for _, p := range c.Quality.Presets {
		if p.Name == "" {
			return fmt.Errorf("quality preset name must not be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate quality preset: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Width <= 0 || p.Height <= 0 || p.Framerate <= 0 {
			return fmt.Errorf("quality preset %s must have positive dimensions and framerate", p.Name)
		}
	}
	for tier, th := range map[string]QualityThreshold{
		"excellent": c.Quality.Thresholds.Excellent,
		"good":      c.Quality.Thresholds.Good,
		"fair":      c.Quality.Thresholds.Fair,
	} {
		if th.MaxPacketLoss < 0 || th.MaxPacketLoss > 1 {
			return fmt.Errorf("quality.thresholds.%s.max_packet_loss must be in [0,1]", tier)
		}
		if th.MaxRoundTripTime <= 0 {
			return fmt.Errorf("quality.thresholds.%s.max_rtt must be > 0", tier)
		}
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.UserID = "local"
	cfg.Signaling.JWTSecret = "change-me-in-production"
	cfg.Signaling.TokenTTL = 15 * time.Minute
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.SendsPerSecond = 100
	cfg.Signaling.SendBurst = 200
	cfg.Signaling.Reconnect.MaxAttempts = 5
	cfg.Signaling.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Signaling.Reconnect.MaxDelay = 10 * time.Second

	cfg.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}

	cfg.Calls.CallTimeout = 30 * time.Second
	cfg.Calls.IdleSweepInterval = 30 * time.Second
	cfg.Calls.IdleThreshold = 5 * time.Minute
	cfg.Calls.MaxConferenceParticipants = 8
	cfg.Calls.ReconcileInterval = 10 * time.Second

	cfg.Quality.Presets = []QualityPreset{
		{Name: "low", Width: 320, Height: 240, Framerate: 15, Bitrate: 256},
		{Name: "medium", Width: 640, Height: 480, Framerate: 24, Bitrate: 800},
		{Name: "high", Width: 1280, Height: 720, Framerate: 30, Bitrate: 2000},
	}
	cfg.Quality.Thresholds.Excellent = QualityThreshold{MaxPacketLoss: 0.02, MaxRoundTripTime: 150 * time.Millisecond}
	cfg.Quality.Thresholds.Good = QualityThreshold{MaxPacketLoss: 0.05, MaxRoundTripTime: 300 * time.Millisecond}
	cfg.Quality.Thresholds.Fair = QualityThreshold{MaxPacketLoss: 0.1, MaxRoundTripTime: 500 * time.Millisecond}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "callmesh"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLMESH_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("CALLMESH_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if uid := os.Getenv("CALLMESH_USER_ID"); uid != "" {
		c.Signaling.UserID = uid
	}
	if level := os.Getenv("CALLMESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLMESH_JWT_SECRET"); secret != "" {
		c.Signaling.JWTSecret = secret
	}
}
