package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"roomview/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	HTTP struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Session struct {
		ServerURL      string        `yaml:"server_url"`
		RoomID         string        `yaml:"room_id"`
		Camera         string        `yaml:"camera"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		AutoStart      bool          `yaml:"auto_start"`
		DeviceName     string        `yaml:"device_name"`
		DeviceVersion  string        `yaml:"device_version"`
	} `yaml:"session"`

	Signal struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
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

	Auth struct {
		// Empty secret disables bearer auth on the control API.
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// HTTP
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address must not be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http.read_timeout must be > 0")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http.write_timeout must be > 0")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be > 0")
	}

	// Session
	if err := validation.ValidateSignalingURL(c.Session.ServerURL); err != nil {
		return fmt.Errorf("session.server_url: %w", err)
	}
	if c.Session.RoomID != "" {
		if err := validation.ValidateRoomID(c.Session.RoomID); err != nil {
			return fmt.Errorf("session.room_id: %w", err)
		}
	}
	if c.Session.AutoStart && c.Session.RoomID == "" {
		return fmt.Errorf("session.room_id must be set when session.auto_start=true")
	}
	if err := validation.ValidateCamera(c.Session.Camera); err != nil {
		return fmt.Errorf("session.camera: %w", err)
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval < 0 {
		return fmt.Errorf("signal.ping_interval must be >= 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("signal.max_message_size_bytes must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.JWTSecret != "" && c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0 when auth.jwt_secret is set")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
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
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
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

	cfg.HTTP.Address = ":8090"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second

	cfg.Session.ServerURL = "ws://localhost:8000"
	cfg.Session.Camera = "combined"
	cfg.Session.ConnectTimeout = 10 * time.Second
	cfg.Session.DeviceName = "Chrome"
	cfg.Session.DeviceVersion = "89.0.4389.82"

	cfg.Signal.PingInterval = 20 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.HandshakeTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSizeBytes = 1 << 20

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "roomview"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.AccessTokenTTL = 12 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 5
	cfg.RateLimiting.Burst = 10
	cfg.RateLimiting.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROOMVIEW_SERVER_URL"); v != "" {
		c.Session.ServerURL = v
	}
	if v := os.Getenv("ROOMVIEW_ROOM_ID"); v != "" {
		c.Session.RoomID = v
	}
	if v := os.Getenv("ROOMVIEW_CAMERA"); v != "" {
		c.Session.Camera = v
	}
	if v := os.Getenv("ROOMVIEW_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.AutoStart = b
		}
	}
	if v := os.Getenv("ROOMVIEW_HTTP_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("ROOMVIEW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROOMVIEW_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}
