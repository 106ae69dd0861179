package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Presence PresenceConfig `yaml:"presence"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type SessionConfig struct {
	// MaxMessageBytes caps a single inbound message. Larger messages close
	// the session.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	// SendBuffer is the per-session queue of pending outbound events.
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	// IncrementsPerSecond throttles votes per session; 0 disables.
	IncrementsPerSecond float64 `yaml:"increments_per_second"`
	IncrementBurst      int     `yaml:"increment_burst"`
}

type PresenceConfig struct {
	// HeartbeatInterval periodically rebroadcasts the presence count; 0 disables.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type SnapshotConfig struct {
	Path string `yaml:"path"`
	// Schedule is a cron expression or descriptor such as "@every 30m".
	Schedule string `yaml:"schedule"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{},
			ShutdownGrace:  5 * time.Second,
		},
		Session: SessionConfig{
			MaxMessageBytes: 10,
			SendBuffer:      64,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Path:     "state.json",
			Schedule: "@every 30m",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_grace must not be negative"))
	}
	if c.Session.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("session.max_message_bytes must be positive"))
	}
	if c.Session.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("session.send_buffer must be positive"))
	}
	if c.Session.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.write_timeout must be positive"))
	}
	if c.Session.PingInterval > 0 && c.Session.PongTimeout <= c.Session.PingInterval {
		errs = append(errs, fmt.Errorf("session.pong_timeout must exceed session.ping_interval"))
	}
	if c.Session.IncrementsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("session.increments_per_second must not be negative"))
	}
	if c.Presence.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("presence.heartbeat_interval must not be negative"))
	}
	if c.Snapshot.Path == "" {
		errs = append(errs, fmt.Errorf("snapshot.path is required"))
	}
	return errors.Join(errs...)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
