// Package config loads golivy's system configuration: defaults, then the
// config file, then GOLIVY_* environment variables, then runtime overrides.
package config

import (
	"time"

	"github.com/3leaps/golivy/pkg/operator"
	"github.com/3leaps/golivy/pkg/sqlitestore"
	"github.com/3leaps/golivy/pkg/taskstate"
)

// Config is the fully resolved system configuration.
type Config struct {
	// Livy is the system-wide config.livy.* fallback for connection keys.
	Livy operator.SystemConfig `mapstructure:"livy"`

	State    StateConfig    `mapstructure:"state"`
	Registry RegistryConfig `mapstructure:"registry"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// StateConfig selects the task-state backend.
type StateConfig struct {
	// Backend is memory, file, sqlite or s3.
	Backend string       `mapstructure:"backend"`
	Dir     string       `mapstructure:"dir"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	S3      S3Config     `mapstructure:"s3"`
}

type SQLiteConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// BackendConfig converts the state section for taskstate.Open.
func (s StateConfig) BackendConfig() taskstate.BackendConfig {
	return taskstate.BackendConfig{
		Kind: s.Backend,
		Dir:  s.Dir,
		SQLite: sqlitestore.Config{
			Path:      s.SQLite.Path,
			URL:       s.SQLite.URL,
			AuthToken: s.SQLite.AuthToken,
		},
		S3: taskstate.S3Config{
			Bucket:          s.S3.Bucket,
			Prefix:          s.S3.Prefix,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			Profile:         s.S3.Profile,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			ForcePathStyle:  s.S3.ForcePathStyle,
		},
	}
}

// RegistryConfig locates the task registry.
type RegistryConfig struct {
	Dir               string        `mapstructure:"dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	GCMaxAge          time.Duration `mapstructure:"gc_max_age"`
}

// RunnerConfig controls host-side re-invocation.
type RunnerConfig struct {
	// MaxAttempts bounds invocations per run; 0 is unbounded.
	MaxAttempts int `mapstructure:"max_attempts"`

	// RateLimit caps Livy requests per second; 0 disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// ServerConfig is the health and metrics HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig turns on the /metrics endpoint for 'golivy run' without
// --serve. It is served on server.host and server.port.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
