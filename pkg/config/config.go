package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/pkg/circuitbreaker"
	"talkmix/pkg/retry"
	"talkmix/pkg/tracing"
	"talkmix/pkg/validation"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MIXER_"

type Config struct {
	InstanceID string `yaml:"instance_id"`

	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Control struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		Path            string        `yaml:"path"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"control"`

	Mixer struct {
		Resolution       string        `yaml:"resolution"`
		FrameRate        int           `yaml:"frame_rate"`
		SampleRate       int           `yaml:"sample_rate"`
		Channels         int           `yaml:"channels"`
		MaxSources       int           `yaml:"max_sources"`
		MaxBuffered      int           `yaml:"max_buffered"`
		MaxVisible       int           `yaml:"max_visible"`
		Layout           string        `yaml:"layout"`
		Title            string        `yaml:"title"`
		ShowTitle        bool          `yaml:"show_title"`
		Clock            bool          `yaml:"clock"`
		ClockFormat      string        `yaml:"clock_format"`
		ShowStreamTitles bool          `yaml:"show_titles"`
		BlindMode        string        `yaml:"blind_mode"`
		DrainTimeout     time.Duration `yaml:"drain_timeout"`
	} `yaml:"mixer"`

	Output struct {
		// Dir anchors relative sink paths.
		Dir string `yaml:"dir"`
	} `yaml:"output"`

	Sinks []domain.SinkSpec `yaml:"sinks"`

	SinkQueue struct {
		QueueSize int                   `yaml:"queue_size"`
		Retry     retry.Config          `yaml:"retry"`
		Breaker   circuitbreaker.Config `yaml:"breaker"`
	} `yaml:"sink_queue"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		MetricsPath         string        `yaml:"metrics_path"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Address     string        `yaml:"address"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		Channel     string        `yaml:"channel"`
		InstanceTTL time.Duration `yaml:"instance_ttl"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Control.Enabled {
		if c.Control.Address == "" {
			return fmt.Errorf("control.address must not be empty when control.enabled=true")
		}
		if c.Control.PingInterval <= 0 || c.Control.PongTimeout <= c.Control.PingInterval {
			return fmt.Errorf("control.pong_timeout must exceed control.ping_interval > 0")
		}
	}

	if _, err := domain.ParseResolution(c.Mixer.Resolution); err != nil {
		return fmt.Errorf("mixer.resolution: %w", err)
	}
	if _, err := domain.ParseLayoutKind(c.Mixer.Layout); err != nil {
		return fmt.Errorf("mixer.layout: %w", err)
	}
	if mode, err := domain.ParseBlindMode(c.Mixer.BlindMode); err != nil || mode == domain.BlindNone {
		return fmt.Errorf("mixer.blind_mode must be solid or freeze, got %q", c.Mixer.BlindMode)
	}
	if c.Mixer.FrameRate <= 0 {
		return fmt.Errorf("mixer.frame_rate must be > 0")
	}
	if c.Mixer.SampleRate <= 0 || c.Mixer.Channels <= 0 {
		return fmt.Errorf("mixer.sample_rate and mixer.channels must be > 0")
	}
	if c.Mixer.MaxVisible < 0 {
		return fmt.Errorf("mixer.max_visible must be >= 0")
	}
	if err := validation.ValidateClockFormat(c.Mixer.ClockFormat); err != nil {
		return fmt.Errorf("mixer.clock_format: %w", err)
	}
	if err := validation.ValidateTitle(c.Mixer.Title); err != nil {
		return fmt.Errorf("mixer.title: %w", err)
	}
	if c.Mixer.DrainTimeout <= 0 {
		return fmt.Errorf("mixer.drain_timeout must be > 0")
	}

	for i := range c.Sinks {
		if err := c.Sinks[i].Validate(); err != nil {
			return fmt.Errorf("sinks[%d]: %w", i, err)
		}
	}
	if c.SinkQueue.QueueSize <= 0 {
		return fmt.Errorf("sink_queue.queue_size must be > 0")
	}
	if c.SinkQueue.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("sink_queue.breaker.failure_threshold must be > 0")
	}

	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http requests_per_second and burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 || c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket messages_per_second and burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 || c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting max_concurrent values must be >= 0")
		}
	}

	return nil
}

// StartupSinks returns the configured sinks with relative paths resolved
// against output.dir.
func (c *Config) StartupSinks() []domain.SinkSpec {
	specs := make([]domain.SinkSpec, len(c.Sinks))
	for i, spec := range c.Sinks {
		specs[i] = c.resolve(spec)
	}
	return specs
}

func (c *Config) resolve(spec domain.SinkSpec) domain.SinkSpec {
	join := func(p string) string {
		if c.Output.Dir == "" || p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Output.Dir, p)
	}

	switch {
	case spec.File != nil:
		file := *spec.File
		file.Path = join(file.Path)
		spec.File = &file
	case spec.Segmented != nil:
		seg := *spec.Segmented
		seg.OutputDir = join(seg.OutputDir)
		spec.Segmented = &seg
	case spec.Fanout != nil:
		children := make([]domain.SinkSpec, len(spec.Fanout.Children))
		for i, child := range spec.Fanout.Children {
			children[i] = c.resolve(child)
		}
		spec.Fanout = &domain.FanoutParams{Children: children}
	}
	return spec
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
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

	cfg.Control.Enabled = true
	cfg.Control.Address = ":8081"
	cfg.Control.Path = "/control"
	cfg.Control.PingInterval = 30 * time.Second
	cfg.Control.PongTimeout = 60 * time.Second
	cfg.Control.ShutdownTimeout = 10 * time.Second

	cfg.Mixer.Resolution = "hd"
	cfg.Mixer.FrameRate = 25
	cfg.Mixer.SampleRate = 48000
	cfg.Mixer.Channels = 2
	cfg.Mixer.MaxSources = 64
	cfg.Mixer.MaxBuffered = 50
	cfg.Mixer.MaxVisible = 8
	cfg.Mixer.Layout = "grid"
	cfg.Mixer.Clock = true
	cfg.Mixer.ClockFormat = "2006-01-02 15:04:05 MST"
	cfg.Mixer.ShowStreamTitles = true
	cfg.Mixer.BlindMode = "solid"
	cfg.Mixer.DrainTimeout = 10 * time.Second

	cfg.SinkQueue.QueueSize = 64
	cfg.SinkQueue.Retry = retry.DefaultConfig()
	cfg.SinkQueue.Breaker = circuitbreaker.DefaultConfig()

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"
	cfg.Monitoring.HealthCheckInterval = 10 * time.Second

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "talkmix:events"
	cfg.Redis.InstanceTTL = 30 * time.Second

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

// envOverrides lists the settings that can be changed from the environment.
// Unset variables leave the pointers nil.
type envOverrides struct {
	ServerAddress  *string `env:"SERVER_ADDRESS"`
	ControlAddress *string `env:"CONTROL_ADDRESS"`
	LogLevel       *string `env:"LOG_LEVEL"`
	MaxVisible     *int    `env:"MAX_VISIBLE"`
	Layout         *string `env:"LAYOUT"`
	RedisAddress   *string `env:"REDIS_ADDRESS"`
	OutputDir      *string `env:"OUTPUT_DIR"`
	TracingEnabled *bool   `env:"TRACING_ENABLED"`
	JaegerURL      *string `env:"JAEGER_URL"`
}

func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("invalid environment overrides: %w", err)
	}

	if o.ServerAddress != nil {
		c.Server.Address = *o.ServerAddress
	}
	if o.ControlAddress != nil {
		c.Control.Address = *o.ControlAddress
	}
	if o.LogLevel != nil {
		c.Logging.Level = *o.LogLevel
	}
	if o.MaxVisible != nil {
		c.Mixer.MaxVisible = *o.MaxVisible
	}
	if o.Layout != nil {
		c.Mixer.Layout = *o.Layout
	}
	if o.RedisAddress != nil {
		c.Redis.Address = *o.RedisAddress
		c.Redis.Enabled = *o.RedisAddress != ""
	}
	if o.OutputDir != nil {
		c.Output.Dir = *o.OutputDir
	}
	if o.TracingEnabled != nil {
		c.Tracing.Enabled = *o.TracingEnabled
	}
	if o.JaegerURL != nil {
		c.Tracing.JaegerURL = *o.JaegerURL
	}
	return nil
}
