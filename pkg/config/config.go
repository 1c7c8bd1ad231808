package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Signal struct {
		URL           string        `yaml:"url"`
		HandshakeWait time.Duration `yaml:"handshake_wait"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		SendRate      float64       `yaml:"send_rate"`
		SendBurst     int           `yaml:"send_burst"`
		// ReconnectDelay paces the external reconnect loop after the
		// channel reports a closed transport.
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Call struct {
		OfferWait    time.Duration `yaml:"offer_wait"`
		AbandonGrace time.Duration `yaml:"abandon_grace"`
		InitTimeout  time.Duration `yaml:"init_timeout"`
	} `yaml:"call"`

	Media struct {
		EchoCancellation bool `yaml:"echo_cancellation"`
		AutoGainControl  bool `yaml:"auto_gain_control"`
		NoiseSuppression bool `yaml:"noise_suppression"`
		HighPassFilter   bool `yaml:"high_pass_filter"`
		AllowVideo       bool `yaml:"allow_video"`
	} `yaml:"media"`

	Status struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"status"`

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

	Tracing struct {
		Enabled   bool   `yaml:"enabled"`
		JaegerURL string `yaml:"jaeger_url"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url must not be empty")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be > 0")
	}

	// Signal
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.HandshakeWait <= 0 {
		return fmt.Errorf("signal.handshake_wait must be > 0")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendRate <= 0 {
		return fmt.Errorf("signal.send_rate must be > 0")
	}
	if c.Signal.SendBurst <= 0 {
		return fmt.Errorf("signal.send_burst must be > 0")
	}
	if c.Signal.ReconnectDelay <= 0 {
		return fmt.Errorf("signal.reconnect_delay must be > 0")
	}

	// Call
	if c.Call.OfferWait <= 0 {
		return fmt.Errorf("call.offer_wait must be > 0")
	}
	if c.Call.AbandonGrace <= 0 {
		return fmt.Errorf("call.abandon_grace must be > 0")
	}
	if c.Call.InitTimeout <= 0 {
		return fmt.Errorf("call.init_timeout must be > 0")
	}

	// Status
	if c.Status.Enabled && c.Status.Address == "" {
		return fmt.Errorf("status.address must not be empty when status.enabled=true")
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

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
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

	// Default values
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Server.Timeout = 15 * time.Second

	cfg.Signal.URL = "ws://localhost:8080/ws"
	cfg.Signal.HandshakeWait = 500 * time.Millisecond
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendRate = 50
	cfg.Signal.SendBurst = 100
	cfg.Signal.ReconnectDelay = 5 * time.Second

	cfg.Call.OfferWait = 5 * time.Second
	cfg.Call.AbandonGrace = 2 * time.Second
	cfg.Call.InitTimeout = 3 * time.Second

	cfg.Media.EchoCancellation = true
	cfg.Media.AutoGainControl = true
	cfg.Media.NoiseSuppression = true
	cfg.Media.HighPassFilter = true
	cfg.Media.AllowVideo = false

	cfg.Status.Enabled = true
	cfg.Status.Address = "localhost:9091"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if url := os.Getenv("MESSENGER_SERVER_URL"); url != "" {
		c.Server.BaseURL = url
	}
	if url := os.Getenv("MESSENGER_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("MESSENGER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("MESSENGER_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if addr := os.Getenv("MESSENGER_STATUS_ADDRESS"); addr != "" {
		c.Status.Address = addr
	}
}
