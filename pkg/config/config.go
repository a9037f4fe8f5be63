package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Calls struct {
		RingTimeout       time.Duration `yaml:"ring_timeout"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	} `yaml:"calls"`

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

	Signaling struct {
		InvitesPerMinute int `yaml:"invites_per_minute"`
		InviteBurst      int `yaml:"invite_burst"`
	} `yaml:"signaling"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Gateway struct {
		Enabled      bool          `yaml:"enabled"`
		URL          string        `yaml:"url"`
		AccessToken  string        `yaml:"access_token"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"gateway"`

	Widget struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"widget"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Calls.RingTimeout <= 0 {
		return fmt.Errorf("calls.ring_timeout must be > 0")
	}
	if c.Calls.ReconnectAttempts < 0 {
		return fmt.Errorf("calls.reconnect_attempts must be >= 0")
	}
	if c.Calls.ReconnectDelay <= 0 {
		return fmt.Errorf("calls.reconnect_delay must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Signaling.InvitesPerMinute <= 0 {
		return fmt.Errorf("signaling.invites_per_minute must be > 0")
	}
	if c.Signaling.InviteBurst <= 0 {
		return fmt.Errorf("signaling.invite_burst must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Gateway.Enabled {
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url must not be empty when gateway.enabled=true")
		}
		if c.Gateway.PingInterval <= 0 {
			return fmt.Errorf("gateway.ping_interval must be > 0 when gateway.enabled=true")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
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

	cfg.Calls.RingTimeout = 30 * time.Second
	cfg.Calls.ReconnectAttempts = 3
	cfg.Calls.ReconnectDelay = time.Second

	cfg.Signaling.InvitesPerMinute = 10
	cfg.Signaling.InviteBurst = 3

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Gateway.Enabled = false
	cfg.Gateway.PingInterval = 30 * time.Second
	cfg.Gateway.WriteTimeout = 10 * time.Second

	cfg.Widget.BaseURL = "https://meet.example.com"

	cfg.Auth.JWTSecret = "change-me-in-production"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "ringlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RINGLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if url := os.Getenv("RINGLINK_GATEWAY_URL"); url != "" {
		c.Gateway.URL = url
	}
	if level := os.Getenv("RINGLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RINGLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
