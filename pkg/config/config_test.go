package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "ring timeout must be > 0",
			mutate: func(c *Config) {
				c.Calls.RingTimeout = 0
			},
		},
		{
			name: "reconnect attempts must be >= 0",
			mutate: func(c *Config) {
				c.Calls.ReconnectAttempts = -1
			},
		},
		{
			name: "reconnect delay must be > 0",
			mutate: func(c *Config) {
				c.Calls.ReconnectDelay = 0
			},
		},
		{
			name: "port range must be fully set",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 10000
				c.WebRTC.PortRange.Max = 0
			},
		},
		{
			name: "port range min below max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 20000
				c.WebRTC.PortRange.Max = 10000
			},
		},
		{
			name: "invites per minute must be > 0",
			mutate: func(c *Config) {
				c.Signaling.InvitesPerMinute = 0
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "gateway url required when enabled",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.URL = ""
			},
		},
		{
			name: "tracing sample rate in (0,1]",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name: "logging level not empty",
			mutate: func(c *Config) {
				c.Logging.Level = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Calls.RingTimeout != 30*time.Second {
		t.Errorf("expected default ring timeout 30s, got %v", cfg.Calls.RingTimeout)
	}
	if cfg.Calls.ReconnectAttempts != 3 {
		t.Errorf("expected default reconnect attempts 3, got %d", cfg.Calls.ReconnectAttempts)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("calls:\n  ring_timeout: 15s\n  reconnect_attempts: 5\n  reconnect_delay: 2s\nredis:\n  enabled: true\n  address: redis:6379\n  pool_size: 4\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Calls.RingTimeout != 15*time.Second {
		t.Errorf("expected ring timeout 15s, got %v", cfg.Calls.RingTimeout)
	}
	if cfg.Calls.ReconnectAttempts != 5 {
		t.Errorf("expected 5 reconnect attempts, got %d", cfg.Calls.ReconnectAttempts)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Address != "redis:6379" {
		t.Errorf("expected redis override applied, got %+v", cfg.Redis)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RINGLINK_LOG_LEVEL", "debug")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override to set log level debug, got %q", cfg.Logging.Level)
	}
}
