package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18790,
			RateLimitRPM: 60,
		},
		Dispatch: DispatchConfig{
			MaxLockedAttempts:    10,
			LockedAttemptsWaitMs: 500,
			PendingTTLSec:        60,
			SweepIntervalSec:     10,
			Workers:              16,
			Backlog:              1024,
		},
		Channels: ChannelsConfig{
			Assistant: AssistantConfig{
				Path:          "/webhooks/assistant",
				ApplicationID: "assistant",
			},
			Messenger: MessengerConfig{
				Path:      "/webhooks/messenger",
				APIBase:   "https://graph.facebook.com/v19.0",
				SendRPS:   20,
				SendBurst: 5,
			},
		},
		Database: DatabaseConfig{
			Mode:       "memory",
			SQLitePath: "~/.relaycore/dialogs.db",
			FileDir:    "~/.relaycore/dialogs",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (plus env).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	d := c.Dispatch
	switch {
	case d.MaxLockedAttempts < 0:
		return fmt.Errorf("dispatch.max_locked_attempts must be >= 0, got %d", d.MaxLockedAttempts)
	case d.LockedAttemptsWaitMs < 0:
		return fmt.Errorf("dispatch.locked_attempts_wait_ms must be >= 0, got %d", d.LockedAttemptsWaitMs)
	case d.PendingTTLSec <= 0:
		return fmt.Errorf("dispatch.pending_ttl_sec must be > 0, got %d", d.PendingTTLSec)
	case d.SweepIntervalSec <= 0:
		return fmt.Errorf("dispatch.sweep_interval_sec must be > 0, got %d", d.SweepIntervalSec)
	}
	switch c.Database.Mode {
	case "", "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.mode: unknown mode %q", c.Database.Mode)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Gateway host/port
	envStr("RELAYCORE_HOST", &c.Gateway.Host)
	envStr("RELAYCORE_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("RELAYCORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Dispatch
	envInt("RELAYCORE_MAX_LOCKED_ATTEMPTS", &c.Dispatch.MaxLockedAttempts)
	envInt("RELAYCORE_LOCKED_ATTEMPTS_WAIT_MS", &c.Dispatch.LockedAttemptsWaitMs)
	envInt("RELAYCORE_WORKERS", &c.Dispatch.Workers)

	// Channel secrets
	envStr("RELAYCORE_MESSENGER_PAGE_TOKEN", &c.Channels.Messenger.PageToken)
	envStr("RELAYCORE_MESSENGER_APP_SECRET", &c.Channels.Messenger.AppSecret)
	envStr("RELAYCORE_MESSENGER_VERIFY_TOKEN", &c.Channels.Messenger.VerifyToken)
	if c.Channels.Messenger.PageToken != "" && c.Channels.Messenger.PageID != "" {
		c.Channels.Messenger.Enabled = true
	}

	// Database
	envStr("RELAYCORE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("RELAYCORE_DB_MODE", &c.Database.Mode)
	envStr("RELAYCORE_SQLITE_PATH", &c.Database.SQLitePath)

	// Telemetry
	envStr("RELAYCORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("RELAYCORE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("RELAYCORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("RELAYCORE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("RELAYCORE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Allow lists from env (comma-separated)
	if v := os.Getenv("RELAYCORE_MESSENGER_ALLOW_FROM"); v != "" {
		c.Channels.Messenger.AllowFrom = strings.Split(v, ",")
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
