package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration of the relaycore gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Channels  ChannelsConfig  `json:"channels"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Proactive []ProactiveJob  `json:"proactive,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP listener that hosts channel webhooks.
// Token guards the status API and is NEVER read from the config file, only from env.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"-"`                        // env RELAYCORE_GATEWAY_TOKEN
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // inbound webhook events per minute per sender (0 = disabled)
}

// DispatchConfig holds turn gate, correlator and worker tunables.
// MaxLockedAttempts, LockedAttemptsWaitMs and ErrorText are hot-reloadable.
type DispatchConfig struct {
	MaxLockedAttempts    int    `json:"max_locked_attempts"`     // retries while the user is locked (default 10)
	LockedAttemptsWaitMs int    `json:"locked_attempts_wait_ms"` // wait between retries (default 500)
	PendingTTLSec        int    `json:"pending_ttl_sec"`         // eviction age of pending request turns (default 60)
	SweepIntervalSec     int    `json:"sweep_interval_sec"`      // eviction sweep period (default 10)
	Workers              int    `json:"workers"`                 // dispatch worker pool size (default 16)
	Backlog              int    `json:"backlog,omitempty"`       // queued events before HandleAsync blocks (default 1024)
	ErrorText            string `json:"error_text,omitempty"`    // reply sent when dialog logic fails
}

// LockedWait returns the retry backoff as a duration.
func (d DispatchConfig) LockedWait() time.Duration {
	return time.Duration(d.LockedAttemptsWaitMs) * time.Millisecond
}

// PendingTTL returns the correlator eviction age.
func (d DispatchConfig) PendingTTL() time.Duration {
	return time.Duration(d.PendingTTLSec) * time.Second
}

// SweepInterval returns the correlator sweep period.
func (d DispatchConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSec) * time.Second
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Assistant AssistantConfig `json:"assistant"`
	Messenger MessengerConfig `json:"messenger"`
}

// AssistantConfig configures the voice assistant (request/response) webhook.
type AssistantConfig struct {
	Enabled       bool                `json:"enabled"`
	Path          string              `json:"path,omitempty"`           // webhook path (default "/webhooks/assistant")
	ApplicationID string              `json:"application_id,omitempty"` // application id used in user keys
	AllowFrom     FlexibleStringSlice `json:"allow_from,omitempty"`     // user ids allowed (empty = all)
}

// MessengerConfig configures the Messenger-style push channel.
// PageToken and AppSecret are NEVER read from the config file, only from env.
type MessengerConfig struct {
	Enabled     bool                `json:"enabled"`
	Path        string              `json:"path,omitempty"`     // webhook path (default "/webhooks/messenger")
	PageID      string              `json:"page_id,omitempty"`  // application id used in user keys
	APIBase     string              `json:"api_base,omitempty"` // send API base URL
	VerifyToken string              `json:"verify_token,omitempty"`
	PageToken   string              `json:"-"`                    // env RELAYCORE_MESSENGER_PAGE_TOKEN
	AppSecret   string              `json:"-"`                    // env RELAYCORE_MESSENGER_APP_SECRET
	SendRPS     float64             `json:"send_rps,omitempty"`   // send API rate (default 20/s)
	SendBurst   int                 `json:"send_burst,omitempty"` // send API burst (default 5)
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
}

// DatabaseConfig selects the dialog state backend.
// PostgresDSN is NEVER read from the config file (secret), only from env RELAYCORE_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "memory" (default), "file", "sqlite" or "postgres"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "~/.relaycore/dialogs.db"
	FileDir     string `json:"file_dir,omitempty"`    // default "~/.relaycore/dialogs"
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "relaycore"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ProactiveJob is a cron-scheduled message pushed to a fixed recipient.
type ProactiveJob struct {
	Name          string `json:"name"`
	Schedule      string `json:"schedule"`                 // cron expression, e.g. "0 9 * * 1-5"
	Channel       string `json:"channel"`                  // push channel name
	ApplicationID string `json:"application_id,omitempty"` // defaults to the channel's page id
	Recipient     string `json:"recipient"`
	Text          string `json:"text"`
	DelayMs       int    `json:"delay_ms,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Dispatch = src.Dispatch
	c.Channels = src.Channels
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Proactive = src.Proactive
}

// DispatchSnapshot returns the dispatch section under the read lock.
func (c *Config) DispatchSnapshot() DispatchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dispatch
}
