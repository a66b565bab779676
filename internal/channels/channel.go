// Package channels provides the channel abstraction layer for chat platforms.
// A channel is mounted on the gateway HTTP server, converts platform payloads
// into bus events for the dispatch front, and (for push platforms) owns the
// delivery queue its outgoing actions are sent through.
package channels

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/delivery"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "assistant", "messenger").
	Name() string

	// Style tells the dispatch front how actions reach the platform.
	Style() bus.ChannelStyle

	// Start prepares the channel. Should be non-blocking.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing events.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// WebhookChannel receives inbound events over HTTP.
type WebhookChannel interface {
	Channel
	http.Handler
	WebhookPath() string
}

// PushChannel delivers outgoing actions through its own ordered queue.
type PushChannel interface {
	Channel
	Queue() *delivery.Queue
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	style     bus.ChannelStyle
	running   atomic.Bool
	allowList []string
	limiter   *WebhookRateLimiter
}

// NewBaseChannel creates a new BaseChannel. A nil limiter disables inbound rate limiting.
func NewBaseChannel(name string, style bus.ChannelStyle, allowList []string, limiter *WebhookRateLimiter) *BaseChannel {
	return &BaseChannel{
		name:      name,
		style:     style,
		allowList: allowList,
		limiter:   limiter,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// Style returns the channel style.
func (c *BaseChannel) Style() bus.ChannelStyle { return c.style }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || idPart == allowed || senderID == trimmed || idPart == trimmed {
			return true
		}
	}
	return false
}

// Admit applies the allowlist and the inbound rate limit to senderID.
// Rejections are logged; the caller drops the event.
func (c *BaseChannel) Admit(senderID string) bool {
	if !c.IsAllowed(senderID) {
		slog.Debug("channels: sender not allowed", "channel", c.name, "sender", senderID)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow(c.name, senderID) {
		slog.Warn("channels: inbound rate limit exceeded, event dropped", "channel", c.name, "sender", senderID)
		return false
	}
	return true
}

// RateLimited returns how many inbound events of this channel the rate limiter rejected.
func (c *BaseChannel) RateLimited() int {
	if c.limiter == nil {
		return 0
	}
	return c.limiter.Dropped(c.name)
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
