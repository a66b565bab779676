package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/relaycore/internal/delivery"
)

// QueueRegistrar receives the delivery queue of each push channel.
type QueueRegistrar interface {
	RegisterQueue(channel string, q *delivery.Queue)
}

// Manager manages all registered channels, handling their lifecycle and
// their HTTP mounting.
type Manager struct {
	channels map[string]Channel
	queues   QueueRegistrar
	mu       sync.RWMutex
}

// NewManager creates a new channel manager. Push channels registered later
// hand their queue to queues.
func NewManager(queues QueueRegistrar) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		queues:   queues,
	}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(channel Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := channel.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}
	m.channels[name] = channel

	if pc, ok := channel.(PushChannel); ok && m.queues != nil {
		m.queues.RegisterQueue(name, pc.Queue())
	}
	return nil
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// Mount registers the webhook handler of every WebhookChannel on mux.
func (m *Manager) Mount(mux *http.ServeMux) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		wc, ok := ch.(WebhookChannel)
		if !ok {
			continue
		}
		mux.Handle(wc.WebhookPath(), wc)
		slog.Info("channels: webhook mounted", "channel", name, "path", wc.WebhookPath())
	}
}

// StartAll starts all registered channels.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name, "style", channel.Style())
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels started")
	return nil
}

// StopAll gracefully stops all channels. Push channels drain nothing further
// once stopped: pending deliveries are abandoned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("stopping all channels")
	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels stopped")
	return nil
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, channel := range m.channels {
		st := map[string]interface{}{
			"enabled": true,
			"running": channel.IsRunning(),
			"style":   string(channel.Style()),
		}
		if rl, ok := channel.(interface{ RateLimited() int }); ok {
			st["rate_limited"] = rl.RateLimited()
		}
		status[name] = st
	}
	return status
}

// GetEnabledChannels returns the sorted names of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
