// Package http serves the operator API of the gateway: channel status,
// dispatch counters and dialog state reset.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/gate"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

// ChannelStatus reports the running state of registered channels.
type ChannelStatus interface {
	GetStatus() map[string]interface{}
}

// DispatchAdmin is the part of dispatch.Front the API drives.
type DispatchAdmin interface {
	Stats() dispatch.Stats
	ResetDialog(ctx context.Context, userKey string) error
}

// StatusHandler handles the operator endpoints.
type StatusHandler struct {
	channels ChannelStatus
	front    DispatchAdmin
	token    string
}

// NewStatusHandler creates the handler. An empty token disables auth.
func NewStatusHandler(channels ChannelStatus, front DispatchAdmin, token string) *StatusHandler {
	return &StatusHandler{channels: channels, front: front, token: token}
}

// RegisterRoutes registers all operator routes on the given mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/channels", h.auth(h.handleChannels))
	mux.HandleFunc("GET /v1/dispatch", h.auth(h.handleDispatch))
	mux.HandleFunc("DELETE /v1/dialogs/{key}", h.auth(h.handleResetDialog))
}

func (h *StatusHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := extractBearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (h *StatusHandler) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": h.channels.GetStatus()})
}

func (h *StatusHandler) handleDispatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"dispatch": h.front.Stats(),
	})
}

func (h *StatusHandler) handleResetDialog(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if strings.Count(key, ":") < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key must be channel:application:user"})
		return
	}
	if err := h.front.ResetDialog(r.Context(), key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gate.ErrAdmissionAbandoned) {
			status = http.StatusConflict
		}
		slog.Warn("http: dialog reset failed", "user", key, "error", err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "key": key})
}

func extractBearerToken(r *http.Request) string {
	v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
