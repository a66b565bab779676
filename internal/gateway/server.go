// Package gateway hosts the HTTP listener: channel webhooks, health and the
// operator API.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/channels"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	httpapi "github.com/nextlevelbuilder/relaycore/internal/http"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// Server is the gateway HTTP server.
type Server struct {
	cfg      config.GatewayConfig
	channels *channels.Manager
	status   *httpapi.StatusHandler

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server. status may be nil to disable the operator API.
func NewServer(cfg config.GatewayConfig, chans *channels.Manager, status *httpapi.StatusHandler) *Server {
	return &Server{cfg: cfg, channels: chans, status: status}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	// Channel webhooks
	if s.channels != nil {
		s.channels.Mount(mux)
	}

	// Operator API
	if s.status != nil {
		s.status.RegisterRoutes(mux)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}
