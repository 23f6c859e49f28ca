// Package gateway serves the event stream over SSE and WebSocket and a
// small HTTP surface for health checks. Fan-out is fed by the broker's
// bus; each connection owns one bounded subscription.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/config"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// Server is the stream fan-out server.
type Server struct {
	cfg    *config.Config
	broker *broker.Broker

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway over an open broker.
func NewServer(cfg *config.Config, b *broker.Broker) *Server {
	s := &Server{
		cfg:    cfg,
		broker: b,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM)
	return s
}

// checkOrigin validates stream origins against the allowed origins
// whitelist. No configuration allows everything; an empty Origin header
// (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start begins listening; it blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.Gateway.Addr()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%q}`, protocol.Version)
}

// authorize enforces the bearer token when one is configured.
func (s *Server) authorize(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ") == token
	}
	return r.URL.Query().Get("token") == token
}

// clientKey identifies a connection for rate limiting: the remote host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StartTestServer creates a listener on a random port and returns the
// actual address and a start function. Used for integration tests.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
