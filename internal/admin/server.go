// Package admin serves the bridge's health, readiness and metrics endpoints.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"udp-topic-bridge/internal/logging"
)

// Transport is the part of the UDP transport the admin server reports on.
type Transport interface {
	LocalAddr() netip.AddrPort
	Peer() (netip.AddrPort, bool)
	Done() <-chan struct{}
}

// BusInfo is implemented by bus backends that have a network identity.
type BusInfo interface {
	PeerID() string
	ConnectedPeers() []string
}

// ServerConfig contains admin server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9091")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9091",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Options carries what the endpoints report.
type Options struct {
	Transport Transport
	// Backend is the bus backend name shown in /healthz.
	Backend string
	// Bus is inspected for BusInfo; may be nil.
	Bus      any
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Health is the /healthz response body.
type Health struct {
	Status         string   `json:"status"`
	LocalAddr      string   `json:"local_addr"`
	Peer           string   `json:"peer,omitempty"`
	Backend        string   `json:"bus_backend"`
	BusPeerID      string   `json:"bus_peer_id,omitempty"`
	ConnectedPeers []string `json:"bus_connected_peers,omitempty"`
}

// Server is an HTTP server for the admin endpoints.
type Server struct {
	cfg      ServerConfig
	opts     Options
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new admin server.
func NewServer(cfg ServerConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(logging.KeyComponent, "admin"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server stopped", logging.KeyError, err)
		}
	}()
	s.logger.Info("admin server listening", logging.KeyLocalAddr, ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) transportRunning() bool {
	if s.opts.Transport == nil {
		return false
	}
	select {
	case <-s.opts.Transport.Done():
		return false
	default:
		return true
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok", Backend: s.opts.Backend}
	if s.opts.Transport != nil {
		h.LocalAddr = s.opts.Transport.LocalAddr().String()
		if p, ok := s.opts.Transport.Peer(); ok {
			h.Peer = p.String()
		}
	}
	if info, ok := s.opts.Bus.(BusInfo); ok {
		h.BusPeerID = info.PeerID()
		h.ConnectedPeers = info.ConnectedPeers()
	}

	code := http.StatusOK
	if !s.transportRunning() {
		h.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// handleReadyz reports ready once the receive loop is running.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.transportRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
