package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/health"
)

const (
	// forceCloseWait bounds how long Drain waits after forcing sessions shut.
	forceCloseWait   = 2 * time.Second
	drainPollEvery   = 25 * time.Millisecond
	shutdownHTTPWait = 5 * time.Second
)

type Server struct {
	state       *State
	checker     *health.Checker
	metrics     http.Handler
	metricsPath string
	frontend    http.Handler
	log         zerolog.Logger

	mu             sync.RWMutex
	session        config.SessionConfig
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	active   atomic.Int64
	draining atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, state *State, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		state:   state,
		checker: health.NewChecker(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.Apply(cfg)
	return s
}

// SetMetricsHandler mounts h at path. Must be called before SetupRoutes.
func (s *Server) SetMetricsHandler(path string, h http.Handler) {
	s.metricsPath = path
	s.metrics = h
}

// SetFrontend serves h at the root. Must be called before SetupRoutes.
func (s *Server) SetFrontend(h http.Handler) {
	s.frontend = h
}

// Apply swaps in the reloadable parts of cfg: allowed origins and session
// settings. Sessions already running keep the settings they started with.
func (s *Server) Apply(cfg *config.Config) {
	origins := make(map[string]bool)
	hosts := make(map[string]bool)
	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			hosts[parsed.Host] = true
		}
	}

	s.mu.Lock()
	s.session = cfg.Session
	s.allowedOrigins = origins
	s.allowedHosts = hosts
	s.mu.Unlock()
}

func (s *Server) sessionConfig() config.SessionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Handler returns the full route table wrapped in the CORS and security
// header middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(s.cors(mux))
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ws", s.handleWS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/increment/{color}", s.handleIncrement)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}
	if s.frontend != nil {
		s.log.Info().Msg("serving embedded frontend")
		mux.Handle("/", s.frontend)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	s.active.Inc()
	defer s.active.Dec()

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	sess := newSession(conn, s.state, s.sessionConfig(), s.log)
	sess.Run(s.ctx)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	c, err := counter.ParseColor(r.PathValue("color"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.state.Vote(c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountersResponse is served by /api/counters.
type CountersResponse struct {
	counter.Counts
	ConcurrentUsers int64  `json:"concurrent_users"`
	TotalUsers      uint64 `json:"total_users"`
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, CountersResponse{
		Counts:          s.state.Counters.Snapshot(),
		ConcurrentUsers: s.state.Presence.Concurrent(),
		TotalUsers:      s.state.Presence.Total(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.checker.Check(r.Context(), s.state.Presence.Concurrent()))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) originAllowed(origin string) (allowed, configured bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowedOrigins) == 0 {
		return false, false
	}
	if s.allowedOrigins[origin] {
		return true, true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return s.allowedHosts[parsed.Host], true
	}
	return false, true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if allowed, configured := s.originAllowed(origin); configured {
		return allowed
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	return isLoopback(parsed.Hostname())
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// cors answers preflight requests and tags responses for configured origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowed, _ := s.originAllowed(origin); allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Sessions reports how many connections are being served.
func (s *Server) Sessions() int64 {
	return s.active.Load()
}

// Drain refuses new sessions and waits for the current ones to end. When ctx
// expires first, the hub is closed so every remaining session shuts down with
// "server shutdown", and Drain waits a little longer for them. It returns
// how many sessions had to be forced.
func (s *Server) Drain(ctx context.Context) int64 {
	s.draining.Store(true)
	if s.waitIdle(ctx) {
		return 0
	}

	forced := s.active.Load()
	s.log.Warn().Int64("sessions", forced).Msg("grace period over, closing remaining sessions")
	s.state.Hub.Close()
	s.cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), forceCloseWait)
	defer cancel()
	if !s.waitIdle(waitCtx) {
		s.log.Error().Int64("sessions", s.active.Load()).Msg("sessions still open after forced close")
	}
	return forced
}

func (s *Server) waitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(drainPollEvery)
	defer ticker.Stop()
	for {
		if s.active.Load() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return s.active.Load() == 0
		case <-ticker.C:
		}
	}
}

// Serve listens on addr until ctx is done, then stops accepting connections.
// Upgraded sessions are not waited for here; see Drain.
func Serve(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger, onReady func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	hs := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownHTTPWait)
		defer cancel()
		return hs.Shutdown(stopCtx)
	})
	eg.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		if onReady != nil {
			onReady()
		}
		return ignoreClosed(hs.Serve(ln))
	})
	return eg.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
