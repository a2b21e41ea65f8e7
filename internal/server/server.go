// Package server wires the developer toggle endpoints, the fault-injected
// guarded route and the operational endpoints into one HTTP server.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xReLogic/Hypnos/internal/api"
	"github.com/0xReLogic/Hypnos/internal/fault"
	"github.com/0xReLogic/Hypnos/internal/logging"
	"github.com/0xReLogic/Hypnos/internal/ratelimit"
	"github.com/0xReLogic/Hypnos/internal/toggle"
)

// Developer endpoint paths.
const (
	PathMisbehave = api.PathMisbehave
	PathBehave    = api.PathBehave
	PathSleep     = api.PathSleep
	PathAwake     = api.PathAwake
	PathStatus    = api.PathStatus
)

// Server serves the toggle endpoints and the guarded route.
type Server struct {
	ListenAddr string
	Toggles    *toggle.Service
	Faults     *fault.Injector
	// Optional limiter for /developer routes
	RateLimiter *ratelimit.RateLimiter
	// GuardedPrefix is the path served through fault injection.
	GuardedPrefix string
	// Upstream serves the guarded route; nil echoes the request instead.
	Upstream  http.Handler
	TLSConfig *tls.Config

	once sync.Once
	srv  *http.Server
}

func (s *Server) httpServer() *http.Server {
	s.once.Do(func() {
		s.srv = &http.Server{
			Addr:              s.ListenAddr,
			Handler:           s.Handler(),
			TLSConfig:         s.TLSConfig,
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	return s.srv
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.developer(mux, PathMisbehave, s.Toggles.ActivateMisbehave)
	s.developer(mux, PathBehave, s.Toggles.DeactivateMisbehave)
	s.developer(mux, PathSleep, s.Toggles.ActivateSleep)
	s.developer(mux, PathAwake, s.Toggles.DeactivateSleep)

	status := "GET " + PathStatus
	mux.Handle(status, instrument(status, limit(s.RateLimiter, PathStatus, http.HandlerFunc(s.handleStatus))))

	// Method-less patterns keep a root guarded prefix from swallowing
	// non-GET requests to the developer paths.
	for _, path := range api.DeveloperPaths {
		mux.Handle(path, instrument(path, http.HandlerFunc(methodNotAllowed)))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	upstream := s.Upstream
	if upstream == nil {
		upstream = http.HandlerFunc(echo)
	}
	guarded := s.Faults.Wrap(upstream)
	prefix := strings.TrimSuffix(s.GuardedPrefix, "/")
	if prefix == "" {
		mux.Handle("/", instrument("/", guarded))
	} else {
		mux.Handle(prefix, instrument(prefix, guarded))
		mux.Handle(prefix+"/", instrument(prefix+"/", guarded))
	}

	return mux
}

// developer registers a toggle endpoint answering GET with op's text.
func (s *Server) developer(mux *http.ServeMux, path string, op func(context.Context) string) {
	pattern := "GET " + path
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, op(r.Context()))
	})
	mux.Handle(pattern, instrument(pattern, limit(s.RateLimiter, path, h)))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.Toggles.Snapshot())
}

func echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "method=%s path=%s\n", r.Method, r.URL.Path)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := s.httpServer()
	logging.LogHTTPServerStart(ln.Addr().String(), s.TLSConfig != nil)

	var err error
	if s.TLSConfig != nil {
		err = srv.ServeTLS(ln, "", "") // certificates in TLSConfig
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on ListenAddr and serves.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including sleeping ones, until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer().Shutdown(ctx)
}
