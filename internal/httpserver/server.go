package httpserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/metrics"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Options struct {
	// Name identifies the listener in logs, e.g. "http" or "https".
	Name string
	Addr string
	// Workers bounds the exchanges handled concurrently. Values <= 0 mean
	// one worker.
	Workers int
	// Certs turns the listener into a TLS listener.
	Certs *CertStore
	// Ops registers /healthz, /readyz, /version and /metrics.
	Ops     bool
	Build   BuildInfo
	Metrics *metrics.Metrics
}

// Server is one signaling listener. Plain and TLS listeners are separate
// Servers with independent worker pools.
type Server struct {
	log   *slog.Logger
	name  string
	addr  string
	build BuildInfo
	certs *CertStore
	m     *metrics.Metrics

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "http"
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	s := &Server{
		log:   logger.With("listener", name),
		name:  name,
		addr:  opts.Addr,
		build: opts.Build,
		certs: opts.Certs,
		m:     opts.Metrics,
		mux:   http.NewServeMux(),
	}

	if opts.Ops {
		s.registerOpsRoutes()
	}

	handler := chain(s.mux,
		recoverMiddleware(s.log, s.m),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		workerMiddleware(semaphore.NewWeighted(int64(workers)), s.m),
	)

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Certs returns the certificate store of a TLS listener, or nil.
func (s *Server) Certs() *CertStore {
	return s.certs
}

// Listen binds the configured address. TLS listeners wrap the socket with a
// config that picks certificates from the store per handshake.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("%s listen %s: %w", s.name, s.addr, err)
	}
	if s.certs == nil {
		return ln, nil
	}
	return tls.NewListener(ln, &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.certs.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
	}), nil
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String(), "tls", s.certs != nil)
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerOpsRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.m))
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
