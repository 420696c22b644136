package whip

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/cors"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/httpserver"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/iceadvert"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/metrics"
)

var (
	ErrAlreadyRunning = errors.New("whip: server already running")
	ErrNoListener     = errors.New("whip: no listen address configured")
)

type ServerOptions struct {
	Orchestrator Orchestrator
	// Addresses expands the wildcard and public IP relay forms.
	Addresses iceadvert.AddressSource

	TCPRelay   string
	ICEServers []config.ICEServer

	RequireIfMatch    bool
	StrictContentType bool
	MaxBodyBytes      int64

	Build   httpserver.BuildInfo
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Listeners selects the listeners Start binds. Either address may be empty,
// but not both.
type Listeners struct {
	Addr    string
	TLSAddr string
	// Workers bounds the concurrent exchanges of each listener.
	Workers int
	// Certificates are installed on the TLS listener before it accepts
	// connections.
	Certificates []tls.Certificate
}

// Server owns the plain and TLS signaling listeners.
type Server struct {
	log  *slog.Logger
	opts ServerOptions
	cors *cors.Store

	mu         sync.Mutex
	relay      string
	iceServers []config.ICEServer
	handler    *Handler
	plain      *httpserver.Server
	secure     *httpserver.Server
	plainAddr  net.Addr
	secureAddr net.Addr
	group      *errgroup.Group
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:        logger,
		opts:       opts,
		cors:       cors.NewStore(logger),
		relay:      opts.TCPRelay,
		iceServers: opts.ICEServers,
	}
}

// Start builds the advertisement list, registers the WHIP routes and starts
// serving. The listeners are bound before Start returns.
func (s *Server) Start(observer Observer, l Listeners) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return ErrAlreadyRunning
	}
	if l.Addr == "" && l.TLSAddr == "" {
		return ErrNoListener
	}

	handler := NewHandler(observer, HandlerOptions{
		Orchestrator:      s.opts.Orchestrator,
		Cors:              s.cors,
		Metrics:           s.opts.Metrics,
		Logger:            s.log,
		RequireIfMatch:    s.opts.RequireIfMatch,
		StrictContentType: s.opts.StrictContentType,
		MaxBodyBytes:      s.opts.MaxBodyBytes,
	})
	handler.SetAdvertisements(s.buildAdvertisements())

	var (
		plain, secure         *httpserver.Server
		plainLn, secureLn     net.Listener
		plainAddr, secureAddr net.Addr
	)
	closeAll := func() {
		for _, ln := range []net.Listener{plainLn, secureLn} {
			if ln != nil {
				_ = ln.Close()
			}
		}
	}

	if l.Addr != "" {
		plain = httpserver.New(httpserver.Options{
			Name:    "http",
			Addr:    l.Addr,
			Workers: l.Workers,
			Ops:     true,
			Build:   s.opts.Build,
			Metrics: s.opts.Metrics,
		}, s.log)
		handler.Register(plain.Mux())
		ln, err := plain.Listen()
		if err != nil {
			return err
		}
		plainLn, plainAddr = ln, ln.Addr()
	}

	if l.TLSAddr != "" {
		certs := httpserver.NewCertStore()
		for _, cert := range l.Certificates {
			if err := certs.Add(cert); err != nil {
				closeAll()
				return fmt.Errorf("whip: install certificate: %w", err)
			}
		}
		secure = httpserver.New(httpserver.Options{
			Name:    "https",
			Addr:    l.TLSAddr,
			Workers: l.Workers,
			Certs:   certs,
			// Health and metrics stay on the plain listener when there is one.
			Ops:     l.Addr == "",
			Build:   s.opts.Build,
			Metrics: s.opts.Metrics,
		}, s.log)
		handler.Register(secure.Mux())
		ln, err := secure.Listen()
		if err != nil {
			closeAll()
			return err
		}
		secureLn, secureAddr = ln, ln.Addr()
	}

	group := &errgroup.Group{}
	if plain != nil {
		group.Go(func() error { return serve(plain, plainLn) })
	}
	if secure != nil {
		group.Go(func() error { return serve(secure, secureLn) })
	}

	s.handler = handler
	s.plain, s.secure = plain, secure
	s.plainAddr, s.secureAddr = plainAddr, secureAddr
	s.group = group
	s.log.Info("whip server started",
		"addr", addrString(plainAddr),
		"tls_addr", addrString(secureAddr),
		"workers", l.Workers,
		"ice_servers", len(handler.Advertisements()),
	)
	return nil
}

func serve(srv *httpserver.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until every listener has stopped serving and returns the first
// serve error. It returns nil immediately when the server is not running.
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop gracefully shuts both listeners down. Stopping a stopped server is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler == nil {
		return nil
	}

	var errs []error
	for _, srv := range []*httpserver.Server{s.plain, s.secure} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
			_ = srv.Close()
		}
	}
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	s.handler = nil
	s.plain, s.secure = nil, nil
	s.plainAddr, s.secureAddr = nil, nil
	s.group = nil
	s.log.Info("whip server stopped")
	return errors.Join(errs...)
}

// Reconfigure replaces the relay and external ICE server configuration. A
// running server switches to the new advertisement list atomically; requests
// in flight keep the list they started with.
func (s *Server) Reconfigure(tcpRelay string, iceServers []config.ICEServer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relay = tcpRelay
	s.iceServers = append([]config.ICEServer(nil), iceServers...)
	if s.handler != nil {
		s.handler.SetAdvertisements(s.buildAdvertisements())
	}
}

// Advertisements returns the Link header values of the running server.
func (s *Server) Advertisements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	return s.handler.Advertisements()
}

// caller must hold s.mu.
func (s *Server) buildAdvertisements() []string {
	return iceadvert.Build(iceadvert.Options{
		TCPRelay:   s.relay,
		ICEServers: s.iceServers,
		Addresses:  s.opts.Addresses,
		Logger:     s.log,
	})
}

func (s *Server) SetCors(tenant string, origins []string) {
	s.cors.Set(tenant, origins)
}

func (s *Server) EraseCors(tenant string) {
	s.cors.Clear(tenant)
}

// AddCertificate installs cert on the TLS listener. Without a TLS listener it
// does nothing.
func (s *Server) AddCertificate(cert tls.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secure == nil {
		return nil
	}
	return s.secure.Certs().Add(cert)
}

// RemoveCertificate removes cert from the TLS listener. Without a TLS
// listener it does nothing.
func (s *Server) RemoveCertificate(cert tls.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secure == nil {
		return nil
	}
	return s.secure.Certs().Remove(cert)
}

// Addr returns the bound plain listener address, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plainAddr
}

// TLSAddr returns the bound TLS listener address, or nil.
func (s *Server) TLSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secureAddr
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
