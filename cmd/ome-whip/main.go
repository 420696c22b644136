package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/httpserver"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/ingest"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/metrics"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/netaddr"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/vhost"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/whip"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if helpRequested(err) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	api, err := ingest.NewAPI(cfg, ingest.NewLoggerFactory(logger))
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	registry, err := loadVirtualHosts(cfg, logger)
	if err != nil {
		logger.Error("failed to load virtual hosts", "err", err)
		os.Exit(2)
	}

	var certs []tls.Certificate
	if cfg.TLSListenAddr != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			logger.Error("failed to load tls certificate", "err", err)
			os.Exit(2)
		}
		certs = append(certs, cert)
	}

	addrs, err := netaddr.New(cfg.StunServer, logger)
	if err != nil {
		logger.Error("failed to configure address discovery", "err", err)
		os.Exit(2)
	}

	logger.Info("starting ome-whip",
		"listen_addr", cfg.ListenAddr,
		"tls_listen_addr", cfg.TLSListenAddr,
		"mode", cfg.Mode,
		"workers", cfg.WorkerCount,
		"tcp_relay", cfg.TCPRelay,
		"ice_servers", len(cfg.ICEServers),
		"vhost_file", cfg.VHostFile,
		"max_sessions", cfg.MaxSessions,
		"offers_per_second", cfg.OffersPerSecond,
	)
	logStartupWarnings(logger, cfg, registry.VirtualHosts())

	m := metrics.New()
	commit, built := resolveBuildInfo(buildCommit, buildTime)

	opts := ingest.OptionsFromConfig(cfg)
	opts.API = api
	opts.Metrics = m
	opts.Logger = logger
	observer := ingest.New(opts)

	srv := whip.NewServer(whip.ServerOptions{
		Orchestrator:      registry,
		Addresses:         addrs,
		TCPRelay:          cfg.TCPRelay,
		ICEServers:        cfg.ICEServers,
		RequireIfMatch:    cfg.RequireIfMatch,
		StrictContentType: cfg.StrictContentType,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		Build:             httpserver.BuildInfo{Commit: commit, BuildTime: built},
		Metrics:           m,
		Logger:            logger,
	})
	registry.Apply(srv)
	if cfg.WatchVHostFile {
		registry.Watch(func(err error) {
			if err == nil {
				registry.Apply(srv)
			}
		})
	}

	if err := srv.Start(observer, whip.Listeners{
		Addr:         cfg.ListenAddr,
		TLSAddr:      cfg.TLSListenAddr,
		Workers:      cfg.WorkerCount,
		Certificates: certs,
	}); err != nil {
		logger.Error("failed to start signaling server", "err", err)
		observer.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Wait()
	}()

	for running := true; running; {
		select {
		case <-hup:
			if err := registry.Reload(); err != nil {
				logger.Warn("virtual host reload failed", "err", err)
				continue
			}
			registry.Apply(srv)
		case err := <-errCh:
			observer.Close()
			if err != nil {
				logger.Error("signaling server exited", "err", err)
				os.Exit(1)
			}
			return
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			running = false
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("signaling server shutdown failed", "err", err)
	}
	observer.Close()

	if err := <-errCh; err != nil {
		logger.Error("signaling server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// helpRequested reports whether config loading stopped at --help, which has
// already printed the usage.
func helpRequested(err error) bool {
	return errors.Is(err, pflag.ErrHelp)
}

func loadVirtualHosts(cfg config.Config, logger *slog.Logger) (*vhost.Registry, error) {
	if cfg.VHostFile == "" {
		return vhost.Default(logger), nil
	}
	return vhost.Load(cfg.VHostFile, logger)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
