package main

import (
	"log/slog"
	"slices"
	"time"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/iceadvert"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/vhost"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config, vhosts []vhost.VirtualHost) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TCPRelay != "" {
		if _, err := iceadvert.ParseRelay(cfg.TCPRelay); err != nil {
			logger.Warn("startup warning: TCP relay is not advertised",
				"warning_code", "tcp_relay_invalid",
				"tcp_relay", cfg.TCPRelay,
				"err", err,
			)
		}
	}

	for _, vh := range vhosts {
		for _, app := range vh.Applications {
			if slices.Contains(app.CrossDomains, "*") {
				logger.Warn("startup security warning: cross_domains contains '*' (allows any origin)",
					"warning_code", "cross_domains_wildcard",
					"vhost", vh.Name,
					"app", app.Name,
					"mode", cfg.Mode,
				)
			}
		}
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSessions <= 0 {
		logger.Warn("startup security warning: max sessions is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_sessions_unlimited_in_prod",
			"max_sessions", cfg.MaxSessions,
			"mode", cfg.Mode,
		)
	}
	if cfg.Mode == config.ModeProd && cfg.OffersPerSecond <= 0 {
		logger.Warn("startup security warning: offer rate is unlimited while --mode=prod",
			"warning_code", "offers_unlimited_in_prod",
			"offers_per_second", cfg.OffersPerSecond,
			"mode", cfg.Mode,
		)
	}
	if cfg.SessionConnectTimeout > 2*time.Minute {
		logger.Warn("startup security warning: session connect timeout is very large (increases half-open session resource exposure)",
			"warning_code", "session_connect_timeout_large",
			"session_connect_timeout", cfg.SessionConnectTimeout,
			"mode", cfg.Mode,
		)
	}
	if cfg.ListenAddr != "" && cfg.TLSListenAddr == "" && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: signaling is served over plain HTTP only",
			"warning_code", "plain_http_only_in_prod",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}
}
