package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/vhost"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := make(map[string]recordedLog)
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_Quiet(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                  config.ModeProd,
		ListenAddr:            ":3333",
		TLSListenAddr:         ":3334",
		TCPRelay:              "*:3478",
		MaxSessions:           100,
		OffersPerSecond:       10,
		SessionConnectTimeout: 30 * time.Second,
	}
	vhosts := []vhost.VirtualHost{{
		Name:         "default",
		Domains:      []string{"*"},
		Applications: []vhost.Application{{Name: "app", CrossDomains: []string{"https://studio.example.com"}}},
	}}

	logStartupWarnings(logger, cfg, vhosts)

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupWarnings_Prod(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                  config.ModeProd,
		ListenAddr:            ":3333",
		TCPRelay:              "relay.example.com",
		SessionConnectTimeout: 5 * time.Minute,
	}
	vhosts := []vhost.VirtualHost{{
		Name:         "live",
		Domains:      []string{"*"},
		Applications: []vhost.Application{{Name: "open", CrossDomains: []string{"*"}}},
	}}

	logStartupWarnings(logger, cfg, vhosts)

	got := warningCodes(records())
	for _, code := range []string{
		"tcp_relay_invalid",
		"cross_domains_wildcard",
		"max_sessions_unlimited_in_prod",
		"offers_unlimited_in_prod",
		"session_connect_timeout_large",
		"plain_http_only_in_prod",
	} {
		if _, ok := got[code]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", code, records())
		}
	}
	if r := got["cross_domains_wildcard"]; r.attrs["vhost"] != "live" || r.attrs["app"] != "open" {
		t.Fatalf("cross_domains_wildcard attrs=%#v", r.attrs)
	}
}

func TestStartupWarnings_DevSkipsProdChecks(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{Mode: config.ModeDev, ListenAddr: ":3333"}, nil)

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}
