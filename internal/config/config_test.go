package config

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.TLSListenAddr != "" {
		t.Fatalf("TLSListenAddr=%q, want empty", cfg.TLSListenAddr)
	}
	if cfg.WorkerCount != DefaultWorkerCount {
		t.Fatalf("WorkerCount=%d, want %d", cfg.WorkerCount, DefaultWorkerCount)
	}
	if cfg.StunServer != DefaultStunServer {
		t.Fatalf("StunServer=%q, want %q", cfg.StunServer, DefaultStunServer)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("MaxBodyBytes=%d, want %d", cfg.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if cfg.RequireIfMatch || cfg.StrictContentType {
		t.Fatalf("expected permissive signaling defaults, got RequireIfMatch=%v StrictContentType=%v", cfg.RequireIfMatch, cfg.StrictContentType)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.IPv4zero) {
		t.Fatalf("WebRTCUDPListenIP=%v, want 0.0.0.0", cfg.WebRTCUDPListenIP)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeHost {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeHost)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers, got %v", cfg.ICEServers)
	}
	if cfg.MaxSessions != 0 || cfg.OffersPerSecond != 0 {
		t.Fatalf("expected unlimited sessions and offers, got MaxSessions=%d OffersPerSecond=%d", cfg.MaxSessions, cfg.OffersPerSecond)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestExplicitLogFormatSurvivesModeFlag(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarLogFormat: "text",
	}), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTCPRelay:       "10.0.0.1:3478",
		envVarWorkerCount:    "4",
		envVarRequireIfMatch: "true",
	}), []string{"--tcp-relay", "*:3478", "--worker-count", "8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TCPRelay != "*:3478" {
		t.Fatalf("TCPRelay=%q, want %q", cfg.TCPRelay, "*:3478")
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("WorkerCount=%d, want 8", cfg.WorkerCount)
	}
	if !cfg.RequireIfMatch {
		t.Fatalf("RequireIfMatch=false, want true from env")
	}
}

func TestMalformedTCPRelayDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTCPRelay: "badvalue",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TCPRelay != "badvalue" {
		t.Fatalf("TCPRelay=%q, want raw value preserved", cfg.TCPRelay)
	}
}

func TestTLSListenerRequiresCertificate(t *testing.T) {
	_, err := load(noEnv, []string{"--tls-listen-addr", "127.0.0.1:3334"})
	if err == nil {
		t.Fatalf("expected error for TLS listener without certificate")
	}
	if !strings.Contains(err.Error(), "--tls-cert-file") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := load(noEnv, []string{
		"--listen-addr", "",
		"--tls-listen-addr", "127.0.0.1:3334",
		"--tls-cert-file", "cert.pem",
		"--tls-key-file", "key.pem",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "" || cfg.TLSListenAddr != "127.0.0.1:3334" {
		t.Fatalf("listeners=(%q, %q), want TLS only", cfg.ListenAddr, cfg.TLSListenAddr)
	}
}

func TestRejectsNoListeners(t *testing.T) {
	if _, err := load(noEnv, []string{"--listen-addr", ""}); err == nil {
		t.Fatalf("expected error when both listeners are disabled")
	}
}

func TestRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "worker count", args: []string{"--worker-count", "0"}},
		{name: "mode", args: []string{"--mode", "staging"}},
		{name: "log level", args: []string{"--log-level", "loud"}},
		{name: "max body", args: []string{"--max-body-bytes", "0"}},
		{name: "offers per second", args: []string{"--offers-per-second", "-1"}},
		{name: "port range half set", args: []string{"--webrtc-udp-port-min", "50000"}},
		{name: "port range inverted", args: []string{"--webrtc-udp-port-min", "50010", "--webrtc-udp-port-max", "50000"}},
		{name: "nat ip", args: []string{"--webrtc-nat-1to1-ips", "not-an-ip"}},
		{name: "candidate type", args: []string{"--webrtc-nat-1to1-ip-candidate-type", "relay"}},
		{name: "bool env", env: map[string]string{envVarStrictContentType: "maybe"}},
		{name: "duration env", env: map[string]string{envVarICEGatheringTimeout: "soon"}},
		{name: "ice servers json", env: map[string]string{envVarICEServersJSON: "["}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestWebRTCNetworkSettings(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarWebRTCUDPPortMin: "50000",
		envVarWebRTCUDPPortMax: "50100",
	}), []string{
		"--webrtc-nat-1to1-ips", "203.0.113.7, 203.0.113.8",
		"--webrtc-nat-1to1-ip-candidate-type", "srflx",
		"--webrtc-udp-listen-ip", "10.0.0.5",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || *cfg.WebRTCUDPPortRange != (UDPPortRange{Min: 50000, Max: 50100}) {
		t.Fatalf("WebRTCUDPPortRange=%v, want 50000-50100", cfg.WebRTCUDPPortRange)
	}
	if got := strings.Join(cfg.WebRTCNAT1To1IPs, ","); got != "203.0.113.7,203.0.113.8" {
		t.Fatalf("WebRTCNAT1To1IPs=%q", got)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("candidate type=%q, want srflx", cfg.WebRTCNAT1To1IPCandidateType)
	}
	if !cfg.WebRTCUDPListenIP.Equal(net.ParseIP("10.0.0.5")) {
		t.Fatalf("WebRTCUDPListenIP=%v", cfg.WebRTCUDPListenIP)
	}
}

func TestDurations(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSessionConnectTimeout: "45s",
	}), []string{"--ice-gathering-timeout", "500ms"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionConnectTimeout != 45*time.Second {
		t.Fatalf("SessionConnectTimeout=%v, want 45s", cfg.SessionConnectTimeout)
	}
	if cfg.ICEGatheringTimeout != 500*time.Millisecond {
		t.Fatalf("ICEGatheringTimeout=%v, want 500ms", cfg.ICEGatheringTimeout)
	}
}

func TestHelpFlag(t *testing.T) {
	_, err := load(noEnv, []string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("err=%v, want pflag.ErrHelp", err)
	}
}
