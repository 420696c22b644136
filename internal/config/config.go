package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	envVarListenAddr      = "OME_WHIP_LISTEN_ADDR"
	envVarTLSListenAddr   = "OME_WHIP_TLS_LISTEN_ADDR"
	envVarTLSCertFile     = "OME_WHIP_TLS_CERT_FILE"
	envVarTLSKeyFile      = "OME_WHIP_TLS_KEY_FILE"
	envVarWorkerCount     = "OME_WHIP_WORKER_COUNT"
	envVarLogFormat       = "OME_WHIP_LOG_FORMAT"
	envVarLogLevel        = "OME_WHIP_LOG_LEVEL"
	envVarShutdownTimeout = "OME_WHIP_SHUTDOWN_TIMEOUT"
	envVarMode            = "OME_WHIP_MODE"

	// Relay advertisement.
	envVarTCPRelay   = "OME_WHIP_TCP_RELAY"
	envVarStunServer = "OME_WHIP_STUN_SERVER"

	// Virtual host / application layout.
	envVarVHostFile      = "OME_WHIP_VHOST_FILE"
	envVarWatchVHostFile = "OME_WHIP_WATCH_VHOST_FILE"

	// Signaling strictness.
	envVarRequireIfMatch    = "OME_WHIP_REQUIRE_IF_MATCH"
	envVarStrictContentType = "OME_WHIP_STRICT_CONTENT_TYPE"
	envVarMaxBodyBytes      = "OME_WHIP_MAX_BODY_BYTES"

	// Ingest session knobs.
	envVarICEGatheringTimeout   = "OME_WHIP_ICE_GATHERING_TIMEOUT"
	envVarSessionConnectTimeout = "OME_WHIP_SESSION_CONNECT_TIMEOUT"
	envVarMaxSessions           = "OME_WHIP_MAX_SESSIONS"
	envVarOffersPerSecond       = "OME_WHIP_OFFERS_PER_SECOND"

	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"

	DefaultListenAddr                  = "127.0.0.1:3333"
	DefaultWorkerCount                 = 1
	DefaultShutdown                    = 15 * time.Second
	DefaultMode                   Mode = ModeDev
	DefaultStunServer                  = "stun.l.google.com:19302"
	DefaultMaxBodyBytes                = int64(1 << 20)
	DefaultICEGatheringTimeout         = 2 * time.Second
	DefaultSessionConnectTimeout       = 30 * time.Second
	DefaultWebRTCUDPListenIP           = "0.0.0.0"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	// ListenAddr and TLSListenAddr are independently optional, but at least one
	// must be set.
	ListenAddr    string
	TLSListenAddr string
	TLSCertFile   string
	TLSKeyFile    string

	// WorkerCount bounds concurrent exchanges per listener.
	WorkerCount int

	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// TCPRelay is the raw IP:Port, *:Port or ${PublicIP}:Port value. It is
	// validated when the advertisement list is built, not here, so a bad value
	// never blocks startup.
	TCPRelay   string
	StunServer string
	ICEServers []ICEServer

	VHostFile      string
	WatchVHostFile bool

	RequireIfMatch    bool
	StrictContentType bool
	MaxBodyBytes      int64

	ICEGatheringTimeout   time.Duration
	SessionConnectTimeout time.Duration
	// MaxSessions <= 0 means unlimited.
	MaxSessions int
	// OffersPerSecond caps accepted offers across all clients; 0 means
	// unlimited.
	OffersPerSecond int

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion
	// uses OS ephemeral port selection.
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs are advertised as ICE candidates when the server sits
	// behind a 1:1 NAT. Values are literal IPs.
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	// WebRTCUDPListenIP restricts which local address ICE binds. 0.0.0.0 means
	// all interfaces.
	WebRTCUDPListenIP net.IP
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, "")
	envLogFormatSet := logFormatDefault != ""
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, "")
	envLogLevelSet := logLevelDefault != ""
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	tlsListenAddr := envOrDefault(lookup, envVarTLSListenAddr, "")
	tlsCertFile := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsKeyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	tcpRelay := envOrDefault(lookup, envVarTCPRelay, "")
	stunServer := envOrDefault(lookup, envVarStunServer, DefaultStunServer)
	iceServersJSON := envOrDefault(lookup, envVarICEServersJSON, "")
	vhostFile := envOrDefault(lookup, envVarVHostFile, "")

	workerCount, err := envIntOrDefault(lookup, envVarWorkerCount, DefaultWorkerCount)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	offersPerSecond, err := envIntOrDefault(lookup, envVarOffersPerSecond, 0)
	if err != nil {
		return Config{}, err
	}

	maxBodyBytes := DefaultMaxBodyBytes
	if raw, ok := lookup(envVarMaxBodyBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxBodyBytes, raw, err)
		}
		maxBodyBytes = n
	}

	watchVHostFile, err := envBoolOrDefault(lookup, envVarWatchVHostFile, false)
	if err != nil {
		return Config{}, err
	}
	requireIfMatch, err := envBoolOrDefault(lookup, envVarRequireIfMatch, false)
	if err != nil {
		return Config{}, err
	}
	strictContentType, err := envBoolOrDefault(lookup, envVarStrictContentType, false)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	iceGatheringTimeout, err := envDurationOrDefault(lookup, envVarICEGatheringTimeout, DefaultICEGatheringTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionConnectTimeout, err := envDurationOrDefault(lookup, envVarSessionConnectTimeout, DefaultSessionConnectTimeout)
	if err != nil {
		return Config{}, err
	}

	var webrtcUDPPortMin, webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarWebRTCUDPPortMin, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarWebRTCUDPPortMax, err)
		}
		webrtcUDPPortMax = uint(p)
	}

	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := pflag.NewFlagSet("ome-whip", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "Plain HTTP listen address, empty to disable (env "+envVarListenAddr+")")
	fs.StringVar(&tlsListenAddr, "tls-listen-addr", tlsListenAddr, "HTTPS listen address, empty to disable (env "+envVarTLSListenAddr+")")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "PEM certificate for the HTTPS listener (env "+envVarTLSCertFile+")")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "PEM private key for the HTTPS listener (env "+envVarTLSKeyFile+")")
	fs.IntVar(&workerCount, "worker-count", workerCount, "Concurrent exchanges per listener (env "+envVarWorkerCount+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&tcpRelay, "tcp-relay", tcpRelay, "Built-in TURN relay to advertise: IP:Port, *:Port or ${PublicIP}:Port (env "+envVarTCPRelay+")")
	fs.StringVar(&stunServer, "stun-server", stunServer, "STUN server used to discover the public IP (env "+envVarStunServer+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "External ICE servers as JSON (env "+envVarICEServersJSON+")")

	fs.StringVar(&vhostFile, "vhost-file", vhostFile, "Virtual host/application file (env "+envVarVHostFile+")")
	fs.BoolVar(&watchVHostFile, "watch-vhost-file", watchVHostFile, "Reload the virtual host file on change (env "+envVarWatchVHostFile+")")

	fs.BoolVar(&requireIfMatch, "require-if-match", requireIfMatch, "Reject PATCH without If-Match with 428 (env "+envVarRequireIfMatch+")")
	fs.BoolVar(&strictContentType, "strict-content-type", strictContentType, "Reject POST/PATCH with an unexpected Content-Type with 415 (env "+envVarStrictContentType+")")
	fs.Int64Var(&maxBodyBytes, "max-body-bytes", maxBodyBytes, "Max SDP request body size in bytes (env "+envVarMaxBodyBytes+")")

	fs.DurationVar(&iceGatheringTimeout, "ice-gathering-timeout", iceGatheringTimeout, "Max time to wait for ICE gathering before answering an offer (env "+envVarICEGatheringTimeout+")")
	fs.DurationVar(&sessionConnectTimeout, "session-connect-timeout", sessionConnectTimeout, "Close sessions that do not connect within this duration (env "+envVarSessionConnectTimeout+")")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Maximum concurrent ingest sessions (0 = unlimited; env "+envVarMaxSessions+")")
	fs.IntVar(&offersPerSecond, "offers-per-second", offersPerSecond, "Accepted offers per second (0 = unlimited; env "+envVarOffersPerSecond+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// A mode given on the command line re-derives the log defaults unless they
	// were pinned explicitly.
	if fs.Changed("mode") {
		if !envLogFormatSet && !fs.Changed("log-format") {
			logFormatStr = defaultLogFormatForMode(string(mode))
		}
		if !envLogLevelSet && !fs.Changed("log-level") {
			logLevelStr = defaultLogLevelForMode(string(mode))
		}
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	listenAddr = strings.TrimSpace(listenAddr)
	tlsListenAddr = strings.TrimSpace(tlsListenAddr)
	if listenAddr == "" && tlsListenAddr == "" {
		return Config{}, fmt.Errorf("at least one of --listen-addr or --tls-listen-addr must be set")
	}
	if tlsListenAddr != "" && (tlsCertFile == "" || tlsKeyFile == "") {
		return Config{}, fmt.Errorf("--tls-listen-addr requires --tls-cert-file and --tls-key-file")
	}
	if workerCount <= 0 {
		return Config{}, fmt.Errorf("--worker-count must be > 0 (got %d)", workerCount)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("--shutdown-timeout must be > 0")
	}
	if maxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("--max-body-bytes must be > 0 (got %d)", maxBodyBytes)
	}
	if iceGatheringTimeout <= 0 {
		return Config{}, fmt.Errorf("--ice-gathering-timeout must be > 0")
	}
	if offersPerSecond < 0 {
		return Config{}, fmt.Errorf("--offers-per-second must be >= 0 (got %d)", offersPerSecond)
	}

	var portRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("--%s and --%s must be set together", flagWebRTCUDPPortMin, flagWebRTCUDPPortMax)
		}
		lo, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMin, err)
		}
		hi, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMax, err)
		}
		if lo > hi {
			return Config{}, fmt.Errorf("--%s (%d) must be <= --%s (%d)", flagWebRTCUDPPortMin, lo, flagWebRTCUDPPortMax, hi)
		}
		portRange = &UDPPortRange{Min: lo, Max: hi}
	}

	listenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if listenIP == nil {
		return Config{}, fmt.Errorf("invalid --%s %q", flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var nat1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		nat1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCNAT1To1IPs, err)
		}
	}
	candidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCNAT1To1IPCandidateType, err)
	}

	iceServers, err := ParseICEServersJSON(iceServersJSON)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarICEServersJSON, err)
	}

	return Config{
		ListenAddr:                   listenAddr,
		TLSListenAddr:                tlsListenAddr,
		TLSCertFile:                  tlsCertFile,
		TLSKeyFile:                   tlsKeyFile,
		WorkerCount:                  workerCount,
		LogFormat:                    logFormat,
		LogLevel:                     logLevel,
		ShutdownTimeout:              shutdownTimeout,
		Mode:                         mode,
		TCPRelay:                     strings.TrimSpace(tcpRelay),
		StunServer:                   strings.TrimSpace(stunServer),
		ICEServers:                   iceServers,
		VHostFile:                    strings.TrimSpace(vhostFile),
		WatchVHostFile:               watchVHostFile,
		RequireIfMatch:               requireIfMatch,
		StrictContentType:            strictContentType,
		MaxBodyBytes:                 maxBodyBytes,
		ICEGatheringTimeout:          iceGatheringTimeout,
		SessionConnectTimeout:        sessionConnectTimeout,
		MaxSessions:                  maxSessions,
		OffersPerSecond:              offersPerSecond,
		WebRTCUDPPortRange:           portRange,
		WebRTCNAT1To1IPs:             nat1To1IPs,
		WebRTCNAT1To1IPCandidateType: candidateType,
		WebRTCUDPListenIP:            listenIP,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
