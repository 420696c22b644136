package ingest

import (
	"fmt"
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
)

// NewAPI builds the webrtc API shared by every ingest PeerConnection: default
// codecs and interceptors, the configured network restrictions and pion logs
// routed through slog.
func NewAPI(cfg config.Config, factory *LoggerFactory) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	if factory != nil {
		se.LoggerFactory = factory
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost:
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// There is no bind address knob; the IP filter limits both gathering and
	// socket binding.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}
	return nil
}

// ICEServers returns the STUN configuration used for server-side gathering.
func ICEServers(stunServer string) []webrtc.ICEServer {
	if stunServer == "" {
		return nil
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:" + stunServer}}}
}
