package ingest

import (
	"net"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
)

func TestApplyNetworkSettings(t *testing.T) {
	t.Parallel()

	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.Config{
		WebRTCUDPPortRange:           &config.UDPPortRange{Min: 50000, Max: 50100},
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: config.NAT1To1CandidateTypeSrflx,
		WebRTCUDPListenIP:            net.ParseIP("192.0.2.1"),
	})
	if err != nil {
		t.Fatalf("ApplyNetworkSettings: %v", err)
	}

	err = ApplyNetworkSettings(&se, config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.10"},
		WebRTCNAT1To1IPCandidateType: "relay",
		WebRTCUDPListenIP:            net.IPv4zero,
	})
	if err == nil {
		t.Fatalf("expected error for unknown candidate type")
	}

	if err := ApplyNetworkSettings(&se, config.Config{WebRTCUDPPortRange: &config.UDPPortRange{Min: 50100, Max: 50000}}); err == nil {
		t.Fatalf("expected error for inverted port range")
	}
}

func TestNewAPI(t *testing.T) {
	t.Parallel()

	api, err := NewAPI(config.Config{WebRTCUDPListenIP: net.IPv4zero}, NewLoggerFactory(discardLogger()))
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ICEServers("")})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	_ = pc.Close()

	if got := ICEServers("stun.example.com:3478"); len(got) != 1 || got[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ICEServers=%+v", got)
	}
}
