// Package iceadvert builds the TURN server advertisements returned to WHIP
// publishers as Link headers.
//
// The list is derived from two sources: the built-in TCP relay (configured as
// IP:Port, *:Port or ${PublicIP}:Port) and the external ICE servers. It is
// computed once per (re)configuration and shared read-only between requests.
package iceadvert

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/config"
)

const (
	// DefaultRelayUsername and DefaultRelayCredential are the credentials of
	// the built-in TURN relay.
	DefaultRelayUsername   = "ome"
	DefaultRelayCredential = "airen"

	wildcardAddress = "*"
	publicIPAddress = "${PublicIP}"
)

type RelayKind int

const (
	RelayStatic RelayKind = iota
	RelayWildcard
	RelayPublicIP
)

func (k RelayKind) String() string {
	switch k {
	case RelayStatic:
		return "static"
	case RelayWildcard:
		return "wildcard"
	case RelayPublicIP:
		return "public-ip"
	default:
		return fmt.Sprintf("RelayKind(%d)", int(k))
	}
}

// Relay is a parsed TCP relay value.
type Relay struct {
	Kind RelayKind
	// Address is the literal address for RelayStatic and empty otherwise.
	Address string
	Port    string
}

// ParseRelay splits raw into its address and port parts. The value must have
// exactly one ':'; IPv6 literals are therefore not accepted here.
func ParseRelay(raw string) (Relay, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return Relay{}, fmt.Errorf("invalid TCP relay address %q: format must be IP:Port", raw)
	}
	addr, port := parts[0], parts[1]
	if addr == "" || port == "" {
		return Relay{}, fmt.Errorf("invalid TCP relay address %q: format must be IP:Port", raw)
	}

	switch addr {
	case wildcardAddress:
		return Relay{Kind: RelayWildcard, Port: port}, nil
	case publicIPAddress:
		return Relay{Kind: RelayPublicIP, Port: port}, nil
	default:
		return Relay{Kind: RelayStatic, Address: addr, Port: port}, nil
	}
}

// AddressSource supplies the addresses the wildcard and public IP forms expand
// to.
type AddressSource interface {
	// LocalIPs returns the addresses bound to the local network interfaces.
	LocalIPs() ([]string, error)
	// PublicIP returns the address the server is reachable at from outside
	// its NAT.
	PublicIP() (string, error)
}

type Options struct {
	// TCPRelay is the raw relay value. Empty disables the built-in relay.
	TCPRelay   string
	ICEServers []config.ICEServer
	// Addresses is only consulted for the wildcard and public IP forms.
	Addresses AddressSource
	Logger    *slog.Logger
}

// Build returns the advertisement list, relay entries first. It never fails:
// problems are logged and the offending entry contributes nothing.
func Build(opts Options) []string {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var out []string
	if raw := strings.TrimSpace(opts.TCPRelay); raw != "" {
		out = append(out, relayLinks(raw, opts.Addresses, logger)...)
	}

	for _, server := range opts.ICEServers {
		if len(server.URLs) == 0 {
			logger.Warn("ice server has no urls; skipping", "username", server.Username)
			continue
		}
		for _, url := range server.URLs {
			out = append(out, LinkValue("turn:"+url+"?transport=tcp", server.Username, server.Credential))
		}
	}
	return out
}

func relayLinks(raw string, addrs AddressSource, logger *slog.Logger) []string {
	relay, err := ParseRelay(raw)
	if err != nil {
		logger.Warn("ignoring tcp relay", "value", raw, "err", err)
		return nil
	}

	switch relay.Kind {
	case RelayWildcard:
		if addrs == nil {
			logger.Warn("tcp relay wildcard needs an address source; skipping", "value", raw)
			return nil
		}
		ips, err := addrs.LocalIPs()
		if err != nil {
			logger.Warn("tcp relay: enumerate local addresses", "value", raw, "err", err)
			return nil
		}
		out := make([]string, 0, len(ips))
		for _, ip := range ips {
			out = append(out, relayLink(ip, relay.Port))
		}
		return out
	case RelayPublicIP:
		if addrs == nil {
			logger.Warn("tcp relay public ip needs an address source; skipping", "value", raw)
			return nil
		}
		ip, err := addrs.PublicIP()
		if err != nil {
			logger.Warn("tcp relay: discover public address", "value", raw, "err", err)
			return nil
		}
		return []string{relayLink(ip, relay.Port)}
	default:
		return []string{LinkValue("turn:"+raw+"?transport=tcp", DefaultRelayUsername, DefaultRelayCredential)}
	}
}

func relayLink(ip, port string) string {
	return LinkValue("turn:"+net.JoinHostPort(ip, port)+"?transport=tcp", DefaultRelayUsername, DefaultRelayCredential)
}

// LinkValue formats one Link header value advertising url as an ICE server.
func LinkValue(url, username, credential string) string {
	return fmt.Sprintf(`<%s>; rel="ice-server"; username="%s"; credential="%s"; credential-type="password"`, url, username, credential)
}
