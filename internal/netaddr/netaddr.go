// Package netaddr discovers the addresses the built-in relay is advertised on:
// the addresses of the local interfaces and the public address seen by a STUN
// server.
package netaddr

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
)

var ErrNoStunServer = errors.New("netaddr: no STUN server configured")

type Source struct {
	log        *slog.Logger
	stunServer string

	interfaces func() ([]*transport.Interface, error)

	mu       sync.Mutex
	publicIP string
}

// New returns a Source backed by the host network stack. stunServer is a
// host:port reachable over UDP; it is only contacted by PublicIP.
func New(stunServer string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n, err := stdnet.NewNet()
	if err != nil {
		return nil, fmt.Errorf("netaddr: create net: %w", err)
	}
	return &Source{
		log:        logger,
		stunServer: strings.TrimSpace(stunServer),
		interfaces: func() ([]*transport.Interface, error) {
			if err := n.UpdateInterfaces(); err != nil {
				return nil, err
			}
			return n.Interfaces()
		},
	}, nil
}

// LocalIPs returns the unicast addresses of every interface that is up,
// excluding loopback and link-local addresses.
func (s *Source) LocalIPs() ([]string, error) {
	ifaces, err := s.interfaces()
	if err != nil {
		return nil, fmt.Errorf("netaddr: list interfaces: %w", err)
	}
	return collectIPs(ifaces), nil
}

func collectIPs(ifaces []*transport.Interface) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			default:
				continue
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
				continue
			}
			str := ip.String()
			if _, ok := seen[str]; ok {
				continue
			}
			seen[str] = struct{}{}
			out = append(out, str)
		}
	}
	return out
}

// PublicIP returns the XOR-mapped address reported by the STUN server. The
// first successful answer is cached for the lifetime of the Source.
func (s *Source) PublicIP() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publicIP != "" {
		return s.publicIP, nil
	}
	if s.stunServer == "" {
		return "", ErrNoStunServer
	}

	ip, err := queryMappedAddress(s.stunServer)
	if err != nil {
		return "", err
	}
	s.log.Info("discovered public address", "stun_server", s.stunServer, "ip", ip)
	s.publicIP = ip
	return ip, nil
}

func queryMappedAddress(server string) (string, error) {
	c, err := stun.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("netaddr: dial STUN server %s: %w", server, err)
	}
	defer c.Close()

	var (
		mapped  stun.XORMappedAddress
		callErr error
	)
	err = c.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(ev stun.Event) {
		if ev.Error != nil {
			callErr = ev.Error
			return
		}
		callErr = mapped.GetFrom(ev.Message)
	})
	if err != nil {
		return "", fmt.Errorf("netaddr: STUN binding request to %s: %w", server, err)
	}
	if callErr != nil {
		return "", fmt.Errorf("netaddr: STUN binding response from %s: %w", server, callErr)
	}
	if mapped.IP == nil {
		return "", fmt.Errorf("netaddr: STUN server %s returned no mapped address", server)
	}
	return mapped.IP.String(), nil
}
