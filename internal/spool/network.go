package spool

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/thereceipt/spool-engine/internal/status"
)

var ErrNoInterface = errors.New("spool: no interface owns the outbound address")

// probeAddr is only used to pick a route. UDP dialing sends nothing.
const probeAddr = "8.8.8.8:80"

// NetworkInfo is the host's primary outbound address
type NetworkInfo struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Interface string `json:"interface"`
}

func (n NetworkInfo) String() string {
	return n.IP + " " + n.MAC
}

func outboundIP(ctx context.Context) (net.IP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", probeAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve outbound address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// interfaceFor finds the interface that carries ip
func interfaceFor(ip net.IP, ifaces []net.Interface, addrs func(net.Interface) ([]net.Addr, error)) (net.Interface, error) {
	for _, iface := range ifaces {
		list, err := addrs(iface)
		if err != nil {
			continue
		}
		for _, addr := range list {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return iface, nil
			}
		}
	}
	return net.Interface{}, fmt.Errorf("%w: %s", ErrNoInterface, ip)
}

// FindNetworkInfo resolves the outbound IP and the MAC of the interface
// that owns it
func (s *Session) FindNetworkInfo() *status.Operation {
	return s.schedule(status.KindFindingNetwork, func(ctx context.Context) (any, error) {
		ip, err := s.localIP(ctx)
		if err != nil {
			return nil, err
		}
		ifaces, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("list interfaces: %w", err)
		}
		iface, err := interfaceFor(ip, ifaces, func(i net.Interface) ([]net.Addr, error) { return i.Addrs() })
		if err != nil {
			return nil, err
		}

		info := NetworkInfo{IP: ip.String(), MAC: iface.HardwareAddr.String(), Interface: iface.Name}
		s.mu.Lock()
		s.network = &info
		s.mu.Unlock()
		return info, nil
	})
}

// NetworkInfo returns the result of the last FindNetworkInfo, or nil
func (s *Session) NetworkInfo() *NetworkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.network == nil {
		return nil
	}
	info := *s.network
	return &info
}
