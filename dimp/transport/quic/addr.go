package quic

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"
)

var ErrUnsupportedMultiaddr = errors.New("quic: multiaddr must be /ip4|ip6|dns/<host>/udp/<port>/quic-v1")

// HostPort converts a QUIC multiaddr such as /ip6/::1/udp/4242/quic-v1 into a
// host:port string for the QUIC stack.
func HostPort(addr ma.Multiaddr) (string, error) {
	if _, err := addr.ValueForProtocol(ma.P_QUIC_V1); err != nil {
		return "", ErrUnsupportedMultiaddr
	}
	port, err := addr.ValueForProtocol(ma.P_UDP)
	if err != nil {
		return "", ErrUnsupportedMultiaddr
	}
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if host, err := addr.ValueForProtocol(code); err == nil {
			return net.JoinHostPort(host, port), nil
		}
	}
	return "", ErrUnsupportedMultiaddr
}

// ParseHostPort accepts either a multiaddr or a plain host:port.
func ParseHostPort(s string) (string, error) {
	if len(s) > 0 && s[0] == '/' {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedMultiaddr, err)
		}
		return HostPort(addr)
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return "", err
	}
	return s, nil
}

// Multiaddr describes a UDP address as a QUIC multiaddr.
func Multiaddr(addr net.Addr) (ma.Multiaddr, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("quic: not a UDP address: %v", addr)
	}
	family := "ip6"
	if udp.IP.To4() != nil {
		family = "ip4"
	}
	return ma.NewMultiaddr("/" + family + "/" + udp.IP.String() + "/udp/" + strconv.Itoa(udp.Port) + "/quic-v1")
}
