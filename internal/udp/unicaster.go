// Package udp sends GDL90 datagrams to individual EFB clients.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

// Unicaster opens a short-lived connected UDP socket for every Send. One
// unreachable client therefore cannot poison a shared socket used for the
// others (ICMP port-unreachable errors surface on the next write of the same
// socket).
type Unicaster struct {
	dial dialFunc
}

func NewUnicaster() *Unicaster {
	return &Unicaster{dial: dialUDP}
}

// Send writes each payload as its own datagram to dst. Every payload is
// attempted even if an earlier write fails; the returned error joins all
// failures.
func (u *Unicaster) Send(dst netip.AddrPort, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	if !dst.IsValid() || dst.Port() == 0 {
		return fmt.Errorf("invalid destination %s", dst)
	}

	dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
	conn, err := u.dial("udp", nil, net.UDPAddrFromAddrPort(dst))
	if err != nil {
		return fmt.Errorf("dial udp %s: %w", dst, err)
	}

	var errs []error
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		if _, err := conn.Write(p); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", dst, err))
		}
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", dst, err))
	}
	return errors.Join(errs...)
}
