// Package discovery receives EFB announcements on the GDL90 discovery port.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultListenAddr is where EFBs broadcast their announcements.
const DefaultListenAddr = ":63093"

// Handler receives every valid announcement with the sender's address.
type Handler func(from netip.Addr, msg Message)

type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	LocalAddr() net.Addr
	Close() error
}

// Listener runs one receive loop. It is started once and stopped by Close.
type Listener struct {
	addr    string
	handler Handler
	log     zerolog.Logger

	mu      sync.Mutex
	conn    packetConn
	started bool
	closed  bool
	err     error
	done    chan struct{}
}

func NewListener(addr string, h Handler, logger zerolog.Logger) *Listener {
	if addr == "" {
		addr = DefaultListenAddr
	}
	return &Listener{
		addr:    addr,
		handler: h,
		log:     logger.With().Str("module", "discovery").Logger(),
		done:    make(chan struct{}),
	}
}

// Start binds the socket and launches the receive loop. Bind errors are
// returned; the loop itself never restarts.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return net.ErrClosed
	}
	if l.started {
		return errors.New("discovery: listener already started")
	}

	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("discovery: listen %s: %w", l.addr, err)
	}
	uc, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("discovery: unexpected packet conn %T", pc)
	}
	l.startLocked(uc)
	return nil
}

func (l *Listener) startLocked(c packetConn) {
	l.conn = c
	l.started = true
	l.log.Info().Str("addr", c.LocalAddr().String()).Msg("listening")
	go l.loop(c)
}

// Close closes the socket, which ends the loop. It waits for the loop to exit.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	c := l.conn
	started := l.started
	l.mu.Unlock()

	if !started {
		close(l.done)
		return nil
	}
	err := c.Close()
	<-l.done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Done is closed when the receive loop has exited.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Err reports the error that terminated the loop, if it was not Close.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// LocalAddr is the bound address, or nil before Start.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *Listener) loop(c packetConn) {
	defer close(l.done)
	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := c.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.mu.Lock()
			closing := l.closed
			if !closing {
				l.err = err
			}
			l.mu.Unlock()
			if !closing {
				l.log.Error().Err(err).Msg("receive failed; discovery stopped")
			}
			_ = c.Close()
			return
		}

		msg, perr := ParseMessage(buf[:n])
		if perr != nil {
			l.log.Debug().Err(perr).Str("from", from.String()).Int("bytes", n).Msg("dropped announcement")
			continue
		}
		if l.handler != nil {
			l.handler(from.Addr().Unmap(), msg)
		}
	}
}
