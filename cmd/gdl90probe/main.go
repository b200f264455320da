// Command gdl90probe acts as a minimal EFB: it announces itself to an efbgps
// server, collects the GDL90 datagrams sent back and prints a summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/discovery"
)

func main() {
	var (
		server   string
		app      string
		port     int
		duration time.Duration
		interval time.Duration
	)
	flag.StringVar(&server, "server", "127.0.0.1:63093", "efbgps discovery address")
	flag.StringVar(&app, "app", "gdl90probe", "App name sent in the announcement")
	flag.IntVar(&port, "port", 4000, "Local UDP port to receive GDL90 on")
	flag.DurationVar(&duration, "duration", 10*time.Second, "How long to listen")
	flag.DurationVar(&interval, "interval", 5*time.Second, "Announcement interval")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("module", "probe").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, duration)
	defer cancelTimeout()

	dgs, err := capture(ctx, server, app, port, interval, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("capture failed")
	}
	printSummary(os.Stdout, summarizeCapture(dgs))
}

func announcement(app string, port int) ([]byte, error) {
	return json.Marshal(discovery.Message{App: app, GDL90: discovery.GDL90Block{Port: port}})
}

// capture announces every interval and records datagrams until ctx is done.
func capture(ctx context.Context, server, app string, port int, interval time.Duration, logger zerolog.Logger) ([]datagram, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", server, err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen :%d: %w", port, err)
	}
	defer conn.Close()

	lport := conn.LocalAddr().(*net.UDPAddr).Port
	hello, err := announcement(app, lport)
	if err != nil {
		return nil, err
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if _, err := conn.WriteToUDP(hello, raddr); err != nil {
				logger.Warn().Err(err).Str("server", server).Msg("announce failed")
			} else {
				logger.Debug().Str("server", server).Int("port", lport).Msg("announced")
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	start := time.Now()
	var dgs []datagram
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return dgs, nil
			}
			return dgs, err
		}
		dgs = append(dgs, datagram{At: time.Since(start), Payload: append([]byte(nil), buf[:n]...)})
	}
}
