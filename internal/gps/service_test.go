package gps

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/sensor"
)

type pipeSource struct {
	mu       sync.Mutex
	connects int
	writers  []*io.PipeWriter
	fail     error
}

func (p *pipeSource) connect(ctx context.Context) (io.ReadCloser, decoder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.fail != nil {
		return nil, nil, p.fail
	}
	r, w := io.Pipe()
	p.writers = append(p.writers, w)
	return r, newNMEAState("/dev/fake", 9600), nil
}

func (p *pipeSource) writer(t *testing.T) *io.PipeWriter {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		if n := len(p.writers); n > 0 {
			w := p.writers[n-1]
			p.mu.Unlock()
			return w
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("reader never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestService(src *pipeSource) *Service {
	s := New(Config{Source: SourceNMEA, Device: "/dev/fake"}, zerolog.Nop())
	s.connect = src.connect
	return s
}

func writeLines(t *testing.T, w io.Writer, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if _, err := io.WriteString(w, nmeaLine(p)+"\r\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestService_SubscribeStartsReaderAndDelivers(t *testing.T) {
	src := &pipeSource{}
	s := newTestService(src)
	defer s.Close()

	locs := make(chan sensor.Location, 4)
	sats := make(chan []sensor.Satellite, 4)
	s.SubscribeLocation(func(l sensor.Location) { locs <- l })
	s.SubscribeSatellites(func(b []sensor.Satellite) { sats <- b })

	w := src.writer(t)
	writeLines(t, w,
		"GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
		"GPGSA,A,3,02,,,,,,,,,,,,1.8,1.0,1.5",
		"GPGSV,1,1,01,02,45,120,40",
		"GPRMC,123520,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
	)

	select {
	case l := <-locs:
		if l.HorizontalAccuracy != 8 {
			t.Fatalf("hAcc=%v want 8", l.HorizontalAccuracy)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no location delivered")
	}
	select {
	case b := <-sats:
		if len(b) != 1 || !b[0].Used {
			t.Fatalf("batch=%+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no satellites delivered")
	}

	want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC).UnixMilli()
	if got := s.ReferenceTimestampMs(); got != want {
		t.Fatalf("ReferenceTimestampMs()=%d want %d", got, want)
	}
	snap := s.Snapshot()
	if !snap.Running || !snap.LocationSubscribed || !snap.SatelliteSubscribed || !snap.Valid {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestService_UnsubscribeStopsReaderOnlyWhenIdle(t *testing.T) {
	src := &pipeSource{}
	s := newTestService(src)
	defer s.Close()

	s.SubscribeLocation(func(sensor.Location) {})
	s.SubscribeSatellites(func([]sensor.Satellite) {})
	src.writer(t)

	s.UnsubscribeLocation()
	if !s.Snapshot().Running {
		t.Fatalf("reader stopped while satellites still subscribed")
	}
	s.UnsubscribeSatellites()
	if s.Snapshot().Running {
		t.Fatalf("reader still running with no subscriptions")
	}

	// Unsubscribe closed the pipe, so the reader exits.
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader goroutine did not exit")
	}
}

func TestService_ReconnectsAfterEOF(t *testing.T) {
	src := &pipeSource{}
	s := newTestService(src)
	defer s.Close()

	s.SubscribeLocation(func(sensor.Location) {})
	w := src.writer(t)
	_ = w.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		src.mu.Lock()
		n := src.connects
		src.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connects=%d want >=2", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Snapshot().LastError == "" {
		t.Fatalf("expected last_error after EOF")
	}
}

func TestService_ConnectFailureDoesNotBlockSubscribe(t *testing.T) {
	src := &pipeSource{fail: errors.New("no device")}
	s := newTestService(src)

	start := time.Now()
	s.SubscribeLocation(func(sensor.Location) {})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("SubscribeLocation blocked")
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().LastError == "" {
		if time.Now().After(deadline) {
			t.Fatalf("connect error never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Close()
	if s.Snapshot().Running {
		t.Fatalf("running after Close")
	}
}

func TestService_ReferenceTimestampFallsBackToClock(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	if got := s.ReferenceTimestampMs(); got != fixed.UnixMilli() {
		t.Fatalf("ReferenceTimestampMs()=%d want %d", got, fixed.UnixMilli())
	}
	snap := s.Snapshot()
	if snap.Source != SourceNMEA || snap.Baud != defaultBaud {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestPickDevice(t *testing.T) {
	got := pickDevice([]string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyACM1", "/dev/ttyACM0"})
	if got != "/dev/ttyACM0" {
		t.Fatalf("pickDevice()=%q want /dev/ttyACM0", got)
	}
	if got := pickDevice([]string{"/dev/ttyS0"}); got != "" {
		t.Fatalf("pickDevice()=%q want empty", got)
	}
}
