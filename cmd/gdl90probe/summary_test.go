package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/discovery"
	"efbgps/internal/gdl90"
)

func TestSplitFrames(t *testing.T) {
	a := gdl90.Frame([]byte{0x00, 0x01})
	b := gdl90.Frame([]byte{0x0A, 0x02})
	in := append(append([]byte{0x55}, a...), b...)

	got := splitFrames(in)
	if len(got) != 3 {
		t.Fatalf("frames=%d want 3", len(got))
	}
	if !bytes.Equal(got[0], []byte{0x55}) {
		t.Fatalf("leading junk=%X", got[0])
	}
	if !bytes.Equal(got[1], a) || !bytes.Equal(got[2], b) {
		t.Fatalf("frames=%X", got)
	}
}

func TestSummarizeCapture(t *testing.T) {
	bad := []byte{0x7E, 0x0A, 0x01, 0x00, 0x00, 0x7E}

	dgs := []datagram{
		{At: 0, Payload: gdl90.DeviceIdentificationFrame("N12345 Cessna")},
		{At: 100 * time.Millisecond, Payload: gdl90.HeartbeatFrame(true, 0)},
		{At: 200 * time.Millisecond, Payload: gdl90.Frame([]byte{0x0A, 0x01})},
		{At: 300 * time.Millisecond, Payload: []byte{0x7E, 0x7D, 0x7E}},
		{At: 1 * time.Second, Payload: bad},
	}

	s := summarizeCapture(dgs)
	if s.Datagrams != 5 || s.Frames != 5 {
		t.Fatalf("datagrams=%d frames=%d want 5/5", s.Datagrams, s.Frames)
	}
	if s.Invalid != 1 {
		t.Fatalf("invalid=%d want 1", s.Invalid)
	}
	if s.BadCRC != 1 {
		t.Fatalf("bad_crc=%d want 1", s.BadCRC)
	}
	if s.MsgIDCounts[0x00] != 1 || s.MsgIDCounts[0x0A] != 1 || s.MsgIDCounts[0x65] != 1 {
		t.Fatalf("counts=%v", s.MsgIDCounts)
	}
	if s.DeviceName != "N12345 Cessna" {
		t.Fatalf("device=%q", s.DeviceName)
	}
	if s.Duration != time.Second {
		t.Fatalf("duration=%s want 1s", s.Duration)
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, captureSummary{
		Datagrams:   2,
		Frames:      2,
		MsgIDCounts: map[byte]int{0x0B: 1, 0x00: 1},
		DeviceName:  "efbgps@pi",
	})
	s := out.String()
	for _, want := range []string{"datagrams: 2", "device_name: efbgps@pi", "msg_id_counts:", "  0x00: 1\n  0x0B: 1"} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in output: %q", want, s)
		}
	}
}

func TestCapture_AnnouncesAndRecords(t *testing.T) {
	srv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error: %v", err)
	}
	defer srv.Close()

	go func() {
		buf := make([]byte, discovery.MaxDatagram)
		n, from, err := srv.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := discovery.ParseMessage(buf[:n])
		if err != nil || msg.App != "probe-test" {
			return
		}
		dst := &net.UDPAddr{IP: from.IP, Port: msg.GDL90.Port}
		_, _ = srv.WriteToUDP(gdl90.HeartbeatFrame(true, 0), dst)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	dgs, err := capture(ctx, srv.LocalAddr().String(), "probe-test", 0, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("capture() error: %v", err)
	}
	if len(dgs) != 1 {
		t.Fatalf("datagrams=%d want 1", len(dgs))
	}
	if id, ok := gdl90.MessageID(dgs[0].Payload); !ok || id != gdl90.MsgHeartbeat {
		t.Fatalf("msg id=%02X ok=%v", id, ok)
	}
}
