package main

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"efbgps/internal/gdl90"
)

type datagram struct {
	At      time.Duration
	Payload []byte
}

type captureSummary struct {
	Datagrams   int
	Frames      int
	Invalid     int
	BadCRC      int
	Duration    time.Duration
	MsgIDCounts map[byte]int
	DeviceName  string
}

func summarizeCapture(dgs []datagram) captureSummary {
	s := captureSummary{MsgIDCounts: map[byte]int{}}
	for _, d := range dgs {
		s.Datagrams++
		if d.At > s.Duration {
			s.Duration = d.At
		}
		for _, frame := range splitFrames(d.Payload) {
			s.Frames++
			msg, crcOK, err := gdl90.Unframe(frame)
			if err != nil || len(msg) == 0 {
				s.Invalid++
				continue
			}
			if !crcOK {
				s.BadCRC++
				continue
			}
			s.MsgIDCounts[msg[0]]++
			if name, ok := deviceLongName(msg); ok {
				s.DeviceName = name
			}
		}
	}
	return s
}

// splitFrames cuts a datagram into flag-delimited frames. Bytes outside a
// closed frame count as one invalid frame.
func splitFrames(b []byte) [][]byte {
	var frames [][]byte
	for len(b) > 0 {
		start := bytes.IndexByte(b, 0x7E)
		if start < 0 {
			frames = append(frames, b)
			break
		}
		if start > 0 {
			frames = append(frames, b[:start])
		}
		end := bytes.IndexByte(b[start+1:], 0x7E)
		if end < 0 {
			frames = append(frames, b[start:])
			break
		}
		end += start + 2
		frames = append(frames, b[start:end])
		b = b[end:]
	}
	return frames
}

func deviceLongName(msg []byte) (string, bool) {
	if len(msg) < 35 || msg[0] != gdl90.MsgDeviceIdentification || msg[1] != 0 {
		return "", false
	}
	return string(bytes.TrimRight(msg[19:35], "\x00")), true
}

func printSummary(w io.Writer, s captureSummary) {
	fmt.Fprintf(w, "datagrams: %d\n", s.Datagrams)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "invalid_frames: %d\n", s.Invalid)
	fmt.Fprintf(w, "bad_crc: %d\n", s.BadCRC)
	fmt.Fprintf(w, "duration: %s\n", s.Duration)
	if s.DeviceName != "" {
		fmt.Fprintf(w, "device_name: %s\n", s.DeviceName)
	}

	keys := make([]int, 0, len(s.MsgIDCounts))
	for k := range s.MsgIDCounts {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	fmt.Fprintf(w, "msg_id_counts:\n")
	for _, k := range keys {
		b := byte(k)
		fmt.Fprintf(w, "  0x%02X: %d\n", b, s.MsgIDCounts[b])
	}
}
