package gdl90

import (
	"bytes"
	"math/rand"
	"testing"
)

func unframeAndCheckCRC(t *testing.T, frame []byte) []byte {
	t.Helper()
	msg, crcOK, err := Unframe(frame)
	if err != nil {
		t.Fatalf("Unframe() error: %v (frame=% X)", err, frame)
	}
	if !crcOK {
		t.Fatalf("crc mismatch (frame=% X)", frame)
	}
	return msg
}

func TestFrame_StartEndFlags(t *testing.T) {
	got := Frame([]byte{0x00, 0x01})
	if len(got) < 2 {
		t.Fatalf("frame too short: %d", len(got))
	}
	if got[0] != flagByte {
		t.Fatalf("missing start flag: 0x%02x", got[0])
	}
	if got[len(got)-1] != flagByte {
		t.Fatalf("missing end flag: 0x%02x", got[len(got)-1])
	}
}

func TestFrame_EscapesControlBytes(t *testing.T) {
	got := Frame([]byte{0x00, flagByte, escapeByte})
	for i := 1; i < len(got)-1; i++ {
		if got[i] == flagByte {
			t.Fatalf("unescaped flag byte found at %d", i)
		}
	}
	want := []byte{0x7E, 0x00, 0x7D, 0x5E, 0x7D, 0x5D}
	if !bytes.HasPrefix(got, want) {
		t.Fatalf("frame=% X want prefix % X", got, want)
	}
}

func TestFrame_GoldenHeartbeat(t *testing.T) {
	got := Frame([]byte{0x00, 0x81, 0x01, 0x00, 0x00, 0x00, 0x00})
	want := []byte{0x7E, 0x00, 0x81, 0x01, 0x00, 0x00, 0x00, 0x00, 0xBC, 0x9C, 0x7E}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame=% X want % X", got, want)
	}
}

func TestCRC16_KnownVector(t *testing.T) {
	if got := crc16([]byte("123456789")); got != 0xBEEF {
		t.Fatalf("crc16=0x%04X want 0xBEEF", got)
	}
	if got := crc16(nil); got != 0 {
		t.Fatalf("crc16(nil)=0x%04X want 0", got)
	}
}

func TestCRC16_TableHighBitEntries(t *testing.T) {
	if crcTable[0] != 0 {
		t.Fatalf("table[0]=0x%04X", crcTable[0])
	}
	if crcTable[1] != 0x1021 {
		t.Fatalf("table[1]=0x%04X want 0x1021", crcTable[1])
	}
}

func TestStuffUnstuff_RoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 500; n++ {
		b := make([]byte, rng.Intn(64))
		for i := range b {
			// Bias toward the reserved bytes.
			switch rng.Intn(4) {
			case 0:
				b[i] = flagByte
			case 1:
				b[i] = escapeByte
			default:
				b[i] = byte(rng.Intn(256))
			}
		}
		s := stuff(nil, b)
		if bytes.IndexByte(s, flagByte) != -1 {
			t.Fatalf("stuffed output contains flag: % X", s)
		}
		got, err := unstuff(s)
		if err != nil {
			t.Fatalf("unstuff error: %v", err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("round trip mismatch: got % X want % X", got, b)
		}
	}
}

func TestUnframe_RecoversPayloadAndCRC(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for n := 0; n < 200; n++ {
		p := make([]byte, 1+rng.Intn(48))
		rng.Read(p)
		msg := unframeAndCheckCRC(t, Frame(p))
		if !bytes.Equal(msg, p) {
			t.Fatalf("payload=% X want % X", msg, p)
		}
	}
}

func TestUnframe_DetectsCorruption(t *testing.T) {
	f := Frame([]byte{0x0A, 0x01, 0x02, 0x03})
	f[2] ^= 0x01
	_, crcOK, err := Unframe(f)
	if err != nil {
		t.Fatalf("Unframe() error: %v", err)
	}
	if crcOK {
		t.Fatalf("expected crc mismatch")
	}
}

func TestUnframe_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
	}{
		{name: "Short", frame: []byte{0x7E, 0x7E}},
		{name: "NoFlags", frame: []byte{0x00, 0x01, 0x02, 0x03}},
		{name: "TruncatedEscape", frame: []byte{0x7E, 0x00, 0x01, 0x02, 0x7D, 0x7E}},
		{name: "InnerFlag", frame: []byte{0x7E, 0x00, 0x7E, 0x01, 0x02, 0x7E}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Unframe(tc.frame); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMessageID(t *testing.T) {
	if id, ok := MessageID(OwnshipReportFrame(sampleLocation())); !ok || id != MsgOwnshipReport {
		t.Fatalf("id=%d ok=%v", id, ok)
	}
	if id, ok := MessageID(Frame([]byte{0x7E, 0x00})); !ok || id != 0x7E {
		t.Fatalf("escaped id=0x%02X ok=%v", id, ok)
	}
	if _, ok := MessageID([]byte{0x7E}); ok {
		t.Fatalf("expected short frame to be rejected")
	}
}

func TestHeartbeat_StatusByte(t *testing.T) {
	for _, ts := range []int64{0, 1, 1700000000000, -5, 1 << 62} {
		if got := Heartbeat(true, ts)[1]; got != 0x81 {
			t.Fatalf("ts=%d status1=0x%02X want 0x81", ts, got)
		}
		if got := Heartbeat(false, ts)[1]; got != 0x01 {
			t.Fatalf("ts=%d status1=0x%02X want 0x01", ts, got)
		}
	}
}

func TestHeartbeat_DayCountPacking(t *testing.T) {
	// 2023-11-14T22:13:20Z is day 19675 (0x4CDB).
	msg := unframeAndCheckCRC(t, HeartbeatFrame(true, 1700000000000))
	want := []byte{0x00, 0x81, 0x01, 0x4C, 0xDB, 0x00, 0x00}
	if !bytes.Equal(msg, want) {
		t.Fatalf("msg=% X want % X", msg, want)
	}
}

func TestHeartbeat_Bit16GoesToStatus2(t *testing.T) {
	ts := int64(0x1_0002) * msPerDay
	msg := Heartbeat(false, ts)
	if msg[2] != 0x81 {
		t.Fatalf("status2=0x%02X want 0x81", msg[2])
	}
	if msg[3] != 0x00 || msg[4] != 0x02 {
		t.Fatalf("time bytes=% X want 00 02", msg[3:5])
	}
}
