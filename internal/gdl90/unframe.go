package gdl90

import "fmt"

// Unframe reverses Frame(): it validates 0x7E flag framing, de-escapes the
// payload, and checks the appended CRC16.
//
// It returns the unframed message bytes (message ID + payload, without CRC),
// whether the CRC check passed, and an error for malformed frames.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	if len(frame) < 4 {
		return nil, false, fmt.Errorf("frame too short: %d", len(frame))
	}
	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, fmt.Errorf("missing start/end flags")
	}

	raw, err := unstuff(frame[1 : len(frame)-1])
	if err != nil {
		return nil, false, err
	}
	if len(raw) < 3 {
		return nil, false, fmt.Errorf("unescaped payload too short: %d", len(raw))
	}

	msg = raw[:len(raw)-2]
	crcGot := uint16(raw[len(raw)-2]) | (uint16(raw[len(raw)-1]) << 8)
	return msg, crcGot == crc16(msg), nil
}

// unstuff removes byte-stuffing from the bytes between two flags.
func unstuff(body []byte) ([]byte, error) {
	raw := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		b := body[i]
		if b == flagByte {
			return nil, fmt.Errorf("unescaped flag at offset %d", i+1)
		}
		if b == escapeByte {
			i++
			if i >= len(body) {
				return nil, fmt.Errorf("truncated escape at end of frame")
			}
			raw = append(raw, body[i]^escapeXor)
			continue
		}
		raw = append(raw, b)
	}
	return raw, nil
}

// MessageID returns the message ID of a framed message, accounting for a
// stuffed first byte. It returns false for frames too short to carry one.
func MessageID(frame []byte) (byte, bool) {
	if len(frame) < 3 || frame[0] != flagByte {
		return 0, false
	}
	if frame[1] == escapeByte {
		return frame[2] ^ escapeXor, true
	}
	return frame[1], true
}
