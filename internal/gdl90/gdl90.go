// Package gdl90 encodes the subset of the GDL90 data interface consumed by
// EFB applications: Heartbeat, Ownship Report, Ownship Geometric Altitude and
// the ForeFlight-style device identification message.
//
// Encoders named after a message return the raw message (ID byte + payload).
// The matching *Frame helpers return the message ready for the wire.
package gdl90

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// Message IDs.
const (
	MsgHeartbeat             = 0x00
	MsgOwnshipReport         = 0x0A
	MsgOwnshipGeometricAlt   = 0x0B
	MsgDeviceIdentification  = 0x65
	deviceIdentificationSub  = 0x00
	deviceIdentificationVers = 0x01
)

const msPerDay = 24 * 60 * 60 * 1000

// Frame takes an unframed GDL90 message (message ID + payload bytes), appends
// the CRC16 low byte first, byte-stuffs both and wraps the result with 0x7E
// flags.
func Frame(message []byte) []byte {
	crc := crc16(message)

	out := make([]byte, 0, 2+(len(message)+2)*2)
	out = append(out, flagByte)
	out = stuff(out, message)
	out = stuff(out, []byte{byte(crc & 0xFF), byte(crc >> 8)})
	out = append(out, flagByte)
	return out
}

// stuff appends src to dst, escaping flag and escape bytes.
func stuff(dst, src []byte) []byte {
	for _, b := range src {
		if b == flagByte || b == escapeByte {
			dst = append(dst, escapeByte, b^escapeXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Heartbeat builds the GDL90 Heartbeat (0x00).
//
// The time field carries whole days since the epoch derived from
// referenceTimestampMs, not seconds since 0000Z. Deployed EFBs accept this as
// is; keep the encoding until it is confirmed against their decoders.
func Heartbeat(gpsValid bool, referenceTimestampMs int64) []byte {
	msg := make([]byte, 7)
	msg[0] = MsgHeartbeat

	// Status byte 1: bit7 GPS position valid, bit0 initialized.
	msg[1] = 0x01
	if gpsValid {
		msg[1] |= 0x80
	}

	d := referenceTimestampMs / msPerDay

	// Status byte 2: bit7 is bit16 of the time field, bit0 UTC OK.
	msg[2] = byte((d>>16)<<7) | 0x01
	msg[3] = byte(d >> 8)
	msg[4] = byte(d)

	// Message counts are not tracked.
	msg[5] = 0x00
	msg[6] = 0x00
	return msg
}

// HeartbeatFrame is Frame(Heartbeat(gpsValid, referenceTimestampMs)).
func HeartbeatFrame(gpsValid bool, referenceTimestampMs int64) []byte {
	return Frame(Heartbeat(gpsValid, referenceTimestampMs))
}
