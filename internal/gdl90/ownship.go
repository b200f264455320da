package gdl90

import (
	"math"

	"efbgps/internal/sensor"
)

const (
	metersPerFoot = 0.3048
	mpsPerKnot    = 0.5144444444

	latLonScale = float64(1 << 23) // LSBs per 180 degrees, signed 24-bit

	// Misc indicator nibble: airborne, updated report, true track angle.
	ownshipMiscIndicators = 0x09
	// Low nibble of the velocity byte with vertical velocity 0x800 (unavailable).
	verticalRateUnavailable = 0x08

	callsignLen = 8
)

// OwnshipReport builds the 28-byte Ownship Report (0x0A) for a location
// sample. The report uses a self-assigned, all-zero address and a blank
// call sign; out-of-range values are clamped to their field.
func OwnshipReport(loc sensor.Location) []byte {
	msg := make([]byte, 28)
	msg[0] = MsgOwnshipReport

	// Alert status 0 (no alert), address type 1 (self-assigned).
	msg[1] = 0x01

	// Address bytes 2..4 stay zero.

	lat := encodeLatLon24(loc.Latitude)
	msg[5], msg[6], msg[7] = lat[0], lat[1], lat[2]

	lon := encodeLatLon24(loc.Longitude)
	msg[8], msg[9], msg[10] = lon[0], lon[1], lon[2]

	alt := clampRound((metersToFeet(loc.AltitudeM)+1000)/25, 0, 0xFFE)
	msg[11] = byte(alt >> 4)
	msg[12] = byte(alt<<4) | ownshipMiscIndicators

	// NIC unknown (high nibble), accuracy class in the low nibble.
	msg[13] = HFOM(loc.HorizontalAccuracy)

	kt := clampRound(loc.SpeedMps/mpsPerKnot, 0, 0xFFE)
	msg[14] = byte(kt >> 4)
	msg[15] = byte(kt<<4) | verticalRateUnavailable
	msg[16] = 0x00

	msg[17] = encodeTrack8(loc.BearingDeg)

	// Emitter category 0: no aircraft type information.
	msg[18] = 0x00

	for i := 0; i < callsignLen; i++ {
		msg[19+i] = ' '
	}

	// Emergency code 0, spare nibble 0.
	msg[27] = 0x00
	return msg
}

// OwnshipReportFrame is Frame(OwnshipReport(loc)).
func OwnshipReportFrame(loc sensor.Location) []byte {
	return Frame(OwnshipReport(loc))
}

// OwnshipGeometricAltitude builds the 5-byte Ownship Geometric Altitude report
// (0x0B): altitude in 5 ft steps and the vertical figure of merit in meters.
// The vertical warning bit is never set.
func OwnshipGeometricAltitude(loc sensor.Location) []byte {
	msg := make([]byte, 5)
	msg[0] = MsgOwnshipGeometricAlt

	alt := int16(clampRound(metersToFeet(loc.AltitudeM)/5, math.MinInt16, math.MaxInt16))
	msg[1] = byte(uint16(alt) >> 8)
	msg[2] = byte(uint16(alt))

	vfom := clampRound(loc.VerticalAccuracy, 0, 1<<15)
	msg[3] = byte(vfom >> 8)
	msg[4] = byte(vfom)
	return msg
}

// OwnshipGeometricAltitudeFrame is Frame(OwnshipGeometricAltitude(loc)).
func OwnshipGeometricAltitudeFrame(loc sensor.Location) []byte {
	return Frame(OwnshipGeometricAltitude(loc))
}

func metersToFeet(m float64) float64 {
	return m / metersPerFoot
}

// encodeLatLon24 encodes degrees as a signed 24-bit fraction of 180 degrees.
// +180 wraps to the -180 code, which names the same meridian.
func encodeLatLon24(deg float64) [3]byte {
	v := int32(clampRound(deg/180*latLonScale, -(1 << 23), 1<<23))
	u := uint32(v) & 0x00FFFFFF
	return [3]byte{byte(u >> 16), byte(u >> 8), byte(u)}
}

// encodeTrack8 encodes a bearing with 360/256 degree resolution.
func encodeTrack8(deg float64) byte {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	v := math.Mod(roundHalfUp(deg/360*256), 256)
	if v < 0 {
		v += 256
	}
	return byte(int(v))
}

// roundHalfUp rounds to the nearest integer with ties toward +Inf.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// clampRound rounds v and clamps it to [lo, hi]. The comparison happens in
// float space so huge inputs never overflow the integer conversion. NaN
// yields lo, or 0 when 0 is inside the range.
func clampRound(v float64, lo, hi int) int {
	if math.IsNaN(v) {
		if lo <= 0 && hi >= 0 {
			return 0
		}
		return lo
	}
	r := roundHalfUp(v)
	if r < float64(lo) {
		return lo
	}
	if r > float64(hi) {
		return hi
	}
	return int(r)
}
