package gps

import (
	"math"
	"testing"
	"time"

	"efbgps/internal/gdl90"
	"efbgps/internal/sensor"
)

func TestGPSDState_TPVProducesLocation(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState("127.0.0.1:2947")

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T12:00:00.000Z","lat":45.5,"lon":-122.9,"altMSL":100.0,"speed":50.0,"track":270.0,"climb":1.0,"eph":4.2,"epv":7.0}`
	up, err := st.decode(now, line)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if up.loc == nil {
		t.Fatalf("expected location")
	}
	loc := *up.loc
	if loc.TimestampMs != now.UnixMilli() || up.refMs != now.UnixMilli() {
		t.Fatalf("ts=%d ref=%d want %d", loc.TimestampMs, up.refMs, now.UnixMilli())
	}
	if math.Abs(loc.Latitude-45.5) > 1e-9 || math.Abs(loc.Longitude-(-122.9)) > 1e-9 {
		t.Fatalf("lat/lon=%v,%v", loc.Latitude, loc.Longitude)
	}
	if loc.AltitudeM != 100 || loc.SpeedMps != 50 || loc.BearingDeg != 270 {
		t.Fatalf("alt/speed/track=%v,%v,%v", loc.AltitudeM, loc.SpeedMps, loc.BearingDeg)
	}
	if math.Abs(loc.HorizontalAccuracy-4.2) > 1e-9 || math.Abs(loc.VerticalAccuracy-7.0) > 1e-9 {
		t.Fatalf("acc=%v,%v", loc.HorizontalAccuracy, loc.VerticalAccuracy)
	}

	snap := st.snapshot()
	if !snap.Valid || snap.FixMode == nil || *snap.FixMode != 3 || snap.LastFixUTC == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestGPSDState_TPVEpxEpyAndAltFallback(t *testing.T) {
	st := newGPSDState("")
	line := `{"class":"TPV","mode":2,"lat":1,"lon":2,"alt":50,"epx":3,"epy":4}`
	up, err := st.decode(time.Now().UTC(), line)
	if err != nil || up.loc == nil {
		t.Fatalf("decode up=%+v err=%v", up, err)
	}
	if up.loc.HorizontalAccuracy != 5 || up.loc.VerticalAccuracy != unknownVerticalAccuracyM || up.loc.AltitudeM != 50 {
		t.Fatalf("loc=%+v", *up.loc)
	}
	if up.refMs != 0 {
		t.Fatalf("refMs=%d want 0 without time", up.refMs)
	}
}

func TestGPSDState_TPVNoFix(t *testing.T) {
	st := newGPSDState("")
	up, err := st.decode(time.Now().UTC(), `{"class":"TPV","mode":1,"time":"2025-12-22T12:00:00Z"}`)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if up.loc != nil {
		t.Fatalf("mode 1 produced location")
	}
	if up.refMs == 0 {
		t.Fatalf("expected reference time without a fix")
	}
	if st.snapshot().Valid {
		t.Fatalf("valid=true want false")
	}
}

func TestGPSDState_SKYProducesBatch(t *testing.T) {
	st := newGPSDState("127.0.0.1:2947")
	line := `{"class":"SKY","hdop":0.9,"satellites":[` +
		`{"PRN":5,"gnssid":0,"svid":5,"az":120,"el":45,"ss":40,"used":true},` +
		`{"PRN":68,"gnssid":6,"svid":4,"az":10,"el":5,"ss":18,"used":false},` +
		`{"PRN":12,"used":true}]}`
	up, err := st.decode(time.Now().UTC(), line)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !up.satsOK || len(up.sats) != 3 {
		t.Fatalf("sats=%+v", up.sats)
	}
	want := []sensor.Satellite{
		{Constellation: sensor.GPS, ID: 5, AzimuthDeg: 120, ElevationDeg: 45, CN0: 40, Used: true},
		{Constellation: sensor.GLONASS, ID: 4, AzimuthDeg: 10, ElevationDeg: 5, CN0: 18},
		{Constellation: sensor.GPS, ID: 12, Used: true},
	}
	for i := range want {
		if up.sats[i] != want[i] {
			t.Fatalf("sat[%d]=%+v want %+v", i, up.sats[i], want[i])
		}
	}
	snap := st.snapshot()
	if snap.Satellites == nil || *snap.Satellites != 2 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.HDOP == nil || math.Abs(*snap.HDOP-0.9) > 1e-9 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestGPSDState_IgnoresOtherClassesAndRejectsJunk(t *testing.T) {
	st := newGPSDState("")
	up, err := st.decode(time.Now().UTC(), `{"class":"VERSION","release":"3.25"}`)
	if err != nil || up.loc != nil || up.satsOK {
		t.Fatalf("VERSION up=%+v err=%v", up, err)
	}
	up, err = st.decode(time.Now().UTC(), `{"class":"SKY","hdop":1.1}`)
	if err != nil || up.satsOK {
		t.Fatalf("DOP-only SKY up=%+v err=%v", up, err)
	}
	if _, err := st.decode(time.Now().UTC(), `not json`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGPSDConstellation(t *testing.T) {
	id := func(v int) *int { return &v }
	cases := []struct {
		gnssid *int
		prn    int
		want   string
	}{
		{id(0), 1, sensor.GPS},
		{id(1), 131, sensor.SBAS},
		{id(2), 301, sensor.Galileo},
		{id(3), 201, sensor.Beidou},
		{id(5), 193, sensor.Michibiki},
		{id(6), 65, sensor.GLONASS},
		{id(7), 1, sensor.IRNSS},
		{id(4), 1, sensor.Unknown},
		{nil, 7, sensor.GPS},
		{nil, 70, sensor.GLONASS},
		{nil, 133, sensor.SBAS},
		{nil, 310, sensor.Galileo},
		{nil, 999, sensor.Unknown},
	}
	for _, tc := range cases {
		if got := gpsdConstellation(tc.gnssid, tc.prn); got != tc.want {
			t.Fatalf("gpsdConstellation(%v,%d)=%q want %q", tc.gnssid, tc.prn, got, tc.want)
		}
	}
}

func TestGPSDState_TPVWithoutEpvLeavesVerticalWarningClear(t *testing.T) {
	st := newGPSDState("")
	up, err := st.decode(time.Now().UTC(), `{"class":"TPV","mode":3,"lat":1,"lon":2,"alt":50}`)
	if err != nil || up.loc == nil {
		t.Fatalf("decode up=%+v err=%v", up, err)
	}
	msg := gdl90.OwnshipGeometricAltitude(*up.loc)
	if msg[3]&0x80 != 0 {
		t.Fatalf("vertical warning bit set: vfom=0x%02X%02X", msg[3], msg[4])
	}
}
