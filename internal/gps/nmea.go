package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"efbgps/internal/sensor"
)

const (
	knotsToMps = 0.514444444

	// DOP to meters, used when the receiver emits no GST.
	hdopToMeters = 8.0
	vdopToMeters = 5.0
)

type nmeaSentence struct {
	Talker string
	Type   string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GNRMC, GPRMC, ... normalize to the last 3 chars.
	n := len(typeField) - 3
	return nmeaSentence{
		Talker: strings.ToUpper(typeField[:n]),
		Type:   strings.ToUpper(typeField[n:]),
		Fields: parts,
	}, nil
}

type satKey struct {
	constellation string
	prn           int
}

// nmeaEpoch accumulates the sentences of one fix epoch, identified by the
// UTC time field of RMC/GGA.
type nmeaEpoch struct {
	fixOK   bool
	fixVoid bool

	lat, lon float64
	posOK    bool

	altM  float64
	altOK bool

	speedMps  float64
	courseDeg float64

	timeMs int64
	timeOK bool

	hdop, vdop     float64
	hdopOK, vdopOK bool

	sigmaH, sigmaV     float64
	sigmaHOK, sigmaVOK bool

	gsvSeen bool
	inView  map[satKey]sensor.Satellite
	order   []satKey
	used    map[satKey]bool
}

func newNMEAEpoch() nmeaEpoch {
	return nmeaEpoch{
		inView: make(map[satKey]sensor.Satellite),
		used:   make(map[satKey]bool),
	}
}

type nmeaState struct {
	device string
	baud   int

	epoch string
	cur   nmeaEpoch

	// terminator is the sentence learned to close an epoch. Once seen, the
	// epoch is emitted without waiting for the next fix time.
	terminator string
	lastKey    string
	flushed    bool
	strays     bool

	// date is UTC midnight of the last RMC date field.
	date   time.Time
	dateOK bool

	lastAltM  float64
	lastAltOK bool

	last         sensor.Location
	lastOK       bool
	lastFix      time.Time
	valid        bool
	fixQuality   int
	fixQualityOK bool
	satsUsed     int
	satsInView   int
	satsOK       bool
	hdop         float64
	hdopOK       bool

	lastErr string
}

func newNMEAState(device string, baud int) *nmeaState {
	return &nmeaState{device: device, baud: baud, cur: newNMEAEpoch()}
}

// decode applies one line. The current epoch is flushed into the returned
// update when its learned terminator arrives, or when the line opens a new
// epoch before that happened.
func (s *nmeaState) decode(nowUTC time.Time, line string) (update, error) {
	sent, err := parseNMEASentence(line)
	if err != nil {
		return update{}, err
	}

	var up update
	opened := false
	if sent.Type == "RMC" || sent.Type == "GGA" {
		if t := field(sent.Fields, 1); t != "" && t != s.epoch {
			if s.epoch != "" {
				if !s.flushed {
					up = s.flush(nowUTC)
				}
				// Relearn when the terminator was missing or came too early.
				if !s.flushed || s.strays {
					s.terminator = s.lastKey
				}
			}
			s.epoch = t
			s.cur = newNMEAEpoch()
			s.flushed = false
			s.strays = false
			opened = true
		}
	}
	s.apply(nowUTC, sent)

	key := epochKey(sent)
	s.lastKey = key
	if s.flushed {
		s.strays = true
		return up, nil
	}
	if !opened && s.epoch != "" && key != "" && key == s.terminator {
		up = s.flush(nowUTC)
		s.cur = newNMEAEpoch()
		s.flushed = true
	}
	return up, nil
}

// epochKey names a sentence for terminator learning. Non-final GSV parts
// never close an epoch.
func epochKey(sent nmeaSentence) string {
	if sent.Type == "GSV" && field(sent.Fields, 1) != field(sent.Fields, 2) {
		return ""
	}
	return sent.Talker + sent.Type
}

// flushPending emits whatever the current epoch holds, for end of stream.
func (s *nmeaState) flushPending(nowUTC time.Time) update {
	var up update
	if !s.flushed {
		up = s.flush(nowUTC)
	}
	s.epoch = ""
	s.cur = newNMEAEpoch()
	s.flushed = false
	s.strays = false
	s.lastKey = ""
	return up
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) {
	switch sent.Type {
	case "RMC":
		s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		s.applyGGA(nowUTC, sent.Fields)
	case "GSA":
		s.applyGSA(sent.Talker, sent.Fields)
	case "GSV":
		s.applyGSV(sent.Talker, sent.Fields)
	case "GST":
		s.applyGST(sent.Fields)
	}
}

func (s *nmeaState) flush(nowUTC time.Time) update {
	var up update
	e := &s.cur

	if e.timeOK {
		up.refMs = e.timeMs
	}

	if e.fixOK && !e.fixVoid && e.posOK {
		if e.altOK {
			s.lastAltM = e.altM
			s.lastAltOK = true
		}
		loc := sensor.Location{
			TimestampMs:        nowUTC.UnixMilli(),
			Latitude:           e.lat,
			Longitude:          e.lon,
			AltitudeM:          s.lastAltM,
			SpeedMps:           e.speedMps,
			BearingDeg:         e.courseDeg,
			HorizontalAccuracy: unknownAccuracyM,
			VerticalAccuracy:   unknownVerticalAccuracyM,
		}
		if e.timeOK {
			loc.TimestampMs = e.timeMs
		}
		switch {
		case e.sigmaHOK:
			loc.HorizontalAccuracy = e.sigmaH
		case e.hdopOK:
			loc.HorizontalAccuracy = hdopToMeters * e.hdop
		}
		switch {
		case e.sigmaVOK:
			loc.VerticalAccuracy = e.sigmaV
		case e.vdopOK:
			loc.VerticalAccuracy = vdopToMeters * e.vdop
		}
		s.last = loc
		s.lastOK = true
		s.lastFix = time.UnixMilli(loc.TimestampMs).UTC()
		s.valid = true
		up.loc = &loc
	} else if e.fixVoid || e.timeOK {
		s.valid = false
	}

	if e.gsvSeen {
		batch := make([]sensor.Satellite, 0, len(e.order))
		used := 0
		for _, k := range e.order {
			sat := e.inView[k]
			sat.Used = e.used[k]
			if sat.Used {
				used++
			}
			batch = append(batch, sat)
		}
		s.satsInView = len(batch)
		s.satsUsed = used
		s.satsOK = true
		up.sats = batch
		up.satsOK = true
	}
	return up
}

// fixTime combines an hhmmss(.sss) field with the last RMC date, or with
// today's UTC date before any RMC date is seen.
func (s *nmeaState) fixTime(nowUTC time.Time, hhmmss string) (int64, bool) {
	if len(hhmmss) < 6 {
		return 0, false
	}
	h, err1 := strconv.Atoi(hhmmss[0:2])
	m, err2 := strconv.Atoi(hhmmss[2:4])
	sec, err3 := strconv.ParseFloat(hhmmss[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	day := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	if s.dateOK {
		day = s.date
	}
	t := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)))
	return t.UnixMilli(), true
}

func parseNMEADate(ddmmyy string) (time.Time, bool) {
	t, err := time.Parse("020106", strings.TrimSpace(ddmmyy))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) {
	if len(f) < 10 {
		return
	}
	if d, ok := parseNMEADate(f[9]); ok {
		s.date = d
		s.dateOK = true
	}
	e := &s.cur
	if ms, ok := s.fixTime(nowUTC, strings.TrimSpace(f[1])); ok {
		e.timeMs = ms
		e.timeOK = true
	}
	if strings.TrimSpace(f[2]) != "A" {
		e.fixVoid = true
		return
	}
	e.fixOK = true

	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if latOK && lonOK {
		e.lat, e.lon = lat, lon
		e.posOK = true
	}
	if gs, ok := parseFloat(f[7]); ok {
		e.speedMps = gs * knotsToMps
	}
	if trk, ok := parseFloat(f[8]); ok {
		e.courseDeg = math.Mod(trk+360.0, 360.0)
	}
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// 10: units (M)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) {
	if len(f) < 11 {
		return
	}
	e := &s.cur
	if !e.timeOK {
		if ms, ok := s.fixTime(nowUTC, strings.TrimSpace(f[1])); ok {
			e.timeMs = ms
			e.timeOK = true
		}
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q == 0 {
		e.fixVoid = true
		return
	}
	s.fixQuality = q
	s.fixQualityOK = true
	e.fixOK = true

	if !e.posOK {
		lat, latOK := parseNMEALatLon(f[2], f[3])
		lon, lonOK := parseNMEALatLon(f[4], f[5])
		if latOK && lonOK {
			e.lat, e.lon = lat, lon
			e.posOK = true
		}
	}
	if hdop, ok := parseFloat(f[8]); ok && !e.hdopOK {
		e.hdop = hdop
		e.hdopOK = true
		s.hdop = hdop
		s.hdopOK = true
	}
	if altM, ok := parseFloat(f[9]); ok {
		e.altM = altM
		e.altOK = true
	}
}

// GSA: DOP and active satellites
//
//	 1: mode (M/A)
//	 2: fix type (1=none, 2=2D, 3=3D)
//	3-14: PRNs used in the fix
//	15: PDOP
//	16: HDOP
//	17: VDOP
//	18: system id (NMEA 4.1, optional)
func (s *nmeaState) applyGSA(talker string, f []string) {
	if len(f) < 18 {
		return
	}
	e := &s.cur
	systemID := 0
	if len(f) > 18 {
		systemID, _ = strconv.Atoi(strings.TrimSpace(f[18]))
	}
	for _, v := range f[3:15] {
		prn, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || prn == 0 {
			continue
		}
		e.used[satKey{constellation: nmeaConstellation(talker, systemID, prn), prn: prn}] = true
	}
	if hdop, ok := parseFloat(f[16]); ok {
		e.hdop = hdop
		e.hdopOK = true
		s.hdop = hdop
		s.hdopOK = true
	}
	if vdop, ok := parseFloat(f[17]); ok {
		e.vdop = vdop
		e.vdopOK = true
	}
}

// GSV: satellites in view
//
//	1: total messages
//	2: message number
//	3: satellites in view
//	4..: repeated (PRN, elevation, azimuth, SNR), optional trailing signal id
func (s *nmeaState) applyGSV(talker string, f []string) {
	if len(f) < 4 {
		return
	}
	e := &s.cur
	e.gsvSeen = true
	for i := 4; i+3 < len(f); i += 4 {
		prn, err := strconv.Atoi(strings.TrimSpace(f[i]))
		if err != nil || prn == 0 {
			continue
		}
		key := satKey{constellation: nmeaConstellation(talker, 0, prn), prn: prn}
		elev, _ := parseFloat(f[i+1])
		azim, _ := parseFloat(f[i+2])
		snr, _ := parseFloat(f[i+3])
		if _, seen := e.inView[key]; !seen {
			e.order = append(e.order, key)
		}
		e.inView[key] = sensor.Satellite{
			Constellation: key.constellation,
			ID:            prn,
			AzimuthDeg:    azim,
			ElevationDeg:  elev,
			CN0:           snr,
		}
	}
}

// GST: pseudorange error statistics
//
//	6: latitude 1-sigma error (m)
//	7: longitude 1-sigma error (m)
//	8: altitude 1-sigma error (m)
func (s *nmeaState) applyGST(f []string) {
	if len(f) < 9 {
		return
	}
	e := &s.cur
	sLat, okLat := parseFloat(f[6])
	sLon, okLon := parseFloat(f[7])
	if okLat && okLon {
		e.sigmaH = 2 * math.Sqrt(sLat*sLat+sLon*sLon)
		e.sigmaHOK = true
	}
	if sAlt, ok := parseFloat(f[8]); ok {
		e.sigmaV = 2 * sAlt
		e.sigmaVOK = true
	}
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Valid:  s.valid,
		Source: SourceNMEA,
		Device: s.device,
		Baud:   s.baud,
	}
	if s.lastOK {
		loc := s.last
		out.Location = &loc
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.satsOK {
		used, inView := s.satsUsed, s.satsInView
		out.Satellites = &used
		out.SatellitesInView = &inView
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	out.LastError = s.lastErr
	return out
}

func field(f []string, i int) string {
	if i >= len(f) {
		return ""
	}
	return strings.TrimSpace(f[i])
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
