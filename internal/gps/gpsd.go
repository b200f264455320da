package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"efbgps/internal/sensor"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
	Epv *float64 `json:"epv"`
}

type gpsdSat struct {
	PRN    int      `json:"PRN"`
	GNSSID *int     `json:"gnssid"`
	SVID   *int     `json:"svid"`
	Az     *float64 `json:"az"`
	El     *float64 `json:"el"`
	SS     *float64 `json:"ss"`
	Used   bool     `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	Time       string    `json:"time"`
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	altM  float64
	altOK bool

	mode   int
	modeOK bool

	last    sensor.Location
	lastOK  bool
	lastFix time.Time
	valid   bool

	satsUsed   int
	satsInView int
	satsOK     bool
	hdop       float64
	hdopOK     bool

	lastErr string
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Valid:    s.valid,
		Device:   "gpsd",
		Source:   SourceGPSD,
		GPSDAddr: strings.TrimSpace(s.addr),
	}
	if s.lastOK {
		loc := s.last
		out.Location = &loc
	}
	if s.modeOK {
		v := s.mode
		out.FixMode = &v
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

func (s *gpsdState) decode(nowUTC time.Time, line string) (update, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return update{}, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return update{}, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return update{}, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		return s.applySKY(sky), nil
	default:
		// VERSION, DEVICES, WATCH, ...
		return update{}, nil
	}
}

func (s *gpsdState) flushPending(time.Time) update { return update{} }

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) update {
	var up update

	if tpv.Mode != nil {
		s.mode = *tpv.Mode
		s.modeOK = true
	}

	fixTime := nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			fixTime = t.UTC()
			up.refMs = fixTime.UnixMilli()
		}
	}

	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil {
		s.altM = *altM
		s.altOK = true
	}

	if s.mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		if s.modeOK && s.mode < 2 {
			s.valid = false
		}
		return up
	}

	loc := sensor.Location{
		TimestampMs:        fixTime.UnixMilli(),
		Latitude:           *tpv.Lat,
		Longitude:          *tpv.Lon,
		AltitudeM:          s.altM,
		HorizontalAccuracy: unknownAccuracyM,
		VerticalAccuracy:   unknownVerticalAccuracyM,
	}
	if tpv.SpeedMS != nil {
		loc.SpeedMps = *tpv.SpeedMS
	}
	if tpv.Track != nil {
		loc.BearingDeg = math.Mod(*tpv.Track+360.0, 360.0)
	}
	if tpv.Eph != nil {
		loc.HorizontalAccuracy = *tpv.Eph
	} else if tpv.Epx != nil && tpv.Epy != nil {
		loc.HorizontalAccuracy = math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
	}
	if tpv.Epv != nil {
		loc.VerticalAccuracy = *tpv.Epv
	}

	s.last = loc
	s.lastOK = true
	s.lastFix = fixTime
	s.valid = true
	up.loc = &loc
	return up
}

func (s *gpsdState) applySKY(sky gpsdSKY) update {
	var up update
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
	}
	if strings.TrimSpace(sky.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, sky.Time); err == nil {
			up.refMs = t.UTC().UnixMilli()
		}
	}
	// gpsd also sends SKY with only DOPs; those carry no batch.
	if len(sky.Satellites) == 0 {
		return up
	}

	batch := make([]sensor.Satellite, 0, len(sky.Satellites))
	used := 0
	for _, sat := range sky.Satellites {
		id := sat.PRN
		if sat.GNSSID != nil && sat.SVID != nil {
			id = *sat.SVID
		}
		out := sensor.Satellite{
			Constellation: gpsdConstellation(sat.GNSSID, sat.PRN),
			ID:            id,
			Used:          sat.Used,
		}
		if sat.Az != nil {
			out.AzimuthDeg = *sat.Az
		}
		if sat.El != nil {
			out.ElevationDeg = *sat.El
		}
		if sat.SS != nil {
			out.CN0 = *sat.SS
		}
		if sat.Used {
			used++
		}
		batch = append(batch, out)
	}
	s.satsUsed = used
	s.satsInView = len(batch)
	s.satsOK = true
	up.sats = batch
	up.satsOK = true
	return up
}
