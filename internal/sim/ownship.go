// Package sim is a synthetic GNSS feed for bench testing without a receiver.
// It flies a deterministic figure-eight around a fixed center.
package sim

import (
	"math"
	"time"

	"efbgps/internal/sensor"
)

const (
	metersPerNm   = 1852.0
	metersPerFoot = 0.3048
)

// Ownship describes the simulated flight path. Zero fields take defaults.
type Ownship struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltFeet      int
	GroundKt     int
	RadiusNm     float64
	Period       time.Duration
}

func (s Ownship) withDefaults() Ownship {
	if s.AltFeet == 0 {
		s.AltFeet = 3000
	}
	if s.GroundKt <= 0 {
		s.GroundKt = 90
	}
	if s.RadiusNm <= 0 {
		s.RadiusNm = 0.5
	}
	if s.Period <= 0 {
		s.Period = 120 * time.Second
	}
	return s
}

// Location returns the fix for now. Altitude is a sinusoid around AltFeet.
func (s Ownship) Location(now time.Time) sensor.Location {
	s = s.withDefaults()
	lat, lon, trk := s.Position(now)

	vp := s.Period / 2
	if vp < 30*time.Second {
		vp = 30 * time.Second
	}
	phase := float64(now.UnixNano()%vp.Nanoseconds()) / float64(vp.Nanoseconds())
	altFeet := float64(s.AltFeet) + 500*math.Sin(2*math.Pi*phase)

	return sensor.Location{
		TimestampMs:        now.UnixMilli(),
		Latitude:           lat,
		Longitude:          lon,
		AltitudeM:          altFeet * metersPerFoot,
		SpeedMps:           float64(s.GroundKt) * metersPerNm / 3600,
		BearingDeg:         trk,
		HorizontalAccuracy: 5,
		VerticalAccuracy:   8,
	}
}

// Position returns a figure-eight track within RadiusNm of the center.
func (s Ownship) Position(now time.Time) (latDeg, lonDeg, trackDeg float64) {
	s = s.withDefaults()
	radiusDeg := s.RadiusNm / 60.0
	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())

	// x = cos(2πt), y = 0.5*sin(4πt)
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180.0)

	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = math.Mod((math.Atan2(vx, vy)*180/math.Pi)+360, 360)
	return latDeg, lonDeg, trackDeg
}

type satSlot struct {
	constellation string
	id            int
	azimuth       float64
	elevation     float64
	cn0           float64
	used          bool
}

var satSky = []satSlot{
	{sensor.GPS, 2, 45, 60, 42, true},
	{sensor.GPS, 5, 130, 35, 38, true},
	{sensor.GPS, 12, 220, 20, 31, true},
	{sensor.GPS, 25, 300, 70, 45, true},
	{sensor.GLONASS, 67, 80, 25, 33, true},
	{sensor.Galileo, 11, 190, 50, 40, false},
	{sensor.SBAS, 131, 160, 30, 36, false},
}

// Satellites returns a fixed sky whose azimuths drift slowly with time.
func Satellites(now time.Time) []sensor.Satellite {
	drift := math.Mod(float64(now.Unix())/240, 360)
	out := make([]sensor.Satellite, 0, len(satSky))
	for _, sv := range satSky {
		out = append(out, sensor.Satellite{
			Constellation: sv.constellation,
			ID:            sv.id,
			AzimuthDeg:    math.Mod(sv.azimuth+drift, 360),
			ElevationDeg:  sv.elevation,
			CN0:           sv.cn0,
			Used:          sv.used,
		})
	}
	return out
}
