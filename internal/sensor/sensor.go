// Package sensor holds the GNSS data model shared by the feeds, the GDL90
// encoders and the UI passthrough hooks.
package sensor

// Location is one position fix. Values are immutable once produced by a feed.
type Location struct {
	TimestampMs        int64   `json:"timestamp"`
	Longitude          float64 `json:"longitude"`
	Latitude           float64 `json:"latitude"`
	AltitudeM          float64 `json:"altitude"`
	SpeedMps           float64 `json:"speed"`
	BearingDeg         float64 `json:"bearing"`
	HorizontalAccuracy float64 `json:"horizontalAccuracy"`
	VerticalAccuracy   float64 `json:"verticalAccuracy"`
}

// Satellite is a single space vehicle as seen in one update.
type Satellite struct {
	Constellation string  `json:"type"`
	ID            int     `json:"id"`
	AzimuthDeg    float64 `json:"azimuth"`
	ElevationDeg  float64 `json:"elevation"`
	CN0           float64 `json:"cnr"`
	Used          bool    `json:"used"`
}

// Constellation names reported in Satellite.Constellation.
const (
	GPS       = "GPS"
	GLONASS   = "GLONASS"
	Galileo   = "Galileo"
	Beidou    = "Beidou"
	Michibiki = "Michibiki"
	IRNSS     = "IRNSS"
	SBAS      = "SBAS"
	Unknown   = "Unknown"
)

// AnyUsed reports whether at least one satellite of the batch contributes to
// the current fix.
func AnyUsed(batch []Satellite) bool {
	for _, s := range batch {
		if s.Used {
			return true
		}
	}
	return false
}

// LocationFeed delivers Location samples at roughly 1 Hz while subscribed.
//
// Callbacks are invoked from a single goroutine owned by the feed.
type LocationFeed interface {
	SubscribeLocation(fn func(Location))
	UnsubscribeLocation()
}

// SatelliteFeed delivers satellite batches while subscribed, plus a reference
// timestamp (ms since epoch) that the feed maintains out of band from its
// receiver clock.
type SatelliteFeed interface {
	SubscribeSatellites(fn func([]Satellite))
	UnsubscribeSatellites()
	ReferenceTimestampMs() int64
}
