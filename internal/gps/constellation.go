package gps

import "efbgps/internal/sensor"

func talkerConstellation(talker string) string {
	switch talker {
	case "GP":
		return sensor.GPS
	case "GL":
		return sensor.GLONASS
	case "GA":
		return sensor.Galileo
	case "GB", "BD":
		return sensor.Beidou
	case "GQ", "QZ":
		return sensor.Michibiki
	case "GI":
		return sensor.IRNSS
	default:
		return ""
	}
}

// nmeaSystemConstellation maps the NMEA 4.1 GSA system id.
func nmeaSystemConstellation(id int) string {
	switch id {
	case 1:
		return sensor.GPS
	case 2:
		return sensor.GLONASS
	case 3:
		return sensor.Galileo
	case 4:
		return sensor.Beidou
	case 5:
		return sensor.Michibiki
	case 6:
		return sensor.IRNSS
	default:
		return ""
	}
}

// nmeaConstellation resolves the constellation of one satellite from the
// talker, an optional system id (0 when absent) and the NMEA PRN numbering.
func nmeaConstellation(talker string, systemID, prn int) string {
	c := nmeaSystemConstellation(systemID)
	if c == "" {
		c = talkerConstellation(talker)
	}
	switch c {
	case "":
		return prnConstellation(prn)
	case sensor.GPS:
		// GP sentences also carry SBAS and QZSS vehicles.
		if p := prnConstellation(prn); p == sensor.SBAS || p == sensor.Michibiki {
			return p
		}
	}
	return c
}

func prnConstellation(prn int) string {
	switch {
	case prn >= 1 && prn <= 32:
		return sensor.GPS
	case prn >= 33 && prn <= 64:
		return sensor.SBAS
	case prn >= 65 && prn <= 96:
		return sensor.GLONASS
	case prn >= 120 && prn <= 158:
		return sensor.SBAS
	case prn >= 193 && prn <= 202:
		return sensor.Michibiki
	default:
		return sensor.Unknown
	}
}

// gpsdConstellation maps the u-blox style gnssid reported by gpsd.
func gpsdConstellation(gnssid *int, prn int) string {
	if gnssid == nil {
		switch {
		case prn >= 1 && prn <= 63:
			return sensor.GPS
		case prn >= 64 && prn <= 96:
			return sensor.GLONASS
		case prn >= 120 && prn <= 158:
			return sensor.SBAS
		case prn >= 193 && prn <= 202:
			return sensor.Michibiki
		case prn >= 201 && prn <= 263:
			return sensor.Beidou
		case prn >= 301 && prn <= 336:
			return sensor.Galileo
		default:
			return sensor.Unknown
		}
	}
	switch *gnssid {
	case 0:
		return sensor.GPS
	case 1:
		return sensor.SBAS
	case 2:
		return sensor.Galileo
	case 3:
		return sensor.Beidou
	case 5:
		return sensor.Michibiki
	case 6:
		return sensor.GLONASS
	case 7:
		return sensor.IRNSS
	default:
		return sensor.Unknown
	}
}
