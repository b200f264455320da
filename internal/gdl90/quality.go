package gdl90

const metersPerNauticalMile = 1852.0

// HFOM maps an estimated horizontal accuracy (meters) to the accuracy class
// carried in the low nibble of Ownship Report byte 13.
//
// Values below 30 m use the meter thresholds; anything larger is classified
// in nautical miles. Unknown (NaN) accuracy falls through to class 0.
func HFOM(accuracyM float64) byte {
	switch {
	case accuracyM < 3:
		return 11
	case accuracyM < 10:
		return 10
	case accuracyM < 30:
		return 9
	}
	return hfomNM(accuracyM / metersPerNauticalMile)
}

func hfomNM(nm float64) byte {
	switch {
	case nm < 0.05:
		return 8
	case nm < 0.1:
		return 7
	case nm < 0.3:
		return 6
	case nm < 0.5:
		return 5
	case nm < 1.0:
		return 4
	case nm < 2.0:
		return 3
	case nm < 4.0:
		return 2
	case nm < 10.0:
		return 1
	default:
		return 0
	}
}
