package gdl90

// DeviceShortName is the fixed 8-byte short name announced in the
// identification message.
const DeviceShortName = "EFBGPS"

const (
	deviceShortNameLen = 8
	deviceLongNameLen  = 16
)

// DeviceIdentification builds the 39-byte ForeFlight-style ID message (0x65,
// sub-ID 0). deviceName becomes the long name and is cut to 16 bytes with
// TruncateUTF8 when longer.
//
// The serial number is reported invalid and the capability mask is zero
// (geometric altitude referenced to the WGS-84 ellipsoid).
func DeviceIdentification(deviceName string) []byte {
	msg := make([]byte, 39)
	msg[0] = MsgDeviceIdentification
	msg[1] = deviceIdentificationSub
	msg[2] = deviceIdentificationVers

	for i := 3; i <= 10; i++ {
		msg[i] = 0xFF
	}

	copy(msg[11:11+deviceShortNameLen], DeviceShortName)
	copy(msg[19:19+deviceLongNameLen], TruncateUTF8(deviceName, deviceLongNameLen))

	// msg[35:39] capabilities stay zero.
	return msg
}

// DeviceIdentificationFrame is Frame(DeviceIdentification(deviceName)).
func DeviceIdentificationFrame(deviceName string) []byte {
	return Frame(DeviceIdentification(deviceName))
}
