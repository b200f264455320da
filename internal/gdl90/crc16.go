package gdl90

const crcPoly = 0x1021

// crc16 is the GDL90 frame check sequence: CRC-CCITT (polynomial 0x1021),
// zero seed, no final XOR, computed over the unstuffed message bytes.
func crc16(data []byte) uint16 {
	var r uint16
	for _, b := range data {
		r = crcTable[r>>8] ^ r<<8 ^ uint16(b)
	}
	return r
}

var crcTable [256]uint16

func init() {
	for i := range crcTable {
		v := uint16(i) << 8
		for n := 0; n < 8; n++ {
			carry := v&0x8000 != 0
			v <<= 1
			if carry {
				v ^= crcPoly
			}
		}
		crcTable[i] = v
	}
}
