package gdl90

import "unicode/utf8"

// ellipsis is U+22EF MIDLINE HORIZONTAL ELLIPSIS, three bytes in UTF-8.
const ellipsis = "⋯"

// TruncateUTF8 returns s encoded in at most limit bytes.
//
// When s does not fit, whole characters are dropped from the end until at
// least three bytes are free and an ellipsis is appended. A character is
// never split. Invalid UTF-8 bytes are carried through one byte at a time.
// With limit < 3 no ellipsis fits and the longest whole-character prefix is
// returned.
func TruncateUTF8(s string, limit int) []byte {
	if limit <= 0 {
		return []byte{}
	}
	if len(s) <= limit {
		return []byte(s)
	}

	// Byte offsets of every character boundary that fits in limit.
	cut := 0
	var bounds []int
	for cut < len(s) {
		_, w := utf8.DecodeRuneInString(s[cut:])
		if cut+w > limit {
			break
		}
		cut += w
		bounds = append(bounds, cut)
	}

	if limit < len(ellipsis) {
		return []byte(s[:cut])
	}
	for len(bounds) > 0 && limit-cut < len(ellipsis) {
		bounds = bounds[:len(bounds)-1]
		cut = 0
		if len(bounds) > 0 {
			cut = bounds[len(bounds)-1]
		}
	}

	out := make([]byte, 0, cut+len(ellipsis))
	out = append(out, s[:cut]...)
	out = append(out, ellipsis...)
	return out
}
