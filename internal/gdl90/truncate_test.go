package gdl90

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "Fits", in: "avGPS@Android", limit: 16, want: "avGPS@Android"},
		{name: "Exact", in: "0123456789abcdef", limit: 16, want: "0123456789abcdef"},
		{name: "ASCIIOverflow", in: "0123456789abcdefg", limit: 16, want: "0123456789abc⋯"},
		{name: "MultiByte", in: "日本語日本語", limit: 16, want: "日本語日" + "⋯"},
		{name: "MixedBoundary", in: "abcdefghijklmn日本", limit: 16, want: "abcdefghijklm⋯"},
		{name: "Empty", in: "", limit: 16, want: ""},
		{name: "TinyLimit", in: "日本", limit: 2, want: ""},
		{name: "TinyLimitASCII", in: "abc", limit: 2, want: "ab"},
		{name: "ExactEllipsis", in: "日本", limit: 3, want: "⋯"},
		{name: "ZeroLimit", in: "abc", limit: 0, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateUTF8(tc.in, tc.limit)
			if string(got) != tc.want {
				t.Fatalf("TruncateUTF8(%q, %d)=%q want %q", tc.in, tc.limit, got, tc.want)
			}
		})
	}
}

func TestTruncateUTF8_NeverExceedsOrSplits(t *testing.T) {
	inputs := []string{
		strings.Repeat("é", 20),
		strings.Repeat("𝄞", 9),
		"ab" + strings.Repeat("語", 10),
		"mixed ✈ flight ✈ bag ✈",
	}
	for _, in := range inputs {
		for limit := 0; limit <= 24; limit++ {
			got := TruncateUTF8(in, limit)
			if len(got) > limit {
				t.Fatalf("len=%d exceeds limit %d for %q", len(got), limit, in)
			}
			if !utf8.Valid(got) {
				t.Fatalf("invalid utf8 %q for limit %d", got, limit)
			}
		}
	}
}
