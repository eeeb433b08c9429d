package version

import "testing"

func TestBinaryRoundTrip(t *testing.T) {
	cases := []string{
		"19@jens,3@eve,1@bob",
		"1@*",
		"1@binky",
		"42@*,7@jens;3@eve,1@bob",
	}
	for _, s := range cases {
		vv := mustParseASCII(t, s)
		buf := vv.AppendBinary(nil)
		if buf[0] != binaryTag {
			t.Fatalf("AppendBinary(%q) missing leading tag byte", s)
		}
		got, n, err := ParseBinary(buf)
		if err != nil {
			t.Fatalf("ParseBinary(%q): %v", s, err)
		}
		if n != len(buf) {
			t.Fatalf("ParseBinary(%q) consumed %d bytes, want %d", s, n, len(buf))
		}
		if got.String() != s {
			t.Fatalf("binary round trip %q: got %q", s, got.String())
		}
	}
}
