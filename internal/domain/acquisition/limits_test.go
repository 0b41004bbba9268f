package acquisition

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本語", 4, "日"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		got := Truncate(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}

	long := strings.Repeat("a", 127) + "éb"
	got := Truncate(long, 128)
	if len(got) != 127 || !utf8.ValidString(got) {
		t.Fatalf("expected 127 valid bytes, got %d (valid=%v)", len(got), utf8.ValidString(got))
	}
}
