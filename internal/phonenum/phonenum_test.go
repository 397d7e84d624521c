package phonenum

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{"leading zero gets country code", "0412 345 678", "61", "61412345678"},
		{"already e164-ish digits kept as-is", "+61412345678", "61", "61412345678"},
		{"no digits", "abc", "61", ""},
		{"punctuation stripped", "(04) 1234-5678", "61", "61412345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw, tc.country); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMask(t *testing.T) {
	if got := Mask("61412345678"); got != "614***78" {
		t.Fatalf("Mask = %q", got)
	}
	if got := Mask("123"); got != "***" {
		t.Fatalf("Mask short = %q", got)
	}
}
