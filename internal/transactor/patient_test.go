package transactor

import "testing"

func TestSplitName(t *testing.T) {
	cases := []struct {
		raw, given, family string
	}{
		{"", "Guest", "Patient"},
		{"Madonna", "Madonna", "Patient"},
		{"Jane Doe", "Jane", "Doe"},
		{"Mary Jane Watson", "Mary", "Jane Watson"},
	}
	for _, c := range cases {
		given, family := splitName(c.raw)
		if given != c.given || family != c.family {
			t.Errorf("splitName(%q) = (%q, %q), want (%q, %q)", c.raw, given, family, c.given, c.family)
		}
	}
}
