package resolver

import "strings"

// zeroWidth are characters a voice transcript sometimes injects around
// words; unicode.IsSpace does not already treat them as whitespace.
const zeroWidth = "​‌‍﻿"

// Normalize prepares free text for trigram comparison: lowercase, strip
// zero-width characters, then collapse all whitespace (tab, NBSP, newline
// included — strings.Fields already treats these via unicode.IsSpace) to a
// single space and trim.
func Normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(zeroWidth, r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
