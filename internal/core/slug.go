package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into a base letter plus a combining mark.
var slugReplacer = strings.NewReplacer(
	"æ", "ae", "Æ", "ae",
	"ø", "o", "Ø", "o",
	"å", "a", "Å", "a",
	"ß", "ss",
	"œ", "oe", "Œ", "oe",
	"ð", "d", "Ð", "d",
	"þ", "th", "Þ", "th",
	"ł", "l", "Ł", "l",
)

// Parameterize turns a display name into a URL slug: accented letters are
// transliterated to ASCII, everything is lowercased and every run of
// characters outside [a-z0-9] becomes a single '-'. Leading and trailing
// separators are dropped.
//
//	Parameterize("Red Chair - Deluxe!!") == "red-chair-deluxe"
//	Parameterize("Blå Stol")             == "bla-stol"
func Parameterize(s string) string {
	s = slugReplacer.Replace(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	sep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}
