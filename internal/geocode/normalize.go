package geocode

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize returns name in NFC with surrounding and repeated spaces removed.
func normalize(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// foldKey maps names that differ only in case or diacritics to the same key,
// e.g. "Česko" and "cesko".
func foldKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, normalize(name))
	if err != nil {
		stripped = normalize(name)
	}
	return cases.Fold().String(stripped)
}
