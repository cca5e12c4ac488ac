package ruleparse

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	sharpS     = strings.NewReplacer("ß", "ss", "ẞ", "ss")
	stripMarks = runes.Remove(runes.In(unicode.Mn))
)

// fold lower-cases s, strips diacritics and collapses whitespace runs.
func fold(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, sharpS.Replace(s))
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
