package scraper

import (
	"strings"
	"unicode"

	"github.com/RadhiFadlillah/whatlanggo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeText strips non-printable characters, decomposes Unicode and
// removes combining marks, then collapses whitespace
func normalizeText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		}
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	cleaned, _, err := transform.String(t, sb.String())
	if err != nil {
		cleaned = sb.String()
	}

	return strings.Join(strings.Fields(cleaned), " ")
}

// detectLanguage returns the ISO 639-1 code of the text language, sampling
// the first 1000 characters. Empty result means detection was not possible.
func detectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if len(text) < 50 {
		return ""
	}
	if len(text) > 1000 {
		text = text[:1000]
	}

	info := whatlanggo.Detect(text)
	if info.Lang == -1 {
		return ""
	}
	return whatlanggo.LangToStringShort(info.Lang)
}
