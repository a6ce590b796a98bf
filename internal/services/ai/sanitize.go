package ai

import (
	"regexp"
	"strings"
)

var (
	markupReplacer = strings.NewReplacer("\r", "", "**", "", "__", "", "~~", "", "`", "", "_", "")

	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	starRe       = regexp.MustCompile(`\*\s*`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	trailingWSRe = regexp.MustCompile(`[ \t]+\n`)
)

// Sanitize strips markdown artifacts from a delta so the client renders plain
// text. It works on one delta at a time; a delimiter split across two deltas
// survives.
//
// Every step only shortens the text, so repeating the pass until nothing
// changes terminates and makes Sanitize idempotent ("~*~" only becomes "~~"
// after the first pass).
func Sanitize(text string) string {
	for {
		next := sanitizeOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func sanitizeOnce(text string) string {
	cleaned := markupReplacer.Replace(text)
	cleaned = headingRe.ReplaceAllString(cleaned, "")
	cleaned = starRe.ReplaceAllString(cleaned, "")
	cleaned = blankLinesRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = trailingWSRe.ReplaceAllString(cleaned, "\n")
	return cleaned
}
