package splitter

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	horizontalRuns = regexp.MustCompile(`[ \t]+`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// normalizePDFText repairs the line breaks PDF extraction leaves behind:
// hyphenated word wraps are rejoined, soft-wrapped lines inside a sentence
// are merged, and whitespace runs are collapsed. Paragraph breaks (blank
// lines) survive.
func normalizePDFText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = horizontalRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	var b strings.Builder
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			b.WriteString("\n\n")
			continue
		}

		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}

		switch {
		case next != "" && strings.HasSuffix(line, "-") && startsLower(next):
			// Hyphenated wrap: glue the halves back together.
			b.WriteString(strings.TrimSuffix(line, "-"))
		case next != "" && !endsSentence(line) && !startsUpper(next):
			b.WriteString(line)
			b.WriteByte(' ')
		default:
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	out := blankRuns.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

func endsSentence(line string) bool {
	r := []rune(line)
	switch r[len(r)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}

func startsLower(line string) bool {
	for _, r := range line {
		return unicode.IsLower(r)
	}
	return false
}

func startsUpper(line string) bool {
	for _, r := range line {
		return unicode.IsUpper(r) || unicode.IsDigit(r)
	}
	return false
}
