package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitToFit partitions text into consecutive segments of at most maxChars
// bytes. The segments concatenate back to the input byte-for-byte; nothing
// is trimmed or overlapped, so a parent chunk can always be reconstructed
// from its children.
func splitToFit(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}
	var parts []string
	rest := text
	for len(rest) > maxChars {
		cut := cutPoint(rest, maxChars)
		parts = append(parts, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// cutPoint picks the best split position within the first maxChars bytes:
// the last paragraph break, else the last sentence boundary, else the last
// whitespace, else a hard cut at a rune boundary.
func cutPoint(text string, maxChars int) int {
	end := maxChars
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	window := text[:end]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i + 2
	}
	if bounds := sentenceBoundaries(window); len(bounds) > 0 {
		if last := bounds[len(bounds)-1]; last > 0 {
			return last
		}
	}
	if i := lastSpace(window); i > 0 {
		return i
	}
	if end == 0 {
		// A single rune wider than the budget; emit it whole.
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return end
}

// lastSpace returns the byte position just after the last whitespace rune
// in s, or -1 if there is none.
func lastSpace(s string) int {
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return -1
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return i + size
}

// abbreviations that should not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// sentenceBoundaries returns byte positions after sentence-ending
// punctuation, skipping abbreviations (Dr., e.g.) and decimal numbers
// (3.14). CJK sentence enders (。！？) always count.
func sentenceBoundaries(text string) []int {
	var bounds []int
	for i, r := range text {
		switch r {
		case '。', '！', '？':
			bounds = append(bounds, i+utf8.RuneLen(r))
		case '.', '!', '?':
			if r == '.' && (isDecimalDot(text, i) || isAbbreviation(text, i)) {
				continue
			}
			next := i + 1
			if next < len(text) && (text[next] == ' ' || text[next] == '\n') {
				bounds = append(bounds, next+1)
			}
		}
	}
	return bounds
}

// isAbbreviation reports whether the word ending at the dot is a common
// abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot reports whether the dot sits between two digits.
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	return text[dotPos-1] >= '0' && text[dotPos-1] <= '9' &&
		text[dotPos+1] >= '0' && text[dotPos+1] <= '9'
}
