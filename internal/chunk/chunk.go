// Package chunk splits long text into message-sized pieces on sentence
// boundaries.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength matches the per-message text limit of common chat
// platforms.
const DefaultMaxLength = 4096

// Split breaks text into ordered chunks of at most maxLength characters
// (runes). Sentences end at '.', '!' or '?' followed by whitespace and are
// never broken; a single sentence longer than maxLength becomes its own
// oversized chunk. Whitespace at chunk boundaries is collapsed.
// A maxLength <= 0 selects DefaultMaxLength.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	var chunks []string
	var cur string
	curLen := 0

	for _, s := range Sentences(text) {
		sLen := utf8.RuneCountInString(s)
		if cur == "" {
			cur, curLen = s, sLen
			continue
		}
		if curLen+sLen+1 <= maxLength {
			cur += " " + s
			curLen += sLen + 1
			continue
		}
		chunks = append(chunks, strings.TrimSpace(cur))
		cur, curLen = s, sLen
	}

	if c := strings.TrimSpace(cur); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

// Sentences segments text at sentence-ending punctuation followed by
// whitespace. The whitespace run between sentences is dropped; whitespace
// inside a sentence is kept as-is.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	prev := rune(0)
	for i, r := range text {
		if unicode.IsSpace(r) && isTerminal(prev) {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, s)
			}
			start = i
		}
		prev = r
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
