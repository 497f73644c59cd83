package voice

import (
	"strings"
	"unicode"
)

// NormalizePhrase lowercases s and trims surrounding whitespace and
// trailing sentence punctuation, so "Stop." and " STOP! " become "stop".
func NormalizePhrase(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(s)
}

// IsStopPhrase reports whether utterance is exactly the stop phrase,
// ignoring case, surrounding whitespace and trailing punctuation.
func IsStopPhrase(utterance, phrase string) bool {
	p := NormalizePhrase(phrase)
	return p != "" && NormalizePhrase(utterance) == p
}
