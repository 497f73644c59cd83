// Package chunker groups streamed completion fragments into speakable
// sentence units.
//
// A fragment that contains a sentence terminator closes the current unit:
// everything buffered so far, including the rest of that fragment, is
// emitted trimmed of surrounding whitespace. Whatever remains when the
// stream ends is returned by Flush.
package chunker

import (
	"strings"
	"unicode"
)

// Terminators are the runes that end a sentence unit.
const Terminators = ".!?;。！？；\n"

// Chunker accumulates fragments. It is not safe for concurrent use and
// must not outlive a single response stream.
type Chunker struct {
	buf strings.Builder
}

// New returns an empty Chunker.
func New() *Chunker {
	return &Chunker{}
}

// Push appends fragment. If fragment contains a terminator, the buffered
// text is returned as a unit with ok set and the buffer is cleared.
// A unit with no speakable content (terminators and whitespace only) is
// dropped: the buffer is still cleared but ok is false.
func (c *Chunker) Push(fragment string) (unit string, ok bool) {
	c.buf.WriteString(fragment)
	if !strings.ContainsAny(fragment, Terminators) {
		return "", false
	}
	return c.take()
}

// Flush returns any residual text as a final unit and clears the buffer.
func (c *Chunker) Flush() (string, bool) {
	return c.take()
}

// Reset discards buffered text.
func (c *Chunker) Reset() {
	c.buf.Reset()
}

// Buffered returns the text accumulated since the last unit.
func (c *Chunker) Buffered() string {
	return c.buf.String()
}

func (c *Chunker) take() (string, bool) {
	unit := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if !Speakable(unit) {
		return "", false
	}
	return unit, true
}

// Speakable reports whether s has any rune other than whitespace and
// sentence terminators.
func Speakable(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsSpace(r) && !strings.ContainsRune(Terminators, r)
	}) >= 0
}
