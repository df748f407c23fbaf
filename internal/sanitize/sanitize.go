// Package sanitize repairs JSON documents whose string literals contain raw
// control characters, which some back ends emit verbatim.
package sanitize

import "strings"

const hexDigits = "0123456789abcdef"

// JSON escapes raw control bytes (below 0x20) that appear inside string
// literals. Bytes outside strings, and the byte following a backslash, are
// copied unchanged. The result is only meaningful as a second parse attempt.
func JSON(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case !inString:
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c < 0x20:
			writeEscaped(&b, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, c byte) {
	switch c {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case '\b':
		b.WriteString(`\b`)
	case '\f':
		b.WriteString(`\f`)
	default:
		b.WriteString(`\u00`)
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
}
