package parser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Localized client builds write non-ASCII characters as "\xHH" byte escapes,
// and some installs write raw bytes in the machine's ANSI code page. Bytes that
// do not form valid UTF-8 are read as Windows-1252.
var fallbackCharmap = charmap.Windows1252

// DecodeLine returns line with hex escapes resolved and invalid UTF-8 repaired.
// It never fails: a malformed escape is kept as literal text.
func DecodeLine(line string) string {
	if !strings.Contains(line, `\x`) && utf8.ValidString(line) {
		return line
	}

	var sb strings.Builder
	sb.Grow(len(line))

	var pending []byte
	flush := func() {
		if len(pending) > 0 {
			writeBytes(&sb, pending)
			pending = pending[:0]
		}
	}

	for i := 0; i < len(line); {
		if b, ok := hexEscapeAt(line, i); ok {
			pending = append(pending, b)
			i += 4
			continue
		}
		flush()

		r, size := utf8.DecodeRuneInString(line[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(fallbackCharmap.DecodeByte(line[i]))
		} else {
			sb.WriteString(line[i : i+size])
		}
		i += size
	}
	flush()

	return sb.String()
}

// hexEscapeAt parses a "\xHH" escape starting at s[i].
func hexEscapeAt(s string, i int) (byte, bool) {
	if i+3 >= len(s) || s[i] != '\\' || s[i+1] != 'x' {
		return 0, false
	}
	hi, ok1 := hexDigit(s[i+2])
	lo, ok2 := hexDigit(s[i+3])
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi<<4 | lo, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// writeBytes writes an escaped byte run, keeping valid UTF-8 sequences intact
// and mapping every other byte through the fallback code page.
func writeBytes(sb *strings.Builder, b []byte) {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			sb.WriteRune(fallbackCharmap.DecodeByte(b[0]))
			b = b[1:]
			continue
		}
		sb.WriteRune(r)
		b = b[size:]
	}
}
