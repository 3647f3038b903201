package extract

import (
	"fmt"
	"strings"
)

// Repair applies the textual fixes that most often make model output parse:
// trailing commas before a closing bracket are dropped, single-quoted strings
// become double-quoted, raw control characters inside strings are escaped,
// and bare object keys are quoted. It works in one string-aware pass, so text
// inside string literals is never rewritten as structure.
func Repair(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside
	lastSignificant := byte(0)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case inDouble:
			switch {
			case c == '\\' && i+1 < len(s):
				b.WriteByte(c)
				i++
				b.WriteByte(s[i])
			case c == '"':
				b.WriteByte(c)
				state = outside
				lastSignificant = '"'
			case c < 0x20:
				writeControl(&b, c)
			default:
				b.WriteByte(c)
			}

		case inSingle:
			switch {
			case c == '\\' && i+1 < len(s):
				i++
				if s[i] == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(s[i])
				}
			case c == '\'':
				b.WriteByte('"')
				state = outside
				lastSignificant = '"'
			case c == '"':
				b.WriteString(`\"`)
			case c < 0x20:
				writeControl(&b, c)
			default:
				b.WriteByte(c)
			}

		default:
			switch {
			case c == '"':
				b.WriteByte(c)
				state = inDouble
			case c == '\'':
				b.WriteByte('"')
				state = inSingle
			case c == ',':
				if next := nextSignificant(s, i+1); next == '}' || next == ']' {
					continue
				}
				b.WriteByte(c)
				lastSignificant = c
			case isIdentStart(c) && (lastSignificant == '{' || lastSignificant == ','):
				j := i + 1
				for j < len(s) && isIdentPart(s[j]) {
					j++
				}
				ident := s[i:j]
				if nextSignificant(s, j) == ':' {
					b.WriteByte('"')
					b.WriteString(ident)
					b.WriteByte('"')
				} else {
					b.WriteString(ident)
				}
				lastSignificant = 'a'
				i = j - 1
			case c == ' ' || c == '\t' || c == '\n' || c == '\r':
				b.WriteByte(c)
			default:
				b.WriteByte(c)
				lastSignificant = c
			}
		}
	}
	return b.String()
}

func writeControl(b *strings.Builder, c byte) {
	switch c {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	default:
		fmt.Fprintf(b, `\u%04x`, c)
	}
}

func nextSignificant(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
