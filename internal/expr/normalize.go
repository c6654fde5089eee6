package expr

import "strings"

// normalize rewrites the JavaScript-flavoured operators scenario authors
// use into their Starlark spelling. String literals are copied verbatim.
//
//	&& -> and    || -> or    ! -> not    === -> ==    !== -> !=
func normalize(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end - 1
		case strings.HasPrefix(src[i:], "==="):
			b.WriteString("==")
			i += 2
		case strings.HasPrefix(src[i:], "!=="):
			b.WriteString("!=")
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			b.WriteString("!=")
			i++
		case c == '!':
			b.WriteString(" not ")
		case strings.HasPrefix(src[i:], "&&"):
			b.WriteString(" and ")
			i++
		case strings.HasPrefix(src[i:], "||"):
			b.WriteString(" or ")
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// skipString returns the index just past the string literal starting at
// src[start]. An unterminated literal runs to the end; the parser reports it.
func skipString(src string, start int) int {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(src)
}
