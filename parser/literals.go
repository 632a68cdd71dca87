package parser

import (
	"strconv"
	"strings"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/hexpat"
)

// unquoteString strips the surrounding quotes from a StringLit token's text
// and resolves its escapes. Grounded on the teacher's unquoteString in
// parser/parser.go, which this reproduces almost verbatim (same escape set:
// \n \r \t \\ \" \xHH).
func unquoteString(s string) string {
	if len(s) < 2 {
		return s
	}
	s = s[1 : len(s)-1]

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseRegexLit splits a RegexLit token's text ("/pattern/flags") into the
// bare pattern and its inline modifier flags. Grounded on the teacher's
// parseRegex in parser/parser.go, generalized only in that the leading '/'
// stripped here always pairs with a matching trailing '/' found from the
// right, same as the teacher.
func parseRegexLit(s string) (string, ast.RegexModifiers) {
	s = s[1:]
	var mods ast.RegexModifiers
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		for _, c := range s[idx+1:] {
			switch c {
			case 'i':
				mods.CaseInsensitive = true
			case 's':
				mods.DotMatchesAll = true
			}
		}
		s = s[:idx]
	}
	return s, mods
}

// hexTokens strips a HexBody token's outer braces and parses its interior
// with hexpat, which implements the full sublanguage the lexer leaves
// uninterpreted (see lexer's HexBody rule).
func hexTokens(s string) ([]ast.HexToken, error) {
	if len(s) >= 2 {
		s = s[1 : len(s)-1]
	}
	return hexpat.Parse(s)
}
