// Package hexpat parses the hex-string sublanguage (the raw content of a
// `{ ... }` pattern body, handed over uninterpreted by the lexer) into a
// sequence of ast.HexToken, and re-serializes it into a canonical ASCII
// form. Grounded on parser.parseHexAlt/parser.parseHexJump in the teacher's
// parser/parser.go, generalized from single-byte alternation items and
// Min/Max-only jumps to full token-sequence alternatives and nibble
// wildcards, per spec.md's hex sublanguage.
package hexpat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corvid-labs/yaracore/ast"
)

// Parse parses the content between the outer braces of a hex pattern (the
// braces themselves must already be stripped) into a token sequence.
func Parse(body string) ([]ast.HexToken, error) {
	p := &parser{src: []rune(body)}
	toks, err := p.parseSequence("")
	if err != nil {
		return nil, err
	}
	p.skipTrivia()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("hexpat: unexpected %q at offset %d", string(p.src[p.pos]), p.pos)
	}
	return toks, nil
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) peek() (rune, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *parser) skipTrivia() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			p.pos++
			continue
		}
		if c == '/' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '/' {
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}
}

// parseSequence reads tokens until EOF or a rune in stopSet is seen
// (without consuming it).
func (p *parser) parseSequence(stopSet string) ([]ast.HexToken, error) {
	var toks []ast.HexToken
	for {
		p.skipTrivia()
		c, ok := p.peek()
		if !ok || strings.ContainsRune(stopSet, c) {
			return toks, nil
		}
		switch c {
		case '[':
			jump, err := p.parseJump()
			if err != nil {
				return nil, err
			}
			toks = append(toks, jump)
		case '(':
			alt, err := p.parseAlternation()
			if err != nil {
				return nil, err
			}
			toks = append(toks, alt)
		default:
			tok, err := p.parseByteLike()
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		}
	}
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c rune) byte {
	switch {
	case c >= '0' && c <= '9':
		return byte(c - '0')
	case c >= 'a' && c <= 'f':
		return byte(c-'a') + 10
	default:
		return byte(c-'A') + 10
	}
}

// parseByteLike consumes exactly two adjacent nibble characters (hex digit
// or '?') and classifies them into a concrete byte, a full wildcard, or a
// high/low nibble wildcard.
func (p *parser) parseByteLike() (ast.HexToken, error) {
	if p.pos+1 >= len(p.src) {
		return nil, fmt.Errorf("hexpat: truncated byte at offset %d", p.pos)
	}
	hi, lo := p.src[p.pos], p.src[p.pos+1]
	p.pos += 2

	hiWild, loWild := hi == '?', lo == '?'
	switch {
	case hiWild && loWild:
		return ast.HexWildcard{}, nil
	case hiWild && !loWild:
		if !isHexDigit(lo) {
			return nil, fmt.Errorf("hexpat: invalid nibble %q", lo)
		}
		return ast.HexLowNibble{Low: hexVal(lo)}, nil
	case !hiWild && loWild:
		if !isHexDigit(hi) {
			return nil, fmt.Errorf("hexpat: invalid nibble %q", hi)
		}
		return ast.HexHighNibble{High: hexVal(hi)}, nil
	default:
		if !isHexDigit(hi) || !isHexDigit(lo) {
			return nil, fmt.Errorf("hexpat: invalid byte %q%q", hi, lo)
		}
		return ast.HexByte{Value: hexVal(hi)<<4 | hexVal(lo)}, nil
	}
}

// parseJump consumes `[ ... ]`: "n", "n-m", "n-", or "-".
func (p *parser) parseJump() (ast.HexJump, error) {
	p.pos++ // consume '['
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != ']' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return ast.HexJump{}, fmt.Errorf("hexpat: unterminated jump starting at offset %d", start)
	}
	body := strings.TrimSpace(string(p.src[start:p.pos]))
	p.pos++ // consume ']'

	if body == "-" || body == "" {
		return ast.HexJump{}, nil
	}
	idx := strings.IndexByte(body, '-')
	if idx < 0 {
		n, err := strconv.Atoi(body)
		if err != nil {
			return ast.HexJump{}, fmt.Errorf("hexpat: bad jump %q: %w", body, err)
		}
		return ast.HexJump{Min: &n, Max: &n}, nil
	}
	var jump ast.HexJump
	if minStr := strings.TrimSpace(body[:idx]); minStr != "" {
		n, err := strconv.Atoi(minStr)
		if err != nil {
			return ast.HexJump{}, fmt.Errorf("hexpat: bad jump min %q: %w", minStr, err)
		}
		jump.Min = &n
	}
	if maxStr := strings.TrimSpace(body[idx+1:]); maxStr != "" {
		n, err := strconv.Atoi(maxStr)
		if err != nil {
			return ast.HexJump{}, fmt.Errorf("hexpat: bad jump max %q: %w", maxStr, err)
		}
		jump.Max = &n
	}
	return jump, nil
}

// parseAlternation consumes `( alt1 | alt2 | ... )`. Per spec.md, an
// alternative's token sequence may not itself contain a jump.
func (p *parser) parseAlternation() (ast.HexAlternation, error) {
	p.pos++ // consume '('
	var alts [][]ast.HexToken
	for {
		seq, err := p.parseSequence("|)")
		if err != nil {
			return ast.HexAlternation{}, err
		}
		for _, t := range seq {
			if _, ok := t.(ast.HexJump); ok {
				return ast.HexAlternation{}, fmt.Errorf("hexpat: jump not allowed inside an alternation")
			}
		}
		alts = append(alts, seq)
		c, ok := p.peek()
		if !ok {
			return ast.HexAlternation{}, fmt.Errorf("hexpat: unterminated alternation")
		}
		if c == '|' {
			p.pos++
			continue
		}
		if c == ')' {
			p.pos++
			break
		}
	}
	return ast.HexAlternation{Alternatives: alts}, nil
}

// Format renders a token sequence back into its canonical ASCII form
// (without the enclosing braces), one space between top-level tokens.
func Format(toks []ast.HexToken) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = formatToken(t)
	}
	return strings.Join(parts, " ")
}

// FormatBraced is Format wrapped in "{ ... }", matching how a string
// declaration's pattern value is written in source.
func FormatBraced(toks []ast.HexToken) string {
	return "{ " + Format(toks) + " }"
}

func formatToken(t ast.HexToken) string {
	switch v := t.(type) {
	case ast.HexByte:
		return fmt.Sprintf("%02X", v.Value)
	case ast.HexWildcard:
		return "??"
	case ast.HexHighNibble:
		return fmt.Sprintf("%X?", v.High)
	case ast.HexLowNibble:
		return fmt.Sprintf("?%X", v.Low)
	case ast.HexJump:
		switch {
		case v.Min == nil && v.Max == nil:
			return "[-]"
		case v.Min != nil && v.Max == nil:
			return fmt.Sprintf("[%d-]", *v.Min)
		case v.Min == nil && v.Max != nil:
			return fmt.Sprintf("[-%d]", *v.Max)
		case *v.Min == *v.Max:
			return fmt.Sprintf("[%d]", *v.Min)
		default:
			return fmt.Sprintf("[%d-%d]", *v.Min, *v.Max)
		}
	case ast.HexAlternation:
		alts := make([]string, len(v.Alternatives))
		for i, a := range v.Alternatives {
			alts[i] = Format(a)
		}
		return "(" + strings.Join(alts, "|") + ")"
	default:
		return "?"
	}
}
