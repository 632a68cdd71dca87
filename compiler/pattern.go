package compiler

import (
	"encoding/base64"
	"strings"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/hexpat"
)

// minAtomLength is the shortest run of concrete bytes internHex uses as a hex
// pattern's Aho-Corasick atom; a single byte gives the prefilter too many
// false candidates to be worth using.
const minAtomLength = 2

// patternTable accumulates every Pattern, string-literal, and regex-literal
// minted while compiling a source file's rules, so all rules share one
// Program's PatternId / string-pool / regex-pool index spaces.
type patternTable struct {
	patterns []Pattern
	hexDedup map[string]PatternId

	strings    []string
	stringIdx  map[string]int
	regexes    []RegexLiteral
}

func newPatternTable() *patternTable {
	return &patternTable{
		hexDedup:  make(map[string]PatternId),
		stringIdx: make(map[string]int),
	}
}

func (t *patternTable) add(p Pattern) PatternId {
	id := PatternId(len(t.patterns))
	p.ID = id
	t.patterns = append(t.patterns, p)
	return id
}

// internStringLiteral dedupes a string constant used as a condition value
// (e.g. the right side of `pe.section_index("foo")`) into Program.Strings.
func (t *patternTable) internStringLiteral(s string) int {
	if i, ok := t.stringIdx[s]; ok {
		return i
	}
	i := len(t.strings)
	t.strings = append(t.strings, s)
	t.stringIdx[s] = i
	return i
}

// internRegexLiteral records a `matches /regex/` operand into Program.Regexes.
func (t *patternTable) internRegexLiteral(source string, caseInsensitive, dotall bool) int {
	i := len(t.regexes)
	t.regexes = append(t.regexes, RegexLiteral{
		Source:          buildRE2Source(source, caseInsensitive, dotall, false),
		CaseInsensitive: caseInsensitive,
		Dotall:          dotall,
	})
	return i
}

// internString compiles one $name declaration into zero or more Patterns and
// returns the StringGroup tying them together. Grounded on the teacher's
// generatePatterns/compileRegex/generateBase64Patterns/hexStringToBytes
// (scanner/compile.go), generalized to also honor nocase/wide/ascii/xor,
// which the teacher's own scanner never implemented.
func internString(t *patternTable, ruleName string, sd *ast.StringDeclaration) (StringGroup, error) {
	group := StringGroup{Name: sd.Name, Private: sd.Modifiers.Private}

	switch v := sd.Pattern.(type) {
	case ast.TextValue:
		ids, err := internText(t, ruleName, sd, v)
		if err != nil {
			return group, err
		}
		group.PatternIds = ids

	case ast.RegexValue:
		id, err := internRegex(t, ruleName, sd.Name, v.Pattern, v.Modifiers.CaseInsensitive, v.Modifiers.DotMatchesAll)
		if err != nil {
			return group, err
		}
		group.PatternIds = []PatternId{id}

	case ast.HexValue:
		id, err := internHex(t, ruleName, sd, v)
		if err != nil {
			return group, err
		}
		group.PatternIds = []PatternId{id}

	default:
		return group, &errs.CompileError{
			Kind: errs.MalformedHex, RuleName: ruleName, StringName: sd.Name,
			Span: sd.Span, Reason: "unknown string value kind",
		}
	}
	return group, nil
}

func internText(t *patternTable, ruleName string, sd *ast.StringDeclaration, v ast.TextValue) ([]PatternId, error) {
	mods := sd.Modifiers
	raw := []byte(v.Value)
	if mods.Nocase {
		raw = toLowerASCII(raw)
	}

	switch {
	case mods.Base64 || mods.Base64Wide:
		var ids []PatternId
		if mods.Base64 {
			ids = append(ids, internBase64Variants(t, ruleName, sd.Name, raw, mods, false)...)
		}
		if mods.Base64Wide {
			ids = append(ids, internBase64Variants(t, ruleName, sd.Name, raw, mods, true)...)
		}
		return ids, nil

	case mods.Xor:
		var ids []PatternId
		lo, hi := mods.XorMin, mods.XorMax
		for k := lo; k <= hi; k++ {
			keyed := make([]byte, len(raw))
			for i, b := range raw {
				keyed[i] = b ^ byte(k)
			}
			if mods.Ascii || !mods.Wide {
				ids = append(ids, t.add(Pattern{
					RuleName: ruleName, StringName: sd.Name, Kind: KindLiteral,
					Literal: keyed, Nocase: mods.Nocase, Fullword: mods.Fullword,
					XorKey: byte(k), HasXorKey: true,
				}))
			}
			if mods.Wide {
				ids = append(ids, t.add(Pattern{
					RuleName: ruleName, StringName: sd.Name, Kind: KindLiteral,
					Literal: widen(keyed), Nocase: mods.Nocase, Wide: true, Fullword: mods.Fullword,
					XorKey: byte(k), HasXorKey: true,
				}))
			}
		}
		return ids, nil

	default:
		var ids []PatternId
		asciiOn := mods.Ascii || !mods.Wide
		if asciiOn {
			ids = append(ids, t.add(Pattern{
				RuleName: ruleName, StringName: sd.Name, Kind: KindLiteral,
				Literal: raw, Nocase: mods.Nocase, Fullword: mods.Fullword,
			}))
		}
		if mods.Wide {
			ids = append(ids, t.add(Pattern{
				RuleName: ruleName, StringName: sd.Name, Kind: KindLiteral,
				Literal: widen(raw), Nocase: mods.Nocase, Wide: true, Fullword: mods.Fullword,
			}))
		}
		return ids, nil
	}
}

// widen applies YARA's "wide" string broadening: each source byte is
// followed by a zero byte, matching how ASCII text looks when stored as
// UTF-16LE. It is a byte-level transform, not a Unicode re-encoding, since
// rule text is an arbitrary byte string rather than a validated string.
func widen(b []byte) []byte {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, c, 0)
	}
	return out
}

func toLowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// internBase64Variants ports scanner.generateBase64Patterns: base64 text
// naturally shifts under a sliding byte window, so the encoder emits one
// literal per 3-byte alignment offset and trims the trailing characters
// whose bits straddle the unknown bytes that follow in the real file.
func internBase64Variants(t *patternTable, ruleName, name string, data []byte, mods ast.StringModifiers, wide bool) []PatternId {
	if wide {
		data = widen(data)
	}
	enc := base64.StdEncoding
	if mods.Base64Alph != "" && len(mods.Base64Alph) == 64 {
		enc = base64.NewEncoding(mods.Base64Alph).WithPadding(base64.NoPadding)
	}

	offsets := [3]struct{ pad, skip int }{{0, 0}, {1, 2}, {2, 3}}
	var ids []PatternId
	for _, o := range offsets {
		padded := append(make([]byte, o.pad), data...)
		text := enc.EncodeToString(padded)
		if len(text) <= o.skip {
			continue
		}
		trimmed := strings.TrimRight(text[o.skip:], "=")
		if trim := trailingUnstableChars(len(data) + o.pad); trim > 0 && len(trimmed) > trim {
			trimmed = trimmed[:len(trimmed)-trim]
		}
		if len(trimmed) == 0 {
			continue
		}
		ids = append(ids, t.add(Pattern{
			RuleName: ruleName, StringName: name, Kind: KindLiteral,
			Literal: []byte(trimmed), Wide: wide,
		}))
	}
	return ids
}

// trailingUnstableChars mirrors scanner.trailingUnstableChars: base64 chars
// that encode a partial trailing byte also encode bits of whatever data
// follows, which we don't know at compile time, so they must be dropped.
func trailingUnstableChars(dataLen int) int {
	switch dataLen % 3 {
	case 1, 2:
		return 1
	default:
		return 0
	}
}

func internRegex(t *patternTable, ruleName, name, pattern string, caseInsensitive, dotall bool) (PatternId, error) {
	src := buildRE2Source(pattern, caseInsensitive, dotall, false)
	return t.add(Pattern{
		RuleName: ruleName, StringName: name, Kind: KindRegex, RegexSrc: src, Nocase: caseInsensitive,
	}), nil
}

// buildRE2Source mirrors scanner.buildRE2Pattern: fold modifiers into inline
// (?i)/(?s)/(?m) prefixes and fix up the {,N} quantifier RE2 treats as a
// literal, so the rest of the pipeline only ever sees ready-to-compile RE2
// source.
func buildRE2Source(pattern string, caseInsensitive, dotall, multiline bool) string {
	var prefix string
	if caseInsensitive {
		prefix += "(?i)"
	}
	if dotall {
		prefix += "(?s)"
	}
	if multiline {
		prefix += "(?m)"
	}
	return prefix + fixCommaQuantifiers(pattern)
}

// fixCommaQuantifiers rewrites {,N} to {0,N}; RE2 otherwise treats a bare
// {,N} as literal text rather than a quantifier.
func fixCommaQuantifiers(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteByte(pattern[i])
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if pattern[i] == '{' && i+1 < len(pattern) && pattern[i+1] == ',' {
			b.WriteString("{0")
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

func internHex(t *patternTable, ruleName string, sd *ast.StringDeclaration, v ast.HexValue) (PatternId, error) {
	if lit, ok := simpleHexLiteral(v.Tokens); ok {
		return t.add(Pattern{
			RuleName: ruleName, StringName: sd.Name, Kind: KindLiteral,
			Literal: lit, Fullword: sd.Modifiers.Fullword,
		}), nil
	}

	canon := hexpat.Format(v.Tokens)
	if id, ok := t.hexDedup[canon]; ok {
		return id, nil
	}

	atom, atomLen := longestHexLiteralRun(v.Tokens)
	if atomLen < minAtomLength {
		atom = nil
	}
	maxLen := hexMaxMatchLen(v.Tokens)

	id := t.add(Pattern{
		RuleName: ruleName, StringName: sd.Name, Kind: KindHex,
		HexTokens: v.Tokens, HexAtom: atom, MaxMatchLen: maxLen,
		Fullword: sd.Modifiers.Fullword,
	})
	t.hexDedup[canon] = id
	return id, nil
}

func simpleHexLiteral(toks []ast.HexToken) ([]byte, bool) {
	out := make([]byte, 0, len(toks))
	for _, tok := range toks {
		b, ok := tok.(ast.HexByte)
		if !ok {
			return nil, false
		}
		out = append(out, b.Value)
	}
	return out, true
}

// longestHexLiteralRun finds the longest contiguous run of concrete HexByte
// tokens, used to seed Aho-Corasick candidates before the backtracking
// verifier confirms a full hex match around that anchor.
func longestHexLiteralRun(toks []ast.HexToken) ([]byte, int) {
	var best []byte
	var cur []byte
	flush := func() {
		if len(cur) > len(best) {
			best = cur
		}
	}
	for _, tok := range toks {
		if b, ok := tok.(ast.HexByte); ok {
			cur = append(cur, b.Value)
			continue
		}
		flush()
		cur = nil
	}
	flush()
	return best, len(best)
}

// hexMaxMatchLen returns an upper bound on the byte length a hex pattern can
// match, or -1 if an unbounded jump anywhere in the pattern (including inside
// an alternation branch) makes the length open-ended.
func hexMaxMatchLen(toks []ast.HexToken) int {
	total := 0
	for _, tok := range toks {
		switch v := tok.(type) {
		case ast.HexByte, ast.HexWildcard, ast.HexHighNibble, ast.HexLowNibble:
			total++
		case ast.HexJump:
			if v.Max == nil {
				return -1
			}
			total += *v.Max
		case ast.HexAlternation:
			best := 0
			for _, alt := range v.Alternatives {
				n := hexMaxMatchLen(alt)
				if n < 0 {
					return -1
				}
				if n > best {
					best = n
				}
			}
			total += best
		default:
			return -1
		}
	}
	return total
}
