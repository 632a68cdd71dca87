// Package token defines the spanned token vocabulary shared by the lexer
// and parser.
package token

import "fmt"

// Span is a byte range within the source text, used for diagnostics.
type Span struct {
	Start int
	End   int
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Start, s.End)
}

// Kind names a lexical token category. The lexer and the participle
// grammar both key off these names, since the stateful lexer
// (see package lexer) assigns one Kind per named rule.
type Kind string

const (
	KindEOF        Kind = "EOF"
	KindIdent      Kind = "Ident"
	KindStringIdent Kind = "StringIdent" // $name
	KindCountIdent Kind = "CountIdent"   // #name
	KindOffsetIdent Kind = "OffsetIdent" // @name
	KindLengthIdent Kind = "LengthIdent" // !name
	KindPatternWildcard Kind = "PatternWildcard" // $name*
	KindIntLit     Kind = "IntLit"
	KindFloatLit   Kind = "FloatLit"
	KindStringLit  Kind = "StringLit"
	KindRegexLit   Kind = "RegexLit"
	KindHexBody    Kind = "HexBody" // raw, uninterpreted content of { ... }
	KindModifier   Kind = "Modifier"
	KindPunct      Kind = "Punct"
	KindKeyword    Kind = "Keyword"
	KindComment    Kind = "Comment"
	KindWhitespace Kind = "Whitespace"
)

// Keywords recognized by the lexer. Values map a lowercase word to its
// canonical spelling; anything not in this set lexes as KindIdent.
var Keywords = map[string]bool{
	"rule": true, "private": true, "global": true, "meta": true,
	"strings": true, "condition": true, "import": true, "include": true,
	"true": true, "false": true, "and": true, "or": true, "not": true,
	"all": true, "any": true, "none": true, "of": true, "them": true,
	"for": true, "in": true, "at": true, "filesize": true, "entrypoint": true,
	"contains": true, "icontains": true, "startswith": true, "istartswith": true,
	"endswith": true, "iendswith": true, "iequals": true, "matches": true,
	"defined": true,
}

// StringModifierWords are the recognized words following a string
// declaration's pattern.
var StringModifierWords = map[string]bool{
	"nocase": true, "wide": true, "ascii": true, "fullword": true,
	"private": true, "xor": true, "base64": true, "base64wide": true,
}
