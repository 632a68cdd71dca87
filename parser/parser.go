package parser

import (
	"github.com/alecthomas/participle/v2"

	"github.com/corvid-labs/yaracore/ast"
	ourlexer "github.com/corvid-labs/yaracore/lexer"
)

// yaraParser is the participle-driven structural parser: it recognizes
// imports/includes, rule headers, meta and string sections via struct tags
// (grammar.go) and delegates the condition clause to condexpr through the
// Parseable hook. UseLookahead(2) lets the meta-entry alternation
// (StringLit | IntLit | 'true'/'false') and the strings-section dispatch
// (StringLit | HexBody | RegexLit) disambiguate without backtracking.
var yaraParser = participle.MustBuild[fileGrammar](
	participle.Lexer(ourlexer.Definition),
	participle.Elide("whitespace", "lineComment", "blockComment"),
	participle.UseLookahead(2),
)

// Parse parses YARA-compatible rule source text into a SourceFile. filename
// is used only for diagnostics.
func Parse(filename, src string) (*ast.SourceFile, error) {
	fg, err := yaraParser.ParseString(filename, src)
	if err != nil {
		return nil, err
	}
	return buildSourceFile(fg)
}

// ParseBytes is Parse over a byte slice, for callers holding raw file
// contents rather than a string.
func ParseBytes(filename string, src []byte) (*ast.SourceFile, error) {
	fg, err := yaraParser.ParseBytes(filename, src)
	if err != nil {
		return nil, err
	}
	return buildSourceFile(fg)
}
