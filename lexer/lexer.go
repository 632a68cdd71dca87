// Package lexer tokenizes YARA-compatible rule source text with a
// mode-switching stateful lexer. Most of the grammar (rule headers, meta,
// string declarations, and condition expressions) lexes in a single
// "RuleBody" state; two small pushed sub-states handle the two spots where
// regex literals can appear without colliding with the division operator.
package lexer

import (
	"github.com/alecthomas/participle/v2/lexer/stateful"
)

// quoted string body: escaped char or any non-quote/backslash.
const stringLitPattern = `"(\\.|[^"\\])*"`

// regex literal: /.../flags. Only ever matched inside the StringValue and
// MatchesRegex sub-states, so it never competes with the division operator,
// which only appears as a RuleBody-level Slash token.
const regexLitPattern = `/(\\.|[^/\\\n])*/[a-zA-Z]*`

// hexBodyPattern captures a whole `{ ... }` hex pattern as one opaque token.
// Hex alternations use parens, not braces, so hex bodies never nest braces;
// the hexpat package parses the interior separately.
const hexBodyPattern = `\{[^{}]*\}`

var commonRules = []stateful.Rule{
	{Name: "whitespace", Pattern: `\s+`},
	{Name: "lineComment", Pattern: `//[^\n]*`},
	{Name: "blockComment", Pattern: `/\*[\s\S]*?\*/`},
}

// ruleBodyKeywords are matched ahead of the generic Ident rule so reserved
// words never fall through to Identifier.
var ruleBodyKeywords = []stateful.Rule{
	{Name: "Meta", Pattern: `meta\b`},
	{Name: "Strings", Pattern: `strings\b`},
	{Name: "Condition", Pattern: `condition\b`},
	{Name: "Istartswith", Pattern: `istartswith\b`},
	{Name: "Startswith", Pattern: `startswith\b`},
	{Name: "Iendswith", Pattern: `iendswith\b`},
	{Name: "Endswith", Pattern: `endswith\b`},
	{Name: "Icontains", Pattern: `icontains\b`},
	{Name: "Contains", Pattern: `contains\b`},
	{Name: "Iequals", Pattern: `iequals\b`},
	{Name: "Matches", Pattern: `matches\b`, Action: stateful.Push("MatchesRegex")},
	{Name: "Defined", Pattern: `defined\b`},
	{Name: "Filesize", Pattern: `filesize\b`},
	{Name: "Entrypoint", Pattern: `entrypoint\b`},
	{Name: "All", Pattern: `all\b`},
	{Name: "Any", Pattern: `any\b`},
	{Name: "None", Pattern: `none\b`},
	{Name: "And", Pattern: `and\b`},
	{Name: "Or", Pattern: `or\b`},
	{Name: "Not", Pattern: `not\b`},
	{Name: "Of", Pattern: `of\b`},
	{Name: "Them", Pattern: `them\b`},
	{Name: "For", Pattern: `for\b`},
	{Name: "In", Pattern: `in\b`},
	{Name: "At", Pattern: `at\b`},
	{Name: "True", Pattern: `true\b`},
	{Name: "False", Pattern: `false\b`},
	{Name: "Private", Pattern: `private\b`},
	{Name: "Global", Pattern: `global\b`},
}

var literalRules = []stateful.Rule{
	{Name: "HexIntLit", Pattern: `0[xX][0-9A-Fa-f]+`},
	{Name: "OctIntLit", Pattern: `0[oO][0-7]+`},
	{Name: "SizeLit", Pattern: `[0-9]+(KB|MB|GB)\b`},
	{Name: "FloatLit", Pattern: `[0-9]+\.[0-9]+`},
	{Name: "IntLit", Pattern: `[0-9]+`},
	{Name: "StringLit", Pattern: stringLitPattern},
}

var puncts = []stateful.Rule{
	{Name: "DotDot", Pattern: `\.\.`},
	{Name: "EqEq", Pattern: `==`},
	{Name: "Neq", Pattern: `!=`},
	{Name: "Le", Pattern: `<=`},
	{Name: "Ge", Pattern: `>=`},
	{Name: "Shl", Pattern: `<<`},
	{Name: "Shr", Pattern: `>>`},
	{Name: "Lt", Pattern: `<`},
	{Name: "Gt", Pattern: `>`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "LBracket", Pattern: `\[`},
	{Name: "RBracket", Pattern: `\]`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Equals", Pattern: `=`},
	{Name: "Plus", Pattern: `\+`},
	{Name: "Minus", Pattern: `-`},
	{Name: "Star", Pattern: `\*`},
	{Name: "Slash", Pattern: `/`},
	{Name: "Percent", Pattern: `%`},
	{Name: "Amp", Pattern: `&`},
	{Name: "Pipe", Pattern: `\|`},
	{Name: "Caret", Pattern: `\^`},
	{Name: "Tilde", Pattern: `~`},
}

// identRefs are the pattern-reference sigils: $name, $name*, #name, @name,
// !name. StringIdent pushes StringValue so an optional `= pattern
// modifier*` tail can follow; the push is harmless for a bare condition
// reference, since StringValue falls straight back out via Return() when
// nothing in its rule list matches.
var identRefs = []stateful.Rule{
	{Name: "PatternWildcard", Pattern: `\$[A-Za-z_][A-Za-z0-9_]*\*`},
	{Name: "StringIdent", Pattern: `\$[A-Za-z_][A-Za-z0-9_]*`, Action: stateful.Push("StringValue")},
	{Name: "AnonStringIdent", Pattern: `\$\*`},
	{Name: "CountIdent", Pattern: `#[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "OffsetIdent", Pattern: `@[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "LengthIdent", Pattern: `![A-Za-z_][A-Za-z0-9_]*`},
}

// rules concatenates rule lists into one fresh slice, without risk of
// aliasing any of the package-level rule-list vars.
func rules(lists ...[]stateful.Rule) []stateful.Rule {
	var out []stateful.Rule
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

var rootRules = rules(commonRules, []stateful.Rule{
	{Name: "Import", Pattern: `import\b`},
	{Name: "Include", Pattern: `include\b`},
	{Name: "Rule", Pattern: `rule\b`, Action: stateful.Push("RuleBody")},
	{Name: "Private", Pattern: `private\b`},
	{Name: "Global", Pattern: `global\b`},
	{Name: "StringLit", Pattern: stringLitPattern},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
})

// ruleBodyRules spans everything from the rule name through its closing
// brace: the header (name, tags), the meta/strings/condition keywords,
// string declarations (name + modifiers; the pattern value itself comes
// from StringValue), and the whole condition expression.
var ruleBodyRules = rules(commonRules, ruleBodyKeywords, literalRules, puncts, identRefs, []stateful.Rule{
	{Name: "LBrace", Pattern: `\{`},
	{Name: "RBrace", Pattern: `\}`, Action: stateful.Pop()},
	{Name: "Bang", Pattern: `!`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
})

// stringValueRules is pushed by any $name. It consumes an optional
// `= pattern` and zero or more modifier words, then bounces back to
// RuleBody the instant the next token isn't one of its own: Return() is a
// zero-width fallback retried against the parent state's rules at the same
// position, so this never swallows a real RuleBody token.
var stringValueRules = rules(commonRules, []stateful.Rule{
	{Name: "Equals", Pattern: `=`},
	{Name: "StringLit", Pattern: stringLitPattern},
	{Name: "RegexLit", Pattern: regexLitPattern},
	{Name: "HexBody", Pattern: hexBodyPattern},
	{Name: "Base64Wide", Pattern: `base64wide\b`},
	{Name: "Base64", Pattern: `base64\b`},
	{Name: "Nocase", Pattern: `nocase\b`},
	{Name: "Wide", Pattern: `wide\b`},
	{Name: "Ascii", Pattern: `ascii\b`},
	{Name: "Fullword", Pattern: `fullword\b`},
	{Name: "PrivateMod", Pattern: `private\b`},
	{Name: "Xor", Pattern: `xor\b`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Minus", Pattern: `-`},
	{Name: "HexIntLit", Pattern: `0[xX][0-9A-Fa-f]+`},
	{Name: "IntLit", Pattern: `[0-9]+`},
	stateful.Return(),
})

// matchesRegexRules is pushed by the `matches` keyword, which is always
// followed by exactly one regex literal. Pop fires on that same match (it
// consumes real input, so it's a legal Pop target), landing back in
// RuleBody. Return() is a safety net for malformed input.
var matchesRegexRules = rules(commonRules, []stateful.Rule{
	{Name: "RegexLit", Pattern: regexLitPattern, Action: stateful.Pop()},
	stateful.Return(),
})

// Definition is the participle lexer used by the parser package.
var Definition = stateful.Must(stateful.Rules{
	"Root":         rootRules,
	"RuleBody":     ruleBodyRules,
	"StringValue":  stringValueRules,
	"MatchesRegex": matchesRegexRules,
})
