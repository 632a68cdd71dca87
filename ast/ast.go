// Package ast defines the abstract syntax tree produced by the parser for
// a YARA-compatible rule source file.
package ast

import "github.com/corvid-labs/yaracore/token"

// SourceFile is the root of a parsed rule file.
type SourceFile struct {
	Imports  []string
	Includes []string
	Rules    []*Rule
}

// Rule is a single named rule definition.
type Rule struct {
	Name      string
	Private   bool
	Global    bool
	Tags      []string
	Meta      []*MetaEntry
	Strings   []*StringDeclaration
	Condition Expr
	Span      token.Span
}

// MetaEntry is a single key/value pair in a rule's meta section. Value is
// one of string, int64, or bool.
type MetaEntry struct {
	Key   string
	Value any
}

// StringModifiers holds the modifier flags attached to a string declaration.
type StringModifiers struct {
	Nocase     bool
	Wide       bool
	Ascii      bool
	Fullword   bool
	Private    bool
	Xor        bool
	XorMin     int
	XorMax     int
	Base64     bool
	Base64Wide bool
	Base64Alph string // custom alphabet, empty means the standard one
}

// StringDeclaration binds a $name to a pattern and its modifiers.
type StringDeclaration struct {
	Name      string // includes leading '$'; "$" alone means anonymous
	Pattern   StringValue
	Modifiers StringModifiers
	Span      token.Span
}

// StringValue is the sum of the three string-pattern productions: Text,
// Hex, and Regex.
type StringValue interface {
	stringValue()
}

// TextValue is a quoted text pattern.
type TextValue struct {
	Value string // already escape-decoded
}

func (TextValue) stringValue() {}

// HexValue is a hex pattern, a sequence of hex tokens.
type HexValue struct {
	Tokens []HexToken
}

func (HexValue) stringValue() {}

// RegexModifiers are the inline flags following a /regex/ literal.
type RegexModifiers struct {
	CaseInsensitive bool // i
	DotMatchesAll   bool // s
}

// RegexValue is a /pattern/flags regular expression pattern.
type RegexValue struct {
	Pattern   string
	Modifiers RegexModifiers
}

func (RegexValue) stringValue() {}

// HexToken is the sum type of the hex sublanguage tokens.
type HexToken interface {
	hexToken()
}

// HexByte is a single concrete byte value.
type HexByte struct {
	Value byte
}

func (HexByte) hexToken() {}

// HexWildcard (??) matches any single byte.
type HexWildcard struct{}

func (HexWildcard) hexToken() {}

// HexHighNibble (A?) fixes the high nibble and wildcards the low nibble.
type HexHighNibble struct {
	High byte // 0-15
}

func (HexHighNibble) hexToken() {}

// HexLowNibble (?A) fixes the low nibble and wildcards the high nibble.
type HexLowNibble struct {
	Low byte // 0-15
}

func (HexLowNibble) hexToken() {}

// HexJump ([n], [n-m], [n-], [-]) skips a variable number of bytes. Min/Max
// nil means unbounded on that side.
type HexJump struct {
	Min *int
	Max *int
}

func (HexJump) hexToken() {}

// HexAlternation ( a | b | ... ) tries each alternative token sequence in
// turn. Per spec.md, alternatives may not themselves contain jumps.
type HexAlternation struct {
	Alternatives [][]HexToken
}

func (HexAlternation) hexToken() {}

// Expr is the sum type of condition expression nodes.
type Expr interface {
	exprNode()
	Span() token.Span
}

type exprBase struct {
	span token.Span
}

func (e exprBase) Span() token.Span { return e.span }

// NewExprBase constructs the embeddable base carrying an expression's span.
func NewExprBase(sp token.Span) exprBase { return exprBase{span: sp} }

// BoolLit is a literal `true`/`false`.
type BoolLit struct {
	exprBase
	Value bool
}

func (BoolLit) exprNode() {}

// IntLit is a decimal/hex/octal/size-scaled integer literal.
type IntLit struct {
	exprBase
	Value int64
}

func (IntLit) exprNode() {}

// FloatLit is a floating point literal.
type FloatLit struct {
	exprBase
	Value float64
}

func (FloatLit) exprNode() {}

// StringLit is a quoted text literal used as a value (not a pattern ref).
type StringLit struct {
	exprBase
	Value string
}

func (StringLit) exprNode() {}

// Identifier is a dotted name, e.g. `pe.number_of_sections`, prior to
// call/field/index resolution.
type Identifier struct {
	exprBase
	Parts []string
}

func (Identifier) exprNode() {}

// StringRef is `$name`.
type StringRef struct {
	exprBase
	Name string
}

func (StringRef) exprNode() {}

// StringCount is `#name`.
type StringCount struct {
	exprBase
	Name string
}

func (StringCount) exprNode() {}

// StringOffset is `@name` or `@name[idx]`.
type StringOffset struct {
	exprBase
	Name  string
	Index Expr // nil means the first match (index 1)
}

func (StringOffset) exprNode() {}

// StringLength is `!name` or `!name[idx]`.
type StringLength struct {
	exprBase
	Name  string
	Index Expr
}

func (StringLength) exprNode() {}

// Filesize is the `filesize` builtin.
type Filesize struct{ exprBase }

func (Filesize) exprNode() {}

// Entrypoint is the `entrypoint` builtin.
type Entrypoint struct{ exprBase }

func (Entrypoint) exprNode() {}

// Binary is a binary operator expression. Op is one of: "or", "and",
// "==", "!=", "<", "<=", ">", ">=", "contains", "icontains", "startswith",
// "istartswith", "endswith", "iendswith", "iequals", "+", "-", "*", "/",
// "%", "|", "^", "&", "<<", ">>".
type Binary struct {
	exprBase
	Op          string
	Left, Right Expr
}

func (Binary) exprNode() {}

// Unary is a unary operator expression. Op is one of "not", "-", "~",
// "defined".
type Unary struct {
	exprBase
	Op      string
	Operand Expr
}

func (Unary) exprNode() {}

// Range is `(lo..hi)`.
type Range struct {
	exprBase
	Low, High Expr
}

func (Range) exprNode() {}

// Call is a function call `callee(args...)`.
type Call struct {
	exprBase
	Callee Expr
	Args   []Expr
}

func (Call) exprNode() {}

// Index is `base[idx]`.
type Index struct {
	exprBase
	Base, Idx Expr
}

func (Index) exprNode() {}

// FieldAccess is `base.field`.
type FieldAccess struct {
	exprBase
	Base  Expr
	Field string
}

func (FieldAccess) exprNode() {}

// SetItem is one element of a quantifier set: either a string reference
// (possibly a `$prefix*` wildcard) or an arbitrary boolean expression (for
// `for ... of (<boolean expr>, ...)`).
type SetItem struct {
	StringPattern string // non-empty for a `$name`/`$prefix*` item
	Expr          Expr   // non-nil for a boolean-expression item
}

// StringSet names the set of strings a quantifier ranges over: either
// `them` or an explicit parenthesized list.
type StringSet struct {
	Them  bool
	Items []SetItem
}

// Quantifier is the left-hand side of an `of`/`for` expression: `all`,
// `any`, `none`, an integer count, or a percentage.
type Quantifier struct {
	Kind  string // "all", "any", "none", "count", "percent"
	Count Expr   // set when Kind is "count" or "percent"
}

// Of is `<quantifier> of <set>`, e.g. `3 of ($a,$b,$c)` or `any of them`.
type Of struct {
	exprBase
	Quantifier Quantifier
	Set        StringSet
}

func (Of) exprNode() {}

// For is `for <quantifier> <vars> in <iterable>: (<body>)`, covering both
// the integer-range form (`for any i in (0..10): (...)`) and the string-set
// form (`for any of ($a,$b): (...)`, modeled via Set).
type For struct {
	exprBase
	Quantifier Quantifier
	Vars       []string
	Iterable   Expr      // set when iterating a range/array expression
	Set        StringSet // set when iterating a string set ("of")
	Body       Expr
}

func (For) exprNode() {}

// At is `$name at <expr>`.
type At struct {
	exprBase
	Name   string
	Offset Expr
}

func (At) exprNode() {}

// In is `$name in (<low>..<high>)`.
type In struct {
	exprBase
	Name  string
	Range Range
}

func (In) exprNode() {}

// Matches is `<subject> matches /regex/`.
type Matches struct {
	exprBase
	Subject Expr
	Regex   RegexValue
}

func (Matches) exprNode() {}

// Paren is a parenthesized expression, kept distinct so display/round-trip
// can preserve it even though it has no semantic effect on evaluation.
type Paren struct {
	exprBase
	Inner Expr
}

func (Paren) exprNode() {}
