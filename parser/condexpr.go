package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/corvid-labs/yaracore/ast"
	ourlexer "github.com/corvid-labs/yaracore/lexer"
)

// symbols maps lexer rule names to the token-type rune participle assigned
// them, so condexpr can dispatch on token type (for tokens whose text
// varies, like Ident or IntLit) rather than exact text (used for keywords
// and punctuation, where comparing Token.Value directly is simpler and
// matches how the teacher's own hand-rolled lexer/parser dispatch).
var symbols = ourlexer.Definition.Symbols()

var (
	identType           = symbols["Ident"]
	stringLitType       = symbols["StringLit"]
	regexLitType        = symbols["RegexLit"]
	intLitType          = symbols["IntLit"]
	hexIntLitType       = symbols["HexIntLit"]
	octIntLitType       = symbols["OctIntLit"]
	sizeLitType         = symbols["SizeLit"]
	floatLitType        = symbols["FloatLit"]
	stringIdentType     = symbols["StringIdent"]
	patternWildcardType = symbols["PatternWildcard"]
	countIdentType      = symbols["CountIdent"]
	offsetIdentType     = symbols["OffsetIdent"]
	lengthIdentType     = symbols["LengthIdent"]
)

// conditionExpr captures a rule's condition clause. It implements
// participle's Parseable hook (Parse(*lexer.PeekingLexer) error), so
// participle hands it the raw token stream instead of descending into
// struct-tag alternation, which can't express YARA's operator precedence
// directly. Grounded on the split already present in the teacher's own
// tree between the declarative `ConditionClause` in parser/grammar.go
// (which only grabs raw tokens) and the actual hand-written precedence
// parsing in parser/parser.go/lexer.go — condexpr does for real what that
// declarative stub only sketched.
type conditionExpr struct {
	Expr ast.Expr
}

func (c *conditionExpr) Parse(lex *lexer.PeekingLexer) error {
	p := &condParser{lex: lex}
	e, err := p.parseExpr(0)
	if err != nil {
		return err
	}
	c.Expr = e
	return nil
}

type condParser struct {
	lex *lexer.PeekingLexer
}

func (p *condParser) peek() lexer.Token {
	return p.lex.Peek()
}

func (p *condParser) next() lexer.Token {
	return p.lex.Next()
}

func (p *condParser) at(values ...string) bool {
	v := p.peek().Value
	for _, want := range values {
		if v == want {
			return true
		}
	}
	return false
}

func (p *condParser) accept(value string) (lexer.Token, bool) {
	if p.at(value) {
		return p.next(), true
	}
	return lexer.Token{}, false
}

func (p *condParser) expect(value string) (lexer.Token, error) {
	tok := p.peek()
	if tok.Value != value {
		return tok, fmt.Errorf("condition: expected %q, got %q at %s", value, tok.Value, tok.Pos)
	}
	return p.next(), nil
}

// binOpInfo is the precedence and associativity of a binary operator.
// Higher prec binds tighter. All are left-associative.
type binOpInfo struct{ prec int }

var binOps = map[string]binOpInfo{
	"or":          {1},
	"and":         {2},
	"==":          {4},
	"!=":          {4},
	"<":           {4},
	"<=":          {4},
	">":           {4},
	">=":          {4},
	"contains":    {4},
	"icontains":   {4},
	"startswith":  {4},
	"istartswith": {4},
	"endswith":    {4},
	"iendswith":   {4},
	"iequals":     {4},
	"matches":     {4},
	"|":           {5},
	"^":           {6},
	"&":           {7},
	"<<":          {8},
	">>":          {8},
	"+":           {9},
	"-":           {9},
	"*":           {10},
	"/":           {10},
	"%":           {10},
}

// parseExpr is textbook precedence climbing: parse one unary/postfix
// operand, then keep folding in binary operators whose precedence is at
// least minPrec. `<N> of <set>` and `<N>% of <set>` are folded in here too,
// at multiplicative precedence, with the operand parsed so far as N.
func (p *condParser) parseExpr(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		info, ok := binOps[tok.Value]
		if tok.Value == "of" {
			info, ok = binOpInfo{10}, true
		}
		if !ok || info.prec < minPrec {
			return left, nil
		}
		opTok := p.next()
		if opTok.Value == "of" || (opTok.Value == "%" && p.at("of")) {
			kind := "count"
			if opTok.Value == "%" {
				kind = "percent"
				p.next()
			}
			set, err := p.parseStringSet()
			if err != nil {
				return nil, err
			}
			left = ast.Of{Quantifier: ast.Quantifier{Kind: kind, Count: left}, Set: set}
			continue
		}
		if opTok.Value == "matches" {
			regexTok, err := p.expectType(regexLitType, "regex literal")
			if err != nil {
				return nil, err
			}
			pattern, mods := parseRegexLit(regexTok.Value)
			left = ast.Matches{
				Subject: left,
				Regex:   ast.RegexValue{Pattern: pattern, Modifiers: mods},
			}
			continue
		}
		right, err := p.parseExpr(info.prec + 1)
		if err != nil {
			return nil, err
		}
		left = ast.Binary{Op: opTok.Value, Left: left, Right: right}
	}
}

// expectType requires the next token to have the given rune type,
// identified in error messages by desc.
func (p *condParser) expectType(tokenType rune, desc string) (lexer.Token, error) {
	tok := p.peek()
	if tok.Type != tokenType {
		return tok, fmt.Errorf("condition: expected %s, got %q at %s", desc, tok.Value, tok.Pos)
	}
	return p.next(), nil
}

// parseUnary handles the prefix operators: not, defined, -, ~.
func (p *condParser) parseUnary() (ast.Expr, error) {
	if tok, ok := p.accept("not"); ok {
		operand, err := p.parseExpr(3)
		if err != nil {
			return nil, err
		}
		_ = tok
		return ast.Unary{Op: "not", Operand: operand}, nil
	}
	if _, ok := p.accept("defined"); ok {
		operand, err := p.parseExpr(11)
		if err != nil {
			return nil, err
		}
		return ast.Unary{Op: "defined", Operand: operand}, nil
	}
	if _, ok := p.accept("-"); ok {
		operand, err := p.parseExpr(11)
		if err != nil {
			return nil, err
		}
		return ast.Unary{Op: "-", Operand: operand}, nil
	}
	if _, ok := p.accept("~"); ok {
		operand, err := p.parseExpr(11)
		if err != nil {
			return nil, err
		}
		return ast.Unary{Op: "~", Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles call/index/field-access chains and the string
// reference suffixes (`at`, `in`) that attach to a just-parsed primary.
func (p *condParser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at("."):
			p.next()
			field := p.peek()
			p.next()
			expr = ast.FieldAccess{Base: expr, Field: field.Value}
		case p.at("("):
			p.next()
			var args []ast.Expr
			if !p.at(")") {
				for {
					a, err := p.parseExpr(0)
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if _, ok := p.accept(","); !ok {
						break
					}
				}
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			expr = ast.Call{Callee: expr, Args: args}
		case p.at("["):
			p.next()
			idx, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			expr = ast.Index{Base: expr, Idx: idx}
		default:
			return expr, nil
		}
	}
}

// parsePrimary parses literals, identifiers, string refs/count/offset/
// length, filesize/entrypoint, parenthesized groups, ranges, quantified
// `of` expressions, and `for` loops.
func (p *condParser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()

	switch {
	case tok.Value == "true":
		p.next()
		return ast.BoolLit{Value: true}, nil
	case tok.Value == "false":
		p.next()
		return ast.BoolLit{Value: false}, nil
	case tok.Value == "filesize":
		p.next()
		return ast.Filesize{}, nil
	case tok.Value == "entrypoint":
		p.next()
		return ast.Entrypoint{}, nil
	case tok.Value == "(":
		return p.parseParenOrRange()
	case tok.Value == "all" || tok.Value == "any" || tok.Value == "none":
		return p.parseQuantified()
	case tok.Value == "for":
		return p.parseFor()
	}

	switch tok.Type {
	case intLitType, hexIntLitType, octIntLitType, sizeLitType:
		p.next()
		n, err := parseIntToken(tok)
		if err != nil {
			return nil, err
		}
		return ast.IntLit{Value: n}, nil
	case floatLitType:
		p.next()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, err
		}
		return ast.FloatLit{Value: f}, nil
	case stringLitType:
		p.next()
		return ast.StringLit{Value: unquoteString(tok.Value)}, nil
	case stringIdentType, patternWildcardType:
		return p.parseStringRef()
	case countIdentType:
		p.next()
		return ast.StringCount{Name: tok.Value}, nil
	case offsetIdentType:
		p.next()
		return p.parseIndexedRef(tok.Value, true)
	case lengthIdentType:
		p.next()
		return p.parseIndexedRef(tok.Value, false)
	case identType:
		p.next()
		// Dotted module paths (pe.subsystem, pe.version_info) are built by
		// parsePostfix's '.' case as a chain of FieldAccess over this bare
		// Identifier, not here.
		return ast.Identifier{Parts: []string{tok.Value}}, nil
	}

	return nil, fmt.Errorf("condition: unexpected token %q at %s", tok.Value, tok.Pos)
}

func (p *condParser) parseIndexedRef(name string, offset bool) (ast.Expr, error) {
	var idx ast.Expr
	if _, ok := p.accept("["); ok {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("]"); err != nil {
			return nil, err
		}
		idx = e
	}
	if offset {
		return ast.StringOffset{Name: name, Index: idx}, nil
	}
	return ast.StringLength{Name: name, Index: idx}, nil
}

// parseStringRef parses `$name`, optionally followed by `at <expr>` or
// `in (<lo>..<hi>)`.
func (p *condParser) parseStringRef() (ast.Expr, error) {
	tok := p.next()
	name := tok.Value
	if _, ok := p.accept("at"); ok {
		// Bitwise/arithmetic precedence and up: `$a at 0 and $b` must leave
		// the `and` to the enclosing expression.
		offset, err := p.parseExpr(5)
		if err != nil {
			return nil, err
		}
		return ast.At{Name: name, Offset: offset}, nil
	}
	if _, ok := p.accept("in"); ok {
		rng, err := p.parseRange()
		if err != nil {
			return nil, err
		}
		return ast.In{Name: name, Range: rng}, nil
	}
	return ast.StringRef{Name: name}, nil
}

func (p *condParser) parseRange() (ast.Range, error) {
	if _, err := p.expect("("); err != nil {
		return ast.Range{}, err
	}
	low, err := p.parseExpr(0)
	if err != nil {
		return ast.Range{}, err
	}
	if _, err := p.expect(".."); err != nil {
		return ast.Range{}, err
	}
	high, err := p.parseExpr(0)
	if err != nil {
		return ast.Range{}, err
	}
	if _, err := p.expect(")"); err != nil {
		return ast.Range{}, err
	}
	return ast.Range{Low: low, High: high}, nil
}

// parseParenOrRange disambiguates `(expr)`, `(lo..hi)` and a parenthesized
// string/boolean set used by quantified `of` expressions (handled by the
// caller; here we only ever see the plain-group/range cases since `of`'s
// set is parsed by parseStringSet, not this function).
func (p *condParser) parseParenOrRange() (ast.Expr, error) {
	p.next() // consume '('
	first, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, ok := p.accept(".."); ok {
		high, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return ast.Range{Low: first, High: high}, nil
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return ast.Paren{Inner: first}, nil
}

// parseQuantified parses `<all|any|none> of <set>`.
func (p *condParser) parseQuantified() (ast.Expr, error) {
	kind := p.next().Value
	if _, err := p.expect("of"); err != nil {
		return nil, err
	}
	set, err := p.parseStringSet()
	if err != nil {
		return nil, err
	}
	return ast.Of{Quantifier: ast.Quantifier{Kind: kind}, Set: set}, nil
}

// parseStringSet parses the set operand of an `of` expression: `them`, or a
// parenthesized, comma-separated list of string identifiers, `$name*`
// wildcards, or boolean expressions.
func (p *condParser) parseStringSet() (ast.StringSet, error) {
	if _, ok := p.accept("them"); ok {
		return ast.StringSet{Them: true}, nil
	}
	if _, err := p.expect("("); err != nil {
		return ast.StringSet{}, err
	}
	var items []ast.SetItem
	for {
		tok := p.peek()
		if tok.Type == stringIdentType || tok.Type == patternWildcardType {
			p.next()
			items = append(items, ast.SetItem{StringPattern: tok.Value})
		} else {
			e, err := p.parseExpr(0)
			if err != nil {
				return ast.StringSet{}, err
			}
			items = append(items, ast.SetItem{Expr: e})
		}
		if _, ok := p.accept(","); !ok {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return ast.StringSet{}, err
	}
	return ast.StringSet{Items: items}, nil
}

// parseFor parses both `for <quantifier> <vars> in <range>: (<body>)` and
// `for <quantifier> of <set>: (<body>)`.
func (p *condParser) parseFor() (ast.Expr, error) {
	p.next() // 'for'
	var quant ast.Quantifier
	switch {
	case p.at("all"), p.at("any"), p.at("none"):
		quant.Kind = p.next().Value
	default:
		e, err := p.parseExpr(11)
		if err != nil {
			return nil, err
		}
		quant.Kind = "count"
		quant.Count = e
		if _, ok := p.accept("%"); ok {
			quant.Kind = "percent"
		}
	}

	if _, ok := p.accept("of"); ok {
		set, err := p.parseStringSet()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		if _, err := p.expect("("); err != nil {
			return nil, err
		}
		body, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		return ast.For{Quantifier: quant, Set: set, Body: body}, nil
	}

	var vars []string
	vars = append(vars, p.next().Value)
	for {
		if _, ok := p.accept(","); !ok {
			break
		}
		vars = append(vars, p.next().Value)
	}
	if _, err := p.expect("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	body, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return ast.For{Quantifier: quant, Vars: vars, Iterable: iter, Body: body}, nil
}

func parseIntToken(tok lexer.Token) (int64, error) {
	s := tok.Value
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		return strconv.ParseInt(s[2:], 16, 64)
	case strings.HasPrefix(s, "0o") || strings.HasPrefix(s, "0O"):
		return strconv.ParseInt(s[2:], 8, 64)
	case strings.HasSuffix(s, "KB"):
		n, err := strconv.ParseInt(s[:len(s)-2], 10, 64)
		return n * 1024, err
	case strings.HasSuffix(s, "MB"):
		n, err := strconv.ParseInt(s[:len(s)-2], 10, 64)
		return n * 1024 * 1024, err
	case strings.HasSuffix(s, "GB"):
		n, err := strconv.ParseInt(s[:len(s)-2], 10, 64)
		return n * 1024 * 1024 * 1024, err
	default:
		return strconv.ParseInt(s, 10, 64)
	}
}
