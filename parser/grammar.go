// Package parser turns a lexed token stream into an ast.SourceFile. The
// structural grammar (source file, rule header, meta section, string
// declarations) is declared with participle/v2 struct tags, grounded on the
// teacher's parser/grammar.go prototype and generalized to the full
// spec.md §4 grammar (private/global modifiers, tags, the string modifier
// keywords). `xor` and `base64` take no arguments: `xor` always covers keys
// 0-255 and `base64` always uses the standard alphabet. The condition clause is parsed separately by condexpr, a
// hand-written precedence-climbing parser invoked through participle's
// Parseable hook, since YARA's operator precedence doesn't map cleanly onto
// static struct-tag alternation.
package parser

import (
	"strconv"
	"strings"

	"github.com/corvid-labs/yaracore/ast"
)

// Literal tags ('...') match a token by its surface text, regardless of
// which lexer rule produced it; unquoted names (Ident, StringLit, ...)
// match by token type, capturing its text.

type directiveGrammar struct {
	Import  *string `parser:"( 'import' @StringLit"`
	Include *string `parser:"| 'include' @StringLit )"`
}

type fileGrammar struct {
	Directives []*directiveGrammar `parser:"@@*"`
	Rules      []*ruleGrammar      `parser:"@@*"`
}

type ruleGrammar struct {
	Private   bool                   `parser:"@'private'?"`
	Global    bool                   `parser:"@'global'?"`
	Name      string                 `parser:"'rule' @Ident"`
	Tags      []string               `parser:"( ':' @Ident+ )? '{'"`
	Meta      *metaSectionGrammar    `parser:"@@?"`
	Strings   *stringsSectionGrammar `parser:"@@?"`
	Condition *conditionExpr         `parser:"'condition' ':' @@ '}'"`
}

type metaSectionGrammar struct {
	Entries []*metaEntryGrammar `parser:"'meta' ':' @@*"`
}

type metaEntryGrammar struct {
	Key         string  `parser:"@Ident '='"`
	StringValue *string `parser:"( @StringLit"`
	IntValue    *string `parser:"| @('-'? IntLit | HexIntLit)"`
	BoolValue   *string `parser:"| @('true' | 'false') )"`
}

type stringsSectionGrammar struct {
	Defs []*stringDefGrammar `parser:"'strings' ':' @@+"`
}

type stringDefGrammar struct {
	Name      string   `parser:"@StringIdent '='"`
	Text      *string  `parser:"( @StringLit"`
	Hex       *string  `parser:"| @HexBody"`
	Regex     *string  `parser:"| @RegexLit )"`
	Modifiers []string `parser:"@( 'nocase' | 'wide' | 'ascii' | 'fullword' | 'private' | 'base64' | 'base64wide' | 'xor' )*"`
}

// --- conversion from grammar types to ast ---

func buildSourceFile(f *fileGrammar) (*ast.SourceFile, error) {
	out := &ast.SourceFile{}
	for _, d := range f.Directives {
		if d.Import != nil {
			out.Imports = append(out.Imports, unquoteString(*d.Import))
		}
		if d.Include != nil {
			out.Includes = append(out.Includes, unquoteString(*d.Include))
		}
	}
	for _, rg := range f.Rules {
		r, err := buildRule(rg)
		if err != nil {
			return nil, err
		}
		out.Rules = append(out.Rules, r)
	}
	return out, nil
}

func buildRule(rg *ruleGrammar) (*ast.Rule, error) {
	r := &ast.Rule{
		Name:    rg.Name,
		Private: rg.Private,
		Global:  rg.Global,
		Tags:    rg.Tags,
	}
	if rg.Meta != nil {
		for _, me := range rg.Meta.Entries {
			entry := &ast.MetaEntry{Key: me.Key}
			switch {
			case me.StringValue != nil:
				entry.Value = unquoteString(*me.StringValue)
			case me.IntValue != nil:
				n, err := parseIntLiteral(*me.IntValue)
				if err != nil {
					return nil, err
				}
				entry.Value = n
			case me.BoolValue != nil:
				entry.Value = *me.BoolValue == "true"
			}
			r.Meta = append(r.Meta, entry)
		}
	}
	if rg.Strings != nil {
		for _, sd := range rg.Strings.Defs {
			decl, err := buildStringDecl(sd)
			if err != nil {
				return nil, err
			}
			r.Strings = append(r.Strings, decl)
		}
	}
	if rg.Condition != nil {
		r.Condition = rg.Condition.Expr
	}
	return r, nil
}

func buildStringDecl(sd *stringDefGrammar) (*ast.StringDeclaration, error) {
	decl := &ast.StringDeclaration{Name: sd.Name}
	switch {
	case sd.Text != nil:
		decl.Pattern = ast.TextValue{Value: unquoteString(*sd.Text)}
	case sd.Hex != nil:
		toks, err := hexTokens(*sd.Hex)
		if err != nil {
			return nil, err
		}
		decl.Pattern = ast.HexValue{Tokens: toks}
	case sd.Regex != nil:
		pattern, mods := parseRegexLit(*sd.Regex)
		decl.Pattern = ast.RegexValue{Pattern: pattern, Modifiers: mods}
	}
	for _, m := range sd.Modifiers {
		switch m {
		case "nocase":
			decl.Modifiers.Nocase = true
		case "wide":
			decl.Modifiers.Wide = true
		case "ascii":
			decl.Modifiers.Ascii = true
		case "fullword":
			decl.Modifiers.Fullword = true
		case "private":
			decl.Modifiers.Private = true
		case "base64":
			decl.Modifiers.Base64 = true
		case "base64wide":
			decl.Modifiers.Base64Wide = true
		case "xor":
			decl.Modifiers.Xor = true
			decl.Modifiers.XorMin, decl.Modifiers.XorMax = 0, 255
		}
	}
	return decl, nil
}

func parseIntLiteral(s string) (int64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}
