package compiler

import (
	"errors"
	"testing"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/parser"
	"github.com/corvid-labs/yaracore/token"
)

func strDecl(name string, v ast.StringValue, mods ast.StringModifiers) *ast.StringDeclaration {
	return &ast.StringDeclaration{Name: name, Pattern: v, Modifiers: mods}
}

// TestInternTextVariants covers ascii/wide/nocase/fullword combinations,
// grounded on the teacher's generatePatterns (scanner/compile.go).
func TestInternTextVariants(t *testing.T) {
	tests := []struct {
		name string
		mods ast.StringModifiers
		want []Pattern
	}{
		{
			"plain ascii",
			ast.StringModifiers{},
			[]Pattern{{Kind: KindLiteral, Literal: []byte("abc")}},
		},
		{
			"nocase folds to lowercase",
			ast.StringModifiers{Nocase: true},
			[]Pattern{{Kind: KindLiteral, Literal: []byte("abc"), Nocase: true}},
		},
		{
			"wide only",
			ast.StringModifiers{Wide: true},
			[]Pattern{{Kind: KindLiteral, Literal: []byte("a\x00b\x00c\x00"), Wide: true}},
		},
		{
			"ascii and wide both emitted",
			ast.StringModifiers{Ascii: true, Wide: true},
			[]Pattern{
				{Kind: KindLiteral, Literal: []byte("abc")},
				{Kind: KindLiteral, Literal: []byte("a\x00b\x00c\x00"), Wide: true},
			},
		},
		{
			"fullword",
			ast.StringModifiers{Fullword: true},
			[]Pattern{{Kind: KindLiteral, Literal: []byte("abc"), Fullword: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newPatternTable()
			sd := strDecl("$a", ast.TextValue{Value: "abc"}, tt.mods)
			ids, err := internText(table, "r", sd, ast.TextValue{Value: "abc"})
			if err != nil {
				t.Fatalf("internText: %v", err)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %d patterns, want %d", len(ids), len(tt.want))
			}
			for i, id := range ids {
				got := table.patterns[id]
				want := tt.want[i]
				if string(got.Literal) != string(want.Literal) || got.Nocase != want.Nocase ||
					got.Wide != want.Wide || got.Fullword != want.Fullword || got.Kind != want.Kind {
					t.Errorf("pattern %d: got %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

// TestInternXorVariants checks that every key in [XorMin, XorMax] mints its
// own keyed literal, per the teacher's generateXorPatterns.
func TestInternXorVariants(t *testing.T) {
	table := newPatternTable()
	sd := strDecl("$x", ast.TextValue{Value: "AB"}, ast.StringModifiers{Xor: true, XorMin: 0, XorMax: 2})
	ids, err := internText(table, "r", sd, ast.TextValue{Value: "AB"})
	if err != nil {
		t.Fatalf("internText: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 xor variants (keys 0,1,2), got %d", len(ids))
	}
	for k, id := range ids {
		p := table.patterns[id]
		if !p.HasXorKey || p.XorKey != byte(k) {
			t.Errorf("variant %d: got key %d (has=%v), want key %d", k, p.XorKey, p.HasXorKey, k)
		}
		want := []byte{'A' ^ byte(k), 'B' ^ byte(k)}
		if string(p.Literal) != string(want) {
			t.Errorf("variant %d: got %v, want %v", k, p.Literal, want)
		}
	}
}

// TestInternBase64Variants checks the three sliding-window offsets emit
// distinct literals, per the teacher's generateBase64Patterns.
func TestInternBase64Variants(t *testing.T) {
	table := newPatternTable()
	ids := internBase64Variants(table, "r", "$b", []byte("hello world"), ast.StringModifiers{}, false)
	if len(ids) == 0 {
		t.Fatal("expected at least one base64 variant")
	}
	seen := map[string]bool{}
	for _, id := range ids {
		p := table.patterns[id]
		if seen[string(p.Literal)] {
			t.Errorf("duplicate base64 literal %q", p.Literal)
		}
		seen[string(p.Literal)] = true
	}
}

func TestFixCommaQuantifiers(t *testing.T) {
	tests := []struct {
		name, pattern, want string
	}{
		{"no comma form", `a{5}`, `a{5}`},
		{"bare comma min", `a{,5}`, `a{0,5}`},
		{"escaped brace untouched", `a\{,5\}`, `a\{,5\}`},
		{"already has min", `a{1,5}`, `a{1,5}`},
		{"multiple", `a{,5}b{,9}`, `a{0,5}b{0,9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixCommaQuantifiers(tt.pattern)
			if got != tt.want {
				t.Errorf("fixCommaQuantifiers(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestInternRegexFoldsModifiers(t *testing.T) {
	table := newPatternTable()
	id, err := internRegex(table, "r", "$re", `evil[0-9]+`, true, true)
	if err != nil {
		t.Fatalf("internRegex: %v", err)
	}
	got := table.patterns[id].RegexSrc
	want := `(?i)(?s)evil[0-9]+`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// TestInternHexDedup checks that two rules declaring structurally identical
// hex bodies share one PatternId, mirroring the literal string dedup the
// teacher's pattern table already performs for text strings.
func TestInternHexDedup(t *testing.T) {
	table := newPatternTable()
	toks := []ast.HexToken{ast.HexByte{Value: 0xAA}, ast.HexWildcard{}, ast.HexByte{Value: 0xBB}}
	sd1 := strDecl("$h1", ast.HexValue{Tokens: toks}, ast.StringModifiers{})
	sd2 := strDecl("$h2", ast.HexValue{Tokens: toks}, ast.StringModifiers{})

	id1, err := internHex(table, "r1", sd1, ast.HexValue{Tokens: toks})
	if err != nil {
		t.Fatalf("internHex 1: %v", err)
	}
	id2, err := internHex(table, "r2", sd2, ast.HexValue{Tokens: toks})
	if err != nil {
		t.Fatalf("internHex 2: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected shared PatternId for identical hex bodies, got %d and %d", id1, id2)
	}
}

// TestInternHexSimpleLiteralBecomesKindLiteral checks that a hex body with no
// wildcards/jumps compiles straight to KindLiteral (so it rides the
// Aho-Corasick path instead of the backtracking hex verifier).
func TestInternHexSimpleLiteralBecomesKindLiteral(t *testing.T) {
	table := newPatternTable()
	toks := []ast.HexToken{ast.HexByte{Value: 0x4D}, ast.HexByte{Value: 0x5A}}
	sd := strDecl("$h", ast.HexValue{Tokens: toks}, ast.StringModifiers{})
	id, err := internHex(table, "r", sd, ast.HexValue{Tokens: toks})
	if err != nil {
		t.Fatalf("internHex: %v", err)
	}
	p := table.patterns[id]
	if p.Kind != KindLiteral || string(p.Literal) != "MZ" {
		t.Errorf("got %+v, want literal MZ", p)
	}
}

// TestInternHexAtomAndMaxLen checks wildcard/jump hex bodies carry a literal
// atom for Aho-Corasick seeding and a correct MaxMatchLen bound.
func TestInternHexAtomAndMaxLen(t *testing.T) {
	tests := []struct {
		name        string
		toks        []ast.HexToken
		wantAtom    string
		wantMaxLen  int
	}{
		{
			"wildcard then jump, unbounded",
			[]ast.HexToken{
				ast.HexByte{Value: 0x4D}, ast.HexByte{Value: 0x5A}, ast.HexWildcard{},
				ast.HexJump{},
			},
			"MZ", -1,
		},
		{
			"bounded jump",
			[]ast.HexToken{
				ast.HexByte{Value: 0xAA}, ast.HexJump{Min: intPtr(1), Max: intPtr(3)}, ast.HexByte{Value: 0xBB},
			},
			"", 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newPatternTable()
			sd := strDecl("$h", ast.HexValue{Tokens: tt.toks}, ast.StringModifiers{})
			id, err := internHex(table, "r", sd, ast.HexValue{Tokens: tt.toks})
			if err != nil {
				t.Fatalf("internHex: %v", err)
			}
			p := table.patterns[id]
			if tt.wantAtom != "" && string(p.HexAtom) != tt.wantAtom {
				t.Errorf("atom: got %q, want %q", p.HexAtom, tt.wantAtom)
			}
			if p.MaxMatchLen != tt.wantMaxLen {
				t.Errorf("MaxMatchLen: got %d, want %d", p.MaxMatchLen, tt.wantMaxLen)
			}
		})
	}
}

func intPtr(n int) *int { return &n }

// compileSource parses src and compiles it with the given module table,
// driving the real parse -> compile path rather than hand-built ASTs.
func compileSource(t *testing.T, src string, modules ModuleTable) (*Program, error) {
	t.Helper()
	sf, err := parser.Parse("t.yar", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Compile(sf, Options{Modules: modules})
}

var peModuleTable = ModuleTable{
	"pe": {
		"is_pe":               ModuleFunc{ModuleIndex: 0, FuncIndex: 0, Arity: 0},
		"number_of_sections":  ModuleFunc{ModuleIndex: 0, FuncIndex: 1, Arity: 0},
		"section_index":       ModuleFunc{ModuleIndex: 0, FuncIndex: 2, Arity: 1},
	},
}

// TestCompileConditionForms exercises one condition shape per ast.Expr case
// the lowering switch handles, checking only that each compiles cleanly and
// produces a halting instruction stream; VM-level semantics are covered in
// package vm/scan.
func TestCompileConditionForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bool literal", `rule r { condition: true }`},
		{"int arithmetic", `rule r { condition: (1 + 2) * 3 == 9 }`},
		{"float literal", `rule r { condition: 1.5 > 1.0 }`},
		{"string ref", `rule r { strings: $a = "x" condition: $a }`},
		{"string count", `rule r { strings: $a = "x" condition: #a > 0 }`},
		{"string offset", `rule r { strings: $a = "x" condition: @a > 0 }`},
		{"string offset indexed", `rule r { strings: $a = "x" condition: @a[2] > 0 }`},
		{"string length", `rule r { strings: $a = "x" condition: !a > 0 }`},
		{"at", `rule r { strings: $a = "x" condition: $a at 0 }`},
		{"in", `rule r { strings: $a = "x" condition: $a in (0..10) }`},
		{"filesize", `rule r { condition: filesize > 0 }`},
		{"entrypoint", `rule r { condition: entrypoint >= 0 }`},
		{"builtin call", `rule r { condition: uint16(0) == 0x5A4D }`},
		{"module field", `import "pe" rule r { condition: pe.number_of_sections > 1 }`},
		{"module call", `import "pe" rule r { condition: pe.section_index("x") > -1 }`},
		{"unary not", `rule r { condition: not false }`},
		{"unary neg", `rule r { condition: -1 < 0 }`},
		{"unary defined", `rule r { strings: $a = "x" condition: defined $a }`},
		{"of all them", `rule r { strings: $a = "x" $b = "y" condition: all of them }`},
		{"of any them", `rule r { strings: $a = "x" $b = "y" condition: any of them }`},
		{"of none them", `rule r { strings: $a = "x" $b = "y" condition: none of them }`},
		{"of count", `rule r { strings: $a = "x" $b = "y" condition: 1 of them }`},
		{"of percent", `rule r { strings: $a = "x" $b = "y" condition: 50% of them }`},
		{"for range any", `rule r { condition: for any i in (0..10): ( uint8(i) == 0 ) }`},
		{"for range all", `rule r { condition: for all i in (0..3): ( i >= 0 ) }`},
		{"for of set", `rule r { strings: $a = "x" $b = "y" condition: for any of them: ( true ) }`},
		{"matches regex", `rule r { condition: "abc" matches /a.c/ }`},
		{"and short circuit", `rule r { condition: false and (1/0 == 0) }`},
		{"or short circuit", `rule r { condition: true or (1/0 == 0) }`},
		{"comparisons", `rule r { strings: $a = "x" condition: $a and 1 != 2 and 1 <= 2 and 2 >= 1 }`},
		{"bitwise", `rule r { condition: (1 | 2) & 3 == 3 and (1 ^ 1) == 0 and (~0) != 0 }`},
		{"shifts", `rule r { condition: (1 << 4) == 16 and (16 >> 4) == 1 }`},
		{"string compare ops", `rule r { condition: "abc" contains "b" and "abc" startswith "a" and "abc" endswith "c" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := compileSource(t, tt.src, peModuleTable)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if len(prog.Rules) != 1 {
				t.Fatalf("expected 1 compiled rule, got %d", len(prog.Rules))
			}
			code := prog.Rules[0].Code
			if len(code) == 0 || code[len(code)-1].Op != OpHalt {
				t.Errorf("expected code to end in OpHalt, got %+v", code)
			}
		})
	}
}

// TestCompileStringGroups checks that ascii+wide variants of one $name
// declaration land in a single StringGroup, so condition-level ops aggregate
// across both.
func TestCompileStringGroups(t *testing.T) {
	prog, err := compileSource(t, `rule r { strings: $a = "hi" ascii wide condition: $a }`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	groups := prog.Rules[0].StringGroups
	if len(groups) != 1 || groups[0].Name != "$a" {
		t.Fatalf("expected one group named $a, got %+v", groups)
	}
	if len(groups[0].PatternIds) != 2 {
		t.Fatalf("expected 2 pattern variants (ascii+wide), got %d", len(groups[0].PatternIds))
	}
}

func TestCompilePrivateStringGroupFlag(t *testing.T) {
	prog, err := compileSource(t, `rule r { strings: $a = "hi" private condition: $a }`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !prog.Rules[0].StringGroups[0].Private {
		t.Error("expected StringGroup.Private to be set")
	}
}

func TestCompileSkipsSubtypes(t *testing.T) {
	src := `
		rule a { meta: subtype = "noisy" condition: true }
		rule b { condition: true }
	`
	sf, err := parser.Parse("t.yar", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := Compile(sf, Options{SkipSubtypes: []string{"noisy"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Rules) != 1 || prog.Rules[0].Name != "b" {
		t.Fatalf("expected only rule b to survive subtype filtering, got %+v", prog.Rules)
	}
}

// TestCompileErrors drives the negative cases the review asked for: each
// should surface as a typed *errs.CompileError with the matching Kind.
func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind errs.CompileErrorKind
	}{
		{
			"undeclared string reference",
			`rule r { condition: $nope }`,
			errs.UndeclaredString,
		},
		{
			"undeclared string in count",
			`rule r { condition: #nope > 0 }`,
			errs.UndeclaredString,
		},
		{
			"unknown module",
			`rule r { condition: nosuch.thing() }`,
			errs.UnknownImport,
		},
		{
			"unknown member of known module",
			`import "pe" rule r { condition: pe.not_a_field }`,
			errs.UnknownImport,
		},
		{
			"arity mismatch on module call",
			`import "pe" rule r { condition: pe.section_index() }`,
			errs.ArityMismatch,
		},
		{
			"arity mismatch on builtin call",
			`rule r { condition: uint16(0, 1) == 0 }`,
			errs.ArityMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileSource(t, tt.src, peModuleTable)
			if err == nil {
				t.Fatal("expected a compile error, got nil")
			}
			var ce *errs.CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *errs.CompileError, got %T: %v", err, err)
			}
			if ce.Kind != tt.kind {
				t.Errorf("got Kind %v, want %v", ce.Kind, tt.kind)
			}
		})
	}
}

// TestCompileRejectsIndexExpression checks that array/index access into a
// module value is rejected rather than silently miscompiled, since the VM
// has no array value representation.
func TestCompileRejectsIndexExpression(t *testing.T) {
	rc := newRuleCompiler("r", newPatternTable(), nil, nil)
	idx := ast.Index{Base: ast.Identifier{Parts: []string{"pe"}}, Idx: ast.IntLit{Value: 0}}
	err := rc.compile(idx)
	if err == nil {
		t.Fatal("expected an error compiling an index expression")
	}
	var ce *errs.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *errs.CompileError, got %T", err)
	}
}

// TestCompileErrorSpanAndRuleName checks that a CompileError carries enough
// context (rule name, span) for a caller to point a diagnostic at the source.
func TestCompileErrorSpanAndRuleName(t *testing.T) {
	_, err := compileSource(t, `rule boom { condition: $missing }`, nil)
	var ce *errs.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *errs.CompileError, got %T", err)
	}
	if ce.RuleName != "boom" {
		t.Errorf("got RuleName %q, want %q", ce.RuleName, "boom")
	}
	if ce.Span == (token.Span{}) {
		t.Error("expected a non-zero span on the compile error")
	}
}
