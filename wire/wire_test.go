package wire

import (
	"reflect"
	"testing"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/value"
)

func minInt(n int) *int { return &n }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		prog *compiler.Program
	}{
		{
			name: "empty program",
			prog: &compiler.Program{},
		},
		{
			name: "single rule, literal pattern, no condition extras",
			prog: &compiler.Program{
				Rules: []compiler.CompiledRule{
					{
						Name: "trivial",
						Tags: []string{"t1", "t2"},
						Meta: []compiler.MetaEntry{
							{Name: "author", Value: value.Str("x")},
							{Name: "score", Value: value.Int(42)},
							{Name: "ratio", Value: value.Float(0.5)},
							{Name: "active", Value: value.Bool(true)},
							{Name: "blank", Value: value.Undefined},
						},
						Global:  true,
						Private: false,
						StringGroups: []compiler.StringGroup{
							{Name: "$a", PatternIds: []compiler.PatternId{0, 1}, Private: true},
						},
						Code: []compiler.Instruction{
							{Op: compiler.OpPushBool, Int: 1},
							{Op: compiler.OpHalt},
						},
						NumSlots: 2,
					},
				},
				Patterns: []compiler.Pattern{
					{
						ID: 0, RuleName: "trivial", StringName: "$a", Kind: compiler.KindLiteral,
						Literal: []byte("malware"), Nocase: true, Wide: false, Fullword: true,
					},
					{
						ID: 1, RuleName: "trivial", StringName: "$a", Kind: compiler.KindLiteral,
						Literal: []byte{0x6d, 0x00, 0x61, 0x00}, Wide: true,
						XorKey: 0x5a, HasXorKey: true,
					},
				},
				Regexes: []compiler.RegexLiteral{
					{Source: "(?i)evil[0-9]+", CaseInsensitive: true, Dotall: false},
				},
				Strings: []string{"hello", "world"},
				Imports: []string{"pe"},
			},
		},
		{
			name: "hex pattern with jump and alternation tokens",
			prog: &compiler.Program{
				Rules: []compiler.CompiledRule{{Name: "hexy", Code: []compiler.Instruction{{Op: compiler.OpHalt}}}},
				Patterns: []compiler.Pattern{
					{
						ID: 0, RuleName: "hexy", StringName: "$h", Kind: compiler.KindHex,
						HexAtom:     []byte{0x4d, 0x5a},
						MaxMatchLen: -1,
						HexTokens: []ast.HexToken{
							ast.HexByte{Value: 0x4d},
							ast.HexByte{Value: 0x5a},
							ast.HexWildcard{},
							ast.HexHighNibble{High: 0x4},
							ast.HexLowNibble{Low: 0x2},
							ast.HexJump{Min: minInt(0), Max: minInt(4)},
							ast.HexJump{},
							ast.HexAlternation{Alternatives: [][]ast.HexToken{
								{ast.HexByte{Value: 0x50}, ast.HexByte{Value: 0x45}},
								{ast.HexByte{Value: 0x4e}, ast.HexWildcard{}},
							}},
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.prog)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			normalize(tt.prog)
			normalize(got)

			if !reflect.DeepEqual(tt.prog, got) {
				t.Errorf("round trip mismatch:\n got  = %+v\n want = %+v", got, tt.prog)
			}
		})
	}
}

// normalize collapses the nil-vs-empty-slice distinction Decode can't
// recover (Encode has no way to tell "never set" from "set empty"), so
// reflect.DeepEqual compares only the data that actually round-trips.
func normalize(p *compiler.Program) {
	if len(p.Rules) == 0 {
		p.Rules = nil
	}
	if len(p.Patterns) == 0 {
		p.Patterns = nil
	}
	if len(p.Regexes) == 0 {
		p.Regexes = nil
	}
	if len(p.Strings) == 0 {
		p.Strings = nil
	}
	if len(p.Imports) == 0 {
		p.Imports = nil
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if len(r.Tags) == 0 {
			r.Tags = nil
		}
		if len(r.Meta) == 0 {
			r.Meta = nil
		}
		if len(r.StringGroups) == 0 {
			r.StringGroups = nil
		}
		for j := range r.StringGroups {
			if len(r.StringGroups[j].PatternIds) == 0 {
				r.StringGroups[j].PatternIds = nil
			}
		}
	}
	for i := range p.Patterns {
		if len(p.Patterns[i].Literal) == 0 {
			p.Patterns[i].Literal = nil
		}
		if len(p.Patterns[i].HexTokens) == 0 {
			p.Patterns[i].HexTokens = nil
		}
		if len(p.Patterns[i].HexAtom) == 0 {
			p.Patterns[i].HexAtom = nil
		}
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	data, err := Encode(&compiler.Program{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[0] = 0xff // corrupt the version tag's low byte

	if _, err := Decode(data); err == nil {
		t.Fatal("Decode: expected error for corrupted version tag, got nil")
	}
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	prog := &compiler.Program{
		Strings: []string{"hello"},
		Rules:   []compiler.CompiledRule{{Name: "r", Code: []compiler.Instruction{{Op: compiler.OpHalt}}}},
	}
	data, err := Encode(prog)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Fatal("Decode: expected error for truncated data, got nil")
	}
}
