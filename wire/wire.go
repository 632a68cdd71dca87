// Package wire serializes a compiled compiler.Program to and from a stable
// binary form, per spec.md's "compiled program serialization" interface: a
// version tag, the instruction stream, the string table, the pattern table,
// the rule table, and the import list, in that order, little-endian,
// length-prefixed UTF-8 for every identifier string. Built on stdlib
// encoding/binary alone (see DESIGN.md): the teacher carries no
// serialization format at all, so this package has no teacher file to adapt
// and instead follows the same plain binary.Write/Read idiom modules/pe.go
// uses to read PE headers, just applied to writing instead of reading.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/value"
)

// Version is the wire format's version tag. Decode refuses to read a
// program written by any other version.
const Version uint32 = 1

// Encode serializes prog into its binary wire form.
func Encode(prog *compiler.Program) ([]byte, error) {
	w := &writer{buf: &bytes.Buffer{}}
	w.u32(Version)

	// Flatten every rule's Code into one instruction stream; each rule
	// records its own (start, len) span into it, per spec.md's wire layout.
	var code []compiler.Instruction
	spans := make([][2]uint32, len(prog.Rules))
	for i, r := range prog.Rules {
		spans[i] = [2]uint32{uint32(len(code)), uint32(len(r.Code))}
		code = append(code, r.Code...)
	}

	w.u32(uint32(len(code)))
	for _, ins := range code {
		w.instruction(ins)
	}

	w.u32(uint32(len(prog.Strings)))
	for _, s := range prog.Strings {
		w.str(s)
	}

	w.u32(uint32(len(prog.Patterns)))
	for _, p := range prog.Patterns {
		w.pattern(p)
	}

	w.u32(uint32(len(prog.Regexes)))
	for _, rl := range prog.Regexes {
		w.str(rl.Source)
		w.boolean(rl.CaseInsensitive)
		w.boolean(rl.Dotall)
	}

	w.u32(uint32(len(prog.Rules)))
	for i, r := range prog.Rules {
		w.str(r.Name)
		w.u32(uint32(len(r.Tags)))
		for _, t := range r.Tags {
			w.str(t)
		}
		w.u32(uint32(len(r.Meta)))
		for _, m := range r.Meta {
			w.str(m.Name)
			w.value(m.Value)
		}
		w.boolean(r.Global)
		w.boolean(r.Private)
		w.u32(uint32(len(r.StringGroups)))
		for _, g := range r.StringGroups {
			w.str(g.Name)
			w.u32(uint32(len(g.PatternIds)))
			for _, id := range g.PatternIds {
				w.i32(int32(id))
			}
			w.boolean(g.Private)
		}
		w.u32(spans[i][0])
		w.u32(spans[i][1])
		w.i32(int32(r.NumSlots))
	}

	w.u32(uint32(len(prog.Imports)))
	for _, imp := range prog.Imports {
		w.str(imp)
	}

	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Decode parses the wire form produced by Encode back into an equivalent
// Program: every Rule, Pattern, RegexLiteral, string and import round-trips,
// and each rule's Code is reassembled from its recorded span in the shared
// instruction stream.
func Decode(data []byte) (*compiler.Program, error) {
	r := &reader{buf: bytes.NewReader(data)}

	if v := r.u32(); v != Version {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("wire: unsupported version %d (want %d)", v, Version)
	}

	codeLen := r.u32()
	code := make([]compiler.Instruction, codeLen)
	for i := range code {
		code[i] = r.instruction()
	}

	numStrings := r.u32()
	strs := make([]string, numStrings)
	for i := range strs {
		strs[i] = r.str()
	}

	numPatterns := r.u32()
	patterns := make([]compiler.Pattern, numPatterns)
	for i := range patterns {
		patterns[i] = r.pattern()
	}

	numRegexes := r.u32()
	regexes := make([]compiler.RegexLiteral, numRegexes)
	for i := range regexes {
		regexes[i].Source = r.str()
		regexes[i].CaseInsensitive = r.boolean()
		regexes[i].Dotall = r.boolean()
	}

	numRules := r.u32()
	rules := make([]compiler.CompiledRule, numRules)
	for i := range rules {
		rules[i].Name = r.str()
		rules[i].Tags = make([]string, r.u32())
		for j := range rules[i].Tags {
			rules[i].Tags[j] = r.str()
		}
		rules[i].Meta = make([]compiler.MetaEntry, r.u32())
		for j := range rules[i].Meta {
			rules[i].Meta[j].Name = r.str()
			rules[i].Meta[j].Value = r.value()
		}
		rules[i].Global = r.boolean()
		rules[i].Private = r.boolean()
		rules[i].StringGroups = make([]compiler.StringGroup, r.u32())
		for j := range rules[i].StringGroups {
			g := &rules[i].StringGroups[j]
			g.Name = r.str()
			g.PatternIds = make([]compiler.PatternId, r.u32())
			for k := range g.PatternIds {
				g.PatternIds[k] = compiler.PatternId(r.i32())
			}
			g.Private = r.boolean()
		}
		start, length := r.u32(), r.u32()
		if r.err == nil {
			if uint64(start)+uint64(length) > uint64(len(code)) {
				r.err = fmt.Errorf("wire: rule %q code span [%d:%d] out of bounds (stream len %d)", rules[i].Name, start, start+length, len(code))
			} else {
				rules[i].Code = code[start : start+length]
			}
		}
		rules[i].NumSlots = int(r.i32())
	}

	numImports := r.u32()
	imports := make([]string, numImports)
	for i := range imports {
		imports[i] = r.str()
	}

	if r.err != nil {
		return nil, r.err
	}
	return &compiler.Program{
		Rules:    rules,
		Patterns: patterns,
		Regexes:  regexes,
		Strings:  strs,
		Imports:  imports,
	}, nil
}

// writer accumulates wire bytes, sticking the first error encountered so
// call sites can ignore per-field errors and check once at the end.
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, w.err = w.buf.Write(b[:])
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) i64(v int64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, w.err = w.buf.Write(b[:])
}

func (w *writer) f64(v float64) { w.i64(int64(math.Float64bits(v))) }

func (w *writer) byt(v byte) {
	if w.err != nil {
		return
	}
	w.err = w.buf.WriteByte(v)
}

func (w *writer) boolean(v bool) {
	if v {
		w.byt(1)
	} else {
		w.byt(0)
	}
}

func (w *writer) bytes(v []byte) {
	w.u32(uint32(len(v)))
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(v)
}

func (w *writer) str(s string) { w.bytes([]byte(s)) }

func (w *writer) instruction(ins compiler.Instruction) {
	w.byt(byte(ins.Op))
	w.i64(ins.Int)
	w.f64(ins.Float)
	w.i32(int32(ins.Str))
	w.i32(int32(ins.A))
	w.i32(int32(ins.B))
}

func (w *writer) pattern(p compiler.Pattern) {
	w.i32(int32(p.ID))
	w.str(p.RuleName)
	w.str(p.StringName)
	w.byt(byte(p.Kind))
	w.bytes(p.Literal)
	w.boolean(p.Nocase)
	w.boolean(p.Wide)
	w.boolean(p.Fullword)
	w.str(p.RegexSrc)
	w.hexTokens(p.HexTokens)
	w.bytes(p.HexAtom)
	w.i32(int32(p.MaxMatchLen))
	w.byt(p.XorKey)
	w.boolean(p.HasXorKey)
}

func (w *writer) hexTokens(toks []ast.HexToken) {
	w.u32(uint32(len(toks)))
	for _, t := range toks {
		w.hexToken(t)
	}
}

const (
	hexTagByte = iota
	hexTagWildcard
	hexTagHighNibble
	hexTagLowNibble
	hexTagJump
	hexTagAlternation
)

func (w *writer) hexToken(t ast.HexToken) {
	switch v := t.(type) {
	case ast.HexByte:
		w.byt(hexTagByte)
		w.byt(v.Value)
	case ast.HexWildcard:
		w.byt(hexTagWildcard)
	case ast.HexHighNibble:
		w.byt(hexTagHighNibble)
		w.byt(v.High)
	case ast.HexLowNibble:
		w.byt(hexTagLowNibble)
		w.byt(v.Low)
	case ast.HexJump:
		w.byt(hexTagJump)
		w.optInt(v.Min)
		w.optInt(v.Max)
	case ast.HexAlternation:
		w.byt(hexTagAlternation)
		w.u32(uint32(len(v.Alternatives)))
		for _, alt := range v.Alternatives {
			w.hexTokens(alt)
		}
	default:
		if w.err == nil {
			w.err = fmt.Errorf("wire: unknown hex token type %T", t)
		}
	}
}

func (w *writer) optInt(p *int) {
	if p == nil {
		w.boolean(false)
		return
	}
	w.boolean(true)
	w.i32(int32(*p))
}

func (w *writer) value(v value.Value) {
	w.byt(byte(v.Kind))
	switch v.Kind {
	case value.KindBool:
		w.boolean(v.B)
	case value.KindInt:
		w.i64(v.I)
	case value.KindFloat:
		w.f64(v.F)
	case value.KindString:
		w.str(v.S)
	}
}

// reader mirrors writer: every field read is checked against a sticky error
// so callers only need to check r.err once, after the whole decode.
type reader struct {
	buf *bytes.Reader
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, r.err = readFull(r.buf, b[:]); r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, r.err = readFull(r.buf, b[:]); r.err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (r *reader) f64() float64 { return math.Float64frombits(uint64(r.i64())) }

func (r *reader) byt() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.buf.ReadByte()
	if err != nil {
		r.err = err
		return 0
	}
	return b
}

func (r *reader) boolean() bool { return r.byt() != 0 }

func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, r.err = readFull(r.buf, b); r.err != nil {
		return nil
	}
	return b
}

func (r *reader) str() string { return string(r.bytes()) }

func (r *reader) instruction() compiler.Instruction {
	var ins compiler.Instruction
	ins.Op = compiler.Op(r.byt())
	ins.Int = r.i64()
	ins.Float = r.f64()
	ins.Str = int(r.i32())
	ins.A = int(r.i32())
	ins.B = int(r.i32())
	return ins
}

func (r *reader) pattern() compiler.Pattern {
	var p compiler.Pattern
	p.ID = compiler.PatternId(r.i32())
	p.RuleName = r.str()
	p.StringName = r.str()
	p.Kind = compiler.PatternKind(r.byt())
	p.Literal = r.bytes()
	p.Nocase = r.boolean()
	p.Wide = r.boolean()
	p.Fullword = r.boolean()
	p.RegexSrc = r.str()
	p.HexTokens = r.hexTokens()
	p.HexAtom = r.bytes()
	p.MaxMatchLen = int(r.i32())
	p.XorKey = r.byt()
	p.HasXorKey = r.boolean()
	return p
}

func (r *reader) hexTokens() []ast.HexToken {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	toks := make([]ast.HexToken, n)
	for i := range toks {
		toks[i] = r.hexToken()
	}
	return toks
}

func (r *reader) hexToken() ast.HexToken {
	tag := r.byt()
	switch tag {
	case hexTagByte:
		return ast.HexByte{Value: r.byt()}
	case hexTagWildcard:
		return ast.HexWildcard{}
	case hexTagHighNibble:
		return ast.HexHighNibble{High: r.byt()}
	case hexTagLowNibble:
		return ast.HexLowNibble{Low: r.byt()}
	case hexTagJump:
		return ast.HexJump{Min: r.optInt(), Max: r.optInt()}
	case hexTagAlternation:
		n := r.u32()
		alts := make([][]ast.HexToken, n)
		for i := range alts {
			alts[i] = r.hexTokens()
		}
		return ast.HexAlternation{Alternatives: alts}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("wire: unknown hex token tag %d", tag)
		}
		return nil
	}
}

func (r *reader) optInt() *int {
	if !r.boolean() {
		return nil
	}
	v := int(r.i32())
	return &v
}

func (r *reader) value() value.Value {
	kind := value.Kind(r.byt())
	switch kind {
	case value.KindBool:
		return value.Bool(r.boolean())
	case value.KindInt:
		return value.Int(r.i64())
	case value.KindFloat:
		return value.Float(r.f64())
	case value.KindString:
		return value.Str(r.str())
	default:
		return value.Undefined
	}
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err == nil && n < len(b) {
		return n, fmt.Errorf("wire: unexpected end of data")
	}
	return n, err
}
