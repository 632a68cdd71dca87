// Package vm executes compiler.CompiledRule bytecode against one scanned
// subject. The teacher has no bytecode machine at all (scanner/condeval.go
// walks the AST directly), so this package is new relative to the teacher;
// its shape — a stack machine with explicit instruction/stack/time budgets
// reported as typed errors — is grounded in the errs package's RuntimeLimit
// kinds and the instruction inventory compiler/bytecode.go defines.
package vm

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/modules"
	"github.com/corvid-labs/yaracore/value"
)

// Regexer evaluates a `matches /regex/` condition against an arbitrary
// runtime string value. The VM depends only on this interface so it never
// needs to import the matcher package (which owns the actual RE2 engine),
// avoiding a vm->matcher->compiler->vm import cycle.
type Regexer interface {
	MatchString(pattern string, caseInsensitive, dotall bool, subject string) (bool, error)
}

// Limits bounds one rule's evaluation. Zero values mean "no limit" except
// MaxInstructions/MaxStackDepth, whose zero value would make every rule
// fail instantly; callers should use DefaultLimits or set explicit values.
type Limits struct {
	MaxInstructions int64
	MaxStackDepth   int
	Deadline        time.Time
}

// DefaultLimits mirrors the budgets a single-rule evaluation realistically
// needs: generous enough for deeply nested conditions and bounded for-loops,
// tight enough to bound a pathological or adversarial rule.
var DefaultLimits = Limits{
	MaxInstructions: 1_000_000,
	MaxStackDepth:   4096,
}

// ScanContext is everything a rule's condition can observe about the
// subject currently being scanned.
type ScanContext struct {
	Subject    []byte
	Filesize   int64
	Entrypoint *int64
	Matches    map[compiler.PatternId][]compiler.Match
	Modules    *modules.Registry
	Regex      Regexer
	Cancel     <-chan struct{}

	// Strings/Regexes back OpPushStr/OpStrMatchesRegex; they are the same
	// pools compiler.Program built, shared read-only across every rule in
	// one scan rather than copied per rule.
	Strings []string
	Regexes []compiler.RegexLiteral
}

// Machine evaluates compiled rules under a fixed set of limits.
type Machine struct {
	Limits Limits
}

// New constructs a Machine with the given limits.
func New(limits Limits) *Machine {
	return &Machine{Limits: limits}
}

// EvalRule executes rule's condition bytecode and reports whether it
// matched. A RuntimeLimit error (other than ScanTimeout/ScanCanceled, which
// the caller should treat as aborting the whole scan) means this rule
// alone evaluates to false, per spec.md §4.5.
func (m *Machine) EvalRule(rule *compiler.CompiledRule, ctx *ScanContext) (bool, error) {
	st := &frame{
		rule:  rule,
		ctx:   ctx,
		slots: make([]value.Value, rule.NumSlots),
	}
	return st.run(m.Limits)
}

type frame struct {
	rule  *compiler.CompiledRule
	ctx   *ScanContext
	stack []value.Value
	slots []value.Value
}

func (f *frame) push(v value.Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() value.Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) peek() value.Value { return f.stack[len(f.stack)-1] }

func (f *frame) run(limits Limits) (bool, error) {
	code := f.rule.Code
	var instrCount int64
	pc := 0
	for {
		if pc < 0 || pc >= len(code) {
			return false, &errs.RuntimeLimit{RuleName: f.rule.Name, Reason: "program counter escaped rule body"}
		}
		instrCount++
		if limits.MaxInstructions > 0 && instrCount > limits.MaxInstructions {
			return false, &errs.RuntimeLimit{Kind: errs.InstructionBudget, RuleName: f.rule.Name, Reason: "instruction budget exceeded"}
		}
		if limits.MaxStackDepth > 0 && len(f.stack) > limits.MaxStackDepth {
			return false, &errs.RuntimeLimit{Kind: errs.StackDepthLimit, RuleName: f.rule.Name, Reason: "stack depth limit exceeded"}
		}
		if f.ctx.Cancel != nil {
			select {
			case <-f.ctx.Cancel:
				return false, &errs.RuntimeLimit{Kind: errs.ScanCanceled, RuleName: f.rule.Name, Reason: "scan canceled"}
			default:
			}
		}
		if !limits.Deadline.IsZero() && time.Now().After(limits.Deadline) {
			return false, &errs.RuntimeLimit{Kind: errs.ScanTimeout, RuleName: f.rule.Name, Reason: "scan deadline exceeded"}
		}

		ins := code[pc]
		switch ins.Op {
		case compiler.OpHalt:
			return f.pop().Truthy(), nil

		case compiler.OpNop:

		case compiler.OpPop:
			f.pop()

		case compiler.OpDup:
			f.push(f.peek())

		case compiler.OpSwap:
			a, b := f.pop(), f.pop()
			f.push(a)
			f.push(b)

		case compiler.OpPushBool:
			f.push(value.Bool(ins.Int != 0))

		case compiler.OpPushInt:
			f.push(value.Int(ins.Int))

		case compiler.OpPushFloat:
			f.push(value.Float(ins.Float))

		case compiler.OpPushStr:
			f.push(value.Str(f.ctx.Strings[ins.Str]))

		case compiler.OpPushUndef:
			f.push(value.Undefined)

		case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod,
			compiler.OpBAnd, compiler.OpBOr, compiler.OpBXor, compiler.OpShl, compiler.OpShr,
			compiler.OpEq, compiler.OpNe, compiler.OpLt, compiler.OpLe, compiler.OpGt, compiler.OpGe,
			compiler.OpStrContains, compiler.OpStrIContains, compiler.OpStrStartsWith, compiler.OpStrIStartsWith,
			compiler.OpStrEndsWith, compiler.OpStrIEndsWith, compiler.OpStrIEquals:
			b, a := f.pop(), f.pop()
			f.push(evalBinary(ins.Op, a, b))

		case compiler.OpNeg:
			f.push(evalNeg(f.pop()))

		case compiler.OpBNot:
			f.push(evalBNot(f.pop()))

		case compiler.OpNot:
			v := f.pop()
			if v.IsUndefined() {
				f.push(value.Undefined)
			} else {
				f.push(value.Bool(!v.Truthy()))
			}

		case compiler.OpIsDefined:
			f.push(value.Bool(!f.pop().IsUndefined()))

		case compiler.OpStrMatchesRegex:
			subj := f.pop()
			f.push(f.evalMatches(ins.Str, subj))

		case compiler.OpMatch:
			f.push(value.Bool(f.groupHasMatch(ins.Int)))

		case compiler.OpCount:
			f.push(value.Int(f.groupMatchCount(ins.Int)))

		case compiler.OpAt:
			off := f.pop()
			f.push(f.groupHasMatchAt(ins.Int, off))

		case compiler.OpIn:
			hi, lo := f.pop(), f.pop()
			f.push(f.groupHasMatchIn(ins.Int, lo, hi))

		case compiler.OpOffset:
			f.push(f.groupNth(ins.Int, f.pop(), false))

		case compiler.OpLength:
			f.push(f.groupNth(ins.Int, f.pop(), true))

		case compiler.OpOfAll, compiler.OpOfAny, compiler.OpOfNone:
			n := int(ins.Int)
			f.push(evalOf(ins.Op, f.popN(n), value.Undefined))

		case compiler.OpOfCount, compiler.OpOfPercent:
			n := int(ins.Int)
			members := f.popN(n)
			threshold := f.pop()
			f.push(evalOf(ins.Op, members, threshold))

		case compiler.OpFilesize:
			f.push(value.Int(f.ctx.Filesize))

		case compiler.OpEntrypoint:
			if f.ctx.Entrypoint == nil {
				f.push(value.Undefined)
			} else {
				f.push(value.Int(*f.ctx.Entrypoint))
			}

		case compiler.OpUint8, compiler.OpUint16, compiler.OpUint32, compiler.OpUint16BE, compiler.OpUint32BE,
			compiler.OpInt8, compiler.OpInt16, compiler.OpInt32, compiler.OpInt16BE, compiler.OpInt32BE:
			off := f.pop()
			f.push(readBuiltinInt(ins.Op, f.ctx.Subject, off))

		case compiler.OpJump:
			pc = int(ins.Int)
			continue

		case compiler.OpJumpIfFalse:
			if !f.peek().Truthy() {
				pc = int(ins.Int)
				continue
			}

		case compiler.OpJumpIfTrue:
			if f.peek().Truthy() {
				pc = int(ins.Int)
				continue
			}

		case compiler.OpCall:
			args := f.popN(int(ins.Int))
			v, _ := f.ctx.Modules.Call(&modules.CallContext{
				Subject: f.ctx.Subject, Filesize: f.ctx.Filesize, Entrypoint: f.ctx.Entrypoint,
			}, ins.A, ins.B, args)
			f.push(v)

		case compiler.OpLoadVar:
			f.push(f.slots[ins.Int])

		case compiler.OpStoreVar:
			f.slots[ins.Int] = f.pop()

		default:
			return false, &errs.RuntimeLimit{RuleName: f.rule.Name, Reason: "unimplemented opcode " + ins.Op.String()}
		}
		pc++
	}
}

// popN pops n values in original push order (reversing the LIFO pop order).
func (f *frame) popN(n int) []value.Value {
	out := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.pop()
	}
	return out
}

func (f *frame) evalMatches(regexIdx int, subj value.Value) value.Value {
	if subj.Kind != value.KindString || f.ctx.Regex == nil {
		return value.Undefined
	}
	re := f.ctx.Regexes[regexIdx]
	ok, err := f.ctx.Regex.MatchString(re.Source, re.CaseInsensitive, re.Dotall, subj.S)
	if err != nil {
		return value.Undefined
	}
	return value.Bool(ok)
}

func (f *frame) groupMatches(groupIdx int64) []compiler.Match {
	group := f.rule.StringGroups[groupIdx]
	var out []compiler.Match
	for _, pid := range group.PatternIds {
		out = append(out, f.ctx.Matches[pid]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (f *frame) groupHasMatch(groupIdx int64) bool {
	group := f.rule.StringGroups[groupIdx]
	for _, pid := range group.PatternIds {
		if len(f.ctx.Matches[pid]) > 0 {
			return true
		}
	}
	return false
}

func (f *frame) groupMatchCount(groupIdx int64) int64 {
	group := f.rule.StringGroups[groupIdx]
	var n int64
	for _, pid := range group.PatternIds {
		n += int64(len(f.ctx.Matches[pid]))
	}
	return n
}

func (f *frame) groupHasMatchAt(groupIdx int64, off value.Value) value.Value {
	if off.Kind != value.KindInt {
		return value.Undefined
	}
	for _, m := range f.groupMatches(groupIdx) {
		if m.Offset == off.I {
			return value.Bool(true)
		}
	}
	return value.Bool(false)
}

func (f *frame) groupHasMatchIn(groupIdx int64, lo, hi value.Value) value.Value {
	if lo.Kind != value.KindInt || hi.Kind != value.KindInt {
		return value.Undefined
	}
	for _, m := range f.groupMatches(groupIdx) {
		if m.Offset >= lo.I && m.Offset <= hi.I {
			return value.Bool(true)
		}
	}
	return value.Bool(false)
}

func (f *frame) groupNth(groupIdx int64, idx value.Value, wantLength bool) value.Value {
	if idx.Kind != value.KindInt || idx.I < 1 {
		return value.Undefined
	}
	matches := f.groupMatches(groupIdx)
	if int(idx.I) > len(matches) {
		return value.Undefined
	}
	m := matches[idx.I-1]
	if wantLength {
		return value.Int(int64(m.Length))
	}
	return value.Int(m.Offset)
}

func readBuiltinInt(op compiler.Op, subject []byte, off value.Value) value.Value {
	if off.Kind != value.KindInt || off.I < 0 {
		return value.Undefined
	}
	o := int(off.I)
	need := map[compiler.Op]int{
		compiler.OpUint8: 1, compiler.OpInt8: 1,
		compiler.OpUint16: 2, compiler.OpUint16BE: 2, compiler.OpInt16: 2, compiler.OpInt16BE: 2,
		compiler.OpUint32: 4, compiler.OpUint32BE: 4, compiler.OpInt32: 4, compiler.OpInt32BE: 4,
	}[op]
	if o+need > len(subject) {
		return value.Undefined
	}
	switch op {
	case compiler.OpUint8:
		return value.Int(int64(subject[o]))
	case compiler.OpInt8:
		return value.Int(int64(int8(subject[o])))
	case compiler.OpUint16:
		return value.Int(int64(binary.LittleEndian.Uint16(subject[o:])))
	case compiler.OpUint16BE:
		return value.Int(int64(binary.BigEndian.Uint16(subject[o:])))
	case compiler.OpInt16:
		return value.Int(int64(int16(binary.LittleEndian.Uint16(subject[o:]))))
	case compiler.OpInt16BE:
		return value.Int(int64(int16(binary.BigEndian.Uint16(subject[o:]))))
	case compiler.OpUint32:
		return value.Int(int64(binary.LittleEndian.Uint32(subject[o:])))
	case compiler.OpUint32BE:
		return value.Int(int64(binary.BigEndian.Uint32(subject[o:])))
	case compiler.OpInt32:
		return value.Int(int64(int32(binary.LittleEndian.Uint32(subject[o:]))))
	case compiler.OpInt32BE:
		return value.Int(int64(int32(binary.BigEndian.Uint32(subject[o:]))))
	default:
		return value.Undefined
	}
}
