package vm

import (
	"strings"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/value"
)

// evalBinary implements every two-operand opcode except the short-circuit
// and/or (which the compiler realizes purely through jump placement, never
// as an instruction) and is-defined. Any Undefined operand propagates to an
// Undefined result, per spec.md §4.5: only module-call failures and budget
// limits raise actual errors, not ordinary missing values.
func evalBinary(op compiler.Op, a, b value.Value) value.Value {
	switch op {
	case compiler.OpStrContains, compiler.OpStrIContains, compiler.OpStrStartsWith, compiler.OpStrIStartsWith,
		compiler.OpStrEndsWith, compiler.OpStrIEndsWith, compiler.OpStrIEquals:
		return evalStringOp(op, a, b)
	case compiler.OpEq, compiler.OpNe:
		return evalEquality(op, a, b)
	}

	if a.IsUndefined() || b.IsUndefined() {
		return value.Undefined
	}

	switch op {
	case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod:
		return evalArith(op, a, b)
	case compiler.OpBAnd, compiler.OpBOr, compiler.OpBXor, compiler.OpShl, compiler.OpShr:
		return evalBitwise(op, a, b)
	case compiler.OpLt, compiler.OpLe, compiler.OpGt, compiler.OpGe:
		return evalOrder(op, a, b)
	default:
		return value.Undefined
	}
}

func evalArith(op compiler.Op, a, b value.Value) value.Value {
	if a.Kind == value.KindInt && b.Kind == value.KindInt {
		switch op {
		case compiler.OpAdd:
			return value.Int(a.I + b.I)
		case compiler.OpSub:
			return value.Int(a.I - b.I)
		case compiler.OpMul:
			return value.Int(a.I * b.I)
		case compiler.OpDiv:
			if b.I == 0 {
				return value.Undefined
			}
			return value.Int(a.I / b.I)
		case compiler.OpMod:
			if b.I == 0 {
				return value.Undefined
			}
			return value.Int(a.I % b.I)
		}
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return value.Undefined
	}
	switch op {
	case compiler.OpAdd:
		return value.Float(af + bf)
	case compiler.OpSub:
		return value.Float(af - bf)
	case compiler.OpMul:
		return value.Float(af * bf)
	case compiler.OpDiv:
		if bf == 0 {
			return value.Undefined
		}
		return value.Float(af / bf)
	default:
		return value.Undefined
	}
}

func evalBitwise(op compiler.Op, a, b value.Value) value.Value {
	if a.Kind != value.KindInt || b.Kind != value.KindInt {
		return value.Undefined
	}
	switch op {
	case compiler.OpBAnd:
		return value.Int(a.I & b.I)
	case compiler.OpBOr:
		return value.Int(a.I | b.I)
	case compiler.OpBXor:
		return value.Int(a.I ^ b.I)
	case compiler.OpShl:
		return value.Int(a.I << uint(b.I))
	case compiler.OpShr:
		return value.Int(a.I >> uint(b.I))
	default:
		return value.Undefined
	}
}

func evalOrder(op compiler.Op, a, b value.Value) value.Value {
	if a.Kind == value.KindString && b.Kind == value.KindString {
		switch op {
		case compiler.OpLt:
			return value.Bool(a.S < b.S)
		case compiler.OpLe:
			return value.Bool(a.S <= b.S)
		case compiler.OpGt:
			return value.Bool(a.S > b.S)
		case compiler.OpGe:
			return value.Bool(a.S >= b.S)
		}
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return value.Undefined
	}
	switch op {
	case compiler.OpLt:
		return value.Bool(af < bf)
	case compiler.OpLe:
		return value.Bool(af <= bf)
	case compiler.OpGt:
		return value.Bool(af > bf)
	case compiler.OpGe:
		return value.Bool(af >= bf)
	default:
		return value.Undefined
	}
}

func evalEquality(op compiler.Op, a, b value.Value) value.Value {
	if a.IsUndefined() || b.IsUndefined() {
		eq := a.IsUndefined() && b.IsUndefined()
		if op == compiler.OpNe {
			eq = !eq
		}
		return value.Bool(eq)
	}
	var eq bool
	switch {
	case a.Kind == value.KindString && b.Kind == value.KindString:
		eq = a.S == b.S
	case a.Kind == value.KindBool && b.Kind == value.KindBool:
		eq = a.B == b.B
	default:
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if !aok || !bok {
			return value.Bool(false)
		}
		eq = af == bf
	}
	if op == compiler.OpNe {
		eq = !eq
	}
	return value.Bool(eq)
}

func evalStringOp(op compiler.Op, a, b value.Value) value.Value {
	if a.Kind != value.KindString || b.Kind != value.KindString {
		return value.Undefined
	}
	s, t := a.S, b.S
	switch op {
	case compiler.OpStrContains:
		return value.Bool(strings.Contains(s, t))
	case compiler.OpStrIContains:
		return value.Bool(strings.Contains(strings.ToLower(s), strings.ToLower(t)))
	case compiler.OpStrStartsWith:
		return value.Bool(strings.HasPrefix(s, t))
	case compiler.OpStrIStartsWith:
		return value.Bool(strings.HasPrefix(strings.ToLower(s), strings.ToLower(t)))
	case compiler.OpStrEndsWith:
		return value.Bool(strings.HasSuffix(s, t))
	case compiler.OpStrIEndsWith:
		return value.Bool(strings.HasSuffix(strings.ToLower(s), strings.ToLower(t)))
	case compiler.OpStrIEquals:
		return value.Bool(strings.EqualFold(s, t))
	default:
		return value.Undefined
	}
}

func evalNeg(v value.Value) value.Value {
	switch v.Kind {
	case value.KindInt:
		return value.Int(-v.I)
	case value.KindFloat:
		return value.Float(-v.F)
	default:
		return value.Undefined
	}
}

func evalBNot(v value.Value) value.Value {
	if v.Kind != value.KindInt {
		return value.Undefined
	}
	return value.Int(^v.I)
}

// evalOf implements the statically-enumerable quantifiers (all/any/none/
// count/percent of <set>). members are the N Bool results OpMatch (or a
// compiled arbitrary boolean expression) pushed for each set member;
// Undefined members count as not-matched, matching YARA's treatment of a
// quantifier over an unresolvable member as simply not satisfied rather than
// an error.
func evalOf(op compiler.Op, members []value.Value, threshold value.Value) value.Value {
	matched := 0
	for _, m := range members {
		if m.Truthy() {
			matched++
		}
	}
	n := len(members)
	switch op {
	case compiler.OpOfAll:
		return value.Bool(matched == n)
	case compiler.OpOfAny:
		return value.Bool(matched > 0)
	case compiler.OpOfNone:
		return value.Bool(matched == 0)
	case compiler.OpOfCount:
		if threshold.Kind != value.KindInt {
			return value.Undefined
		}
		return value.Bool(int64(matched) >= threshold.I)
	case compiler.OpOfPercent:
		if threshold.Kind != value.KindInt {
			return value.Undefined
		}
		need := (int64(n)*threshold.I + 99) / 100
		return value.Bool(int64(matched) >= need)
	default:
		return value.Undefined
	}
}
