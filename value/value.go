// Package value defines the VM's runtime value sum type: the five-member
// {Undefined, Bool, Int, Float, String} union spec.md §4.5 requires, shared
// by the compiler (constant operands), the VM (stack cells), and module
// functions (arguments and return values) so none of them need to
// re-declare it. The teacher's scanner/condeval.go has no equivalent (it
// evaluates straight to Go bool/int64), so this is new relative to the
// teacher, sized to what the bytecode VM needs; a plain tagged struct is
// the idiomatic Go shape, no library fits a five-case closed sum type this
// small.
package value

import "fmt"

// Kind tags which field of a Value is live.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is the VM stack cell / module argument-and-return type.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
}

// Undefined is the zero Value; spelled out for readability at call sites.
var Undefined = Value{Kind: KindUndefined}

func Bool(b bool) Value     { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value     { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }
func Str(s string) Value    { return Value{Kind: KindString, S: s} }

// IsUndefined reports whether v carries no value.
func (v Value) IsUndefined() bool { return v.Kind == KindUndefined }

// Truthy coerces v to a boolean per spec.md §4.5: Undefined is false; Bool
// is itself; Int/Float are non-zero; String is non-empty.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return v.S != ""
	default:
		return false
	}
}

// AsFloat returns v's value widened to float64, and whether v was numeric
// (Int or Float). Used by arithmetic ops to realize "mixing Int and Float
// promotes to Float" (spec.md §4.5).
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindUndefined:
		return "undefined"
	case KindBool:
		return fmt.Sprintf("%v", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindString:
		return v.S
	default:
		return "?"
	}
}
