package compiler

import "fmt"

// Op is a bytecode opcode, per spec.md §3's instruction inventory.
type Op uint8

const (
	OpNop Op = iota
	OpHalt
	OpPop
	OpDup
	OpSwap

	OpPushBool
	OpPushInt
	OpPushFloat
	OpPushStr
	OpPushUndef

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	OpBAnd
	OpBOr
	OpBXor
	OpBNot
	OpShl
	OpShr

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// OpNot is the boolean logical negation ("not x"). There is no OpAnd/
	// OpOr counterpart: per spec.md §4.5 and §9, short-circuit and/or are
	// realized entirely through OpJumpIfFalse/OpJumpIfTrue placement by the
	// compiler, never as an eagerly-evaluating binary instruction.
	OpNot

	// OpIsDefined pops a value and pushes Bool(kind != Undefined); it backs
	// the `defined <expr>` operator, which must observe Undefined without
	// itself propagating it.
	OpIsDefined

	// String-comparison operators (contains/startswith/endswith/iequals and
	// their case-insensitive variants) pop two strings and push a Bool.
	OpStrContains
	OpStrIContains
	OpStrStartsWith
	OpStrIStartsWith
	OpStrEndsWith
	OpStrIEndsWith
	OpStrIEquals
	// OpStrMatchesRegex pops a subject string, tests it against the regex
	// literal recorded at Program.Regexes[Instruction.Str], pushes Bool.
	// This backs the `<expr> matches /regex/` AST node (a dynamic regex
	// test against an arbitrary string value), distinct from a declared
	// $pattern of kind Regex, which the Matcher pre-scans instead.
	OpStrMatchesRegex

	// String-match ops, keyed by a per-rule string-group index (Instruction.Int),
	// aggregating over every PatternId that backs the named $string (e.g. the
	// ascii+wide pair minted for a `wide ascii` modifier combination).
	OpMatch  // push Bool(group has >=1 match)
	OpAt     // pop offset:Int, push Bool(group has a match at that offset)
	OpIn     // pop hi:Int, lo:Int, push Bool(group has a match with lo<=offset<=hi)
	OpCount  // push Int(number of matches in group)
	OpOffset // pop index:Int(1-based), push Int offset or Undefined
	OpLength // pop index:Int(1-based), push Int length or Undefined

	// Quantifiers over a statically enumerable pattern-group set: the N
	// members (each a Bool pushed by OpMatch) are pushed immediately before
	// the op; Instruction.Int carries N. OpOfCount/OpOfPercent additionally
	// expect the threshold value pushed once, below the N members (so it is
	// popped last, after all N member values have been popped).
	OpOfAll
	OpOfAny
	OpOfNone
	OpOfCount
	OpOfPercent

	OpFilesize
	OpEntrypoint
	OpUint8
	OpUint16
	OpUint32
	OpUint16BE
	OpUint32BE
	OpInt8
	OpInt16
	OpInt32
	OpInt16BE
	OpInt32BE

	// Control flow. Jump targets are absolute instruction indices within the
	// containing rule's code span. JumpIfFalse/JumpIfTrue PEEK the top of
	// stack (they never pop): the short-circuit `and`/`or` templates rely on
	// the tested value surviving the jump so it can serve as the expression's
	// result; any other use (e.g. for-loop condition checks) must emit an
	// explicit OpPop on the path(s) where the value isn't the desired result.
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue

	// OpCall dispatches a module function: A=module index, B=function index,
	// Int=arity (number of args to pop, in reverse push order).
	OpCall

	// Local variable slots, scoped to one rule's activation, backing for-loop
	// induction variables and bookkeeping (tally/total/bounds).
	OpLoadVar
	OpStoreVar
)

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", op)
}

var opNames = map[Op]string{
	OpNop: "nop", OpHalt: "halt", OpPop: "pop", OpDup: "dup", OpSwap: "swap",
	OpPushBool: "push.bool", OpPushInt: "push.int", OpPushFloat: "push.float",
	OpPushStr: "push.str", OpPushUndef: "push.undef",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpNeg: "neg",
	OpBAnd: "band", OpBOr: "bor", OpBXor: "bxor", OpBNot: "bnot", OpShl: "shl", OpShr: "shr",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpNot:             "not",
	OpIsDefined:       "is_defined",
	OpStrContains:     "str.contains",
	OpStrIContains:    "str.icontains",
	OpStrStartsWith:   "str.startswith",
	OpStrIStartsWith:  "str.istartswith",
	OpStrEndsWith:     "str.endswith",
	OpStrIEndsWith:    "str.iendswith",
	OpStrIEquals:      "str.iequals",
	OpStrMatchesRegex: "str.matches",
	OpMatch:           "match", OpAt: "at", OpIn: "in", OpCount: "count",
	OpOffset: "offset", OpLength: "length",
	OpOfAll: "of.all", OpOfAny: "of.any", OpOfNone: "of.none",
	OpOfCount: "of.count", OpOfPercent: "of.percent",
	OpFilesize: "filesize", OpEntrypoint: "entrypoint",
	OpUint8: "uint8", OpUint16: "uint16", OpUint32: "uint32",
	OpUint16BE: "uint16be", OpUint32BE: "uint32be",
	OpInt8: "int8", OpInt16: "int16", OpInt32: "int32",
	OpInt16BE: "int16be", OpInt32BE: "int32be",
	OpJump: "jump", OpJumpIfFalse: "jump_if_false", OpJumpIfTrue: "jump_if_true",
	OpCall: "call", OpLoadVar: "load_var", OpStoreVar: "store_var",
}

// Instruction is one bytecode instruction. Not every field is meaningful for
// every Op; see the per-opcode comments in the Op block above.
type Instruction struct {
	Op    Op
	Int   int64   // literal int / jump target / pattern-group index / slot index / set size N
	Float float64 // literal float
	Str   int     // index into Program.Strings (push-string) or Program.Regexes (matches); -1 if unused
	A, B  int     // OpCall: A=module index, B=function index
}
