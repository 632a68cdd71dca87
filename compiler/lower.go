package compiler

import (
	"strconv"
	"strings"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/errs"
)

// ModuleFunc is the static signature the compiler resolves a module
// reference to: which (module_index, function_index) pair to encode in an
// OpCall instruction, and how many arguments it expects. A bare field
// reference (no call parens, e.g. `pe.number_of_sections`) is modeled as a
// zero-argument function under the same table.
type ModuleFunc struct {
	ModuleIndex int
	FuncIndex   int
	Arity       int
}

// ModuleTable resolves "module.member" lookups during compilation. It is
// populated by the modules package from its Registry so the compiler never
// needs to import modules directly (modules imports compiler, not the other
// way around).
type ModuleTable map[string]map[string]ModuleFunc

// ruleCompiler lowers one rule's condition expression to bytecode. Grounded
// on the teacher's scanner/condeval.go tree-walking evaluator, generalized
// into post-order bytecode emission with jump-patched short circuits per
// the and/or templates.
type ruleCompiler struct {
	ruleName string
	table    *patternTable
	modules  ModuleTable

	groups   []StringGroup
	groupIdx map[string]int

	code  []Instruction
	loops []loopScope
	slots int
}

type loopScope struct {
	varName string
	slot    int
}

func newRuleCompiler(ruleName string, table *patternTable, modules ModuleTable, groups []StringGroup) *ruleCompiler {
	idx := make(map[string]int, len(groups))
	for i, g := range groups {
		idx[g.Name] = i
	}
	return &ruleCompiler{ruleName: ruleName, table: table, modules: modules, groups: groups, groupIdx: idx}
}

func (c *ruleCompiler) errAt(kind errs.CompileErrorKind, e ast.Expr, reason string) error {
	return &errs.CompileError{Kind: kind, RuleName: c.ruleName, Span: e.Span(), Reason: reason}
}

func (c *ruleCompiler) emit(ins Instruction) int {
	c.code = append(c.code, ins)
	return len(c.code) - 1
}

func (c *ruleCompiler) here() int { return len(c.code) }

func (c *ruleCompiler) patchTo(at, target int) { c.code[at].Int = int64(target) }

func (c *ruleCompiler) newSlot() int {
	s := c.slots
	c.slots++
	return s
}

func (c *ruleCompiler) groupIndex(name string) (int, bool) {
	i, ok := c.groupIdx[name]
	return i, ok
}

// compile lowers e, leaving exactly one value on the stack.
func (c *ruleCompiler) compile(e ast.Expr) error {
	switch v := e.(type) {
	case ast.BoolLit:
		b := int64(0)
		if v.Value {
			b = 1
		}
		c.emit(Instruction{Op: OpPushBool, Int: b})
		return nil

	case ast.IntLit:
		c.emit(Instruction{Op: OpPushInt, Int: v.Value})
		return nil

	case ast.FloatLit:
		c.emit(Instruction{Op: OpPushFloat, Float: v.Value})
		return nil

	case ast.StringLit:
		c.emit(Instruction{Op: OpPushStr, Str: c.table.internStringLiteral(v.Value)})
		return nil

	case ast.Filesize:
		c.emit(Instruction{Op: OpFilesize})
		return nil

	case ast.Entrypoint:
		c.emit(Instruction{Op: OpEntrypoint})
		return nil

	case ast.StringRef:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		c.emit(Instruction{Op: OpMatch, Int: int64(idx)})
		return nil

	case ast.StringCount:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		c.emit(Instruction{Op: OpCount, Int: int64(idx)})
		return nil

	case ast.StringOffset:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		if v.Index != nil {
			if err := c.compile(v.Index); err != nil {
				return err
			}
		} else {
			c.emit(Instruction{Op: OpPushInt, Int: 1})
		}
		c.emit(Instruction{Op: OpOffset, Int: int64(idx)})
		return nil

	case ast.StringLength:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		if v.Index != nil {
			if err := c.compile(v.Index); err != nil {
				return err
			}
		} else {
			c.emit(Instruction{Op: OpPushInt, Int: 1})
		}
		c.emit(Instruction{Op: OpLength, Int: int64(idx)})
		return nil

	case ast.At:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		if err := c.compile(v.Offset); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpAt, Int: int64(idx)})
		return nil

	case ast.In:
		idx, ok := c.groupIndex(v.Name)
		if !ok {
			return c.errAt(errs.UndeclaredString, e, "undeclared string "+v.Name)
		}
		if err := c.compile(v.Range.Low); err != nil {
			return err
		}
		if err := c.compile(v.Range.High); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpIn, Int: int64(idx)})
		return nil

	case ast.Identifier:
		if len(v.Parts) == 1 {
			if loop, ok := c.lookupLoopVar(v.Parts[0]); ok {
				c.emit(Instruction{Op: OpLoadVar, Int: int64(loop.slot)})
				return nil
			}
		}
		return c.compileModuleRef(e, v.Parts, nil)

	case ast.FieldAccess:
		path, ok := flattenFieldPath(v)
		if !ok {
			return c.errAt(errs.UnknownImport, e, "unsupported field access shape")
		}
		return c.compileModuleRef(e, path, nil)

	case ast.Call:
		return c.compileCall(v)

	case ast.Index:
		return c.errAt(errs.UnknownImport, e, "array/index access into module values is not supported")

	case ast.Unary:
		return c.compileUnary(v)

	case ast.Binary:
		return c.compileBinary(v)

	case ast.Of:
		return c.compileOf(v)

	case ast.For:
		return c.compileFor(v)

	case ast.Matches:
		if err := c.compile(v.Subject); err != nil {
			return err
		}
		idx := c.table.internRegexLiteral(v.Regex.Pattern, v.Regex.Modifiers.CaseInsensitive, v.Regex.Modifiers.DotMatchesAll)
		c.emit(Instruction{Op: OpStrMatchesRegex, Str: idx})
		return nil

	case ast.Paren:
		return c.compile(v.Inner)

	default:
		return c.errAt(errs.BadOperator, e, "unsupported expression")
	}
}

func (c *ruleCompiler) lookupLoopVar(name string) (loopScope, bool) {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if c.loops[i].varName == name {
			return c.loops[i], true
		}
	}
	return loopScope{}, false
}

// flattenFieldPath walks a FieldAccess chain rooted in a single-part
// Identifier into a dotted path, e.g. FieldAccess{Identifier{"pe"},
// "number_of_sections"} -> ["pe", "number_of_sections"]. Deeper chains
// (field-of-field, field-of-index) are rejected by the caller.
func flattenFieldPath(fa ast.FieldAccess) ([]string, bool) {
	id, ok := fa.Base.(ast.Identifier)
	if !ok || len(id.Parts) != 1 {
		return nil, false
	}
	return []string{id.Parts[0], fa.Field}, true
}

var builtinCallOps = map[string]Op{
	"uint8": OpUint8, "uint16": OpUint16, "uint32": OpUint32,
	"uint16be": OpUint16BE, "uint32be": OpUint32BE,
	"int8": OpInt8, "int16": OpInt16, "int32": OpInt32,
	"int16be": OpInt16BE, "int32be": OpInt32BE,
}

func (c *ruleCompiler) compileCall(call ast.Call) error {
	if id, ok := call.Callee.(ast.Identifier); ok && len(id.Parts) == 1 {
		if op, ok := builtinCallOps[id.Parts[0]]; ok {
			if len(call.Args) != 1 {
				return c.errAt(errs.ArityMismatch, call, id.Parts[0]+" takes exactly one argument")
			}
			if err := c.compile(call.Args[0]); err != nil {
				return err
			}
			c.emit(Instruction{Op: op})
			return nil
		}
	}

	var path []string
	switch callee := call.Callee.(type) {
	case ast.Identifier:
		path = callee.Parts
	case ast.FieldAccess:
		var ok bool
		path, ok = flattenFieldPath(callee)
		if !ok {
			return c.errAt(errs.UnknownImport, call, "unsupported call target shape")
		}
	default:
		return c.errAt(errs.UnknownImport, call, "unsupported call target shape")
	}
	return c.compileModuleRef(call, path, call.Args)
}

func (c *ruleCompiler) compileModuleRef(e ast.Expr, path []string, args []ast.Expr) error {
	if len(path) != 2 {
		return c.errAt(errs.UnknownImport, e, "unresolved identifier "+strings.Join(path, "."))
	}
	modName, member := path[0], path[1]
	mod, ok := c.modules[modName]
	if !ok {
		return c.errAt(errs.UnknownImport, e, "unknown module "+modName)
	}
	fn, ok := mod[member]
	if !ok {
		return c.errAt(errs.UnknownImport, e, "unknown member "+modName+"."+member)
	}
	if fn.Arity != len(args) {
		return c.errAt(errs.ArityMismatch, e, modName+"."+member+" expects "+strconv.Itoa(fn.Arity)+" argument(s)")
	}
	for _, a := range args {
		if err := c.compile(a); err != nil {
			return err
		}
	}
	c.emit(Instruction{Op: OpCall, A: fn.ModuleIndex, B: fn.FuncIndex, Int: int64(len(args))})
	return nil
}

var unaryOps = map[string]Op{"not": OpNot, "-": OpNeg, "~": OpBNot}

func (c *ruleCompiler) compileUnary(u ast.Unary) error {
	if u.Op == "defined" {
		if err := c.compile(u.Operand); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpIsDefined})
		return nil
	}
	op, ok := unaryOps[u.Op]
	if !ok {
		return c.errAt(errs.BadOperator, u, "unsupported unary operator "+u.Op)
	}
	if err := c.compile(u.Operand); err != nil {
		return err
	}
	c.emit(Instruction{Op: op})
	return nil
}

var binaryOps = map[string]Op{
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
	"|": OpBOr, "^": OpBXor, "&": OpBAnd, "<<": OpShl, ">>": OpShr,
	"contains": OpStrContains, "icontains": OpStrIContains,
	"startswith": OpStrStartsWith, "istartswith": OpStrIStartsWith,
	"endswith": OpStrEndsWith, "iendswith": OpStrIEndsWith,
	"iequals": OpStrIEquals,
}

func (c *ruleCompiler) compileBinary(b ast.Binary) error {
	switch b.Op {
	case "and":
		if err := c.compile(b.Left); err != nil {
			return err
		}
		jf := c.emit(Instruction{Op: OpJumpIfFalse})
		c.emit(Instruction{Op: OpPop})
		if err := c.compile(b.Right); err != nil {
			return err
		}
		c.patchTo(jf, c.here())
		return nil

	case "or":
		if err := c.compile(b.Left); err != nil {
			return err
		}
		jt := c.emit(Instruction{Op: OpJumpIfTrue})
		c.emit(Instruction{Op: OpPop})
		if err := c.compile(b.Right); err != nil {
			return err
		}
		c.patchTo(jt, c.here())
		return nil
	}

	op, ok := binaryOps[b.Op]
	if !ok {
		return c.errAt(errs.BadOperator, b, "unsupported binary operator "+b.Op)
	}
	if err := c.compile(b.Left); err != nil {
		return err
	}
	if err := c.compile(b.Right); err != nil {
		return err
	}
	c.emit(Instruction{Op: op})
	return nil
}
