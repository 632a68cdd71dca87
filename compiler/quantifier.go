package compiler

import (
	"strings"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/errs"
)

// setMember is one resolved element of a quantifier's string set: either a
// reference to a declared $name (by string-group index) or an arbitrary
// boolean sub-expression (the `for <quant> of (<bool-expr>, ...)` form).
type setMember struct {
	groupIdx int
	expr     ast.Expr
	isGroup  bool
}

// resolveSetMembers expands `them`, an exact `$name`, or a `$prefix*`/`$*`
// wildcard into the concrete list of string-group members a quantifier
// ranges over, in declaration order. Grounded on the teacher's
// matchingStringNames (scanner/condeval.go), generalized to return group
// indices instead of directly tallying matches.
func (c *ruleCompiler) resolveSetMembers(set ast.StringSet) ([]setMember, error) {
	if set.Them {
		members := make([]setMember, len(c.groups))
		for i := range c.groups {
			members[i] = setMember{groupIdx: i, isGroup: true}
		}
		return members, nil
	}

	var members []setMember
	for _, item := range set.Items {
		if item.Expr != nil {
			members = append(members, setMember{expr: item.Expr})
			continue
		}
		pat := item.StringPattern
		if pat == "$*" || strings.HasSuffix(pat, "*") {
			prefix := strings.TrimSuffix(pat, "*")
			matched := false
			for i, g := range c.groups {
				if strings.HasPrefix(g.Name, prefix) {
					members = append(members, setMember{groupIdx: i, isGroup: true})
					matched = true
				}
			}
			if !matched {
				return nil, &errs.CompileError{
					Kind: errs.UndeclaredString, RuleName: c.ruleName,
					Reason: "no declared string matches " + pat,
				}
			}
			continue
		}
		idx, ok := c.groupIndex(pat)
		if !ok {
			return nil, &errs.CompileError{
				Kind: errs.UndeclaredString, RuleName: c.ruleName,
				StringName: pat, Reason: "undeclared string " + pat,
			}
		}
		members = append(members, setMember{groupIdx: idx, isGroup: true})
	}
	return members, nil
}

func (c *ruleCompiler) compileMember(m setMember) error {
	if m.isGroup {
		c.emit(Instruction{Op: OpMatch, Int: int64(m.groupIdx)})
		return nil
	}
	return c.compile(m.expr)
}

// compileQuantifierOp emits the threshold (for count/percent) followed by
// each member's boolean contribution, then the aggregating instruction.
// Threshold is pushed first so it sits below the N member values on the
// stack, matching the pop order the VM's quantifier handlers expect.
func (c *ruleCompiler) compileQuantifierOp(q ast.Quantifier, members []setMember) error {
	switch q.Kind {
	case "count":
		if err := c.compile(q.Count); err != nil {
			return err
		}
	case "percent":
		if err := c.compile(q.Count); err != nil {
			return err
		}
	}
	for _, m := range members {
		if err := c.compileMember(m); err != nil {
			return err
		}
	}
	op, ok := map[string]Op{
		"all": OpOfAll, "any": OpOfAny, "none": OpOfNone,
		"count": OpOfCount, "percent": OpOfPercent,
	}[q.Kind]
	if !ok {
		return &errs.CompileError{Kind: errs.BadOperator, RuleName: c.ruleName, Reason: "unknown quantifier " + q.Kind}
	}
	c.emit(Instruction{Op: op, Int: int64(len(members))})
	return nil
}

func (c *ruleCompiler) compileOf(o ast.Of) error {
	members, err := c.resolveSetMembers(o.Set)
	if err != nil {
		return err
	}
	return c.compileQuantifierOp(o.Quantifier, members)
}

// compileFor lowers a `for` expression. Only two shapes are supported:
// iteration over an integer range (`for <q> v in (lo..hi): (body)`, the
// common case, realized as a genuine runtime loop since lo/hi may depend on
// runtime values like filesize) and a string-set quantifier written with
// `for` instead of a bare `of` (`for <q> of (<set>): (true)`), which
// desugars to the same static aggregation as Of. A for-loop over a string
// set whose body references the per-iteration string anonymously ($, #, @,
// ! with no name) is not supported: the lexer's pattern-reference sigils
// always require a name (see lexer.identRefs), so there is no token for an
// anonymous current-iteration string to bind to.
func (c *ruleCompiler) compileFor(f ast.For) error {
	if f.Iterable == nil {
		members, err := c.resolveSetMembers(f.Set)
		if err != nil {
			return err
		}
		return c.compileQuantifierOp(f.Quantifier, members)
	}

	rng, ok := f.Iterable.(ast.Range)
	if !ok {
		return &errs.CompileError{
			Kind: errs.BadOperator, RuleName: c.ruleName,
			Reason: "for-loops over values other than an integer range are not supported",
		}
	}
	if len(f.Vars) != 1 {
		return &errs.CompileError{
			Kind: errs.BadOperator, RuleName: c.ruleName,
			Reason: "for-loops binding more than one induction variable are not supported",
		}
	}

	iSlot, hiSlot, tallySlot, totalSlot := c.newSlot(), c.newSlot(), c.newSlot(), c.newSlot()

	if err := c.compile(rng.Low); err != nil {
		return err
	}
	c.emit(Instruction{Op: OpStoreVar, Int: int64(iSlot)})
	if err := c.compile(rng.High); err != nil {
		return err
	}
	c.emit(Instruction{Op: OpStoreVar, Int: int64(hiSlot)})
	c.emit(Instruction{Op: OpPushInt, Int: 0})
	c.emit(Instruction{Op: OpStoreVar, Int: int64(tallySlot)})
	c.emit(Instruction{Op: OpPushInt, Int: 0})
	c.emit(Instruction{Op: OpStoreVar, Int: int64(totalSlot)})

	loopStart := c.here()
	c.emit(Instruction{Op: OpLoadVar, Int: int64(iSlot)})
	c.emit(Instruction{Op: OpLoadVar, Int: int64(hiSlot)})
	c.emit(Instruction{Op: OpLe})
	exitJump := c.emit(Instruction{Op: OpJumpIfFalse})
	c.emit(Instruction{Op: OpPop}) // discard the true test-result (fallthrough path)

	c.loops = append(c.loops, loopScope{varName: f.Vars[0], slot: iSlot})
	if err := c.compile(f.Body); err != nil {
		c.loops = c.loops[:len(c.loops)-1]
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]

	skipInc := c.emit(Instruction{Op: OpJumpIfFalse})
	c.emit(Instruction{Op: OpPop}) // discard true-bool, body counted
	c.emit(Instruction{Op: OpLoadVar, Int: int64(tallySlot)})
	c.emit(Instruction{Op: OpPushInt, Int: 1})
	c.emit(Instruction{Op: OpAdd})
	c.emit(Instruction{Op: OpStoreVar, Int: int64(tallySlot)})
	incTotal := c.emit(Instruction{Op: OpJump})
	c.patchTo(skipInc, c.here())
	c.emit(Instruction{Op: OpPop}) // discard false-bool, body not counted
	c.patchTo(incTotal, c.here())

	c.emit(Instruction{Op: OpLoadVar, Int: int64(totalSlot)})
	c.emit(Instruction{Op: OpPushInt, Int: 1})
	c.emit(Instruction{Op: OpAdd})
	c.emit(Instruction{Op: OpStoreVar, Int: int64(totalSlot)})
	c.emit(Instruction{Op: OpLoadVar, Int: int64(iSlot)})
	c.emit(Instruction{Op: OpPushInt, Int: 1})
	c.emit(Instruction{Op: OpAdd})
	c.emit(Instruction{Op: OpStoreVar, Int: int64(iSlot)})
	c.emit(Instruction{Op: OpJump, Int: int64(loopStart)})

	c.patchTo(exitJump, c.here())
	c.emit(Instruction{Op: OpPop}) // discard the false i<=hi test-result

	c.emit(Instruction{Op: OpLoadVar, Int: int64(tallySlot)})
	switch f.Quantifier.Kind {
	case "all":
		c.emit(Instruction{Op: OpLoadVar, Int: int64(totalSlot)})
		c.emit(Instruction{Op: OpEq})
	case "any":
		c.emit(Instruction{Op: OpPushInt, Int: 0})
		c.emit(Instruction{Op: OpGt})
	case "none":
		c.emit(Instruction{Op: OpPushInt, Int: 0})
		c.emit(Instruction{Op: OpEq})
	case "count":
		if err := c.compile(f.Quantifier.Count); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpGe})
	case "percent":
		c.emit(Instruction{Op: OpLoadVar, Int: int64(totalSlot)})
		if err := c.compile(f.Quantifier.Count); err != nil {
			return err
		}
		c.emit(Instruction{Op: OpMul})
		c.emit(Instruction{Op: OpPushInt, Int: 99})
		c.emit(Instruction{Op: OpAdd})
		c.emit(Instruction{Op: OpPushInt, Int: 100})
		c.emit(Instruction{Op: OpDiv})
		c.emit(Instruction{Op: OpGe})
	default:
		return &errs.CompileError{Kind: errs.BadOperator, RuleName: c.ruleName, Reason: "unknown quantifier " + f.Quantifier.Kind}
	}
	return nil
}
