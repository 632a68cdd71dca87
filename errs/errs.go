// Package errs defines the structural error kinds from spec.md §7: typed
// failures that let a caller distinguish, say, a RuntimeLimit from a
// ModuleError with errors.As instead of string matching. Grounded on the
// teacher's own wrapping idiom (errors.Join in scanner/compile.go,
// fmt.Errorf("...: %w", ...) throughout), generalized from ad hoc *error*
// values into a small family of concrete types.
package errs

import (
	"fmt"

	"github.com/corvid-labs/yaracore/token"
)

// LexError is a malformed-token failure from the lexer.
type LexError struct {
	Span   token.Span
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %s: %s", e.Span, e.Reason)
}

// ParseError is an unexpected-or-missing-token failure from the parser.
type ParseError struct {
	Span   token.Span
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Span, e.Reason)
}

// CompileErrorKind classifies a CompileError without resorting to string
// matching on its message.
type CompileErrorKind int

const (
	// UndeclaredString is an undeclared $name reference in a condition.
	UndeclaredString CompileErrorKind = iota
	// UnknownImport is a module reference with no matching import.
	UnknownImport
	// ArityMismatch is a function call with the wrong argument count.
	ArityMismatch
	// InvalidRegex is a regex pattern (or hex-derived regex) RE2 rejects.
	InvalidRegex
	// MalformedHex is a hex pattern the hexpat sublanguage parser rejects.
	MalformedHex
	// BadOperator is an operator applied to an operand type it can't accept,
	// detected from the expression's static shape.
	BadOperator
)

// CompileError is a semantic failure discovered while lowering AST to
// bytecode. RuleName/StringName are empty when not applicable.
type CompileError struct {
	Kind       CompileErrorKind
	RuleName   string
	StringName string
	Span       token.Span
	Reason     string
}

func (e *CompileError) Error() string {
	switch {
	case e.RuleName != "" && e.StringName != "":
		return fmt.Sprintf("compile error: rule %q string %s: %s", e.RuleName, e.StringName, e.Reason)
	case e.RuleName != "":
		return fmt.Sprintf("compile error: rule %q: %s", e.RuleName, e.Reason)
	default:
		return fmt.Sprintf("compile error: %s", e.Reason)
	}
}

// MatcherBuildError signals a pattern-table inconsistency discovered while
// constructing the matcher. Per spec.md §4.4 this should be unreachable if
// Compile succeeded; it exists so that invariant violation surfaces as a
// typed error rather than a panic.
type MatcherBuildError struct {
	Reason string
}

func (e *MatcherBuildError) Error() string {
	return fmt.Sprintf("matcher build error: %s", e.Reason)
}

// RuntimeLimitKind distinguishes which budget a scan exceeded.
type RuntimeLimitKind int

const (
	InstructionBudget RuntimeLimitKind = iota
	StackDepthLimit
	BacktrackBudget
	ScanTimeout
	ScanCanceled
)

// RuntimeLimit signals that a scan exceeded an instruction budget, stack
// depth cap, hex-backtracking budget, or deadline/cancellation. Per
// spec.md §4.5 this terminates only the current rule's evaluation (false
// verdict) except for ScanTimeout/ScanCanceled, which end the whole scan.
type RuntimeLimit struct {
	Kind     RuntimeLimitKind
	RuleName string
	Reason   string
}

func (e *RuntimeLimit) Error() string {
	return fmt.Sprintf("runtime limit exceeded (rule %q): %s", e.RuleName, e.Reason)
}

// ModuleError is a module function's explicit failure. The VM boundary
// coerces it to Undefined per spec.md §4.5/§7; it is recorded here so a
// caller that wants diagnostics can still observe it out of band.
type ModuleError struct {
	Module   string
	Function string
	Reason   string
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module error: %s.%s: %s", e.Module, e.Function, e.Reason)
}
