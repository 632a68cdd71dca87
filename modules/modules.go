// Package modules implements the import-module ABI: a small capability-set
// interface (declare a function table, call by index, coerce failures to
// Undefined) that keeps the VM decoupled from any particular module's
// implementation. The teacher has no equivalent (scanner/condeval.go has no
// import system at all), so this is new relative to the teacher, shaped
// after how the rest of the pack's plugin-style registries work: a static
// Declare() table the compiler binds identifiers against, and a separate
// runtime Call() the VM invokes by (module, function) index pair.
package modules

import (
	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/value"
)

// CallContext carries what a module function needs to answer a query about
// the file currently being scanned.
type CallContext struct {
	Subject    []byte
	Filesize   int64
	Entrypoint *int64
}

// Function is one callable or gettable member of a module. A bare field
// reference like `pe.number_of_sections` and an explicit call like
// `pe.section_index("x")` both resolve to a Function; fields simply have
// Arity 0.
type Function struct {
	Name  string
	Arity int
	Call  func(ctx *CallContext, args []value.Value) (value.Value, error)
}

// Module is one importable namespace, e.g. "pe".
type Module struct {
	Name      string
	Functions []Function
}

// Registry is the set of modules available to a compiled program, shared by
// the compiler (static Declare) and the VM (runtime Call).
type Registry struct {
	Modules []Module
}

// NewRegistry builds a Registry from the given modules, in declaration
// order; their position becomes their ModuleIndex.
func NewRegistry(mods ...Module) *Registry {
	return &Registry{Modules: mods}
}

// Declare produces the compiler's static view of this registry: which
// (module_index, function_index, arity) triple each "module.member"
// reference resolves to.
func (r *Registry) Declare() compiler.ModuleTable {
	table := make(compiler.ModuleTable, len(r.Modules))
	for mi, m := range r.Modules {
		fns := make(map[string]compiler.ModuleFunc, len(m.Functions))
		for fi, f := range m.Functions {
			fns[f.Name] = compiler.ModuleFunc{ModuleIndex: mi, FuncIndex: fi, Arity: f.Arity}
		}
		table[m.Name] = fns
	}
	return table
}

// Call dispatches to the function at (moduleIdx, funcIdx). A function
// returning an error, or an out-of-range index, yields value.Undefined and
// a *errs.ModuleError describing the failure; per spec.md §4.5/§7 the VM
// boundary swallows this into Undefined rather than aborting the scan, but
// the error is still returned here so a caller that wants diagnostics can
// observe it.
func (r *Registry) Call(ctx *CallContext, moduleIdx, funcIdx int, args []value.Value) (value.Value, error) {
	if moduleIdx < 0 || moduleIdx >= len(r.Modules) {
		return value.Undefined, &errs.ModuleError{Reason: "module index out of range"}
	}
	m := r.Modules[moduleIdx]
	if funcIdx < 0 || funcIdx >= len(m.Functions) {
		return value.Undefined, &errs.ModuleError{Module: m.Name, Reason: "function index out of range"}
	}
	f := m.Functions[funcIdx]
	v, err := f.Call(ctx, args)
	if err != nil {
		return value.Undefined, &errs.ModuleError{Module: m.Name, Function: f.Name, Reason: err.Error()}
	}
	return v, nil
}
