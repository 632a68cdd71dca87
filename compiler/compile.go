package compiler

import (
	"errors"

	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/value"
)

// Options configures compilation. Generalized from the teacher's
// scanner.CompileOptions (SkipInvalidRegex, SkipSubtypes): SkipInvalidRegex
// moved to matcher.Options since regex compilation now happens there, not
// here (the compiler has no third-party regex dependency).
type Options struct {
	// SkipSubtypes filters out rules whose meta "subtype" field matches any
	// of the given values. Rules with no "subtype" meta, or an empty value,
	// are never filtered.
	SkipSubtypes []string

	// Modules resolves module.member references in conditions. Only modules
	// named by an import statement of the compiled source file are resolved;
	// a reference to any other module, or any reference when the table is
	// nil, is a compile error.
	Modules ModuleTable
}

// Compile lowers every rule in sf into a Program: bytecode for the VM plus
// the shared pattern/regex/string tables the matcher and VM index into.
func Compile(sf *ast.SourceFile, opts Options) (*Program, error) {
	skip := make(map[string]bool, len(opts.SkipSubtypes))
	for _, s := range opts.SkipSubtypes {
		if s != "" {
			skip[s] = true
		}
	}
	if opts.Modules != nil {
		imported := make(ModuleTable, len(sf.Imports))
		for _, name := range sf.Imports {
			if members, ok := opts.Modules[name]; ok {
				imported[name] = members
			}
		}
		opts.Modules = imported
	}

	table := newPatternTable()
	var rules []CompiledRule
	var errList []error

	for _, r := range sf.Rules {
		if len(skip) > 0 && skip[metaString(r, "subtype")] {
			continue
		}
		cr, err := compileRule(table, opts, r)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		rules = append(rules, *cr)
	}

	if len(errList) > 0 {
		return nil, errors.Join(errList...)
	}

	return &Program{
		Rules:    rules,
		Patterns: table.patterns,
		Regexes:  table.regexes,
		Strings:  table.strings,
		Imports:  sf.Imports,
	}, nil
}

func compileRule(table *patternTable, opts Options, r *ast.Rule) (*CompiledRule, error) {
	groups := make([]StringGroup, 0, len(r.Strings))
	for _, sd := range r.Strings {
		g, err := internString(table, r.Name, sd)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	meta := make([]MetaEntry, len(r.Meta))
	for i, m := range r.Meta {
		meta[i] = MetaEntry{Name: m.Key, Value: metaToValue(m.Value)}
	}

	rc := newRuleCompiler(r.Name, table, opts.Modules, groups)
	if r.Condition != nil {
		if err := rc.compile(r.Condition); err != nil {
			return nil, err
		}
	} else {
		rc.emit(Instruction{Op: OpPushBool, Int: 0})
	}
	rc.emit(Instruction{Op: OpHalt})

	return &CompiledRule{
		Name:         r.Name,
		Tags:         r.Tags,
		Meta:         meta,
		Global:       r.Global,
		Private:      r.Private,
		StringGroups: groups,
		Code:         rc.code,
		NumSlots:     rc.slots,
	}, nil
}

func metaToValue(v any) value.Value {
	switch t := v.(type) {
	case string:
		return value.Str(t)
	case int64:
		return value.Int(t)
	case bool:
		return value.Bool(t)
	default:
		return value.Undefined
	}
}

func metaString(r *ast.Rule, key string) string {
	for _, m := range r.Meta {
		if m.Key == key {
			if s, ok := m.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
