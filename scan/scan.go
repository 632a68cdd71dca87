// Package scan orchestrates one subject through a compiled Program: build
// the match streams via matcher.Matcher, evaluate each rule's bytecode via
// vm.Machine, and apply YARA's global/private rule semantics. Grounded on
// the teacher's scanner.Rules.ScanMem/ScanFile (scanner/scanner.go): same
// callback-based reporting shape and mmap-backed file scanning, generalized
// to dispatch through the bytecode VM instead of a direct AST walk, and to
// add global-rule suppression and private-rule non-reporting, which the
// teacher's ast.Rule has no fields for at all.
package scan

import (
	"context"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/matcher"
	"github.com/corvid-labs/yaracore/modules"
	"github.com/corvid-labs/yaracore/vm"
)

// StringMatch is one occurrence of a declared $string within the scanned
// subject, per spec's string_matches report contract. Grounded on the
// teacher's MatchString (scanner/scanner.go:29), extended with Offset/Length
// since the teacher's evalContext discards position once the condition is
// evaluated and only Name+Data survive to the report.
type StringMatch struct {
	Identifier string
	Offset     int64
	Length     int
	Data       []byte
}

// Match is one rule that matched the scanned subject.
type Match struct {
	Rule    string
	Tags    []string
	Meta    []compiler.MetaEntry
	Strings []StringMatch
}

// Callback receives one Match per matching, reportable rule. Returning
// abort=true stops the scan early, matching the teacher's ScanCallback.
type Callback interface {
	RuleMatching(m *Match) (abort bool, err error)
}

// Collector implements Callback by gathering every match in order.
type Collector []Match

func (c *Collector) RuleMatching(m *Match) (bool, error) {
	*c = append(*c, *m)
	return false, nil
}

// Scanner binds a compiled Program to the matcher and module registry it
// needs to evaluate its rules.
type Scanner struct {
	Program *compiler.Program
	Matcher *matcher.Matcher
	Modules *modules.Registry
	Limits  vm.Limits
}

// New builds a Scanner, constructing the Matcher (and its regex cache) from
// prog. modReg may be nil if the program declares no module references.
func New(prog *compiler.Program, matcherOpts matcher.Options, modReg *modules.Registry, limits vm.Limits) (*Scanner, error) {
	m, err := matcher.Build(prog, matcherOpts, nil)
	if err != nil {
		return nil, err
	}
	if modReg == nil {
		modReg = modules.NewRegistry()
	}
	return &Scanner{Program: prog, Matcher: m, Modules: modReg, Limits: limits}, nil
}

// entrypointLocator computes a PE/ELF entrypoint file offset for the
// `entrypoint` builtin; nil means the concept doesn't apply to this subject.
// Generalized beyond the teacher (which has no entrypoint support at all)
// per spec.md's builtin set; left to the caller since locating it is
// format-specific and out of this package's scope.
type entrypointLocator func(subject []byte) *int64

// ScanMem evaluates every rule against buf and reports matches through cb,
// honoring a deadline and cooperative cancellation via ctx.
func (s *Scanner) ScanMem(ctx context.Context, buf []byte, entrypoint entrypointLocator, cb Callback) error {
	matches := s.Matcher.Scan(buf)

	var ep *int64
	if entrypoint != nil {
		ep = entrypoint(buf)
	}

	limits := s.Limits
	if dl, ok := ctx.Deadline(); ok {
		limits.Deadline = dl
	}

	machine := vm.New(limits)
	newScanCtx := func() *vm.ScanContext {
		return &vm.ScanContext{
			Subject:    buf,
			Filesize:   int64(len(buf)),
			Entrypoint: ep,
			Matches:    matches,
			Modules:    s.Modules,
			Regex:      matcher.NewDynamicRegexer(s.Matcher.Cache()),
			Cancel:     ctx.Done(),
			Strings:    s.Program.Strings,
			Regexes:    s.Program.Regexes,
		}
	}

	// Global rules gate the whole file regardless of declaration order: per
	// YARA semantics, if any global rule's condition is false, nothing in
	// this scan is reported. Evaluated in a first pass so a global rule
	// declared after an ordinary rule still suppresses it.
	for i := range s.Program.Rules {
		rule := &s.Program.Rules[i]
		if !rule.Global {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ok, err := machine.EvalRule(rule, newScanCtx())
		if err != nil {
			if isFatalLimit(err) {
				return err
			}
			ok = false
		}
		if !ok {
			return nil
		}
	}

	for i := range s.Program.Rules {
		rule := &s.Program.Rules[i]
		if rule.Global {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := machine.EvalRule(rule, newScanCtx())
		if err != nil {
			// A RuleName-scoped RuntimeLimit (instruction/stack budget) only
			// fails this rule; ScanTimeout/ScanCanceled abort the whole scan.
			if isFatalLimit(err) {
				return err
			}
			ok = false
		}
		if !ok || rule.Private {
			continue
		}

		abort, err := cb.RuleMatching(&Match{
			Rule:    rule.Name,
			Tags:    rule.Tags,
			Meta:    rule.Meta,
			Strings: stringMatches(rule, matches, buf),
		})
		if err != nil {
			return err
		}
		if abort {
			return nil
		}
	}
	return nil
}

// stringMatches builds the reported string_matches list for rule: one entry
// per (group, occurrence) pair across every non-private StringGroup that has
// at least one match, sorted by offset within a group. Private strings
// (`private $a = ...`) are never reported, matching real YARA's behavior of
// making them invisible outside the condition that references them.
func stringMatches(rule *compiler.CompiledRule, matches map[compiler.PatternId][]compiler.Match, buf []byte) []StringMatch {
	var out []StringMatch
	for _, g := range rule.StringGroups {
		if g.Private {
			continue
		}
		var occ []compiler.Match
		for _, pid := range g.PatternIds {
			occ = append(occ, matches[pid]...)
		}
		if len(occ) == 0 {
			continue
		}
		sort.Slice(occ, func(i, j int) bool { return occ[i].Offset < occ[j].Offset })
		for _, m := range occ {
			end := m.Offset + int64(m.Length)
			if m.Offset < 0 || end > int64(len(buf)) {
				continue
			}
			out = append(out, StringMatch{
				Identifier: g.Name,
				Offset:     m.Offset,
				Length:     m.Length,
				Data:       buf[m.Offset:end],
			})
		}
	}
	return out
}

func isFatalLimit(err error) bool {
	rl, ok := err.(*errs.RuntimeLimit)
	if !ok {
		return false
	}
	return rl.Kind == errs.ScanTimeout || rl.Kind == errs.ScanCanceled
}

// ScanFile mmaps filename and scans it, matching the teacher's
// scanner.Rules.ScanFile (same mmap-via-golang.org/x/sys/unix approach).
func (s *Scanner) ScanFile(ctx context.Context, filename string, entrypoint entrypointLocator, cb Callback) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size == 0 {
		return s.ScanMem(ctx, nil, entrypoint, cb)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	defer func() { _ = unix.Munmap(data) }()

	return s.ScanMem(ctx, data, entrypoint, cb)
}

// WithTimeout is a small convenience matching the teacher's ScanMem(..., timeout, ...)
// signature for callers that would rather pass a duration than build a context.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}
