package scan

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/matcher"
	"github.com/corvid-labs/yaracore/modules"
	"github.com/corvid-labs/yaracore/parser"
	"github.com/corvid-labs/yaracore/vm"
)

// buildScanner drives the real parse -> compile -> matcher-build pipeline,
// as opposed to the hand-built compiler.Program fixtures used elsewhere in
// this package's tests.
func buildScanner(t *testing.T, src string, reg *modules.Registry) *Scanner {
	t.Helper()
	sf, err := parser.Parse("e2e.yar", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var table compiler.ModuleTable
	if reg != nil {
		table = reg.Declare()
	}
	prog, err := compiler.Compile(sf, compiler.Options{Modules: table})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	s, err := New(prog, matcher.Options{}, reg, vm.DefaultLimits)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// minimalPE builds the smallest buffer peIsPE recognizes: a DOS header
// naming a COFF header immediately after it.
func minimalPE() []byte {
	header := make([]byte, 0x40)
	header[0], header[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(header[0x3c:], 0x40)
	coff := []byte{'P', 'E', 0, 0, 0x4c, 0x01, 1, 0}
	return append(header, coff...)
}

// TestFixtureRule drives spec's reference example rule (import "pe",
// nocase/hex/regex strings, a mixed and/or condition) through the full
// pipeline against a minimal synthetic PE carrying the literal string.
func TestFixtureRule(t *testing.T) {
	const src = `
		import "pe"
		rule example : tag1 {
			meta: author = "x"
			strings:
				$a = "malware" nocase
				$b = { 4D 5A ?? [0-4] 50 45 }
				$c = /evil[0-9]+/
			condition:
				pe.is_pe() and ($a or ($b at 0 and $c))
		}
	`
	reg := modules.NewRegistry(modules.PE())
	s := buildScanner(t, src, reg)

	buf := append(minimalPE(), []byte("MALWARE")...)

	var matches Collector
	if err := s.ScanMem(context.Background(), buf, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 || matches[0].Rule != "example" {
		t.Fatalf("expected rule example to match, got %v", matches)
	}
	if len(matches[0].Tags) != 1 || matches[0].Tags[0] != "tag1" {
		t.Errorf("expected tag1, got %v", matches[0].Tags)
	}
}

// TestScenarioS1StringMatchReport: a literal string match reports its exact
// offset, length, and matched bytes alongside the rule name.
func TestScenarioS1StringMatchReport(t *testing.T) {
	s := buildScanner(t, `rule r { strings: $a = "YARA" condition: $a }`, nil)

	var matches Collector
	buf := []byte("hello YARA world")
	if err := s.ScanMem(context.Background(), buf, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 || matches[0].Rule != "r" {
		t.Fatalf("expected r to match, got %v", matches)
	}
	sm := matches[0].Strings
	if len(sm) != 1 {
		t.Fatalf("expected 1 string match, got %v", sm)
	}
	if sm[0].Identifier != "$a" || sm[0].Offset != 6 || sm[0].Length != 4 || string(sm[0].Data) != "YARA" {
		t.Errorf("got %+v, want {$a 6 4 YARA}", sm[0])
	}
}

// TestScenarioS2StringCountThreshold: #a counts every occurrence of the
// declared string, not just whether it matched.
func TestScenarioS2StringCountThreshold(t *testing.T) {
	s := buildScanner(t, `rule r { strings: $a = "ab" condition: #a > 2 }`, nil)

	var matches Collector
	if err := s.ScanMem(context.Background(), []byte("ababxxabab"), nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 || matches[0].Rule != "r" {
		t.Fatalf("expected r to match on 4 occurrences of ab, got %v", matches)
	}
}

// TestScenarioS3HexJumpMatch: a hex pattern with a wildcard byte and a
// bounded jump matches and reports the correct span.
func TestScenarioS3HexJumpMatch(t *testing.T) {
	s := buildScanner(t, `rule r { strings: $h = { AA ?? [1-3] BB } condition: $h }`, nil)

	var matches Collector
	buf := []byte{0xAA, 0x11, 0x22, 0xBB}
	if err := s.ScanMem(context.Background(), buf, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected r to match, got %v", matches)
	}
	sm := matches[0].Strings
	if len(sm) != 1 || sm[0].Offset != 0 || sm[0].Length != 4 {
		t.Errorf("got %+v, want offset 0 length 4", sm)
	}
}

// TestScenarioS4HexAlternationAt: a hex alternation anchored with `at 0`
// matches when one branch lines up at the start of the subject.
func TestScenarioS4HexAlternationAt(t *testing.T) {
	s := buildScanner(t, `rule r { strings: $h = { (AA|BB) CC } condition: $h at 0 }`, nil)

	var matches Collector
	buf := []byte{0xBB, 0xCC, 0xDD}
	if err := s.ScanMem(context.Background(), buf, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected r to match, got %v", matches)
	}
}

// TestScenarioS5ShortCircuitAvoidsDivByZero: `or` must not evaluate its
// right operand once the left is already true, so a 1/0 on the right never
// executes.
func TestScenarioS5ShortCircuitAvoidsDivByZero(t *testing.T) {
	s := buildScanner(t, `rule r { condition: filesize == 0 or (1/0 == 0) }`, nil)

	var matches Collector
	if err := s.ScanMem(context.Background(), nil, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 || matches[0].Rule != "r" {
		t.Fatalf("expected r to match on empty input, got %v", matches)
	}
}

// TestScenarioS6FailingGlobalRuleSuppressesAll: a failing global rule
// suppresses every ordinary rule's report, regardless of declaration order.
func TestScenarioS6FailingGlobalRuleSuppressesAll(t *testing.T) {
	s := buildScanner(t, `
		global rule g { condition: filesize > 0 }
		rule r { condition: true }
	`, nil)

	var matches Collector
	if err := s.ScanMem(context.Background(), nil, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches once global rule g fails, got %v", matches)
	}
}

// TestScenarioS7LittleEndianUint16Read: uint16(0) reads two bytes
// little-endian, matching real YARA's builtin accessors.
func TestScenarioS7LittleEndianUint16Read(t *testing.T) {
	s := buildScanner(t, `rule r { condition: uint16(0) == 0x5A4D }`, nil)

	var matches Collector
	buf := []byte{0x4D, 0x5A, 0x90, 0x00}
	if err := s.ScanMem(context.Background(), buf, nil, &matches); err != nil {
		t.Fatalf("ScanMem: %v", err)
	}
	if len(matches) != 1 || matches[0].Rule != "r" {
		t.Fatalf("expected r to match, got %v", matches)
	}
}
