// Package compiler lowers parsed rule ASTs into the bytecode a vm.Machine
// executes and the pattern table a matcher.Matcher scans against. It is
// grounded on the teacher's scanner/compile.go (pattern generation: text,
// regex, hex, base64 variants) and scanner/condeval.go (the condition
// semantics, generalized here from direct tree-walk evaluation into
// post-order bytecode emission with jump patching).
package compiler

import (
	"github.com/corvid-labs/yaracore/ast"
	"github.com/corvid-labs/yaracore/value"
)

// PatternId identifies one compiled matchable unit: a plain literal run, a
// regex, or a whole hex token sequence (jumps and alternations included).
// A single $string declaration may mint more than one PatternId (ascii and
// wide variants of the same text string are tracked independently, since
// they can match at different offsets).
type PatternId int

// PatternKind tells the matcher which engine owns a PatternId.
type PatternKind uint8

const (
	KindLiteral PatternKind = iota // plain bytes, fed to the Aho-Corasick automaton
	KindRegex                      // RE2 pattern, atom-prefiltered by the matcher
	KindHex                        // hex token sequence requiring backtracking verification
)

// Pattern is one compiled matchable unit belonging to a rule's string table.
type Pattern struct {
	ID         PatternId
	RuleName   string
	StringName string // e.g. "$a"; empty for anonymous/internal patterns
	Kind       PatternKind

	// KindLiteral: the exact bytes to search for (already case-folded if
	// Nocase, already UTF-16LE-expanded if this is the wide variant).
	Literal []byte
	Nocase  bool
	Wide    bool // true if Literal is the UTF-16LE encoding of the source text
	Fullword bool

	// KindRegex: RE2 source, with case-insensitivity/dotall folded in as an
	// inline (?i)/(?s) prefix per the teacher's buildRE2Pattern convention.
	// Atom extraction for prefiltering is the matcher's concern, computed
	// lazily from RegexSrc when the matcher is built.
	RegexSrc string

	// KindHex: the token sequence hexpat.Parse produced (canonical form, so
	// structurally identical hex bodies dedupe to one PatternId), the
	// literal atom used to seed Aho-Corasick search, and an upper bound on
	// match length so the matcher can size its candidate verification
	// window. MaxMatchLen is -1 when an unbounded jump anywhere in the
	// sequence makes the match length open-ended.
	HexTokens   []ast.HexToken
	HexAtom     []byte
	MaxMatchLen int

	// XorKey is set when this pattern is one keyed variant of an `xor`
	// modifier string; the literal already has the key applied.
	XorKey    byte
	HasXorKey bool
}

// StringGroup collects every PatternId that backs one $name declaration, so
// condition-level ops (match/count/offset/length/at/in) can aggregate across
// ascii+wide (or xor, or base64) variants of the same logical string.
type StringGroup struct {
	Name       string
	PatternIds []PatternId
	Private    bool
}

// Match is one confirmed occurrence of a PatternId in a scanned subject, as
// produced by the matcher and consumed by the VM's string-match
// instructions (match/count/offset/length/at/in).
type Match struct {
	Pattern PatternId
	Offset  int64
	Length  int
}

// RegexLiteral is a compiled `matches /regex/` operand: a dynamic test
// against an arbitrary runtime string value, as opposed to a declared
// $pattern of KindRegex which the matcher pre-scans across the whole
// subject.
type RegexLiteral struct {
	Source          string
	CaseInsensitive bool
	Dotall          bool
}

// CompiledRule is one rule's bytecode body plus the metadata the scan
// orchestrator and VM need to execute and report it.
type CompiledRule struct {
	Name        string
	Tags        []string
	Meta        []MetaEntry
	Global      bool
	Private     bool
	StringGroups []StringGroup
	Code        []Instruction
	NumSlots    int // local-variable slots used by for-loop desugaring
}

// MetaEntry is a compiled copy of ast.MetaEntry's value, pre-converted to a
// value.Value so the scan report can surface it without re-walking the AST.
type MetaEntry struct {
	Name  string
	Value value.Value
}

// Program is the output of Compile: every rule from a source file, lowered
// to bytecode, plus the shared pattern and regex-literal tables the matcher
// and VM index into by PatternId / regex-literal index.
type Program struct {
	Rules    []CompiledRule
	Patterns []Pattern
	Regexes  []RegexLiteral
	Strings  []string // string-literal pool referenced by OpPushStr
	Imports  []string // module names named in `import "..."` statements
}
