package matcher

import (
	"sort"

	regexp "github.com/wasilibs/go-re2"

	"github.com/corvid-labs/yaracore/ahocorasick"
	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/errs"
)

// Options configures matcher construction. SkipInvalidRegex mirrors the
// teacher's scanner.CompileOptions field of the same name, moved here since
// regex compilation is this package's concern, not the compiler's.
type Options struct {
	SkipInvalidRegex bool
}

// regexEntry is one KindRegex pattern prepared for scanning: the compiled
// RE2 program plus, when short enough, a literal atom to prefilter
// candidate positions through Aho-Corasick before running the full regex,
// exactly as scanner.compileRegex/ScanMem does in the teacher.
type regexEntry struct {
	id      compiler.PatternId
	re      *regexp.Regexp
	hasAtom bool
}

type hexEntry struct {
	id      compiler.PatternId
	pattern *compiler.Pattern
}

// Matcher scans byte subjects against one compiled Program's pattern table,
// producing the per-PatternId match streams vm.ScanContext.Matches expects.
type Matcher struct {
	literalAC     ahocorasick.AhoCorasick
	literalRefs   []literalRef
	nocaseAC      ahocorasick.AhoCorasick
	nocaseRefs    []literalRef
	hasLiteral    bool
	hasNocase     bool
	regexes       []regexEntry
	atomAC        ahocorasick.AhoCorasick
	atomRefs      []int // index into regexes, parallel to atomAC pattern index
	hasAtoms      bool
	hexPatterns   []hexEntry
	hexAtomAC     ahocorasick.AhoCorasick
	hexAtomRefs   []int // index into hexPatterns
	hasHexAtoms   bool
	cache         *regexCache
}

type literalRef struct {
	id       compiler.PatternId
	fullword bool
}

// maxRegexWindow bounds how much subject is handed to a full RE2 match
// around an atom candidate, matching the teacher's scanner.maxMatchLen.
const maxRegexWindow = 1024

// Build constructs a Matcher from a compiled Program. A non-nil cache lets
// the dynamic `matches` Regexer (see DynamicRegexer) share compiled RE2
// objects with statically declared regex patterns that happen to share
// source text; pass nil to use a private cache.
func Build(prog *compiler.Program, opts Options, cache *regexCache) (*Matcher, error) {
	if cache == nil {
		cache = newRegexCache()
	}
	m := &Matcher{cache: cache}

	var literalPats [][]byte
	var nocasePats [][]byte
	var atomPats [][]byte
	var hexAtomPats [][]byte

	for i := range prog.Patterns {
		p := &prog.Patterns[i]
		switch p.Kind {
		case compiler.KindLiteral:
			if p.Nocase {
				nocasePats = append(nocasePats, p.Literal)
				m.nocaseRefs = append(m.nocaseRefs, literalRef{id: p.ID, fullword: p.Fullword})
			} else {
				literalPats = append(literalPats, p.Literal)
				m.literalRefs = append(m.literalRefs, literalRef{id: p.ID, fullword: p.Fullword})
			}

		case compiler.KindRegex:
			re, err := m.cache.get(p.RegexSrc)
			if err != nil {
				if opts.SkipInvalidRegex {
					continue
				}
				return nil, &errs.CompileError{Kind: errs.InvalidRegex, StringName: p.StringName, RuleName: p.RuleName, Reason: err.Error()}
			}
			entry := regexEntry{id: p.ID, re: re}
			if atoms, ok := extractAtoms(p.RegexSrc, minAtomLength); ok && len(atoms) > 0 {
				entry.hasAtom = true
				for _, a := range atoms {
					atomPats = append(atomPats, a)
					m.atomRefs = append(m.atomRefs, len(m.regexes))
				}
			}
			m.regexes = append(m.regexes, entry)

		case compiler.KindHex:
			he := hexEntry{id: p.ID, pattern: p}
			if len(p.HexAtom) > 0 {
				hexAtomPats = append(hexAtomPats, p.HexAtom)
				m.hexAtomRefs = append(m.hexAtomRefs, len(m.hexPatterns))
			}
			m.hexPatterns = append(m.hexPatterns, he)
		}
	}

	if len(literalPats) > 0 {
		b := ahocorasick.NewAhoCorasickBuilder()
		m.literalAC = b.BuildByte(literalPats)
		m.hasLiteral = true
	}
	if len(nocasePats) > 0 {
		b := ahocorasick.NewAhoCorasickBuilder()
		m.nocaseAC = b.BuildByte(nocasePats)
		m.hasNocase = true
	}
	if len(atomPats) > 0 {
		b := ahocorasick.NewAhoCorasickBuilder()
		m.atomAC = b.BuildByte(atomPats)
		m.hasAtoms = true
	}
	if len(hexAtomPats) > 0 {
		b := ahocorasick.NewAhoCorasickBuilder()
		m.hexAtomAC = b.BuildByte(hexAtomPats)
		m.hasHexAtoms = true
	}
	return m, nil
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

func checkWordBoundary(buf []byte, start, end int) bool {
	if start > 0 && isWordChar(buf[start-1]) {
		return false
	}
	if end < len(buf) && isWordChar(buf[end]) {
		return false
	}
	return true
}

func toLowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// Scan runs every declared pattern against subject and returns the matches
// grouped by PatternId, sorted by offset (then length) with duplicate
// (offset, length) entries removed, as vm.ScanContext.Matches expects.
func (m *Matcher) Scan(subject []byte) map[compiler.PatternId][]compiler.Match {
	out := make(map[compiler.PatternId][]compiler.Match)
	add := func(id compiler.PatternId, offset int64, length int) {
		out[id] = append(out[id], compiler.Match{Pattern: id, Offset: offset, Length: length})
	}

	if m.hasLiteral {
		iter := m.literalAC.IterOverlappingByte(subject)
		for match := iter.Next(); match != nil; match = iter.Next() {
			ref := m.literalRefs[match.Pattern()]
			if ref.fullword && !checkWordBoundary(subject, match.Start(), match.End()) {
				continue
			}
			add(ref.id, int64(match.Start()), match.End()-match.Start())
		}
	}

	if m.hasNocase {
		folded := toLowerASCII(subject)
		iter := m.nocaseAC.IterOverlappingByte(folded)
		for match := iter.Next(); match != nil; match = iter.Next() {
			ref := m.nocaseRefs[match.Pattern()]
			if ref.fullword && !checkWordBoundary(folded, match.Start(), match.End()) {
				continue
			}
			add(ref.id, int64(match.Start()), match.End()-match.Start())
		}
	}

	m.scanRegexes(subject, add)
	m.scanHex(subject, add)

	for id, ms := range out {
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].Offset != ms[j].Offset {
				return ms[i].Offset < ms[j].Offset
			}
			return ms[i].Length < ms[j].Length
		})
		deduped := ms[:0]
		for _, mt := range ms {
			if len(deduped) == 0 || mt != deduped[len(deduped)-1] {
				deduped = append(deduped, mt)
			}
		}
		out[id] = deduped
	}
	return out
}

// scanRegexes mirrors scanner.ScanMem's two-tier regex strategy: atom hits
// narrow a half-window RE2 search for regexes with an extractable literal,
// everything else falls back to a single whole-subject RE2 search.
func (m *Matcher) scanRegexes(subject []byte, add func(compiler.PatternId, int64, int)) {
	const halfWindow = maxRegexWindow / 2
	seen := make(map[int]bool)

	if m.hasAtoms {
		candidates := make(map[int][]int)
		iter := m.atomAC.IterOverlappingByte(subject)
		for match := iter.Next(); match != nil; match = iter.Next() {
			regexIdx := m.atomRefs[match.Pattern()]
			candidates[regexIdx] = append(candidates[regexIdx], match.Start())
		}
		for regexIdx, positions := range candidates {
			entry := m.regexes[regexIdx]
			seen[regexIdx] = true
			for _, pos := range dedupeInts(positions) {
				start := max(0, pos-halfWindow)
				end := min(len(subject), pos+halfWindow)
				if loc := entry.re.FindIndex(subject[start:end]); loc != nil {
					add(entry.id, int64(start+loc[0]), loc[1]-loc[0])
				}
			}
		}
	}

	for i, entry := range m.regexes {
		if entry.hasAtom || seen[i] {
			continue
		}
		if loc := entry.re.FindIndex(subject); loc != nil {
			add(entry.id, int64(loc[0]), loc[1]-loc[0])
		}
	}
}

func (m *Matcher) scanHex(subject []byte, add func(compiler.PatternId, int64, int)) {
	if len(m.hexPatterns) == 0 {
		return
	}

	anchorsByPattern := make(map[int][]int)
	if m.hasHexAtoms {
		iter := m.hexAtomAC.IterOverlappingByte(subject)
		for match := iter.Next(); match != nil; match = iter.Next() {
			patIdx := m.hexAtomRefs[match.Pattern()]
			anchorsByPattern[patIdx] = append(anchorsByPattern[patIdx], match.Start())
		}
	}

	for i, he := range m.hexPatterns {
		anchors, hadAtom := anchorsByPattern[i]
		var searchAnchors []int
		if len(he.pattern.HexAtom) > 0 {
			searchAnchors = anchors
			if !hadAtom {
				continue // atom declared but never matched: no candidates
			}
		}
		for _, hit := range verifyHex(subject, he.pattern.HexTokens, searchAnchors) {
			if he.pattern.Fullword && !checkWordBoundary(subject, hit.start, hit.end) {
				continue
			}
			add(he.id, int64(hit.start), hit.end-hit.start)
		}
	}
}

func dedupeInts(positions []int) []int {
	if len(positions) <= 1 {
		return positions
	}
	sort.Ints(positions)
	j := 1
	for i := 1; i < len(positions); i++ {
		if positions[i] != positions[j-1] {
			positions[j] = positions[i]
			j++
		}
	}
	return positions[:j]
}

// Cache exposes the shared regex cache so a caller can build a
// DynamicRegexer that reuses already-compiled patterns.
func (m *Matcher) Cache() *regexCache { return m.cache }
