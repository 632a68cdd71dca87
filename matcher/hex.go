package matcher

import (
	"errors"

	"github.com/corvid-labs/yaracore/ast"
)

// maxHexJumpSearch bounds how far a single unbounded hex jump ([n-] or [-])
// is allowed to search before giving up, and how far back from a literal
// atom anchor the verifier searches for a legal sequence start.
const maxHexJumpSearch = 4096

// maxHexBacktrackSteps bounds total jump/alternation branch attempts per
// candidate start position (verifyHex gives each start a fresh hexVerifier),
// so a pathological hex pattern (many nested alternations,
// each with an unbounded jump) can't turn one candidate into an unbounded
// amount of work.
const maxHexBacktrackSteps = 200_000

var errHexBacktrackBudget = errors.New("hex backtracking budget exceeded")

// hexVerifier runs the token-sequence backtracking verification a KindHex
// Pattern needs: unlike a literal or regex pattern, a hex pattern's jumps
// ([n-m]) and alternations ((a|b)) mean candidate positions from the
// Aho-Corasick atom prefilter must be confirmed by actually walking the
// token sequence against the subject bytes.
type hexVerifier struct {
	subject []byte
	steps   int
}

// matchFrom attempts to match toks against h.subject starting at pos,
// returning the exclusive end offset of the match on success. Recursion
// follows the token sequence left to right; HexJump and HexAlternation are
// the only branching points, each counted against the step budget.
func (h *hexVerifier) matchFrom(pos int, toks []ast.HexToken) (int, bool, error) {
	if len(toks) == 0 {
		return pos, true, nil
	}
	rest := toks[1:]
	switch v := toks[0].(type) {
	case ast.HexByte:
		if pos >= len(h.subject) || h.subject[pos] != v.Value {
			return 0, false, nil
		}
		return h.matchFrom(pos+1, rest)

	case ast.HexWildcard:
		if pos >= len(h.subject) {
			return 0, false, nil
		}
		return h.matchFrom(pos+1, rest)

	case ast.HexHighNibble:
		if pos >= len(h.subject) || h.subject[pos]>>4 != v.High {
			return 0, false, nil
		}
		return h.matchFrom(pos+1, rest)

	case ast.HexLowNibble:
		if pos >= len(h.subject) || h.subject[pos]&0x0f != v.Low {
			return 0, false, nil
		}
		return h.matchFrom(pos+1, rest)

	case ast.HexJump:
		lo := 0
		if v.Min != nil {
			lo = *v.Min
		}
		hi := lo + maxHexJumpSearch
		if v.Max != nil {
			hi = *v.Max
		}
		for j := lo; j <= hi; j++ {
			if pos+j > len(h.subject) {
				break
			}
			h.steps++
			if h.steps > maxHexBacktrackSteps {
				return 0, false, errHexBacktrackBudget
			}
			end, ok, err := h.matchFrom(pos+j, rest)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return end, true, nil
			}
		}
		return 0, false, nil

	case ast.HexAlternation:
		for _, alt := range v.Alternatives {
			h.steps++
			if h.steps > maxHexBacktrackSteps {
				return 0, false, errHexBacktrackBudget
			}
			combined := make([]ast.HexToken, 0, len(alt)+len(rest))
			combined = append(combined, alt...)
			combined = append(combined, rest...)
			end, ok, err := h.matchFrom(pos, combined)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return end, true, nil
			}
		}
		return 0, false, nil

	default:
		return 0, false, nil
	}
}

// verifyHex searches for occurrences of toks anchored near each position in
// anchors (typically Aho-Corasick hits for the pattern's literal atom), and
// falls back to a full linear scan when no atom was extractable at compile
// time (anchors is nil). It returns every distinct (start, length) match
// found, without deduplication (the caller dedupes across the whole scan).
func verifyHex(subject []byte, toks []ast.HexToken, anchors []int) []hexHit {
	var hits []hexHit
	seen := make(map[int]bool)

	tryFrom := func(pos int) {
		if pos < 0 || seen[pos] {
			return
		}
		seen[pos] = true
		v := &hexVerifier{subject: subject}
		if end, ok, err := v.matchFrom(pos, toks); err == nil && ok {
			hits = append(hits, hexHit{start: pos, end: end})
		}
	}

	if anchors != nil {
		for _, a := range anchors {
			lo := a - maxHexJumpSearch
			if lo < 0 {
				lo = 0
			}
			for pos := lo; pos <= a; pos++ {
				tryFrom(pos)
			}
		}
		return hits
	}

	// No extractable literal atom means no Aho-Corasick anchor exists for
	// this pattern, so every subject offset is a candidate start.
	for pos := 0; pos < len(subject); pos++ {
		tryFrom(pos)
	}
	return hits
}

type hexHit struct {
	start, end int
}
