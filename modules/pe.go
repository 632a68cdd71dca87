package modules

import (
	"encoding/binary"

	"github.com/corvid-labs/yaracore/value"
)

// PE is a minimal illustrative import module exercising the ABI end to end:
// enough of the PE/COFF header layout to answer is_pe() and
// number_of_sections(), using only encoding/binary the way the builtin
// uintN/intN accessors read raw file bytes elsewhere in this codebase. It is
// a fixture demonstrating real module wiring, not a full PE parser.
func PE() Module {
	return Module{
		Name: "pe",
		Functions: []Function{
			{Name: "is_pe", Arity: 0, Call: peIsPE},
			{Name: "number_of_sections", Arity: 0, Call: peNumberOfSections},
			{Name: "machine", Arity: 0, Call: peMachine},
		},
	}
}

const (
	peDOSHeaderLen  = 0x40
	peLfanewOffset  = 0x3c
	peCOFFMagicLen  = 4
	peSectionsField = peCOFFMagicLen + 2 // machine(2) then number_of_sections(2)
)

func peHeaderOffset(subject []byte) (int, bool) {
	if len(subject) < peDOSHeaderLen || subject[0] != 'M' || subject[1] != 'Z' {
		return 0, false
	}
	lfanew := int(binary.LittleEndian.Uint32(subject[peLfanewOffset:]))
	if lfanew < 0 || lfanew+peCOFFMagicLen+2 > len(subject) {
		return 0, false
	}
	if subject[lfanew] != 'P' || subject[lfanew+1] != 'E' || subject[lfanew+2] != 0 || subject[lfanew+3] != 0 {
		return 0, false
	}
	return lfanew, true
}

func peIsPE(ctx *CallContext, _ []value.Value) (value.Value, error) {
	_, ok := peHeaderOffset(ctx.Subject)
	return value.Bool(ok), nil
}

func peNumberOfSections(ctx *CallContext, _ []value.Value) (value.Value, error) {
	off, ok := peHeaderOffset(ctx.Subject)
	if !ok || off+peSectionsField+2 > len(ctx.Subject) {
		return value.Undefined, nil
	}
	n := binary.LittleEndian.Uint16(ctx.Subject[off+peSectionsField:])
	return value.Int(int64(n)), nil
}

func peMachine(ctx *CallContext, _ []value.Value) (value.Value, error) {
	off, ok := peHeaderOffset(ctx.Subject)
	if !ok || off+peCOFFMagicLen+2 > len(ctx.Subject) {
		return value.Undefined, nil
	}
	m := binary.LittleEndian.Uint16(ctx.Subject[off+peCOFFMagicLen:])
	return value.Int(int64(m)), nil
}
