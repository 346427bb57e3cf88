package linker

import "github.com/ksco/mcld/pkg/utils"

// Formulas shared by most targets. T is the ARM Thumb bit and is zero
// everywhere else.

func CalcAbs(v *Values) uint64 { return (v.S + v.A) | v.T }

func CalcPCRel(v *Values) uint64 { return ((v.S + v.A) | v.T) - v.P }

// CalcBranch is S + A - P with the instruction-set bit dropped.
func CalcBranch(v *Values) uint64 { return v.S + v.A - v.P }

// CalcGOT is the offset of the GOT slot of S from GOT_ORG.
func CalcGOT(v *Values) uint64 { return v.GOT + v.A - v.GOTOrg }

func CalcGOTPCRel(v *Values) uint64 { return v.GOT + v.A - v.P }

func CalcGOTOff(v *Values) uint64 { return ((v.S + v.A) | v.T) - v.GOTOrg }

func CalcGOTPC(v *Values) uint64 { return v.GOTOrg + v.A - v.P }

func Write8(loc []byte, val uint64)  { loc[0] = byte(val) }
func Write16(loc []byte, val uint64) { utils.Write[uint16](loc, uint16(val)) }
func Write32(loc []byte, val uint64) { utils.Write[uint32](loc, uint32(val)) }
func Write64(loc []byte, val uint64) { utils.Write[uint64](loc, val) }

func Read8(loc []byte) int64  { return int64(int8(loc[0])) }
func Read16(loc []byte) int64 { return int64(int16(utils.Read[uint16](loc))) }
func Read32(loc []byte) int64 { return int64(int32(utils.Read[uint32](loc))) }
func Read64(loc []byte) int64 { return int64(utils.Read[uint64](loc)) }

// Data returns the howto of a plain data relocation of size bits.
func Data(typ uint32, name string, class RelocClass, size int, check OverflowCheck,
	calc func(*Values) uint64) Howto {
	h := Howto{
		Type:  typ,
		Name:  name,
		Class: class,
		Size:  size,
		Check: check,
		Width: size,
		Calc:  calc,
	}
	switch size {
	case 8:
		h.Write, h.Read = Write8, Read8
	case 16:
		h.Write, h.Read = Write16, Read16
	case 32:
		h.Write, h.Read = Write32, Read32
	case 64:
		h.Write, h.Read = Write64, Read64
	}
	return h
}

// Word marks h as the pointer-sized absolute a dynamic relocation can
// stand for.
func Word(h Howto) Howto {
	h.Word = true
	return h
}

// PosIndep marks h as a field that a moved image leaves intact.
func PosIndep(h Howto) Howto {
	h.PosIndep = true
	return h
}

func None(typ uint32, name string) Howto {
	return Howto{Type: typ, Name: name, Class: ClassNone}
}
