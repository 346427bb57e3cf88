// Package mips is the little-endian o32 MIPS backend.
package mips

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/utils"
)

// R_MIPS_JUMP_SLOT, which debug/elf does not name.
const rJumpSlot = 127

const (
	plt0Size     = 32
	pltEntrySize = 16
	// GP points 0x7ff0 bytes past the start of .got so that a signed
	// 16-bit offset reaches 64KiB of it.
	gpOffset = 0x7ff0
)

type Arch struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
}

func New() *Arch {
	return &Arch{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeMIPS,
			Rela:     false,
			WordSize: 4,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_MIPS_REL32),
				GlobDat:  uint32(elf.R_MIPS_REL32),
				JumpSlot: rJumpSlot,
				Abs:      uint32(elf.R_MIPS_REL32),
			},
			PLT0Size:     plt0Size,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: 2,
			GPOffset:     gpOffset,
		},
		howtos: howtos(),
	}
}

func (a *Arch) Info() *linker.ArchInfo     { return &a.info }
func (a *Arch) Howtos() *linker.HowtoTable { return a.howtos }

func read32(loc []byte) uint32     { return utils.Read[uint32](loc) }
func write32(loc []byte, v uint32) { utils.Write[uint32](loc, v) }

func hi(v uint64) uint32 {
	return uint32((v+0x8000)>>16) & 0xffff
}

func lo(v uint64) uint32 {
	return uint32(v) & 0xffff
}

func writeImm16(loc []byte, val uint64) {
	write32(loc, read32(loc)&^0xffff|lo(val))
}

func readImm16(loc []byte) int64 {
	return int64(int16(read32(loc)))
}

func writeHi16(loc []byte, val uint64) {
	write32(loc, read32(loc)&^0xffff|hi(val))
}

func readHi16(loc []byte) int64 {
	return int64(int32(read32(loc) << 16))
}

func write26(loc []byte, val uint64) {
	write32(loc, read32(loc)&^0x03ffffff|uint32(val>>2)&0x03ffffff)
}

func read26(loc []byte) int64 {
	return int64(read32(loc)&0x03ffffff) << 2
}

func writePC16(loc []byte, val uint64) {
	writeImm16(loc, val>>2)
}

func readPC16(loc []byte) int64 {
	return readImm16(loc) << 2
}

// calc26 keeps the 256MiB region of the jump itself; only the low 28 bits
// of S + A reach the instruction.
func calc26(v *linker.Values) uint64 {
	return v.S + v.A
}

func calcGPRel(v *linker.Values) uint64 {
	return v.S + v.A - v.GP
}

func calcGOT16(v *linker.Values) uint64 {
	return v.GOT - v.GP
}

func howtos() *linker.HowtoTable {
	r := func(t elf.R_MIPS) uint32 { return uint32(t) }
	n := func(t elf.R_MIPS) string { return t.String() }
	insn := func(t elf.R_MIPS, class linker.RelocClass, check linker.OverflowCheck, width, shift int,
		calc func(*linker.Values) uint64, write func([]byte, uint64),
		read func([]byte) int64) linker.Howto {
		return linker.Howto{
			Type: r(t), Name: n(t), Class: class, Size: 32,
			Check: check, Width: width, Shift: shift, Calc: calc, Write: write, Read: read,
		}
	}

	return linker.NewHowtoTable(rJumpSlot,
		linker.None(r(elf.R_MIPS_NONE), n(elf.R_MIPS_NONE)),
		linker.None(r(elf.R_MIPS_JALR), n(elf.R_MIPS_JALR)),
		linker.Data(r(elf.R_MIPS_16), n(elf.R_MIPS_16), linker.ClassAbs, 16, linker.CheckBitfield, linker.CalcAbs),
		linker.Word(linker.Data(r(elf.R_MIPS_32), n(elf.R_MIPS_32), linker.ClassAbs, 32,
			linker.CheckNone, linker.CalcAbs)),
		linker.Data(r(elf.R_MIPS_GPREL32), n(elf.R_MIPS_GPREL32), linker.ClassGOTOff, 32,
			linker.CheckNone, calcGPRel),

		insn(elf.R_MIPS_26, linker.ClassBranch, linker.CheckNone, 32, 0, calc26, write26, read26),
		insn(elf.R_MIPS_HI16, linker.ClassAbs, linker.CheckNone, 32, 0, linker.CalcAbs, writeHi16, readHi16),
		linker.PosIndep(insn(elf.R_MIPS_LO16, linker.ClassAbs, linker.CheckNone, 32, 0, linker.CalcAbs, writeImm16, readImm16)),
		insn(elf.R_MIPS_GPREL16, linker.ClassGOTOff, linker.CheckSigned, 16, 0, calcGPRel, writeImm16, readImm16),
		insn(elf.R_MIPS_GOT16, linker.ClassGOT, linker.CheckSigned, 16, 0, calcGOT16, writeImm16, readImm16),
		insn(elf.R_MIPS_CALL16, linker.ClassGOT, linker.CheckSigned, 16, 0, calcGOT16, writeImm16, readImm16),
		insn(elf.R_MIPS_PC16, linker.ClassPCRel, linker.CheckSigned, 18, 0, linker.CalcPCRel, writePC16, readPC16),
	)
}

// WritePLT0 computes the .got.plt index from the entry address left in
// $24 and calls the resolver with it.
func (a *Arch) WritePLT0(buf []byte, plt0, gotplt uint64) {
	insns := []uint32{
		0x3c1c0000, // lui   $28, %hi(GOTPLT)
		0x8f990000, // lw    $25, %lo(GOTPLT)($28)
		0x279c0000, // addiu $28, $28, %lo(GOTPLT)
		0x031cc023, // subu  $24, $24, $28
		0x03e07825, // move  $15, $31
		0x0018c082, // srl   $24, $24, 2
		0x0320f809, // jalr  $25
		0x2718fffe, // addiu $24, $24, -2
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}
	writeHi16(buf, gotplt)
	writeImm16(buf[4:], gotplt)
	writeImm16(buf[8:], gotplt)
}

func (a *Arch) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	insns := []uint32{
		0x3c0f0000, // lui   $15, %hi(slot)
		0x8df90000, // lw    $25, %lo(slot)($15)
		0x03200008, // jr    $25
		0x25f80000, // addiu $24, $15, %lo(slot)
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}
	writeHi16(buf, slot)
	writeImm16(buf[4:], slot)
	writeImm16(buf[12:], slot)
}

func (a *Arch) GOTPLTInit(entry, plt0 uint64) uint64 {
	return plt0
}

func (a *Arch) WriteStub(buf []byte, stub, target uint64) {}

// Disassemble dumps words; there is no MIPS decoder to lean on.
func (a *Arch) Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for ; len(code) >= 4; code, pc = code[4:], pc+4 {
		lines = append(lines, fmt.Sprintf("%08x: .word 0x%08x", pc, read32(code)))
	}
	return lines
}
