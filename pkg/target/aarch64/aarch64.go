// Package aarch64 is the 64-bit ARM backend.
package aarch64

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/utils"
	"golang.org/x/arch/arm64/arm64asm"
)

const (
	plt0Size     = 32
	pltEntrySize = 16
	stubSize     = 16
)

type Arch struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
}

func New() *Arch {
	return &Arch{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeAArch64,
			Rela:     true,
			WordSize: 8,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_AARCH64_RELATIVE),
				GlobDat:  uint32(elf.R_AARCH64_GLOB_DAT),
				JumpSlot: uint32(elf.R_AARCH64_JUMP_SLOT),
				Abs:      uint32(elf.R_AARCH64_ABS64),
			},
			PLT0Size:     plt0Size,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: 3,
			StubSize:     stubSize,
		},
		howtos: howtos(),
	}
}

func (a *Arch) Info() *linker.ArchInfo { return &a.info }

func (a *Arch) Howtos() *linker.HowtoTable { return a.howtos }

func page(v uint64) uint64 {
	return v &^ 0xfff
}

func read32(loc []byte) uint32 { return utils.Read[uint32](loc) }

func write32(loc []byte, v uint32) { utils.Write[uint32](loc, v) }

// writeImm12 fills the imm12 field of an add or load/store, scaled by
// 1<<scale.
func writeImm12(scale int) func([]byte, uint64) {
	return func(loc []byte, val uint64) {
		imm := uint32(val&0xfff) >> scale
		write32(loc, read32(loc)&^(0xfff<<10)|imm<<10)
	}
}

// writeAdr fills immlo:immhi of adr/adrp with val.
func writeAdr(loc []byte, val uint64) {
	imm := uint32(val) & 0x1fffff
	write32(loc, read32(loc)&^(0x3<<29|0x7ffff<<5)|(imm&3)<<29|(imm>>2)<<5)
}

func writeAdrp(loc []byte, val uint64) {
	writeAdr(loc, val>>12)
}

func writeBranch26(loc []byte, val uint64) {
	write32(loc, read32(loc)&^0x03ffffff|uint32(val>>2)&0x03ffffff)
}

func writeBranch19(loc []byte, val uint64) {
	write32(loc, read32(loc)&^(0x7ffff<<5)|(uint32(val>>2)&0x7ffff)<<5)
}

func writeBranch14(loc []byte, val uint64) {
	write32(loc, read32(loc)&^(0x3fff<<5)|(uint32(val>>2)&0x3fff)<<5)
}

func writeMovw(shift int) func([]byte, uint64) {
	return func(loc []byte, val uint64) {
		imm := uint32(val>>shift) & 0xffff
		write32(loc, read32(loc)&^(0xffff<<5)|imm<<5)
	}
}

func calcPage(v *linker.Values) uint64 {
	return page(v.S+v.A) - page(v.P)
}

func calcGOTPage(v *linker.Values) uint64 {
	return page(v.GOT+v.A) - page(v.P)
}

func calcGOTLo12(v *linker.Values) uint64 {
	return v.GOT + v.A
}

func howtos() *linker.HowtoTable {
	r := func(t elf.R_AARCH64) uint32 { return uint32(t) }
	n := func(t elf.R_AARCH64) string { return t.String() }
	data := func(t elf.R_AARCH64, class linker.RelocClass, size int, check linker.OverflowCheck,
		calc func(*linker.Values) uint64) linker.Howto {
		return linker.Data(r(t), n(t), class, size, check, calc)
	}
	insn := func(t elf.R_AARCH64, class linker.RelocClass, check linker.OverflowCheck, width, shift int,
		calc func(*linker.Values) uint64, write func([]byte, uint64)) linker.Howto {
		return linker.Howto{
			Type: r(t), Name: n(t), Class: class, Size: 32,
			Check: check, Width: width, Shift: shift, Calc: calc, Write: write,
		}
	}

	call26 := insn(elf.R_AARCH64_CALL26, linker.ClassBranch, linker.CheckSigned, 28, 0,
		linker.CalcBranch, writeBranch26)
	call26.Veneer = true
	jump26 := insn(elf.R_AARCH64_JUMP26, linker.ClassBranch, linker.CheckSigned, 28, 0,
		linker.CalcBranch, writeBranch26)
	jump26.Veneer = true

	return linker.NewHowtoTable(uint32(elf.R_AARCH64_IRELATIVE),
		linker.None(r(elf.R_AARCH64_NONE), n(elf.R_AARCH64_NONE)),
		linker.None(256, "R_AARCH64_NONE"),
		linker.Word(data(elf.R_AARCH64_ABS64, linker.ClassAbs, 64, linker.CheckNone, linker.CalcAbs)),
		data(elf.R_AARCH64_ABS32, linker.ClassAbs, 32, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_AARCH64_ABS16, linker.ClassAbs, 16, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_AARCH64_PREL64, linker.ClassPCRel, 64, linker.CheckNone, linker.CalcPCRel),
		data(elf.R_AARCH64_PREL32, linker.ClassPCRel, 32, linker.CheckBitfield, linker.CalcPCRel),
		data(elf.R_AARCH64_PREL16, linker.ClassPCRel, 16, linker.CheckBitfield, linker.CalcPCRel),

		insn(elf.R_AARCH64_MOVW_UABS_G0_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeMovw(0)),
		insn(elf.R_AARCH64_MOVW_UABS_G1_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeMovw(16)),
		insn(elf.R_AARCH64_MOVW_UABS_G2_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeMovw(32)),
		insn(elf.R_AARCH64_MOVW_UABS_G3, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeMovw(48)),

		insn(elf.R_AARCH64_ADR_PREL_LO21, linker.ClassPCRel, linker.CheckSigned, 21, 0, linker.CalcPCRel, writeAdr),
		insn(elf.R_AARCH64_ADR_PREL_PG_HI21, linker.ClassPCRel, linker.CheckSigned, 21, 12, calcPage, writeAdrp),
		linker.PosIndep(insn(elf.R_AARCH64_ADD_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(0))),
		linker.PosIndep(insn(elf.R_AARCH64_LDST8_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(0))),
		linker.PosIndep(insn(elf.R_AARCH64_LDST16_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(1))),
		linker.PosIndep(insn(elf.R_AARCH64_LDST32_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(2))),
		linker.PosIndep(insn(elf.R_AARCH64_LDST64_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(3))),
		linker.PosIndep(insn(elf.R_AARCH64_LDST128_ABS_LO12_NC, linker.ClassAbs, linker.CheckNone, 64, 0, linker.CalcAbs, writeImm12(4))),

		insn(elf.R_AARCH64_TSTBR14, linker.ClassBranch, linker.CheckSigned, 16, 0, linker.CalcBranch, writeBranch14),
		insn(elf.R_AARCH64_CONDBR19, linker.ClassBranch, linker.CheckSigned, 21, 0, linker.CalcBranch, writeBranch19),
		call26,
		jump26,

		insn(elf.R_AARCH64_ADR_GOT_PAGE, linker.ClassGOT, linker.CheckSigned, 21, 12, calcGOTPage, writeAdrp),
		insn(elf.R_AARCH64_LD64_GOT_LO12_NC, linker.ClassGOT, linker.CheckNone, 64, 0, calcGOTLo12, writeImm12(3)),
	)
}

// WritePLT0 saves x16 and x30 and jumps to the resolver stored in the
// third .got.plt slot.
func (a *Arch) WritePLT0(buf []byte, plt0, gotplt uint64) {
	insns := []uint32{
		0xa9bf7bf0, // stp  x16, x30, [sp, #-16]!
		0x90000010, // adrp x16, GOTPLT+16
		0xf9400211, // ldr  x17, [x16, #lo12(GOTPLT+16)]
		0x91000210, // add  x16, x16, #lo12(GOTPLT+16)
		0xd61f0220, // br   x17
		0xd503201f, // nop
		0xd503201f, // nop
		0xd503201f, // nop
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}

	got := gotplt + 16
	writeAdrp(buf[4:], page(got)-page(plt0+4))
	writeImm12(3)(buf[8:], got)
	writeImm12(0)(buf[12:], got)
}

func (a *Arch) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	insns := []uint32{
		0x90000010, // adrp x16, slot
		0xf9400211, // ldr  x17, [x16, #lo12(slot)]
		0x91000210, // add  x16, x16, #lo12(slot)
		0xd61f0220, // br   x17
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}

	writeAdrp(buf, page(slot)-page(entry))
	writeImm12(3)(buf[4:], slot)
	writeImm12(0)(buf[8:], slot)
}

// GOTPLTInit sends the first call through PLT0.
func (a *Arch) GOTPLTInit(entry, plt0 uint64) uint64 {
	return plt0
}

// WriteStub emits a veneer that can reach any address within 4GiB:
//
//	adrp x16, target
//	add  x16, x16, #lo12(target)
//	br   x16
func (a *Arch) WriteStub(buf []byte, stub, target uint64) {
	insns := []uint32{
		0x90000010,
		0x91000210,
		0xd61f0200,
		0xd503201f,
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}
	writeAdrp(buf, page(target)-page(stub))
	writeImm12(0)(buf[4:], target)
}

func (a *Arch) Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for ; len(code) >= 4; code, pc = code[4:], pc+4 {
		inst, err := arm64asm.Decode(code)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%08x: .inst 0x%08x", pc, read32(code)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%08x: %s", pc, arm64asm.GNUSyntax(inst)))
	}
	return lines
}
