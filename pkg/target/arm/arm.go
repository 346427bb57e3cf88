// Package arm is the 32-bit ARM backend, for ARM and Thumb code.
package arm

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/utils"
	"golang.org/x/arch/arm/armasm"
)

const (
	plt0Size     = 20
	pltEntrySize = 12
	stubSize     = 8
)

type Arch struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
}

func New() *Arch {
	return &Arch{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeARM,
			WordSize: 4,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_ARM_RELATIVE),
				GlobDat:  uint32(elf.R_ARM_GLOB_DAT),
				JumpSlot: uint32(elf.R_ARM_JUMP_SLOT),
				Abs:      uint32(elf.R_ARM_ABS32),
			},
			PLT0Size:     plt0Size,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: 3,
			StubSize:     stubSize,
			Interwork:    true,
		},
		howtos: howtos(),
	}
}

func (a *Arch) Info() *linker.ArchInfo { return &a.info }

func (a *Arch) Howtos() *linker.HowtoTable { return a.howtos }

func read32(loc []byte) uint32     { return utils.Read[uint32](loc) }
func write32(loc []byte, v uint32) { utils.Write[uint32](loc, v) }
func read16(loc []byte) uint16     { return utils.Read[uint16](loc) }
func write16(loc []byte, v uint16) { utils.Write[uint16](loc, v) }

func sext(v uint64, signBit int) int64 {
	return int64(utils.SignExtend(v, signBit))
}

// ARM B/BL/BLX: imm24 holds the word offset.
func writeBranch24(loc []byte, val uint64) {
	write32(loc, read32(loc)&0xff000000|uint32(val>>2)&0x00ffffff)
}

func readBranch24(loc []byte) int64 {
	return sext(uint64(read32(loc)&0x00ffffff)<<2, 25)
}

// Thumb-2 BL/B.W: S:I1:I2:imm10:imm11, where I1 = NOT(J1 XOR S).
func writeThumbBranch(loc []byte, val uint64) {
	s := uint16(val>>24) & 1
	i1 := uint16(val>>23) & 1
	i2 := uint16(val>>22) & 1
	j1 := (i1 ^ 1) ^ s
	j2 := (i2 ^ 1) ^ s

	write16(loc, read16(loc)&0xf800|s<<10|uint16(val>>12)&0x3ff)
	write16(loc[2:], read16(loc[2:])&0xd000|j1<<13|j2<<11|uint16(val>>1)&0x7ff)
}

func readThumbBranch(loc []byte) int64 {
	hi := uint64(read16(loc))
	lo := uint64(read16(loc[2:]))
	s := utils.Bit(hi, 10)
	i1 := (utils.Bit(lo, 13) ^ s) ^ 1
	i2 := (utils.Bit(lo, 11) ^ s) ^ 1
	v := s<<24 | i1<<23 | i2<<22 | utils.Bits(hi, 9, 0)<<12 | utils.Bits(lo, 10, 0)<<1
	return sext(v, 24)
}

func writeThumbJump11(loc []byte, val uint64) {
	write16(loc, read16(loc)&0xf800|uint16(val>>1)&0x7ff)
}

func readThumbJump11(loc []byte) int64 {
	return sext(uint64(read16(loc)&0x7ff)<<1, 11)
}

func writeThumbJump8(loc []byte, val uint64) {
	write16(loc, read16(loc)&0xff00|uint16(val>>1)&0xff)
}

func readThumbJump8(loc []byte) int64 {
	return sext(uint64(read16(loc)&0xff)<<1, 8)
}

// MOVW/MOVT: imm4:imm12.
func writeMov(shift int) func([]byte, uint64) {
	return func(loc []byte, val uint64) {
		imm := uint32(val>>shift) & 0xffff
		write32(loc, read32(loc)&0xfff0f000|(imm>>12)<<16|imm&0xfff)
	}
}

func readMov(loc []byte) int64 {
	insn := read32(loc)
	return sext(uint64((insn>>4)&0xf000|insn&0xfff), 15)
}

// Thumb-2 MOVW/MOVT: imm4:i:imm3:imm8.
func writeThumbMov(shift int) func([]byte, uint64) {
	return func(loc []byte, val uint64) {
		imm := uint16(val>>shift) & 0xffff
		write16(loc, read16(loc)&0xfbf0|(imm>>11)&1<<10|imm>>12)
		write16(loc[2:], read16(loc[2:])&0x8f00|(imm>>8)&7<<12|imm&0xff)
	}
}

func readThumbMov(loc []byte) int64 {
	hi := uint64(read16(loc))
	lo := uint64(read16(loc[2:]))
	v := utils.Bits(hi, 3, 0)<<12 | utils.Bit(hi, 10)<<11 | utils.Bits(lo, 14, 12)<<8 | utils.Bits(lo, 7, 0)
	return sext(v, 15)
}

func writePrel31(loc []byte, val uint64) {
	write32(loc, read32(loc)&0x80000000|uint32(val)&0x7fffffff)
}

func readPrel31(loc []byte) int64 {
	return sext(uint64(read32(loc)&0x7fffffff), 30)
}

func howtos() *linker.HowtoTable {
	r := func(t elf.R_ARM) uint32 { return uint32(t) }
	n := func(t elf.R_ARM) string { return t.String() }
	data := func(t elf.R_ARM, class linker.RelocClass, size int, check linker.OverflowCheck,
		calc func(*linker.Values) uint64) linker.Howto {
		return linker.Data(r(t), n(t), class, size, check, calc)
	}
	insn := func(t elf.R_ARM, class linker.RelocClass, size int, check linker.OverflowCheck, width int,
		calc func(*linker.Values) uint64, write func([]byte, uint64), read func([]byte) int64) linker.Howto {
		return linker.Howto{
			Type: r(t), Name: n(t), Class: class, Size: size, Check: check, Width: width,
			Calc: calc, Write: write, Read: read,
		}
	}
	veneer := func(h linker.Howto) linker.Howto {
		h.Veneer = true
		h.ARMState = true
		return h
	}

	return linker.NewHowtoTable(uint32(elf.R_ARM_THM_RPC22),
		linker.None(r(elf.R_ARM_NONE), n(elf.R_ARM_NONE)),
		linker.None(r(elf.R_ARM_V4BX), n(elf.R_ARM_V4BX)),
		linker.Word(data(elf.R_ARM_ABS32, linker.ClassAbs, 32, linker.CheckNone, linker.CalcAbs)),
		linker.Word(data(elf.R_ARM_TARGET1, linker.ClassAbs, 32, linker.CheckNone, linker.CalcAbs)),
		data(elf.R_ARM_REL32, linker.ClassPCRel, 32, linker.CheckNone, linker.CalcPCRel),
		data(elf.R_ARM_TARGET2, linker.ClassPCRel, 32, linker.CheckNone, linker.CalcPCRel),
		data(elf.R_ARM_ABS16, linker.ClassAbs, 16, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_ARM_ABS8, linker.ClassAbs, 8, linker.CheckBitfield, linker.CalcAbs),
		insn(elf.R_ARM_PREL31, linker.ClassPCRel, 32, linker.CheckSigned, 31,
			linker.CalcPCRel, writePrel31, readPrel31),

		veneer(insn(elf.R_ARM_PC24, linker.ClassBranch, 32, linker.CheckSigned, 26,
			linker.CalcBranch, writeBranch24, readBranch24)),
		veneer(insn(elf.R_ARM_CALL, linker.ClassBranch, 32, linker.CheckSigned, 26,
			linker.CalcBranch, writeBranch24, readBranch24)),
		veneer(insn(elf.R_ARM_JUMP24, linker.ClassBranch, 32, linker.CheckSigned, 26,
			linker.CalcBranch, writeBranch24, readBranch24)),
		veneer(insn(elf.R_ARM_PLT32, linker.ClassBranch, 32, linker.CheckSigned, 26,
			linker.CalcBranch, writeBranch24, readBranch24)),
		insn(elf.R_ARM_THM_PC22, linker.ClassBranch, 32, linker.CheckSigned, 25,
			linker.CalcBranch, writeThumbBranch, readThumbBranch),
		insn(elf.R_ARM_THM_JUMP24, linker.ClassBranch, 32, linker.CheckSigned, 25,
			linker.CalcBranch, writeThumbBranch, readThumbBranch),
		insn(elf.R_ARM_THM_JUMP11, linker.ClassPCRel, 16, linker.CheckSigned, 12,
			linker.CalcBranch, writeThumbJump11, readThumbJump11),
		insn(elf.R_ARM_THM_JUMP8, linker.ClassPCRel, 16, linker.CheckSigned, 9,
			linker.CalcBranch, writeThumbJump8, readThumbJump8),

		insn(elf.R_ARM_MOVW_ABS_NC, linker.ClassAbs, 32, linker.CheckNone, 32,
			linker.CalcAbs, writeMov(0), readMov),
		insn(elf.R_ARM_MOVT_ABS, linker.ClassAbs, 32, linker.CheckNone, 32,
			linker.CalcAbs, writeMov(16), readMov),
		insn(elf.R_ARM_MOVW_PREL_NC, linker.ClassPCRel, 32, linker.CheckNone, 32,
			linker.CalcPCRel, writeMov(0), readMov),
		insn(elf.R_ARM_MOVT_PREL, linker.ClassPCRel, 32, linker.CheckNone, 32,
			linker.CalcPCRel, writeMov(16), readMov),
		insn(elf.R_ARM_THM_MOVW_ABS_NC, linker.ClassAbs, 32, linker.CheckNone, 32,
			linker.CalcAbs, writeThumbMov(0), readThumbMov),
		insn(elf.R_ARM_THM_MOVT_ABS, linker.ClassAbs, 32, linker.CheckNone, 32,
			linker.CalcAbs, writeThumbMov(16), readThumbMov),

		data(elf.R_ARM_GOTOFF, linker.ClassGOTOff, 32, linker.CheckNone, linker.CalcGOTOff),
		data(elf.R_ARM_GOTPC, linker.ClassGOTPC, 32, linker.CheckNone, linker.CalcGOTPC),
		data(elf.R_ARM_GOT32, linker.ClassGOT, 32, linker.CheckNone, linker.CalcGOT),
		data(elf.R_ARM_GOT_PREL, linker.ClassGOT, 32, linker.CheckNone, linker.CalcGOTPCRel),
	)
}

// WritePLT0 pushes lr and jumps through the third .got.plt slot:
//
//	push {lr}
//	ldr  lr, [pc, #4]
//	add  lr, pc, lr
//	ldr  pc, [lr, #8]!
//	.word GOTPLT - .
func (a *Arch) WritePLT0(buf []byte, plt0, gotplt uint64) {
	insns := []uint32{0xe52de004, 0xe59fe004, 0xe08fe00e, 0xe5bef008, 0}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}
	write32(buf[16:], uint32(gotplt-(plt0+16)))
}

// WritePLT loads the slot with pc-relative adds split in three parts:
//
//	add ip, pc, #off[27:20]
//	add ip, ip, #off[19:12]
//	ldr pc, [ip, #off[11:0]]!
func (a *Arch) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	off := uint32(slot - (entry + 8))
	write32(buf, 0xe28fc600|(off>>20)&0xff)
	write32(buf[4:], 0xe28cca00|(off>>12)&0xff)
	write32(buf[8:], 0xe5bcf000|off&0xfff)
}

// GOTPLTInit sends the first call through PLT0.
func (a *Arch) GOTPLTInit(entry, plt0 uint64) uint64 {
	return plt0
}

// WriteStub emits an ARM veneer that reaches the whole address space:
//
//	ldr pc, [pc, #-4]
//	.word target
func (a *Arch) WriteStub(buf []byte, stub, target uint64) {
	write32(buf, 0xe51ff004)
	write32(buf[4:], uint32(target))
}

func (a *Arch) Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for ; len(code) >= 4; code, pc = code[4:], pc+4 {
		inst, err := armasm.Decode(code, armasm.ModeARM)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%08x: .word 0x%08x", pc, read32(code)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%08x: %s", pc, armasm.GNUSyntax(inst)))
	}
	return lines
}
