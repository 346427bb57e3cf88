// Package riscv is the RV64 backend.
package riscv

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/utils"
)

const (
	plt0Size     = 32
	pltEntrySize = 16
)

type Arch struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
}

func New() *Arch {
	return &Arch{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeRISCV64,
			Rela:     true,
			WordSize: 8,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_RISCV_RELATIVE),
				GlobDat:  uint32(elf.R_RISCV_64),
				JumpSlot: uint32(elf.R_RISCV_JUMP_SLOT),
				Abs:      uint32(elf.R_RISCV_64),
			},
			PLT0Size:     plt0Size,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: 2,
		},
		howtos: howtos(),
	}
}

func (a *Arch) Info() *linker.ArchInfo     { return &a.info }
func (a *Arch) Howtos() *linker.HowtoTable { return a.howtos }

func itype(val uint32) uint32 {
	return val << 20
}

func stype(val uint32) uint32 {
	return utils.Bits(val, 11, 5)<<25 | utils.Bits(val, 4, 0)<<7
}

func btype(val uint32) uint32 {
	return utils.Bit(val, 12)<<31 | utils.Bits(val, 10, 5)<<25 |
		utils.Bits(val, 4, 1)<<8 | utils.Bit(val, 11)<<7
}

func utype(val uint32) uint32 {
	return (val + 0x800) & 0xffff_f000
}

func jtype(val uint32) uint32 {
	return utils.Bit(val, 20)<<31 | utils.Bits(val, 10, 1)<<21 |
		utils.Bit(val, 11)<<20 | utils.Bits(val, 19, 12)<<12
}

func cbtype(val uint16) uint16 {
	return utils.Bit(val, 8)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 3)<<10 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 6)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func cjtype(val uint16) uint16 {
	return utils.Bit(val, 11)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 9)<<10 |
		utils.Bit(val, 8)<<9 | utils.Bit(val, 10)<<8 | utils.Bit(val, 6)<<7 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 3)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func read32(loc []byte) uint32     { return utils.Read[uint32](loc) }
func write32(loc []byte, v uint32) { utils.Write[uint32](loc, v) }

func writeItype(loc []byte, val uint64) {
	mask := uint32(0b000000_00000_11111_111_11111_1111111)
	write32(loc, read32(loc)&mask|itype(uint32(val)))
}

func writeStype(loc []byte, val uint64) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	write32(loc, read32(loc)&mask|stype(uint32(val)))
}

func writeBtype(loc []byte, val uint64) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	write32(loc, read32(loc)&mask|btype(uint32(val)))
}

func writeUtype(loc []byte, val uint64) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	write32(loc, read32(loc)&mask|utype(uint32(val)))
}

func writeJtype(loc []byte, val uint64) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	write32(loc, read32(loc)&mask|jtype(uint32(val)))
}

func writeCBtype(loc []byte, val uint64) {
	mask := uint16(0b111_000_111_00000_11)
	utils.Write[uint16](loc, utils.Read[uint16](loc)&mask|cbtype(uint16(val)))
}

func writeCJtype(loc []byte, val uint64) {
	mask := uint16(0b111_00000000000_11)
	utils.Write[uint16](loc, utils.Read[uint16](loc)&mask|cjtype(uint16(val)))
}

func setRs1(loc []byte, rs1 uint32) {
	write32(loc, read32(loc)&0b111111_11111_00000_111_11111_1111111|rs1<<15)
}

// writeLo12 fills a lo12 immediate. When the whole value fits in 12 bits
// the paired lui produced zero, so the base register becomes x0.
func writeLo12(write func([]byte, uint64)) func([]byte, uint64) {
	return func(loc []byte, val uint64) {
		write(loc, val)
		if utils.SignExtend(val, 11) == val {
			setRs1(loc, 0)
		}
	}
}

// writeCall patches an auipc/jalr pair.
func writeCall(loc []byte, val uint64) {
	writeUtype(loc, val)
	writeItype(loc[4:], val)
}

func add(read func([]byte) int64, write func([]byte, uint64)) func([]byte, uint64) {
	return func(loc []byte, val uint64) { write(loc, uint64(read(loc))+val) }
}

func sub(read func([]byte) int64, write func([]byte, uint64)) func([]byte, uint64) {
	return func(loc []byte, val uint64) { write(loc, uint64(read(loc))-val) }
}

func writeSet6(loc []byte, val uint64) {
	loc[0] = loc[0]&0xc0 | byte(val)&0x3f
}

func writeSub6(loc []byte, val uint64) {
	loc[0] = loc[0]&0xc0 | (loc[0]-byte(val))&0x3f
}

// calcPairLo is the value of the paired high part.
func calcPairLo(v *linker.Values) uint64 {
	return v.S
}

func howtos() *linker.HowtoTable {
	r := func(t elf.R_RISCV) uint32 { return uint32(t) }
	n := func(t elf.R_RISCV) string { return t.String() }
	data := func(t elf.R_RISCV, class linker.RelocClass, size int, check linker.OverflowCheck,
		calc func(*linker.Values) uint64) linker.Howto {
		return linker.Data(r(t), n(t), class, size, check, calc)
	}
	insn := func(t elf.R_RISCV, class linker.RelocClass, size int, check linker.OverflowCheck, width int,
		calc func(*linker.Values) uint64, write func([]byte, uint64)) linker.Howto {
		return linker.Howto{
			Type: r(t), Name: n(t), Class: class, Size: size,
			Check: check, Width: width, Calc: calc, Write: write,
		}
	}
	rmw := func(t elf.R_RISCV, size int, op func(func([]byte) int64, func([]byte, uint64)) func([]byte, uint64)) linker.Howto {
		h := data(t, linker.ClassAbs, size, linker.CheckNone, linker.CalcAbs)
		h.Write = op(h.Read, h.Write)
		return linker.PosIndep(h)
	}
	set := func(t elf.R_RISCV, size int) linker.Howto {
		return linker.PosIndep(data(t, linker.ClassAbs, size, linker.CheckNone, linker.CalcAbs))
	}

	gotHi20 := insn(elf.R_RISCV_GOT_HI20, linker.ClassGOT, 32, linker.CheckSigned, 32,
		linker.CalcGOTPCRel, writeUtype)
	gotHi20.Pair = true
	pcrelHi20 := insn(elf.R_RISCV_PCREL_HI20, linker.ClassPCRel, 32, linker.CheckSigned, 32,
		linker.CalcPCRel, writeUtype)
	pcrelHi20.Pair = true

	return linker.NewHowtoTable(uint32(elf.R_RISCV_32_PCREL),
		linker.None(r(elf.R_RISCV_NONE), n(elf.R_RISCV_NONE)),
		linker.None(r(elf.R_RISCV_RELAX), n(elf.R_RISCV_RELAX)),
		linker.None(r(elf.R_RISCV_ALIGN), n(elf.R_RISCV_ALIGN)),
		data(elf.R_RISCV_32, linker.ClassAbs, 32, linker.CheckBitfield, linker.CalcAbs),
		linker.Word(data(elf.R_RISCV_64, linker.ClassAbs, 64, linker.CheckNone, linker.CalcAbs)),
		data(elf.R_RISCV_32_PCREL, linker.ClassPCRel, 32, linker.CheckSigned, linker.CalcPCRel),

		insn(elf.R_RISCV_BRANCH, linker.ClassBranch, 32, linker.CheckSigned, 13, linker.CalcBranch, writeBtype),
		insn(elf.R_RISCV_JAL, linker.ClassBranch, 32, linker.CheckSigned, 21, linker.CalcBranch, writeJtype),
		insn(elf.R_RISCV_CALL, linker.ClassBranch, 64, linker.CheckSigned, 32, linker.CalcBranch, writeCall),
		insn(elf.R_RISCV_CALL_PLT, linker.ClassBranch, 64, linker.CheckSigned, 32, linker.CalcBranch, writeCall),
		insn(elf.R_RISCV_RVC_BRANCH, linker.ClassBranch, 16, linker.CheckSigned, 9, linker.CalcBranch, writeCBtype),
		insn(elf.R_RISCV_RVC_JUMP, linker.ClassBranch, 16, linker.CheckSigned, 12, linker.CalcBranch, writeCJtype),

		gotHi20,
		pcrelHi20,
		insn(elf.R_RISCV_PCREL_LO12_I, linker.ClassPairLo, 32, linker.CheckNone, 64, calcPairLo, writeItype),
		insn(elf.R_RISCV_PCREL_LO12_S, linker.ClassPairLo, 32, linker.CheckNone, 64, calcPairLo, writeStype),
		insn(elf.R_RISCV_HI20, linker.ClassAbs, 32, linker.CheckSigned, 32, linker.CalcAbs, writeUtype),
		linker.PosIndep(insn(elf.R_RISCV_LO12_I, linker.ClassAbs, 32, linker.CheckNone, 64, linker.CalcAbs, writeLo12(writeItype))),
		linker.PosIndep(insn(elf.R_RISCV_LO12_S, linker.ClassAbs, 32, linker.CheckNone, 64, linker.CalcAbs, writeLo12(writeStype))),

		rmw(elf.R_RISCV_ADD8, 8, add),
		rmw(elf.R_RISCV_ADD16, 16, add),
		rmw(elf.R_RISCV_ADD32, 32, add),
		rmw(elf.R_RISCV_ADD64, 64, add),
		rmw(elf.R_RISCV_SUB8, 8, sub),
		rmw(elf.R_RISCV_SUB16, 16, sub),
		rmw(elf.R_RISCV_SUB32, 32, sub),
		rmw(elf.R_RISCV_SUB64, 64, sub),
		linker.PosIndep(insn(elf.R_RISCV_SET6, linker.ClassAbs, 8, linker.CheckNone, 64, linker.CalcAbs, writeSet6)),
		linker.PosIndep(insn(elf.R_RISCV_SUB6, linker.ClassAbs, 8, linker.CheckNone, 64, linker.CalcAbs, writeSub6)),
		set(elf.R_RISCV_SET8, 8),
		set(elf.R_RISCV_SET16, 16),
		set(elf.R_RISCV_SET32, 32),
	)
}

// WritePLT0 passes the .got.plt index of the caller in t1 and the link map
// in t0 to the resolver.
func (a *Arch) WritePLT0(buf []byte, plt0, gotplt uint64) {
	insns := []uint32{
		0x00000397, // auipc t2, %pcrel_hi(.got.plt)
		0x41c30333, // sub   t1, t1, t3
		0x0003be03, // ld    t3, %pcrel_lo(1b)(t2)
		0xfd430313, // addi  t1, t1, -44
		0x00038293, // addi  t0, t2, %pcrel_lo(1b)
		0x00135313, // srli  t1, t1, 1
		0x0082b283, // ld    t0, 8(t0)
		0x000e0067, // jr    t3
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}

	off := gotplt - plt0
	writeUtype(buf, off)
	writeItype(buf[8:], off)
	writeItype(buf[16:], off)
}

func (a *Arch) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	insns := []uint32{
		0x00000e17, // auipc t3, %pcrel_hi(slot)
		0x000e3e03, // ld    t3, %pcrel_lo(1b)(t3)
		0x000e0367, // jalr  t1, t3
		0x00000013, // nop
	}
	for i, insn := range insns {
		write32(buf[i*4:], insn)
	}

	off := slot - entry
	writeUtype(buf, off)
	writeItype(buf[4:], off)
}

func (a *Arch) GOTPLTInit(entry, plt0 uint64) uint64 {
	return plt0
}

func (a *Arch) WriteStub(buf []byte, stub, target uint64) {}

// Disassemble dumps words; there is no RISC-V decoder to lean on.
func (a *Arch) Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for ; len(code) >= 4; code, pc = code[4:], pc+4 {
		lines = append(lines, fmt.Sprintf("%08x: .word 0x%08x", pc, read32(code)))
	}
	return lines
}
