// Package x86 is the i386 and x86-64 backend.
package x86

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/utils"
	"golang.org/x/arch/x86/x86asm"
)

const (
	pltEntrySize = 16
	gotPLTHeader = 3
)

// Arch64 is x86-64. Relocations carry explicit addends.
type Arch64 struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
}

func New64() *Arch64 {
	return &Arch64{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeX86_64,
			Rela:     true,
			WordSize: 8,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_X86_64_RELATIVE),
				GlobDat:  uint32(elf.R_X86_64_GLOB_DAT),
				JumpSlot: uint32(elf.R_X86_64_JMP_SLOT),
				Abs:      uint32(elf.R_X86_64_64),
			},
			PLT0Size:     pltEntrySize,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: gotPLTHeader,
		},
		howtos: howtos64(),
	}
}

func howtos64() *linker.HowtoTable {
	r := func(t elf.R_X86_64) uint32 { return uint32(t) }
	n := func(t elf.R_X86_64) string { return t.String() }
	data := func(t elf.R_X86_64, class linker.RelocClass, size int, check linker.OverflowCheck,
		calc func(*linker.Values) uint64) linker.Howto {
		return linker.Data(r(t), n(t), class, size, check, calc)
	}

	return linker.NewHowtoTable(uint32(elf.R_X86_64_REX_GOTPCRELX),
		linker.None(r(elf.R_X86_64_NONE), n(elf.R_X86_64_NONE)),
		linker.Word(data(elf.R_X86_64_64, linker.ClassAbs, 64, linker.CheckNone, linker.CalcAbs)),
		data(elf.R_X86_64_PC32, linker.ClassPCRel, 32, linker.CheckSigned, linker.CalcPCRel),
		data(elf.R_X86_64_GOT32, linker.ClassGOT, 32, linker.CheckSigned, linker.CalcGOT),
		data(elf.R_X86_64_PLT32, linker.ClassBranch, 32, linker.CheckSigned, linker.CalcBranch),
		data(elf.R_X86_64_GOTPCREL, linker.ClassGOT, 32, linker.CheckSigned, linker.CalcGOTPCRel),
		data(elf.R_X86_64_32, linker.ClassAbs, 32, linker.CheckUnsigned, linker.CalcAbs),
		data(elf.R_X86_64_32S, linker.ClassAbs, 32, linker.CheckSigned, linker.CalcAbs),
		data(elf.R_X86_64_16, linker.ClassAbs, 16, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_X86_64_PC16, linker.ClassPCRel, 16, linker.CheckSigned, linker.CalcPCRel),
		data(elf.R_X86_64_8, linker.ClassAbs, 8, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_X86_64_PC8, linker.ClassPCRel, 8, linker.CheckSigned, linker.CalcPCRel),
		data(elf.R_X86_64_PC64, linker.ClassPCRel, 64, linker.CheckNone, linker.CalcPCRel),
		data(elf.R_X86_64_GOTOFF64, linker.ClassGOTOff, 64, linker.CheckNone, linker.CalcGOTOff),
		data(elf.R_X86_64_GOTPC32, linker.ClassGOTPC, 32, linker.CheckSigned, linker.CalcGOTPC),
		data(elf.R_X86_64_GOTPCRELX, linker.ClassGOT, 32, linker.CheckSigned, linker.CalcGOTPCRel),
		data(elf.R_X86_64_REX_GOTPCRELX, linker.ClassGOT, 32, linker.CheckSigned, linker.CalcGOTPCRel),
	)
}

func (a *Arch64) Info() *linker.ArchInfo     { return &a.info }
func (a *Arch64) Howtos() *linker.HowtoTable { return a.howtos }

// WritePLT0 pushes the link map slot and jumps to the resolver:
//
//	pushq GOTPLT+8(%rip)
//	jmpq  *GOTPLT+16(%rip)
//	nopl  0(%rax)
func (a *Arch64) WritePLT0(buf []byte, plt0, gotplt uint64) {
	copy(buf, []byte{
		0xff, 0x35, 0, 0, 0, 0,
		0xff, 0x25, 0, 0, 0, 0,
		0x0f, 0x1f, 0x40, 0x00,
	})
	utils.Write[uint32](buf[2:], uint32(gotplt+8-(plt0+6)))
	utils.Write[uint32](buf[8:], uint32(gotplt+16-(plt0+12)))
}

// WritePLT emits
//
//	jmpq  *slot(%rip)
//	pushq $idx
//	jmpq  plt0
func (a *Arch64) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	copy(buf, []byte{
		0xff, 0x25, 0, 0, 0, 0,
		0x68, 0, 0, 0, 0,
		0xe9, 0, 0, 0, 0,
	})
	utils.Write[uint32](buf[2:], uint32(slot-(entry+6)))
	utils.Write[uint32](buf[7:], uint32(idx))
	utils.Write[uint32](buf[12:], uint32(plt0-(entry+16)))
}

// GOTPLTInit points the slot back at the push following the indirect jump.
func (a *Arch64) GOTPLTInit(entry, plt0 uint64) uint64 {
	return entry + 6
}

func (a *Arch64) WriteStub(buf []byte, stub, target uint64) {}

func (a *Arch64) Disassemble(code []byte, pc uint64) []string {
	return disassemble(code, pc, 64)
}

// Arch32 is i386. Relocations keep their addends in the patched bytes. A
// position-independent output addresses .got.plt through %ebx.
type Arch32 struct {
	info   linker.ArchInfo
	howtos *linker.HowtoTable
	pic    bool
}

func New32(pic bool) *Arch32 {
	return &Arch32{
		info: linker.ArchInfo{
			Machine:  linker.MachineTypeI386,
			WordSize: 4,
			Dyn: linker.DynTypes{
				Relative: uint32(elf.R_386_RELATIVE),
				GlobDat:  uint32(elf.R_386_GLOB_DAT),
				JumpSlot: uint32(elf.R_386_JMP_SLOT),
				Abs:      uint32(elf.R_386_32),
			},
			PLT0Size:     pltEntrySize,
			PLTEntrySize: pltEntrySize,
			GOTPLTHeader: gotPLTHeader,
		},
		howtos: howtos32(),
		pic:    pic,
	}
}

func howtos32() *linker.HowtoTable {
	r := func(t elf.R_386) uint32 { return uint32(t) }
	n := func(t elf.R_386) string { return t.String() }
	data := func(t elf.R_386, class linker.RelocClass, size int, check linker.OverflowCheck,
		calc func(*linker.Values) uint64) linker.Howto {
		return linker.Data(r(t), n(t), class, size, check, calc)
	}

	return linker.NewHowtoTable(uint32(elf.R_386_GOT32X),
		linker.None(r(elf.R_386_NONE), n(elf.R_386_NONE)),
		linker.Word(data(elf.R_386_32, linker.ClassAbs, 32, linker.CheckNone, linker.CalcAbs)),
		data(elf.R_386_PC32, linker.ClassPCRel, 32, linker.CheckNone, linker.CalcPCRel),
		data(elf.R_386_GOT32, linker.ClassGOT, 32, linker.CheckNone, linker.CalcGOT),
		data(elf.R_386_PLT32, linker.ClassBranch, 32, linker.CheckNone, linker.CalcBranch),
		data(elf.R_386_GOTOFF, linker.ClassGOTOff, 32, linker.CheckNone, linker.CalcGOTOff),
		data(elf.R_386_GOTPC, linker.ClassGOTPC, 32, linker.CheckNone, linker.CalcGOTPC),
		data(elf.R_386_16, linker.ClassAbs, 16, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_386_PC16, linker.ClassPCRel, 16, linker.CheckSigned, linker.CalcPCRel),
		data(elf.R_386_8, linker.ClassAbs, 8, linker.CheckBitfield, linker.CalcAbs),
		data(elf.R_386_PC8, linker.ClassPCRel, 8, linker.CheckSigned, linker.CalcPCRel),
		data(elf.R_386_GOT32X, linker.ClassGOT, 32, linker.CheckNone, linker.CalcGOT),
	)
}

func (a *Arch32) Info() *linker.ArchInfo     { return &a.info }
func (a *Arch32) Howtos() *linker.HowtoTable { return a.howtos }

// WritePLT0 emits
//
//	pushl GOTPLT+4
//	jmp   *GOTPLT+8
//
// with both operands taken relative to %ebx in a position-independent
// output.
func (a *Arch32) WritePLT0(buf []byte, plt0, gotplt uint64) {
	if a.pic {
		copy(buf, []byte{
			0xff, 0xb3, 0x04, 0, 0, 0,
			0xff, 0xa3, 0x08, 0, 0, 0,
			0, 0, 0, 0,
		})
		return
	}
	copy(buf, []byte{
		0xff, 0x35, 0, 0, 0, 0,
		0xff, 0x25, 0, 0, 0, 0,
		0, 0, 0, 0,
	})
	utils.Write[uint32](buf[2:], uint32(gotplt+4))
	utils.Write[uint32](buf[8:], uint32(gotplt+8))
}

// WritePLT emits
//
//	jmp  *slot
//	push $reloc_offset
//	jmp  plt0
func (a *Arch32) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	copy(buf, []byte{
		0xff, 0x25, 0, 0, 0, 0,
		0x68, 0, 0, 0, 0,
		0xe9, 0, 0, 0, 0,
	})
	target := uint32(slot)
	if a.pic {
		buf[1] = 0xa3
		gotplt := slot - uint64(gotPLTHeader+idx)*4
		target = uint32(slot - gotplt)
	}
	utils.Write[uint32](buf[2:], target)
	utils.Write[uint32](buf[7:], uint32(idx*linker.Rel32Size))
	utils.Write[uint32](buf[12:], uint32(plt0-(entry+16)))
}

func (a *Arch32) GOTPLTInit(entry, plt0 uint64) uint64 {
	return entry + 6
}

func (a *Arch32) WriteStub(buf []byte, stub, target uint64) {}

func (a *Arch32) Disassemble(code []byte, pc uint64) []string {
	return disassemble(code, pc, 32)
}

func disassemble(code []byte, pc uint64, mode int) []string {
	var lines []string
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, mode)
		if err != nil || inst.Len == 0 {
			lines = append(lines, fmt.Sprintf("%08x: .byte 0x%02x", pc, code[0]))
			code, pc = code[1:], pc+1
			continue
		}
		lines = append(lines, fmt.Sprintf("%08x: %s", pc, x86asm.GNUSyntax(inst, pc, nil)))
		code, pc = code[inst.Len:], pc+uint64(inst.Len)
	}
	return lines
}
