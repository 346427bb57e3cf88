package riscv

import (
	"debug/elf"
	"testing"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/linker/linkertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le32(v uint32) []byte {
	buf := make([]byte, 4)
	write32(buf, v)
	return buf
}

func TestEncoders(t *testing.T) {
	assert.Equal(t, uint32(0x12346000), utype(0x12345800))
	assert.Equal(t, uint32(0x12345000), utype(0x123457ff))
	assert.Equal(t, uint32(0x7ff00000), itype(0x7ff))

	// jal x0, 8 / jal x0, -4 / beq x0, x0, 8
	assert.Equal(t, uint32(0x0080006f), jtype(8)|0x6f)
	assert.Equal(t, uint32(0xffdff06f), jtype(0xfffffffc)|0x6f)
	assert.Equal(t, uint32(0x00000463), btype(8)|0x63)

	loc := le32(0x00050513)
	writeLo12(writeItype)(loc, 0x10)
	assert.Equal(t, uint32(0x01000513), read32(loc))
}

// label declares a local symbol at off in .text, the way an assembler
// names the auipc of a %pcrel_hi/%pcrel_lo pair.
func label(t *testing.T, f *linkertest.Fixture, name string, off uint64) *linker.ResolveInfo {
	t.Helper()
	sym, err := f.Ctx.Declare(f.Input, linker.Declaration{
		Name:    name,
		Binding: linker.BindingLocal,
		Desc:    linker.Define,
		Frag:    &linker.FragmentRef{Frag: f.Text.ID, Offset: off},
	})
	require.NoError(t, err)
	return sym.Info
}

func TestPCRelPair(t *testing.T) {
	f := linkertest.New(t, New(), linker.OutputExec)
	near := f.Define(t, "near", linker.TypeObject, f.Data, 0x10)
	far := f.Define(t, "far", linker.TypeObject, f.Data, 0x900)

	hi := f.Reloc(uint32(elf.R_RISCV_PCREL_HI20), near, f.Text, 0, le32(0x00000517), 0)
	lo := f.Reloc(uint32(elf.R_RISCV_PCREL_LO12_I), label(t, f, ".L0", 0), f.Text, 4, le32(0x00050513), 0)
	hi2 := f.Reloc(uint32(elf.R_RISCV_PCREL_HI20), far, f.Text, 8, le32(0x00000517), 0)
	lo2 := f.Reloc(uint32(elf.R_RISCV_PCREL_LO12_I), label(t, f, ".L1", 8), f.Text, 12, le32(0x00050513), 0)
	f.Link(t)

	assert.Equal(t, uint32(0x00010517), read32(f.Ctx.Loc(hi)))
	assert.Equal(t, uint32(0x01050513), read32(f.Ctx.Loc(lo)))

	// 0x108f8 = 0x11000 - 0x708
	assert.Equal(t, uint32(0x00011517), read32(f.Ctx.Loc(hi2)))
	assert.Equal(t, uint32(0x8f850513), read32(f.Ctx.Loc(lo2)))
}

func TestPairLoWithoutHi(t *testing.T) {
	f := linkertest.New(t, New(), linker.OutputExec)
	lo := f.Reloc(uint32(elf.R_RISCV_PCREL_LO12_I), label(t, f, ".L0", 0x40), f.Text, 4, le32(0x00050513), 0)
	f.Scan(t)
	assert.Equal(t, linker.ResultBadReloc, f.Backend.Apply(lo))
}

func TestCallPLT(t *testing.T) {
	f := linkertest.New(t, New(), linker.OutputShared)
	ext := f.Undef(t, "ext", linker.TypeFunc)
	call := f.Reloc(uint32(elf.R_RISCV_CALL_PLT), ext, f.Text, 8, append(le32(0x00000097), le32(0x000080e7)...), 0)
	f.Link(t)

	plt, ok := f.Ctx.PLTAddress(ext)
	require.True(t, ok)
	assert.Equal(t, uint64(linkertest.PLTAddr+plt0Size), plt)

	// 0x32020 - 0x10008 = 0x22018
	loc := f.Ctx.Loc(call)
	assert.Equal(t, uint32(0x00022097), read32(loc))
	assert.Equal(t, uint32(0x018080e7), read32(loc[4:]))
}

func TestAddSub(t *testing.T) {
	f := linkertest.New(t, New(), linker.OutputExec)
	five := f.Absolute(t, "five", 5)
	add := f.Reloc(uint32(elf.R_RISCV_ADD32), five, f.Data, 0, le32(100), 0)
	sub := f.Reloc(uint32(elf.R_RISCV_SUB32), five, f.Data, 4, le32(100), 0)
	set6 := f.Reloc(uint32(elf.R_RISCV_SET6), five, f.Data, 8, []byte{0xc1}, 0)
	f.Link(t)

	assert.Equal(t, uint32(105), read32(f.Ctx.Loc(add)))
	assert.Equal(t, uint32(95), read32(f.Ctx.Loc(sub)))
	assert.Equal(t, byte(0xc5), f.Ctx.Loc(set6)[0])
}

func TestPLT(t *testing.T) {
	a := New()
	var plt0, gotplt uint64 = 0x32000, 0x31000

	buf := make([]byte, plt0Size)
	a.WritePLT0(buf, plt0, gotplt)
	// gotplt - plt0 = -0x1000
	assert.Equal(t, uint32(0xfffff397), read32(buf))

	entry := make([]byte, pltEntrySize)
	a.WritePLT(entry, plt0+plt0Size, gotplt+16, plt0, 0)
	// slot - entry = 0x31010 - 0x32020 = -0x1010
	assert.Equal(t, uint32(0xfffffe17), read32(entry))
	assert.Equal(t, uint32(0xff0e3e03), read32(entry[4:]))
	assert.Len(t, a.Disassemble(entry, plt0+plt0Size), 4)
}
