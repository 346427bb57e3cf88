package linker

import (
	"debug/elf"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Relocation types of the test target.
const (
	rNone uint32 = iota
	rAbs64
	rPC32
	rCall32
	rGOTPC32
	rJump8
	rAbs32
	rMax = rAbs32
)

const testStubSize = 8

// testArch is a little 64-bit target with one relocation of every class.
type testArch struct {
	info   ArchInfo
	howtos *HowtoTable
}

func newTestArch() *testArch {
	jump8 := Data(rJump8, "R_TEST_JUMP8", ClassBranch, 8, CheckSigned, CalcBranch)
	jump8.Veneer = true

	return &testArch{
		info: ArchInfo{
			Machine:  MachineTypeX86_64,
			Rela:     true,
			WordSize: 8,
			Dyn: DynTypes{
				Relative: 8,
				GlobDat:  6,
				JumpSlot: 7,
				Abs:      1,
			},
			PLT0Size:     16,
			PLTEntrySize: 16,
			GOTPLTHeader: 3,
			StubSize:     testStubSize,
		},
		howtos: NewHowtoTable(rMax,
			None(rNone, "R_TEST_NONE"),
			Word(Data(rAbs64, "R_TEST_64", ClassAbs, 64, CheckNone, CalcAbs)),
			Data(rPC32, "R_TEST_PC32", ClassPCRel, 32, CheckSigned, CalcPCRel),
			Data(rCall32, "R_TEST_CALL32", ClassBranch, 32, CheckSigned, CalcBranch),
			Data(rGOTPC32, "R_TEST_GOTPCREL", ClassGOT, 32, CheckSigned, CalcGOTPCRel),
			jump8,
			Data(rAbs32, "R_TEST_32", ClassAbs, 32, CheckUnsigned, CalcAbs),
		),
	}
}

func (a *testArch) Info() *ArchInfo     { return &a.info }
func (a *testArch) Howtos() *HowtoTable { return a.howtos }

func (a *testArch) WritePLT0(buf []byte, plt0, gotplt uint64) {
	Write64(buf, gotplt)
}

func (a *testArch) WritePLT(buf []byte, entry, slot, plt0 uint64, idx int) {
	Write64(buf, slot)
	Write32(buf[8:], uint64(idx))
}

func (a *testArch) GOTPLTInit(entry, plt0 uint64) uint64 {
	return entry + 8
}

func (a *testArch) WriteStub(buf []byte, stub, target uint64) {
	Write64(buf, target)
}

func (a *testArch) Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for ; len(code) >= 8; code, pc = code[8:], pc+8 {
		lines = append(lines, fmt.Sprintf("%08x: .quad %#x", pc, Read64(code)))
	}
	return lines
}

// fixture is a context with the test target installed and one input
// holding a .text and a .data section.
type fixture struct {
	ctx     *Context
	backend *Backend
	in      *Input
	text    *Fragment
	data    *Fragment
}

func newFixture(t *testing.T, kind OutputKind) *fixture {
	t.Helper()

	args := DefaultConfig()
	args.OutputKind = kind
	ctx, err := NewContext(args, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{ctx: ctx, backend: NewBackend(ctx, newTestArch())}
	f.in = ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})

	text := ctx.NewSection(f.in, ".text", uint32(elf.SHT_PROGBITS),
		uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 16)
	f.text = ctx.AddFragment(text, nil, 64, 16)
	data := ctx.NewSection(f.in, ".data", uint32(elf.SHT_PROGBITS),
		uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 8)
	f.data = ctx.AddFragment(data, nil, 64, 8)
	return f
}

func (f *fixture) define(t *testing.T, name string, typ SymType, frag *Fragment, off uint64) *ResolveInfo {
	t.Helper()
	sym, err := f.ctx.Declare(f.in, Declaration{
		Name:    name,
		Binding: BindingGlobal,
		Type:    typ,
		Desc:    Define,
		Frag:    &FragmentRef{Frag: frag.ID, Offset: off},
	})
	require.NoError(t, err)
	return sym.Info
}

func (f *fixture) undef(t *testing.T, name string, typ SymType) *ResolveInfo {
	t.Helper()
	sym, err := f.ctx.Declare(f.in, Declaration{Name: name, Binding: BindingGlobal, Type: typ})
	require.NoError(t, err)
	return sym.Info
}

func (f *fixture) reloc(typ uint32, info *ResolveInfo, frag *Fragment, off uint64, addend int64) *Relocation {
	return f.ctx.AddRelocation(frag.Section, typ, info, addend, FragmentRef{Frag: frag.ID, Offset: off})
}

// layout places .text at 0x1000, .data at 0x2000 and the synthetic
// sections above 0x3000.
func (f *fixture) layout(t *testing.T) *StaticLayout {
	t.Helper()
	l := NewStaticLayout()
	l.Fragments[f.text.ID] = 0x1000
	l.Fragments[f.data.ID] = 0x2000
	l.Bases[SectionGOT] = 0x3000
	l.Bases[SectionGOTPLT] = 0x3100
	l.Bases[SectionPLT] = 0x3200
	l.Bases[SectionStubs] = 0x1040
	require.NoError(t, f.ctx.SetLayout(l))
	return l
}
