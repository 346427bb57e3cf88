// Package linkertest builds small links in memory for backend tests.
package linkertest

import (
	"debug/elf"
	"testing"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Addresses StaticLayout gives the fixture.
const (
	TextAddr   = 0x10000
	DataAddr   = 0x20000
	GOTAddr    = 0x30000
	GOTPLTAddr = 0x31000
	PLTAddr    = 0x32000
	StubsAddr  = 0x10800
)

// Fixture is a context with one input holding a .text and a .data
// section of 1KiB each.
type Fixture struct {
	Ctx     *linker.Context
	Backend *linker.Backend
	Input   *linker.Input
	Text    *linker.Fragment
	Data    *linker.Fragment
	Layout  *linker.StaticLayout
}

func New(t *testing.T, arch linker.Arch, kind linker.OutputKind) *Fixture {
	t.Helper()

	args := linker.DefaultConfig()
	args.OutputKind = kind
	args.Emulation = arch.Info().Machine
	ctx, err := linker.NewContext(args, zap.NewNop())
	require.NoError(t, err)

	f := &Fixture{Ctx: ctx, Backend: linker.NewBackend(ctx, arch)}
	f.Input = ctx.NewInput("a.o", "", linker.FileTypeObject, linker.InputAttribute{})

	text := ctx.NewSection(f.Input, ".text", uint32(elf.SHT_PROGBITS),
		uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 16)
	f.Text = ctx.AddFragment(text, nil, 1024, 16)
	data := ctx.NewSection(f.Input, ".data", uint32(elf.SHT_PROGBITS),
		uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 8)
	f.Data = ctx.AddFragment(data, nil, 1024, 8)

	f.Layout = linker.NewStaticLayout()
	f.Layout.Fragments[f.Text.ID] = TextAddr
	f.Layout.Fragments[f.Data.ID] = DataAddr
	f.Layout.Bases[linker.SectionGOT] = GOTAddr
	f.Layout.Bases[linker.SectionGOTPLT] = GOTPLTAddr
	f.Layout.Bases[linker.SectionPLT] = PLTAddr
	f.Layout.Bases[linker.SectionStubs] = StubsAddr
	return f
}

// Define declares a global symbol at off in frag.
func (f *Fixture) Define(t *testing.T, name string, typ linker.SymType, frag *linker.Fragment, off uint64) *linker.ResolveInfo {
	t.Helper()
	sym, err := f.Ctx.Declare(f.Input, linker.Declaration{
		Name:    name,
		Binding: linker.BindingGlobal,
		Type:    typ,
		Desc:    linker.Define,
		Frag:    &linker.FragmentRef{Frag: frag.ID, Offset: off},
	})
	require.NoError(t, err)
	return sym.Info
}

// Absolute declares a global symbol with a fixed value.
func (f *Fixture) Absolute(t *testing.T, name string, value uint64) *linker.ResolveInfo {
	t.Helper()
	sym, err := f.Ctx.Declare(f.Input, linker.Declaration{
		Name:    name,
		Binding: linker.BindingGlobal,
		Desc:    linker.Define,
		Value:   value,
	})
	require.NoError(t, err)
	return sym.Info
}

// Undef declares a reference to a symbol defined elsewhere.
func (f *Fixture) Undef(t *testing.T, name string, typ linker.SymType) *linker.ResolveInfo {
	t.Helper()
	sym, err := f.Ctx.Declare(f.Input, linker.Declaration{Name: name, Binding: linker.BindingGlobal, Type: typ})
	require.NoError(t, err)
	return sym.Info
}

// Reloc puts insn at off in frag and adds a relocation patching it. The
// addend of a REL target is read back from insn, as the object reader
// does.
func (f *Fixture) Reloc(typ uint32, info *linker.ResolveInfo, frag *linker.Fragment, off uint64,
	insn []byte, addend int64) *linker.Relocation {
	copy(frag.Data[off:], insn)
	if !f.Backend.IsRela() {
		addend = f.Backend.ImplicitAddend(typ, frag.Data[off:])
	}
	return f.Ctx.AddRelocation(frag.Section, typ, info, addend,
		linker.FragmentRef{Frag: frag.ID, Offset: off})
}

// Link scans, installs the static layout and applies every relocation.
func (f *Fixture) Link(t *testing.T) {
	t.Helper()
	require.NoError(t, linker.ScanRelocations(f.Ctx))
	require.NoError(t, f.Ctx.SetLayout(f.Layout))
	require.NoError(t, linker.ApplyRelocations(f.Ctx))
}

// Scan scans and installs the static layout without applying.
func (f *Fixture) Scan(t *testing.T) {
	t.Helper()
	require.NoError(t, linker.ScanRelocations(f.Ctx))
	require.NoError(t, f.Ctx.SetLayout(f.Layout))
}
