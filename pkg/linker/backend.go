package linker

import (
	"fmt"

	"go.uber.org/zap"
)

// DynTypes are the r_type values a target uses in dynamic relocations.
type DynTypes struct {
	Relative uint32
	GlobDat  uint32
	JumpSlot uint32
	Abs      uint32
}

/*
 * ArchInfo is the static description of a target.
 *
 * @GOTPLTHeader: slots at the head of .got.plt reserved for the loader
 * @StubSize: size of a branch veneer, 0 when the target has none
 * @Interwork: function symbols carry an instruction-set bit (ARM Thumb)
 * @GPOffset: distance between GOT_ORG and the global pointer (MIPS)
 */
type ArchInfo struct {
	Machine      MachineType
	Rela         bool
	WordSize     uint64
	Dyn          DynTypes
	PLT0Size     uint64
	PLTEntrySize uint64
	GOTPLTHeader int
	StubSize     uint64
	Interwork    bool
	GPOffset     uint64
}

// Arch is what a target package provides; Backend turns it into a
// Relocator.
type Arch interface {
	Info() *ArchInfo
	Howtos() *HowtoTable
	WritePLT0(buf []byte, plt0, gotplt uint64)
	WritePLT(buf []byte, entry, slot, plt0 uint64, idx int)
	// GOTPLTInit is the value a .got.plt slot holds before the loader
	// resolves it lazily.
	GOTPLTInit(entry, plt0 uint64) uint64
	WriteStub(buf []byte, stub, target uint64)
	Disassemble(code []byte, pc uint64) []string
}

// Backend is the target-independent half of every Relocator: it owns the
// GOT/PLT/dynamic relocation decisions and leaves formulas and encodings to
// the Arch howto table.
type Backend struct {
	ctx    *Context
	arch   Arch
	info   *ArchInfo
	howtos *HowtoTable
	logger *zap.Logger

	// high-part relocations by the place they patch
	pairs map[FragmentRef]*Relocation
}

func NewBackend(ctx *Context, arch Arch) *Backend {
	b := &Backend{
		ctx:    ctx,
		arch:   arch,
		info:   arch.Info(),
		howtos: arch.Howtos(),
		logger: ctx.Logger.Named(arch.Info().Machine.String()),
		pairs:  make(map[FragmentRef]*Relocation),
	}
	ctx.Arch = arch
	ctx.Relocator = b
	return b
}

func (b *Backend) Machine() MachineType {
	return b.info.Machine
}

func (b *Backend) IsRela() bool {
	return b.info.Rela
}

func (b *Backend) Arch() Arch {
	return b.arch
}

func (b *Backend) RelocationSize(typ uint32) int {
	h, res := b.howtos.Lookup(typ)
	if res != ResultOK {
		return 0
	}
	return h.Size
}

func (b *Backend) TypeName(typ uint32) string {
	h, res := b.howtos.Lookup(typ)
	if res != ResultOK {
		return fmt.Sprintf("R_%s_%d", b.info.Machine, typ)
	}
	return h.Name
}

func (b *Backend) ImplicitAddend(typ uint32, loc []byte) int64 {
	if b.info.Rela {
		return 0
	}
	h, res := b.howtos.Lookup(typ)
	if res != ResultOK || h.Read == nil {
		return 0
	}
	return h.Read(loc)
}

func (b *Backend) relocError(rel *Relocation, res Result) *RelocError {
	return &RelocError{
		Err:     res.Err(),
		Result:  res,
		Type:    b.TypeName(rel.Type),
		Symbol:  rel.Sym.String(),
		Section: sectionName(rel.Section),
		Offset:  rel.Target.Offset,
	}
}

func sectionName(s *Section) string {
	if s == nil {
		return "<none>"
	}
	if s.Input == nil {
		return s.Name
	}
	return s.Input.Name + "(" + s.Name + ")"
}
