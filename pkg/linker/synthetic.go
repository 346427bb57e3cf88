package linker

import (
	"debug/elf"

	"github.com/ksco/mcld/pkg/utils"
)

func (c *Context) wordSize() uint64 {
	return c.Arch.Info().WordSize
}

func (c *Context) writeWord(buf []byte, val uint64) {
	if c.wordSize() == 8 {
		utils.Write[uint64](buf, val)
	} else {
		utils.Write[uint32](buf, uint32(val))
	}
}

// GotSection holds one word per symbol reserved in ctx.GOT.
type GotSection struct {
	Chunk
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = SectionGOT.String()
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	return g
}

func (g *GotSection) UpdateShdr(ctx *Context) {
	g.Shdr.AddrAlign = ctx.wordSize()
	g.Shdr.Size = uint64(ctx.GOT.Len()) * ctx.wordSize()
}

// CopyBuf writes the link-time value of every slot. A slot of a
// preemptible symbol is left for the loader.
func (g *GotSection) CopyBuf(ctx *Context, buf []byte) {
	for h := 0; h < ctx.GOT.Len(); h++ {
		info := ctx.GOT.At(EntryHandle(h))
		if info == nil || ctx.IsPreemptible(info) {
			continue
		}
		ctx.writeWord(buf[uint64(h)*ctx.wordSize():], ctx.SymbolValue(info))
	}
}

// GotPltSection is the loader header followed by one slot per PLT entry.
type GotPltSection struct {
	Chunk
}

func NewGotPltSection() *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = SectionGOTPLT.String()
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	return g
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	g.Shdr.AddrAlign = ctx.wordSize()
	g.Shdr.Size = uint64(ctx.GOTPLT.Len()) * ctx.wordSize()
}

// CopyBuf points every slot at the code that resolves it lazily.
func (g *GotPltSection) CopyBuf(ctx *Context, buf []byte) {
	plt0 := ctx.Layout.SectionBase(SectionPLT)
	for h := 0; h < ctx.GOTPLT.Len(); h++ {
		info := ctx.GOTPLT.At(EntryHandle(h))
		if info == nil {
			continue
		}
		entry, _ := ctx.PLTAddress(info)
		ctx.writeWord(buf[uint64(h)*ctx.wordSize():], ctx.Arch.GOTPLTInit(entry, plt0))
	}
}

// PltSection is PLT0 followed by one entry per symbol in ctx.PLT.
type PltSection struct {
	Chunk
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = SectionPLT.String()
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltSection) UpdateShdr(ctx *Context) {
	p.Shdr.Size = 0
	if n := ctx.PLT.Len(); n > 0 {
		ai := ctx.Arch.Info()
		p.Shdr.Size = ai.PLT0Size + uint64(n)*ai.PLTEntrySize
	}
}

func (p *PltSection) CopyBuf(ctx *Context, buf []byte) {
	if ctx.PLT.Len() == 0 {
		return
	}

	plt0 := ctx.Layout.SectionBase(SectionPLT)
	ctx.Arch.WritePLT0(buf, plt0, ctx.Layout.SectionBase(SectionGOTPLT))

	for i, info := range ctx.PLT.Symbols() {
		entry, _ := ctx.PLTAddress(info)
		slot, _ := ctx.GOTPLT.EntryFor(info)
		ctx.Arch.WritePLT(buf[entry-plt0:], entry, ctx.GOTPLTAddress(slot), plt0, i)
	}
}

// RelDynSection encodes a DynRelTable in the target's REL or RELA format.
type RelDynSection struct {
	Chunk
	Kind  SyntheticKind
	Table *DynRelTable
}

func NewRelDynSection(kind SyntheticKind, table *DynRelTable, rela bool) *RelDynSection {
	r := &RelDynSection{Chunk: NewChunk(), Kind: kind, Table: table}
	r.Name = kind.String()
	r.Shdr.Type = uint32(elf.SHT_REL)
	if rela {
		r.Name = ".rela" + r.Name[len(".rel"):]
		r.Shdr.Type = uint32(elf.SHT_RELA)
	}
	r.Shdr.Flags = uint64(elf.SHF_ALLOC)
	return r
}

func (r *RelDynSection) entSize(ctx *Context) uint64 {
	if ctx.Arch.Info().Rela {
		return 3 * ctx.wordSize()
	}
	return 2 * ctx.wordSize()
}

func (r *RelDynSection) UpdateShdr(ctx *Context) {
	r.Shdr.AddrAlign = ctx.wordSize()
	r.Shdr.EntSize = r.entSize(ctx)
	r.Shdr.Size = uint64(r.Table.Len()) * r.Shdr.EntSize
}

func (r *RelDynSection) CopyBuf(ctx *Context, buf []byte) {
	rela := ctx.Arch.Info().Rela
	is64 := ctx.wordSize() == 8
	size := r.entSize(ctx)

	for i, t := range ctx.DynRelTuples(r.Table) {
		b := buf[uint64(i)*size:]
		switch {
		case is64 && rela:
			utils.Write[Rela](b, Rela{Offset: t.Offset, Info: uint64(t.SymIndex)<<32 | uint64(t.Type), Addend: t.Addend})
		case is64:
			utils.Write[Rel64](b, Rel64{Offset: t.Offset, Info: uint64(t.SymIndex)<<32 | uint64(t.Type)})
		case rela:
			utils.Write[Rela32](b, Rela32{Offset: uint32(t.Offset), Info: t.SymIndex<<8 | t.Type&0xff, Addend: int32(t.Addend)})
		default:
			utils.Write[Rel32](b, Rel32{Offset: uint32(t.Offset), Info: t.SymIndex<<8 | t.Type&0xff})
		}
	}
}

// StubSection holds the branch veneers added by relaxation.
type StubSection struct {
	Chunk
}

func NewStubSection() *StubSection {
	s := &StubSection{Chunk: NewChunk()}
	s.Name = SectionStubs.String()
	s.Shdr.Type = uint32(elf.SHT_PROGBITS)
	s.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	s.Shdr.AddrAlign = 8
	return s
}

func (s *StubSection) UpdateShdr(ctx *Context) {
	s.Shdr.Size = uint64(ctx.Stubs.Len()) * ctx.Arch.Info().StubSize
}

func (s *StubSection) CopyBuf(ctx *Context, buf []byte) {
	size := ctx.Arch.Info().StubSize
	for i, stub := range ctx.Stubs.Symbols() {
		addr := ctx.SymbolValue(stub)
		ctx.Arch.WriteStub(buf[uint64(i)*size:], addr, ctx.BranchTarget(ctx.StubTarget(stub)))
	}
}
