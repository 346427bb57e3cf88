package linker

import (
	"debug/elf"
	"math"
	"sort"

	"github.com/ksco/mcld/pkg/utils"
)

// SyntheticKind names the linker-created sections whose base addresses the
// relocator needs.
type SyntheticKind uint8

const (
	SectionGOT SyntheticKind = iota
	SectionGOTPLT
	SectionPLT
	SectionRelDyn
	SectionRelPlt
	SectionStubs
	NumSyntheticKinds
)

var syntheticNames = [...]string{
	SectionGOT:    ".got",
	SectionGOTPLT: ".got.plt",
	SectionPLT:    ".plt",
	SectionRelDyn: ".rel.dyn",
	SectionRelPlt: ".rel.plt",
	SectionStubs:  ".stubs",
}

func (k SyntheticKind) String() string {
	if k < NumSyntheticKinds {
		return syntheticNames[k]
	}
	return "unknown"
}

// Layout gives final addresses to everything a relocation can refer to.
// It is computed outside of the relocator, after every relocation has been
// scanned.
type Layout interface {
	SymbolAddress(info *ResolveInfo) uint64
	FragmentAddress(id FragmentID) uint64
	SectionBase(kind SyntheticKind) uint64
}

// symbolAddress is the address of info under l when nothing overrides it.
// Symbols defined by a shared object, and undefined ones, are at 0.
func symbolAddress(l Layout, info *ResolveInfo) uint64 {
	if info.OutSymbol == nil || info.FromDynamic || info.IsUndef() {
		return 0
	}
	return info.OutSymbol.GetAddr(l)
}

// StaticLayout takes its addresses from tables filled in by the caller.
// Symbols missing from Symbols are placed through their fragment.
type StaticLayout struct {
	Symbols   map[string]uint64
	Fragments map[FragmentID]uint64
	Bases     map[SyntheticKind]uint64
}

func NewStaticLayout() *StaticLayout {
	return &StaticLayout{
		Symbols:   make(map[string]uint64),
		Fragments: make(map[FragmentID]uint64),
		Bases:     make(map[SyntheticKind]uint64),
	}
}

func (l *StaticLayout) SymbolAddress(info *ResolveInfo) uint64 {
	if addr, ok := l.Symbols[info.Name]; ok && !info.IsLocal() {
		return addr
	}
	return symbolAddress(l, info)
}

func (l *StaticLayout) FragmentAddress(id FragmentID) uint64 {
	return l.Fragments[id]
}

func (l *StaticLayout) SectionBase(kind SyntheticKind) uint64 {
	return l.Bases[kind]
}

const ImageBase uint64 = 0x200000

/*
 * SimpleLayout lays every allocatable section out back to back from Base,
 * grouped into output sections and ordered read-only code first, then
 * writable data, then bss.
 *
 * @Chunks: output sections and synthetic sections in address order
 * @FileSize: bytes of the image up to the end of the last section with
 *            contents
 */
type SimpleLayout struct {
	ctx            *Context
	Base           uint64
	OutputSections []*OutputSection
	Chunks         []Chunker
	FileSize       uint64
}

// NewSimpleLayout bins the sections of ctx and assigns addresses.
func NewSimpleLayout(ctx *Context, base uint64) *SimpleLayout {
	l := &SimpleLayout{ctx: ctx, Base: base}
	l.BinSections()

	for _, osec := range l.OutputSections {
		if len(osec.Members) > 0 {
			l.Chunks = append(l.Chunks, osec)
		}
	}
	l.Chunks = append(l.Chunks, ctx.Chunks...)

	l.SortOutputSections()
	l.Update()
	return l
}

// Update recomputes sizes and addresses, for example after relaxation has
// added stubs.
func (l *SimpleLayout) Update() {
	for _, chunk := range l.Chunks {
		chunk.UpdateShdr(l.ctx)
	}
	l.FileSize = l.SetOutputSectionOffsets()
}

func (l *SimpleLayout) BinSections() {
	for _, sec := range l.ctx.Sections {
		if !sec.IsAlloc() {
			continue
		}
		osec := l.GetOutputSection(sec.Name, sec.Type, sec.Flags)
		osec.Members = append(osec.Members, sec)
		sec.OutputSection = osec
	}
}

func (l *SimpleLayout) SortOutputSections() {
	rank := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		if flags&uint64(elf.SHF_ALLOC) == 0 {
			return math.MaxInt32
		}
		if typ == uint32(elf.SHT_NOTE) {
			return 0
		}

		b2i := func(b bool) int {
			if b {
				return 1
			}
			return 0
		}

		writeable := b2i(flags&uint64(elf.SHF_WRITE) != 0)
		notExec := b2i(flags&uint64(elf.SHF_EXECINSTR) == 0)
		notTls := b2i(flags&uint64(elf.SHF_TLS) == 0)
		isBss := b2i(typ == uint32(elf.SHT_NOBITS))

		return int32(writeable<<7 | notExec<<6 | notTls<<5 | isBss<<4)
	}

	sort.SliceStable(l.Chunks, func(i, j int) bool {
		return rank(l.Chunks[i]) < rank(l.Chunks[j])
	})
}

// SetOutputSectionOffsets assigns addresses from Base and file offsets
// relative to it, and returns the file size.
func (l *SimpleLayout) SetOutputSectionOffsets() uint64 {
	addr := l.Base
	fileSize := uint64(0)
	for _, chunk := range l.Chunks {
		shdr := chunk.GetShdr()
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}

		addr = utils.AlignTo(addr, shdr.AddrAlign)
		shdr.Addr = addr
		shdr.Offset = addr - l.Base

		if !isTbss(chunk) {
			addr += shdr.Size
		}
		if shdr.Type != uint32(elf.SHT_NOBITS) && shdr.Offset+shdr.Size > fileSize {
			fileSize = shdr.Offset + shdr.Size
		}
	}
	return fileSize
}

func (l *SimpleLayout) SymbolAddress(info *ResolveInfo) uint64 {
	return symbolAddress(l, info)
}

func (l *SimpleLayout) FragmentAddress(id FragmentID) uint64 {
	frag := l.ctx.Fragment(id)
	sec := frag.Section
	if sec.OutputSection == nil {
		return 0
	}
	return sec.OutputSection.Shdr.Addr + sec.Offset + frag.Offset
}

func (l *SimpleLayout) SectionBase(kind SyntheticKind) uint64 {
	chunk, ok := l.ctx.Synthetic[kind]
	if !ok {
		return 0
	}
	return chunk.GetShdr().Addr
}

func isTbss(chunk Chunker) bool {
	shdr := chunk.GetShdr()
	return shdr.Type == uint32(elf.SHT_NOBITS) &&
		shdr.Flags&uint64(elf.SHF_TLS) != 0
}
