package linker

import (
	"debug/elf"
	"strings"

	"github.com/ksco/mcld/pkg/utils"
	"go.uber.org/zap"
)

/*
 * ObjectFile reads one relocatable object into the context.
 *
 * @SymtabShndxSec: contents of SHT_SYMTAB_SHNDX. When a symbol's st_shndx is
 *                  SHN_XINDEX, its real section index is the entry with the
 *                  same index in this table.
 * @Sections: one entry per ELF section header; nil for sections that are
 *            not turned into Sections (symbol tables, relocations, groups,
 *            .eh_frame)
 * @Symbols: one entry per ELF symbol, index 0 is the null symbol
 */
type ObjectFile struct {
	InputFile
	SymtabSec      *Shdr
	SymtabShndxSec []uint32
	Sections       []*Section
	Symbols        []*Symbol
}

func NewObjectFile(in *Input, file *File) *ObjectFile {
	return &ObjectFile{InputFile: InputFile{Input: in, File: file}}
}

// Parse creates the sections, symbols and relocations of the object.
// Symbol conflicts are recorded in ctx.Diag so that every one of them is
// reported; a malformed file stops the read.
func (o *ObjectFile) Parse(ctx *Context) error {
	f, err := NewInputFile(o.Input, o.File)
	if err != nil {
		return err
	}
	o.InputFile = f

	o.SymtabSec = o.FindSection(uint32(elf.SHT_SYMTAB))
	if o.SymtabSec != nil {
		if err := o.FillUpElfSyms(o.SymtabSec); err != nil {
			return err
		}
	}

	if err := o.InitializeSections(ctx); err != nil {
		return err
	}
	if err := o.InitializeSymbols(ctx); err != nil {
		return err
	}
	return o.InitializeRelocations(ctx)
}

func (o *ObjectFile) InitializeSections(ctx *Context) error {
	o.Sections = make([]*Section, len(o.ElfSections))
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP, elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA,
			elf.SHT_NULL:
			continue
		case elf.SHT_SYMTAB_SHNDX:
			if err := o.FillUpSymtabShndxSec(shdr); err != nil {
				return err
			}
			continue
		}

		name := o.SectionName(shdr)
		if name == ".eh_frame" || strings.HasPrefix(name, ".note.GNU-stack") {
			continue
		}

		data, err := o.GetBytesFromShdr(shdr)
		if err != nil {
			return err
		}

		flags := shdr.Flags &^ uint64(elf.SHF_GROUP|elf.SHF_COMPRESSED)
		sec := ctx.NewSection(o.Input, name, shdr.Type, flags, shdr.AddrAlign)
		ctx.AddFragment(sec, data, shdr.Size, sec.Align)
		o.Sections[i] = sec
	}
	return nil
}

func (o *ObjectFile) FillUpSymtabShndxSec(s *Shdr) error {
	bs, err := o.GetBytesFromShdr(s)
	if err != nil {
		return err
	}
	o.SymtabShndxSec = utils.ReadSlice[uint32](bs, 4)
	return nil
}

func (o *ObjectFile) GetShndx(esym *Sym, idx int) int64 {
	if esym.Shndx == uint16(elf.SHN_XINDEX) {
		if idx >= len(o.SymtabShndxSec) {
			return -1
		}
		return int64(o.SymtabShndxSec[idx])
	}
	return int64(esym.Shndx)
}

// InitializeSymbols declares every symbol of the object. Locals below
// FirstGlobal get their own ResolveInfo; the rest go through the resolver.
func (o *ObjectFile) InitializeSymbols(ctx *Context) error {
	o.Symbols = make([]*Symbol, len(o.ElfSyms))
	if len(o.ElfSyms) == 0 {
		return nil
	}
	o.Symbols[0] = NewSymbol(ctx.Pool.Null(), o.Input)

	for i := 1; i < len(o.ElfSyms); i++ {
		esym := &o.ElfSyms[i]
		d := declarationOf(ElfGetName(o.SymbolStrtab, esym.Name), esym)
		if i < o.FirstGlobal {
			d.Binding = BindingLocal
		}

		switch elf.SectionIndex(esym.Shndx) {
		case elf.SHN_UNDEF, elf.SHN_ABS:
		case elf.SHN_COMMON:
			// st_value of a common symbol is its alignment.
			d.Value = esym.Val
		default:
			shndx := o.GetShndx(esym, i)
			if shndx < 0 || shndx >= int64(len(o.Sections)) {
				return o.errorf("symbol %d: bad section index %d", i, shndx)
			}
			sec := o.Sections[shndx]
			if sec == nil {
				if d.Binding != BindingLocal {
					ctx.Logger.Debug("symbol in discarded section",
						zap.String("sym", d.Name), zap.String("input", o.Input.Name))
				}
				d.Frag = nil
				break
			}
			if d.Type == TypeSection && d.Name == "" {
				d.Name = sec.Name
			}
			d.Frag = &FragmentRef{Frag: sec.Frags[0].ID, Offset: esym.Val}
		}

		sym, err := ctx.Declare(o.Input, d)
		if err != nil {
			ctx.Diag.Error(err)
		}
		o.Symbols[i] = sym
	}
	return nil
}

type elfReloc struct {
	offset uint64
	typ    uint32
	sym    uint32
	addend int64
	rela   bool
}

func (o *ObjectFile) readRelocs(shdr *Shdr) ([]elfReloc, error) {
	bs, err := o.GetBytesFromShdr(shdr)
	if err != nil {
		return nil, err
	}

	rela := shdr.Type == uint32(elf.SHT_RELA)
	var rels []elfReloc
	switch {
	case o.Is64 && rela:
		for _, r := range utils.ReadSlice[Rela](bs, RelaSize) {
			rels = append(rels, elfReloc{r.Offset, uint32(r.Info), uint32(r.Info >> 32), r.Addend, true})
		}
	case o.Is64:
		for _, r := range utils.ReadSlice[Rel64](bs, Rel64Size) {
			rels = append(rels, elfReloc{r.Offset, uint32(r.Info), uint32(r.Info >> 32), 0, false})
		}
	case rela:
		for _, r := range utils.ReadSlice[Rela32](bs, Rela32Size) {
			rels = append(rels, elfReloc{uint64(r.Offset), r.Info & 0xff, r.Info >> 8, int64(r.Addend), true})
		}
	default:
		for _, r := range utils.ReadSlice[Rel32](bs, Rel32Size) {
			rels = append(rels, elfReloc{uint64(r.Offset), r.Info & 0xff, r.Info >> 8, 0, false})
		}
	}
	return rels, nil
}

// InitializeRelocations attaches every relocation to the section it
// patches. A REL relocation takes its addend from the bytes it patches.
func (o *ObjectFile) InitializeRelocations(ctx *Context) error {
	for i := 0; i < len(o.ElfSections); i++ {
		shdr := &o.ElfSections[i]
		if shdr.Type != uint32(elf.SHT_RELA) && shdr.Type != uint32(elf.SHT_REL) {
			continue
		}
		if shdr.Info >= uint32(len(o.Sections)) {
			return o.errorf("relocation section %d: bad target %d", i, shdr.Info)
		}
		target := o.Sections[shdr.Info]
		if target == nil {
			continue
		}

		rels, err := o.readRelocs(shdr)
		if err != nil {
			return err
		}

		frag := target.Frags[0]
		for _, r := range rels {
			if int(r.sym) >= len(o.Symbols) {
				return o.errorf("%s: relocation against bad symbol %d", target.Name, r.sym)
			}
			if r.offset >= frag.Size {
				return o.errorf("%s: relocation offset 0x%x is out of range", target.Name, r.offset)
			}
			if ctx.Relocator != nil {
				size := uint64(ctx.Relocator.RelocationSize(r.typ)+7) / 8
				if r.offset+size > frag.Size {
					return o.errorf("%s: %d-byte relocation at 0x%x runs past the section end",
						target.Name, size, r.offset)
				}
			}

			addend := r.addend
			if !r.rela && ctx.Relocator != nil && frag.Data != nil {
				addend = ctx.Relocator.ImplicitAddend(r.typ, frag.Data[r.offset:])
			}

			info := ctx.Pool.Null()
			if sym := o.Symbols[r.sym]; sym != nil {
				info = sym.Info
			}
			ctx.AddRelocation(target, r.typ, info, addend,
				FragmentRef{Frag: frag.ID, Offset: r.offset})
		}
	}
	return nil
}
