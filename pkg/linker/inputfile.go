package linker

import (
	"debug/elf"
	"fmt"

	"github.com/ksco/mcld/pkg/utils"
)

/*
 * InputFile is the part of an ELF file every reader needs: the section
 * headers and the symbol table, normalised to the 64-bit layouts.
 *
 * @Is64: ELFCLASS64
 * @ElfSections: section headers
 * @ShStrtab: section name string table
 * @ElfSyms: symbols of the table selected with FillUpElfSyms
 * @FirstGlobal: sh_info of that symbol table
 * @SymbolStrtab: string table of that symbol table
 */
type InputFile struct {
	Input        *Input
	File         *File
	Is64         bool
	Ehdr         Ehdr
	ElfSections  []Shdr
	ShStrtab     []byte
	ElfSyms      []Sym
	FirstGlobal  int
	SymbolStrtab []byte
}

func NewInputFile(in *Input, file *File) (InputFile, error) {
	f := InputFile{Input: in, File: file}
	contents := file.Contents

	if len(contents) < Ehdr32Size || !CheckMagic(contents) {
		return f, f.errorf("not an ELF file")
	}
	if elf.Data(contents[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return f, f.errorf("big-endian ELF is not supported")
	}

	f.Is64 = elf.Class(contents[elf.EI_CLASS]) == elf.ELFCLASS64
	if f.Is64 {
		if len(contents) < EhdrSize {
			return f, f.errorf("file too small")
		}
		f.Ehdr = utils.Read[Ehdr](contents)
	} else {
		e := utils.Read[Ehdr32](contents)
		f.Ehdr = Ehdr{
			Ident: e.Ident, Type: e.Type, Machine: e.Machine, Version: e.Version,
			Entry: uint64(e.Entry), PhOff: uint64(e.PhOff), ShOff: uint64(e.ShOff),
			Flags: e.Flags, EhSize: e.EhSize, PhEntSize: e.PhEntSize, PhNum: e.PhNum,
			ShEntSize: e.ShEntSize, ShNum: e.ShNum, ShStrndx: e.ShStrndx,
		}
	}

	if f.Ehdr.ShOff == 0 {
		return f, nil
	}
	if f.Ehdr.ShOff >= uint64(len(contents)) {
		return f, f.errorf("section header table is out of range")
	}

	first, err := f.readShdr(0)
	if err != nil {
		return f, err
	}

	numSections := uint64(f.Ehdr.ShNum)
	if numSections == 0 {
		numSections = first.Size
	}

	f.ElfSections = []Shdr{first}
	for i := uint64(1); i < numSections; i++ {
		shdr, err := f.readShdr(i)
		if err != nil {
			return f, err
		}
		f.ElfSections = append(f.ElfSections, shdr)
	}

	shstrndx := uint64(f.Ehdr.ShStrndx)
	if f.Ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrndx = uint64(first.Link)
	}
	f.ShStrtab, err = f.GetBytesFromIdx(shstrndx)
	return f, err
}

func (f *InputFile) readShdr(idx uint64) (Shdr, error) {
	size := uint64(ShdrSize)
	if !f.Is64 {
		size = uint64(Shdr32Size)
	}

	off := f.Ehdr.ShOff + idx*size
	if off+size > uint64(len(f.File.Contents)) {
		return Shdr{}, f.errorf("section header %d is out of range", idx)
	}
	contents := f.File.Contents[off:]

	if f.Is64 {
		return utils.Read[Shdr](contents), nil
	}
	s := utils.Read[Shdr32](contents)
	return Shdr{
		Name: s.Name, Type: s.Type, Flags: uint64(s.Flags), Addr: uint64(s.Addr),
		Offset: uint64(s.Offset), Size: uint64(s.Size), Link: s.Link, Info: s.Info,
		AddrAlign: uint64(s.AddrAlign), EntSize: uint64(s.EntSize),
	}, nil
}

func (f *InputFile) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrBadInput, f.File.Name, fmt.Sprintf(format, args...))
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) ([]byte, error) {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil, nil
	}
	end := s.Offset + s.Size
	if uint64(len(f.File.Contents)) < end {
		return nil, f.errorf("section header is out of range: %d", s.Offset)
	}
	return f.File.Contents[s.Offset:end], nil
}

func (f *InputFile) GetBytesFromIdx(idx uint64) ([]byte, error) {
	if idx >= uint64(len(f.ElfSections)) {
		return nil, f.errorf("section index %d is out of range", idx)
	}
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

// FillUpElfSyms reads the symbol table s and its string table.
func (f *InputFile) FillUpElfSyms(s *Shdr) error {
	bs, err := f.GetBytesFromShdr(s)
	if err != nil {
		return err
	}

	if f.Is64 {
		f.ElfSyms = utils.ReadSlice[Sym](bs, SymSize)
	} else {
		syms := utils.ReadSlice[Sym32](bs, Sym32Size)
		f.ElfSyms = make([]Sym, len(syms))
		for i, s := range syms {
			f.ElfSyms[i] = Sym{
				Name: s.Name, Info: s.Info, Other: s.Other, Shndx: s.Shndx,
				Val: uint64(s.Val), Size: uint64(s.Size),
			}
		}
	}

	f.FirstGlobal = int(s.Info)
	f.SymbolStrtab, err = f.GetBytesFromIdx(uint64(s.Link))
	return err
}

// FindSection returns the first section header of type ty.
func (f *InputFile) FindSection(ty uint32) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		shdr := &f.ElfSections[i]
		if shdr.Type == ty {
			return shdr
		}
	}
	return nil
}

func (f *InputFile) SectionName(s *Shdr) string {
	return ElfGetName(f.ShStrtab, s.Name)
}

// declarationOf converts an ELF symbol into the resolver's terms.
func declarationOf(name string, esym *Sym) Declaration {
	d := Declaration{
		Name:       name,
		Visibility: Visibility(esym.Visibility()),
		Size:       esym.Size,
		Value:      esym.Val,
	}

	switch elf.SymBind(esym.Bind()) {
	case elf.STB_LOCAL:
		d.Binding = BindingLocal
	case elf.STB_WEAK:
		d.Binding = BindingWeak
	default:
		d.Binding = BindingGlobal
	}

	switch elf.SymType(esym.Type()) {
	case elf.STT_OBJECT, elf.STT_COMMON:
		d.Type = TypeObject
	case elf.STT_FUNC:
		d.Type = TypeFunc
	case elf.STT_SECTION:
		d.Type = TypeSection
	case elf.STT_FILE:
		d.Type = TypeFile
	case elf.STT_TLS:
		d.Type = TypeTLS
	case elf.STT_LOOS: // STT_GNU_IFUNC
		d.Type = TypeIFunc
	}

	switch elf.SectionIndex(esym.Shndx) {
	case elf.SHN_UNDEF:
		d.Desc = Undefined
	case elf.SHN_COMMON:
		d.Desc = Common
	default:
		d.Desc = Define
	}
	return d
}
