package linker

import (
	"debug/elf"
	"path/filepath"

	"github.com/ksco/mcld/pkg/utils"
)

// SharedFile reads the dynamic symbol table of a shared object. Its
// definitions win over nothing but undefined and common symbols, and its
// undefined symbols make the names they reference dynamic.
type SharedFile struct {
	InputFile
}

func NewSharedFile(in *Input, file *File) *SharedFile {
	return &SharedFile{InputFile: InputFile{Input: in, File: file}}
}

func (s *SharedFile) Parse(ctx *Context) error {
	f, err := NewInputFile(s.Input, s.File)
	if err != nil {
		return err
	}
	s.InputFile = f

	s.Input.SoName = s.readSoName()
	if s.Input.SoName == "" {
		s.Input.SoName = filepath.Base(s.File.Name)
	}

	dynsym := s.FindSection(uint32(elf.SHT_DYNSYM))
	if dynsym == nil {
		return nil
	}
	if err := s.FillUpElfSyms(dynsym); err != nil {
		return err
	}

	for i := s.FirstGlobal; i < len(s.ElfSyms); i++ {
		esym := &s.ElfSyms[i]
		if i == 0 || esym.Bind() == uint8(elf.STB_LOCAL) {
			continue
		}

		d := declarationOf(ElfGetName(s.SymbolStrtab, esym.Name), esym)
		if d.Name == "" {
			continue
		}
		d.Dynamic = true
		if _, err := ctx.Declare(s.Input, d); err != nil {
			ctx.Diag.Error(err)
		}
	}
	return nil
}

// readSoName returns DT_SONAME, or "" when the object has none.
func (s *SharedFile) readSoName() string {
	dynamic := s.FindSection(uint32(elf.SHT_DYNAMIC))
	if dynamic == nil {
		return ""
	}
	bs, err := s.GetBytesFromShdr(dynamic)
	if err != nil {
		return ""
	}
	strtab, err := s.GetBytesFromIdx(uint64(dynamic.Link))
	if err != nil {
		return ""
	}

	word := 4
	if s.Is64 {
		word = 8
	}
	for len(bs) >= 2*word {
		var tag, val uint64
		if s.Is64 {
			tag, val = utils.Read[uint64](bs), utils.Read[uint64](bs[8:])
		} else {
			tag, val = uint64(utils.Read[uint32](bs)), uint64(utils.Read[uint32](bs[4:]))
		}
		bs = bs[2*word:]

		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			return ""
		case elf.DT_SONAME:
			return ElfGetName(strtab, uint32(val))
		}
	}
	return ""
}
