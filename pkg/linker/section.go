package linker

import (
	"debug/elf"

	"github.com/ksco/mcld/pkg/utils"
)

type SectionID uint32

type FragmentID uint32

// FragmentRef addresses a byte inside a fragment by arena id, so relocations
// and symbols never hold pointers into section contents.
type FragmentRef struct {
	Frag   FragmentID
	Offset uint64
}

/*
 * Section is an input section after reading.
 *
 * @Frags: the byte regions of the section; a regular section has exactly
 *         one, the internal common section has one per common symbol
 * @Relocs: relocations whose target bytes live in this section
 * @OutputSection: set by the layout binning pass
 * @Offset: offset inside OutputSection, set by layout
 */
type Section struct {
	ID     SectionID
	Name   string
	Type   uint32
	Flags  uint64
	Align  uint64
	Size   uint64
	Input  *Input
	Frags  []*Fragment
	Relocs []*Relocation

	OutputSection *OutputSection
	Offset        uint64
}

func (s *Section) IsAlloc() bool {
	return s.Flags&uint64(elf.SHF_ALLOC) != 0
}

func (s *Section) IsNoBits() bool {
	return s.Type == uint32(elf.SHT_NOBITS)
}

// Fragment is a contiguous region of a section. Data is nil for NOBITS.
type Fragment struct {
	ID      FragmentID
	Section *Section
	Data    []byte
	Size    uint64
	Align   uint64
	Offset  uint64
}

func (c *Context) NewSection(in *Input, name string, typ uint32, flags, align uint64) *Section {
	if align == 0 {
		align = 1
	}
	s := &Section{
		ID:    SectionID(len(c.Sections)),
		Name:  name,
		Type:  typ,
		Flags: flags,
		Align: align,
		Input: in,
	}
	c.Sections = append(c.Sections, s)
	if in != nil {
		in.Sections = append(in.Sections, s)
	}
	return s
}

// AddFragment appends a region of size bytes to s. data is copied so that
// relocation application never writes into a cached memory area.
func (c *Context) AddFragment(s *Section, data []byte, size, align uint64) *Fragment {
	if align == 0 {
		align = 1
	}
	f := &Fragment{
		ID:      FragmentID(len(c.Fragments)),
		Section: s,
		Size:    size,
		Align:   align,
		Offset:  utils.AlignTo(s.Size, align),
	}
	if !s.IsNoBits() {
		f.Data = make([]byte, size)
		copy(f.Data, data)
	}

	s.Size = f.Offset + size
	if align > s.Align {
		s.Align = align
	}
	s.Frags = append(s.Frags, f)
	c.Fragments = append(c.Fragments, f)
	return f
}

func (c *Context) Fragment(id FragmentID) *Fragment {
	return c.Fragments[id]
}
