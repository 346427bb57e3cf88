package linker

import (
	"debug/elf"
	"strings"

	"github.com/ksco/mcld/pkg/utils"
)

// OutputSection gathers the input sections of the same name, type and
// flags.
//
// @Idx: index in SimpleLayout.OutputSections
type OutputSection struct {
	Chunk
	Members []*Section
	Idx     uint32
}

func NewOutputSection(name string, typ uint32, flags uint64, idx uint32) *OutputSection {
	o := &OutputSection{Chunk: NewChunk()}
	o.Name = name
	o.Shdr.Type = typ
	o.Shdr.Flags = flags
	o.Idx = idx
	return o
}

// UpdateShdr places every member at its aligned offset.
func (o *OutputSection) UpdateShdr(ctx *Context) {
	offset := uint64(0)
	align := uint64(1)
	for _, sec := range o.Members {
		offset = utils.AlignTo(offset, sec.Align)
		sec.Offset = offset
		offset += sec.Size
		if sec.Align > align {
			align = sec.Align
		}
	}
	o.Shdr.Size = offset
	o.Shdr.AddrAlign = align
}

func (o *OutputSection) CopyBuf(ctx *Context, buf []byte) {
	if o.Shdr.Type == uint32(elf.SHT_NOBITS) {
		return
	}
	for _, sec := range o.Members {
		for _, frag := range sec.Frags {
			copy(buf[sec.Offset+frag.Offset:], frag.Data)
		}
	}
}

var prefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.", ".bss.",
	".init_array.", ".fini_array.", ".tbss.", ".tdata.", ".gcc_except_table.",
	".ctors.", ".dtors.",
}

// GetOutputName maps an input section name to the output section it is
// placed in.
func GetOutputName(name string, flags uint64) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) &&
		flags&uint64(elf.SHF_MERGE) != 0 {
		if flags&uint64(elf.SHF_STRINGS) != 0 {
			return ".rodata.str"
		}
		return ".rodata.cst"
	}

	for _, prefix := range prefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}
	return name
}

// GetOutputSection returns the output section for an input section,
// creating it on first use.
func (l *SimpleLayout) GetOutputSection(name string, typ uint32, flags uint64) *OutputSection {
	name = GetOutputName(name, flags)
	flags = flags &^ uint64(elf.SHF_GROUP|elf.SHF_COMPRESSED|elf.SHF_LINK_ORDER|elf.SHF_MERGE|elf.SHF_STRINGS)

	for _, osec := range l.OutputSections {
		if name == osec.Name && typ == osec.Shdr.Type && flags == osec.Shdr.Flags {
			return osec
		}
	}

	osec := NewOutputSection(name, typ, flags, uint32(len(l.OutputSections)))
	l.OutputSections = append(l.OutputSections, osec)
	return osec
}
