package linker

import "unsafe"

// Raw ELF records as they sit in little-endian files. The 64-bit layouts
// double as the normalised in-memory form.

type Ehdr32 struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PhOff     uint32
	ShOff     uint32
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Sym32 struct {
	Name  uint32
	Val   uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

type Rel32 struct {
	Offset uint32
	Info   uint32
}

type Rela32 struct {
	Offset uint32
	Info   uint32
	Addend int32
}

type Rel64 struct {
	Offset uint64
	Info   uint64
}

type Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

const (
	Ehdr32Size = int(unsafe.Sizeof(Ehdr32{}))
	EhdrSize   = int(unsafe.Sizeof(Ehdr{}))
	Shdr32Size = int(unsafe.Sizeof(Shdr32{}))
	ShdrSize   = int(unsafe.Sizeof(Shdr{}))
	Sym32Size  = int(unsafe.Sizeof(Sym32{}))
	SymSize    = int(unsafe.Sizeof(Sym{}))
	Rel32Size  = int(unsafe.Sizeof(Rel32{}))
	Rela32Size = int(unsafe.Sizeof(Rela32{}))
	Rel64Size  = int(unsafe.Sizeof(Rel64{}))
	RelaSize   = int(unsafe.Sizeof(Rela{}))
)

func (s *Sym) Bind() uint8       { return s.Info >> 4 }
func (s *Sym) Type() uint8       { return s.Info & 0xf }
func (s *Sym) Visibility() uint8 { return s.Other & 3 }

func ElfGetName(strTab []byte, offset uint32) string {
	if int(offset) >= len(strTab) {
		return ""
	}
	length := 0
	for int(offset)+length < len(strTab) && strTab[int(offset)+length] != 0 {
		length++
	}
	return string(strTab[offset : int(offset)+length])
}
