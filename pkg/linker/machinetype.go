package linker

import (
	"bytes"
	"debug/elf"

	"github.com/ksco/mcld/pkg/utils"
)

type MachineType uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeARM
	MachineTypeAArch64
	MachineTypeMIPS
	MachineTypeI386
	MachineTypeX86_64
	MachineTypeRISCV64
)

var machineNames = [...]string{
	MachineTypeNone:    "",
	MachineTypeARM:     "arm",
	MachineTypeAArch64: "aarch64",
	MachineTypeMIPS:    "mipsel",
	MachineTypeI386:    "i386",
	MachineTypeX86_64:  "x86_64",
	MachineTypeRISCV64: "riscv64",
}

func (m MachineType) String() string {
	if int(m) < len(machineNames) {
		return machineNames[m]
	}
	return "unknown"
}

// Is64 reports whether the target uses 8-byte words.
func (m MachineType) Is64() bool {
	switch m {
	case MachineTypeAArch64, MachineTypeX86_64, MachineTypeRISCV64:
		return true
	}
	return false
}

// Emulations maps the -m names accepted on the command line.
var Emulations = map[string]MachineType{
	"armelf_linux_eabi": MachineTypeARM,
	"aarch64linux":      MachineTypeAArch64,
	"elf32ltsmip":       MachineTypeMIPS,
	"elf_i386":          MachineTypeI386,
	"elf_x86_64":        MachineTypeX86_64,
	"elf64lriscv":       MachineTypeRISCV64,
}

type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeDynObj
	FileTypeArchive
)

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, []byte(elf.ELFMAG))
}

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) && len(contents) >= 18 {
		switch elf.Type(utils.Read[uint16](contents[16:])) {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDynObj
		}
		return FileTypeUnknown
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeArchive
	}
	return FileTypeUnknown
}

func GetMachineTypeFromContents(contents []byte) MachineType {
	ft := GetFileType(contents)
	if ft != FileTypeObject && ft != FileTypeDynObj {
		return MachineTypeNone
	}

	class := elf.Class(contents[elf.EI_CLASS])
	switch elf.Machine(utils.Read[uint16](contents[18:])) {
	case elf.EM_ARM:
		return MachineTypeARM
	case elf.EM_AARCH64:
		return MachineTypeAArch64
	case elf.EM_MIPS:
		return MachineTypeMIPS
	case elf.EM_386:
		return MachineTypeI386
	case elf.EM_X86_64:
		return MachineTypeX86_64
	case elf.EM_RISCV:
		if class == elf.ELFCLASS64 {
			return MachineTypeRISCV64
		}
	}
	return MachineTypeNone
}
