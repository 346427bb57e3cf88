package linker

import "debug/elf"

type Binding uint8

const (
	BindingLocal Binding = iota
	BindingWeak
	BindingGlobal
	BindingAbsolute
)

func (b Binding) String() string {
	switch b {
	case BindingLocal:
		return "local"
	case BindingWeak:
		return "weak"
	case BindingGlobal:
		return "global"
	}
	return "absolute"
}

type SymType uint8

const (
	TypeNoType SymType = iota
	TypeObject
	TypeFunc
	TypeSection
	TypeFile
	TypeTLS
	TypeIFunc
)

type Visibility uint8

// Values follow elf.SymVis so they can be copied straight from st_other.
const (
	VisDefault   = Visibility(elf.STV_DEFAULT)
	VisInternal  = Visibility(elf.STV_INTERNAL)
	VisHidden    = Visibility(elf.STV_HIDDEN)
	VisProtected = Visibility(elf.STV_PROTECTED)
)

type Desc uint8

const (
	Undefined Desc = iota
	Define
	Common
)

func (d Desc) String() string {
	switch d {
	case Define:
		return "define"
	case Common:
		return "common"
	}
	return "undefined"
}

// Reserved bits a backend sets on a ResolveInfo during scan.
const (
	ReserveGOT  uint32 = 1 << 0
	ReservePLT  uint32 = 1 << 1
	ReserveRel  uint32 = 1 << 2
	ReserveStub uint32 = 1 << 3
)

/*
 * ResolveInfo is the one identity every input shares for a symbol name.
 *
 * @ID: dense index into NamePool, 0 is the null symbol
 * @Dynamic: visible to the runtime loader; set if any contributing input
 *           says so
 * @FromDynamic: the winning declaration came from a shared object
 * @Source: input that supplied the winning declaration
 * @OutSymbol: the Symbol whose location gives the final value
 */
type ResolveInfo struct {
	Name        string
	ID          uint32
	Binding     Binding
	Type        SymType
	Visibility  Visibility
	Desc        Desc
	Dynamic     bool
	FromDynamic bool
	Size        uint64
	Reserved    uint32

	Source    *Input
	OutSymbol *Symbol

	multiplyDefined bool
}

func (r *ResolveInfo) IsNull() bool   { return r.ID == 0 }
func (r *ResolveInfo) IsLocal() bool  { return r.Binding == BindingLocal }
func (r *ResolveInfo) IsWeak() bool   { return r.Binding == BindingWeak }
func (r *ResolveInfo) IsGlobal() bool { return r.Binding == BindingGlobal }
func (r *ResolveInfo) IsUndef() bool  { return r.Desc == Undefined }
func (r *ResolveInfo) IsDefine() bool { return r.Desc == Define }
func (r *ResolveInfo) IsCommon() bool { return r.Desc == Common }
func (r *ResolveInfo) IsFunc() bool   { return r.Type == TypeFunc || r.Type == TypeIFunc }

func (r *ResolveInfo) Has(bits uint32) bool {
	return r.Reserved&bits == bits
}

// Reserve sets bits and reports whether any of them was not set before.
func (r *ResolveInfo) Reserve(bits uint32) bool {
	if r.Has(bits) {
		return false
	}
	r.Reserved |= bits
	return true
}

func (r *ResolveInfo) String() string {
	if r.IsNull() {
		return "<null>"
	}
	return r.Name
}
