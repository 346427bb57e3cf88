package linker

import "github.com/ksco/mcld/pkg/utils"

type Result uint8

const (
	ResultOK Result = iota
	ResultOverflow
	ResultBadReloc
	ResultUnsupported
	ResultUnknown
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultOverflow:
		return "overflow"
	case ResultBadReloc:
		return "bad reloc"
	case ResultUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Err maps a failed Result to its sentinel error.
func (r Result) Err() error {
	switch r {
	case ResultOverflow:
		return ErrRelocOverflow
	case ResultBadReloc:
		return ErrBadReloc
	case ResultUnsupported:
		return ErrUnsupportedReloc
	case ResultUnknown:
		return ErrUnknownReloc
	}
	return nil
}

// Relocator is the two-phase contract every target implements. Scan runs
// for every relocation before layout and reserves GOT, PLT and dynamic
// relocation entries; Apply runs after layout and rewrites the bytes.
type Relocator interface {
	Machine() MachineType
	Scan(rel *Relocation, sec *Section) error
	Apply(rel *Relocation) Result
	RelocationSize(typ uint32) int
	TypeName(typ uint32) string
	ImplicitAddend(typ uint32, loc []byte) int64
	IsRela() bool
}

// Relaxer is implemented by relocators that can insert branch stubs.
type Relaxer interface {
	Relax() (int, error)
}

type RelocClass uint8

const (
	ClassNone RelocClass = iota
	// ClassAbs depends on S only.
	ClassAbs
	// ClassPCRel depends on S and P.
	ClassPCRel
	// ClassBranch is a call or jump that may go through the PLT.
	ClassBranch
	// ClassGOT needs a GOT slot for S.
	ClassGOT
	// ClassGOTOff is relative to GOT_ORG but needs no slot.
	ClassGOTOff
	// ClassGOTPC is GOT_ORG relative to P.
	ClassGOTPC
	// ClassPairLo takes the value of the high-part relocation placed at
	// the address of S, as RISC-V %pcrel_lo does.
	ClassPairLo
)

type OverflowCheck uint8

const (
	CheckNone OverflowCheck = iota
	CheckSigned
	CheckUnsigned
	CheckBitfield
)

// Values holds the operands a relocation formula reads. All arithmetic is
// modulo 2^64; formulas truncate to their field width themselves.
type Values struct {
	S      uint64
	A      uint64
	P      uint64
	GOT    uint64
	GOTOrg uint64
	PLTOrg uint64
	GP     uint64
	T      uint64
}

/*
 * Howto describes one relocation type of one target.
 *
 * @Size: bits of the relocated field, reported by RelocationSize
 * @Width, @Shift: the computed value is shifted right by Shift and must
 *                 then fit Width bits according to Check
 * @Word: a pointer-sized absolute that a dynamic relocation can stand for
 * @Veneer: an out-of-range branch that relaxation may send through a stub
 * @Pair: a high part that ClassPairLo relocations may refer to
 * @PosIndep: the field stays correct when the image moves, such as the low
 *            page bits of an address or a label difference
 * @ARMState: a branch that cannot switch to Thumb state
 * @Read: extracts the implicit addend of a REL relocation
 */
type Howto struct {
	Type   uint32
	Name   string
	Class  RelocClass
	Size   int
	Check  OverflowCheck
	Width  int
	Shift  int
	Word   bool
	Veneer bool
	Pair   bool

	PosIndep bool
	ARMState bool

	Calc   func(v *Values) uint64
	Write  func(loc []byte, val uint64)
	Read   func(loc []byte) int64
}

// Fits reports whether val passes the overflow check of h.
func (h *Howto) Fits(val uint64) bool {
	switch h.Check {
	case CheckSigned:
		return utils.IsInt(int64(val)>>h.Shift, h.Width)
	case CheckUnsigned:
		return utils.IsUint(val>>h.Shift, h.Width)
	case CheckBitfield:
		return utils.IsInt(int64(val)>>h.Shift, h.Width) || utils.IsUint(val>>h.Shift, h.Width)
	}
	return true
}

// HowtoTable indexes the howtos of a target by type code.
type HowtoTable struct {
	max    uint32
	howtos map[uint32]*Howto
}

func NewHowtoTable(maxType uint32, howtos ...Howto) *HowtoTable {
	t := &HowtoTable{max: maxType, howtos: make(map[uint32]*Howto, len(howtos))}
	for i := range howtos {
		h := howtos[i]
		t.howtos[h.Type] = &h
	}
	return t
}

func (t *HowtoTable) Lookup(typ uint32) (*Howto, Result) {
	if typ > t.max {
		return nil, ResultUnknown
	}
	h, ok := t.howtos[typ]
	if !ok {
		return nil, ResultUnsupported
	}
	return h, ResultOK
}

func (t *HowtoTable) Max() uint32 {
	return t.max
}
