package linker

type DynRelKind uint8

const (
	// DynRelative needs no symbol lookup at load time.
	DynRelative DynRelKind = iota
	// DynGlobDat carries a symbol reference; in a GOT slot it becomes the
	// target's GLOB_DAT type, elsewhere its word-sized absolute type.
	DynGlobDat
	DynJumpSlot
)

func (k DynRelKind) String() string {
	switch k {
	case DynRelative:
		return "RELATIVE"
	case DynGlobDat:
		return "GLOB_DAT"
	}
	return "JUMP_SLOT"
}

type PlaceKind uint8

const (
	PlaceFragment PlaceKind = iota
	PlaceGOT
	PlaceGOTPLT
)

/*
 * DynRel is a dynamic relocation reserved during scan. Its addend is only
 * known once apply has run.
 *
 * @Ref: patched bytes when Place is PlaceFragment
 * @Slot: table slot when Place is PlaceGOT or PlaceGOTPLT
 */
type DynRel struct {
	Kind   DynRelKind
	Sym    *ResolveInfo
	Place  PlaceKind
	Ref    FragmentRef
	Slot   EntryHandle
	Addend int64
}

// DynRelTuple is a finalized dynamic relocation as the output writer
// receives it.
type DynRelTuple struct {
	Offset   uint64
	Type     uint32
	Addend   int64
	SymIndex uint32
}

type DynRelTable struct {
	Name string
	rels []*DynRel
}

func NewDynRelTable(name string) *DynRelTable {
	return &DynRelTable{Name: name}
}

func (t *DynRelTable) Add(d DynRel) int {
	t.rels = append(t.rels, &d)
	return len(t.rels) - 1
}

func (t *DynRelTable) At(i int) *DynRel {
	return t.rels[i]
}

func (t *DynRelTable) Len() int {
	return len(t.rels)
}

func (t *DynRelTable) All() []*DynRel {
	return t.rels
}

// CountKind returns how many relocations of kind k were reserved.
func (t *DynRelTable) CountKind(k DynRelKind) int {
	n := 0
	for _, d := range t.rels {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// AssignDynSymbols gives every symbol a dynamic relocation refers to a
// dynamic symbol index, in first-use order across RelDyn then RelPlt.
func (c *Context) AssignDynSymbols() {
	for _, t := range []*DynRelTable{c.RelDyn, c.RelPlt} {
		for _, d := range t.All() {
			if d.Kind != DynRelative {
				c.DynSyms.Reserve(d.Sym)
			}
		}
	}
}

// DynRelTuples finalizes the relocations of t. It must run after apply,
// which fixes the addends of relocations placed in fragments.
func (c *Context) DynRelTuples(t *DynRelTable) []DynRelTuple {
	dyn := c.Arch.Info().Dyn
	res := make([]DynRelTuple, 0, t.Len())
	for _, d := range t.All() {
		tuple := DynRelTuple{Addend: d.Addend}

		switch d.Place {
		case PlaceFragment:
			tuple.Offset = c.Layout.FragmentAddress(d.Ref.Frag) + d.Ref.Offset
		case PlaceGOT:
			tuple.Offset = c.Layout.SectionBase(SectionGOT) + uint64(d.Slot)*c.Arch.Info().WordSize
		case PlaceGOTPLT:
			tuple.Offset = c.GOTPLTAddress(d.Slot)
		}

		switch d.Kind {
		case DynRelative:
			tuple.Type = dyn.Relative
			if d.Place == PlaceGOT {
				tuple.Addend = int64(c.SymbolValue(d.Sym))
			}
		case DynGlobDat:
			tuple.Type = dyn.Abs
			if d.Place == PlaceGOT {
				tuple.Type = dyn.GlobDat
			}
		case DynJumpSlot:
			tuple.Type = dyn.JumpSlot
			tuple.Addend = 0
		}

		if d.Kind != DynRelative {
			h, _ := c.DynSyms.EntryFor(d.Sym)
			tuple.SymIndex = uint32(h)
		}
		res = append(res, tuple)
	}
	return res
}
