package linker

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"
)

type Phase uint8

const (
	PhaseRead Phase = iota
	PhaseScanned
	PhaseLaidOut
	PhaseApplied
)

/*
 * Context is everything one link owns. Nothing in the linker keeps state
 * outside of it.
 *
 * @Args: options of this link
 * @Areas: file contents by canonical path
 * @Pool: every ResolveInfo of the link
 * @Objs: inputs in command line order
 * @Sections, @Fragments: arenas addressed by SectionID and FragmentID
 * @GOT: .got slots, one per symbol reached through a GOT-relative relocation
 * @GOTPLT: .got.plt, the loader header slots then one slot per PLT entry
 * @PLT: one entry per symbol called through the PLT
 * @Stubs: branch veneers inserted by relaxation
 * @RelDyn, @RelPlt: dynamic relocations reserved during scan
 * @DynSyms: dynamic symbol table indices, slot 0 is the null symbol
 * @Chunks: synthetic sections sized from the reservations
 */
type Context struct {
	Args   Config
	Logger *zap.Logger
	Diag   *Diagnostics

	Areas *MemoryAreas
	Pool  *NamePool
	Objs  []*Input

	Sections  []*Section
	Fragments []*Fragment

	Arch      Arch
	Relocator Relocator
	Layout    Layout

	GOT    *EntryTable
	GOTPLT *EntryTable
	PLT    *EntryTable
	Stubs  *EntryTable
	RelDyn *DynRelTable
	RelPlt *DynRelTable

	DynSyms   *EntryTable
	Chunks    []Chunker
	Synthetic map[SyntheticKind]Chunker

	// Internal holds linker-synthesised sections such as commons.
	Internal *Input

	inputsByPath map[string]*Input
	stubTargets  map[*ResolveInfo]*ResolveInfo
	stubsByDest  map[*ResolveInfo]*ResolveInfo
	undefined    *roaring.Bitmap
	needGOT      bool
	phase        Phase
}

func NewContext(args Config, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	areas, err := NewMemoryAreas(args.MaxMemoryAreas, logger.Named("areas"))
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Args:         args,
		Logger:       logger,
		Diag:         NewDiagnostics(logger),
		Areas:        areas,
		Pool:         NewNamePool(1024),
		GOT:          NewEntryTable(".got"),
		GOTPLT:       NewEntryTable(".got.plt"),
		PLT:          NewEntryTable(".plt"),
		Stubs:        NewEntryTable(".stubs"),
		RelDyn:       NewDynRelTable(".rel.dyn"),
		RelPlt:       NewDynRelTable(".rel.plt"),
		DynSyms:      NewEntryTable(".dynsym"),
		Synthetic:    make(map[SyntheticKind]Chunker),
		inputsByPath: make(map[string]*Input),
		stubTargets:  make(map[*ResolveInfo]*ResolveInfo),
		stubsByDest:  make(map[*ResolveInfo]*ResolveInfo),
		undefined:    roaring.New(),
	}
	ctx.Internal = &Input{Name: "<internal>", Type: FileTypeObject, Priority: -1}
	ctx.DynSyms.Consume()
	return ctx, nil
}

func (c *Context) Phase() Phase {
	return c.phase
}

// SetLayout installs the final addresses. Every relocation must have been
// scanned first, since layout sizes the synthetic sections from the
// reservations.
func (c *Context) SetLayout(l Layout) error {
	if c.phase < PhaseScanned {
		return fmt.Errorf("%w: layout before scan", ErrPhaseOrder)
	}
	c.Layout = l
	c.phase = PhaseLaidOut
	return nil
}

// IsAbsolute reports whether info is defined outside of any fragment, so
// that its value does not move with the load base.
func (c *Context) IsAbsolute(info *ResolveInfo) bool {
	if info.IsNull() {
		return true
	}
	if c.IsStub(info) || !info.IsDefine() || info.FromDynamic {
		return false
	}
	return info.OutSymbol != nil && info.OutSymbol.Frag == nil
}

// IsPreemptible reports whether the definition of info used at run time
// may come from another link unit.
func (c *Context) IsPreemptible(info *ResolveInfo) bool {
	if info.IsNull() || info.IsLocal() || c.IsStub(info) {
		return false
	}
	if info.Visibility != VisDefault {
		return false
	}
	if info.FromDynamic {
		return true
	}
	if info.IsUndef() {
		if info.IsWeak() {
			return c.Args.IsDynamic()
		}
		return info.Dynamic || c.Args.OutputKind == OutputShared
	}
	return c.Args.OutputKind == OutputShared && !c.Args.Bsymbolic
}

// NeedsPLT reports whether a call or PC-relative reference to info must be
// routed through a PLT entry. Data symbols are never given one.
func (c *Context) NeedsPLT(info *ResolveInfo) bool {
	if info.Type == TypeObject || info.Type == TypeTLS || info.Type == TypeSection {
		return false
	}
	return c.IsPreemptible(info)
}

// checkUndefined reports a reference to a symbol nothing defines, once
// per symbol.
func (c *Context) checkUndefined(info *ResolveInfo, sec *Section) error {
	if !info.IsUndef() || info.Dynamic || info.IsWeak() || info.IsNull() {
		return nil
	}
	if !c.undefined.CheckedAdd(info.ID) {
		return nil
	}

	if c.Args.AllowShlibUndefined ||
		(c.Args.OutputKind == OutputShared && !c.Args.NoUndefined) {
		c.Diag.Warn("undefined reference",
			zap.String("sym", info.Name), zap.String("section", sectionName(sec)))
		return nil
	}
	return &SymbolError{Err: ErrUndefinedReference, Name: info.Name, Input: sectionName(sec)}
}

// Undefined returns the IDs of every undefined symbol reported so far.
func (c *Context) Undefined() *roaring.Bitmap {
	return c.undefined.Clone()
}

// SymbolValue is the final address of info, stubs included.
func (c *Context) SymbolValue(info *ResolveInfo) uint64 {
	if c.IsStub(info) {
		h, _ := c.Stubs.EntryFor(info)
		return c.Layout.SectionBase(SectionStubs) + uint64(h)*c.Arch.Info().StubSize
	}
	return c.Layout.SymbolAddress(info)
}

func (c *Context) PLTAddress(info *ResolveInfo) (uint64, bool) {
	h, ok := c.PLT.EntryFor(info)
	if !ok {
		return 0, false
	}
	ai := c.Arch.Info()
	return c.Layout.SectionBase(SectionPLT) + ai.PLT0Size + uint64(h)*ai.PLTEntrySize, true
}

func (c *Context) GOTAddress(info *ResolveInfo) (uint64, bool) {
	h, ok := c.GOT.EntryFor(info)
	if !ok {
		return 0, false
	}
	return c.Layout.SectionBase(SectionGOT) + uint64(h)*c.Arch.Info().WordSize, true
}

func (c *Context) GOTPLTAddress(h EntryHandle) uint64 {
	return c.Layout.SectionBase(SectionGOTPLT) + uint64(h)*c.Arch.Info().WordSize
}

func (c *Context) IsStub(info *ResolveInfo) bool {
	_, ok := c.stubTargets[info]
	return ok
}

// StubTarget returns the destination a stub jumps to.
func (c *Context) StubTarget(stub *ResolveInfo) *ResolveInfo {
	return c.stubTargets[stub]
}

// StubFor returns the stub that jumps to dest, creating it on first use.
func (c *Context) StubFor(dest *ResolveInfo) *ResolveInfo {
	if stub, ok := c.stubsByDest[dest]; ok {
		return stub
	}

	stub := c.Pool.CreateLocal("__" + dest.Name + "_veneer")
	stub.Type = TypeFunc
	stub.Desc = Define
	stub.Reserve(ReserveStub)
	c.Stubs.Reserve(stub)
	c.stubTargets[stub] = dest
	c.stubsByDest[dest] = stub

	c.Logger.Debug("add branch stub", zap.String("dest", dest.Name))
	return stub
}

// BranchTarget is where a call to info finally lands: its PLT entry when it
// has one, else the symbol itself.
func (c *Context) BranchTarget(info *ResolveInfo) uint64 {
	if addr, ok := c.PLTAddress(info); ok {
		return addr
	}
	return c.SymbolValue(info)
}

type ReservationCounts struct {
	GOT    int
	GOTPLT int
	PLT    int
	DynRel int
	PLTRel int
	Stubs  int
}

// Counts gives layout the number of entries of every synthetic table.
func (c *Context) Counts() ReservationCounts {
	return ReservationCounts{
		GOT:    c.GOT.Len(),
		GOTPLT: c.GOTPLT.Len(),
		PLT:    c.PLT.Len(),
		DynRel: c.RelDyn.Len(),
		PLTRel: c.RelPlt.Len(),
		Stubs:  c.Stubs.Len(),
	}
}

// NeedGOT reports whether the output needs a GOT base even without slots.
func (c *Context) NeedGOT() bool {
	return c.needGOT || c.GOT.Len() > 0
}
