package linker

import (
	"debug/elf"
	"fmt"

	"go.uber.org/zap"
)

// maxRelaxPasses bounds the relax/relayout loop. Every pass can only add
// stubs, one per destination, so it converges long before that.
const maxRelaxPasses = 8

// AllocateCommonSymbols gives every common symbol that won resolution a
// zero-filled fragment in an internal .bss section.
func AllocateCommonSymbols(ctx *Context) {
	var bss *Section
	for _, info := range ctx.Pool.Globals() {
		if !info.IsCommon() || info.FromDynamic {
			continue
		}
		if bss == nil {
			bss = ctx.NewSection(ctx.Internal, ".bss", uint32(elf.SHT_NOBITS),
				uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 1)
		}

		sym := info.OutSymbol
		frag := ctx.AddFragment(bss, nil, info.Size, sym.Value)
		sym.SetFragmentRef(FragmentRef{Frag: frag.ID})
		sym.Value = 0
		info.Desc = Define

		ctx.Logger.Debug("allocate common",
			zap.String("sym", info.Name), zap.Uint64("size", info.Size))
	}
}

// ScanRelocations runs the first relocation phase over every section.
func ScanRelocations(ctx *Context) error {
	if ctx.Relocator == nil {
		return fmt.Errorf("%w: no relocator", ErrPhaseOrder)
	}

	for _, sec := range ctx.Sections {
		for _, rel := range sec.Relocs {
			if err := ctx.Relocator.Scan(rel, sec); err != nil {
				ctx.Diag.Error(err)
			}
		}
	}
	ctx.phase = PhaseScanned

	counts := ctx.Counts()
	ctx.Logger.Debug("scan done",
		zap.Int("got", counts.GOT), zap.Int("plt", counts.PLT),
		zap.Int("dynrel", counts.DynRel), zap.Int("pltrel", counts.PLTRel))
	return ctx.Diag.Err()
}

// CreateSyntheticSections adds the chunks sized by scan. It must run after
// ScanRelocations and before layout.
func CreateSyntheticSections(ctx *Context) error {
	if ctx.phase < PhaseScanned {
		return fmt.Errorf("%w: synthetic sections before scan", ErrPhaseOrder)
	}

	push := func(kind SyntheticKind, chunk Chunker) {
		ctx.Chunks = append(ctx.Chunks, chunk)
		ctx.Synthetic[kind] = chunk
	}

	rela := ctx.Arch.Info().Rela
	push(SectionGOT, NewGotSection())
	push(SectionGOTPLT, NewGotPltSection())
	push(SectionPLT, NewPltSection())
	push(SectionRelDyn, NewRelDynSection(SectionRelDyn, ctx.RelDyn, rela))
	push(SectionRelPlt, NewRelDynSection(SectionRelPlt, ctx.RelPlt, rela))
	push(SectionStubs, NewStubSection())

	ctx.AssignDynSymbols()
	return nil
}

// DoLayout lays the output out with SimpleLayout and installs it.
func DoLayout(ctx *Context) (*SimpleLayout, error) {
	l := NewSimpleLayout(ctx, ImageBase)
	if err := ctx.SetLayout(l); err != nil {
		return nil, err
	}
	return l, nil
}

// RelaxBranches inserts stubs for out-of-range branches and lays the output
// out again until no new stub is needed.
func RelaxBranches(ctx *Context, l *SimpleLayout) error {
	if !ctx.Args.Relax {
		return nil
	}
	relaxer, ok := ctx.Relocator.(Relaxer)
	if !ok {
		return nil
	}
	if ctx.phase < PhaseLaidOut {
		return fmt.Errorf("%w: relax before layout", ErrPhaseOrder)
	}

	for i := 0; i < maxRelaxPasses; i++ {
		n, err := relaxer.Relax()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		ctx.Logger.Debug("relaxed branches", zap.Int("pass", i), zap.Int("stubs", ctx.Stubs.Len()))
		l.Update()
	}
	return nil
}

// ApplyRelocations runs the second relocation phase. Every failed
// relocation is reported, not just the first.
func ApplyRelocations(ctx *Context) error {
	if ctx.phase < PhaseLaidOut || ctx.Layout == nil {
		return fmt.Errorf("%w: apply before layout", ErrPhaseOrder)
	}

	for _, sec := range ctx.Sections {
		if !sec.IsAlloc() {
			continue
		}
		for _, rel := range sec.Relocs {
			if res := ctx.Relocator.Apply(rel); res != ResultOK {
				ctx.Diag.Error(relocError(ctx, rel, res))
			}
		}
	}
	ctx.phase = PhaseApplied
	return ctx.Diag.Err()
}

func relocError(ctx *Context, rel *Relocation, res Result) *RelocError {
	if b, ok := ctx.Relocator.(*Backend); ok {
		return b.relocError(rel, res)
	}
	return &RelocError{
		Err:     res.Err(),
		Result:  res,
		Type:    ctx.Relocator.TypeName(rel.Type),
		Symbol:  rel.Sym.String(),
		Section: sectionName(rel.Section),
		Offset:  rel.Target.Offset,
	}
}
