package linker

import "go.uber.org/zap"

// Scan reserves whatever rel will need at apply time. Relocations in
// sections that are not loaded are resolved statically and skipped here.
func (b *Backend) Scan(rel *Relocation, sec *Section) error {
	if !sec.IsAlloc() {
		return nil
	}

	h, res := b.howtos.Lookup(rel.Type)
	if res != ResultOK {
		return b.relocError(rel, res)
	}

	if h.Pair {
		b.pairs[rel.Target] = rel
	}

	info := rel.Sym
	switch h.Class {
	case ClassAbs:
		if err := b.scanAbs(rel, h); err != nil {
			return err
		}
	case ClassPCRel, ClassBranch:
		switch {
		case b.ctx.NeedsPLT(info):
			b.reservePLT(info)
		case b.ctx.IsPreemptible(info):
			// A data symbol of a shared object has no PLT entry to bind to
			// and the loader cannot patch a PC-relative field.
			return b.relocError(rel, ResultUnsupported)
		}
	case ClassGOT:
		b.reserveGOT(info)
	case ClassGOTOff, ClassGOTPC:
		b.ctx.needGOT = true
	}

	if info.FromDynamic && info.Source != nil && !info.Source.Needed {
		info.Source.Needed = true
		b.logger.Debug("shared object needed",
			zap.String("input", info.Source.Name), zap.String("by", info.Name))
	}

	return b.ctx.checkUndefined(info, sec)
}

// scanAbs decides whether a word-sized absolute needs the loader: a
// preemptible target keeps a symbol reference, a statically bound one in a
// position-independent output only needs relocating by the load base.
// A narrower absolute has no dynamic form, so it is rejected wherever the
// loader would have to touch it.
func (b *Backend) scanAbs(rel *Relocation, h *Howto) error {
	info := rel.Sym
	if !h.Word {
		if h.PosIndep {
			return nil
		}
		if b.ctx.IsPreemptible(info) || (b.ctx.Args.IsPIC() && !b.ctx.IsAbsolute(info)) {
			return b.relocError(rel, ResultUnsupported)
		}
		return nil
	}

	switch {
	case b.ctx.IsPreemptible(info):
		info.Reserve(ReserveRel)
		rel.DynRel = b.ctx.RelDyn.Add(DynRel{
			Kind:  DynGlobDat,
			Sym:   info,
			Place: PlaceFragment,
			Ref:   rel.Target,
		})
	case b.ctx.Args.IsPIC() && !b.ctx.IsAbsolute(info):
		info.Reserve(ReserveRel)
		rel.DynRel = b.ctx.RelDyn.Add(DynRel{
			Kind:  DynRelative,
			Sym:   info,
			Place: PlaceFragment,
			Ref:   rel.Target,
		})
	}
	return nil
}

// reserveGOT gives info one GOT slot no matter how many relocations ask.
// The dynamic relocation kind of the slot is fixed here, once.
func (b *Backend) reserveGOT(info *ResolveInfo) {
	if !info.Reserve(ReserveGOT) {
		return
	}

	slot, _ := b.ctx.GOT.Reserve(info)
	switch {
	case b.ctx.IsPreemptible(info):
		b.ctx.RelDyn.Add(DynRel{Kind: DynGlobDat, Sym: info, Place: PlaceGOT, Slot: slot})
	case b.ctx.Args.IsPIC() && !b.ctx.IsAbsolute(info):
		b.ctx.RelDyn.Add(DynRel{Kind: DynRelative, Sym: info, Place: PlaceGOT, Slot: slot})
	}
	b.logger.Debug("reserve got", zap.String("sym", info.Name), zap.Int("slot", int(slot)))
}

// reservePLT gives info a PLT entry together with the .got.plt slot and the
// JUMP_SLOT relocation the entry jumps through.
func (b *Backend) reservePLT(info *ResolveInfo) {
	if !info.Reserve(ReservePLT) {
		return
	}

	if b.ctx.GOTPLT.Len() == 0 {
		for i := 0; i < b.info.GOTPLTHeader; i++ {
			b.ctx.GOTPLT.Consume()
		}
	}

	idx, _ := b.ctx.PLT.Reserve(info)
	slot, _ := b.ctx.GOTPLT.Reserve(info)
	b.ctx.RelPlt.Add(DynRel{Kind: DynJumpSlot, Sym: info, Place: PlaceGOTPLT, Slot: slot})
	b.logger.Debug("reserve plt", zap.String("sym", info.Name), zap.Int("entry", int(idx)))
}
