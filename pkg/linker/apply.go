package linker

// Apply rewrites the bytes of rel using final addresses. It must only run
// after every relocation has been scanned and layout is done.
func (b *Backend) Apply(rel *Relocation) Result {
	h, res := b.howtos.Lookup(rel.Type)
	if res != ResultOK {
		return res
	}
	if h.Class == ClassNone {
		return ResultOK
	}
	if h.Calc == nil || h.Write == nil {
		return ResultUnsupported
	}

	loc := b.ctx.Loc(rel)
	if loc == nil || len(loc)*8 < h.Size {
		return ResultBadReloc
	}

	v, res := b.values(rel, h)
	if res != ResultOK {
		return res
	}

	if h.Class == ClassAbs && rel.DynRel >= 0 {
		d := b.ctx.RelDyn.At(rel.DynRel)
		if d.Kind == DynRelative {
			d.Addend = int64(v.S + v.A + v.T)
		} else {
			d.Addend = int64(v.A)
			// The loader adds the symbol value; REL keeps A in place.
			v.S, v.T = 0, 0
			if b.info.Rela {
				v.A = 0
			}
		}
	}

	val := h.Calc(v)
	if !h.Fits(val) {
		return ResultOverflow
	}
	h.Write(loc, val)
	return ResultOK
}

// values gathers the formula operands of rel. A branch to a symbol with a
// PLT entry is sent to the entry; a relocation that needs an entry scan
// never reserved is a BadReloc.
func (b *Backend) values(rel *Relocation, h *Howto) (*Values, Result) {
	l := b.ctx.Layout
	info := rel.Sym

	v := &Values{
		A:      uint64(rel.Addend),
		P:      b.ctx.Place(rel),
		GOTOrg: l.SectionBase(SectionGOT),
		PLTOrg: l.SectionBase(SectionPLT),
	}
	v.GP = v.GOTOrg + b.info.GPOffset

	v.S = b.ctx.SymbolValue(info)
	if b.info.Interwork && info.IsFunc() {
		v.T = v.S & 1
		v.S &^= 1
	}

	switch h.Class {
	case ClassPCRel, ClassBranch:
		if info.Has(ReservePLT) {
			addr, ok := b.ctx.PLTAddress(info)
			if !ok {
				return nil, ResultBadReloc
			}
			v.S, v.T = addr, 0
		} else if b.ctx.IsPreemptible(info) {
			return nil, ResultBadReloc
		}
		if h.ARMState && v.T != 0 {
			return nil, ResultUnsupported
		}
	case ClassGOT:
		addr, ok := b.ctx.GOTAddress(info)
		if !ok {
			return nil, ResultBadReloc
		}
		v.GOT = addr
	case ClassPairLo:
		sym := info.OutSymbol
		if sym == nil || sym.Frag == nil {
			return nil, ResultBadReloc
		}
		hi, ok := b.pairs[*sym.Frag]
		if !ok {
			return nil, ResultBadReloc
		}
		hh, res := b.howtos.Lookup(hi.Type)
		if res != ResultOK {
			return nil, res
		}
		hv, res := b.values(hi, hh)
		if res != ResultOK {
			return nil, res
		}
		v.S, v.T = hh.Calc(hv), 0
	}
	return v, ResultOK
}

// Relax sends every out-of-range branch that the target can veneer through
// a stub placed in the stub section, one stub per destination. It returns
// the number of relocations redirected; layout must run again when that is
// not zero.
func (b *Backend) Relax() (int, error) {
	if b.info.StubSize == 0 {
		return 0, nil
	}

	n := 0
	for _, sec := range b.ctx.Sections {
		if !sec.IsAlloc() {
			continue
		}
		for _, rel := range sec.Relocs {
			h, res := b.howtos.Lookup(rel.Type)
			if res != ResultOK || !h.Veneer || b.ctx.IsStub(rel.Sym) {
				continue
			}

			v, res := b.values(rel, h)
			if res != ResultOK {
				return n, b.relocError(rel, res)
			}
			if h.Fits(h.Calc(v)) {
				continue
			}

			rel.Sym = b.ctx.StubFor(rel.Sym)
			n++
		}
	}
	return n, nil
}
