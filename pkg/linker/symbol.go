package linker

/*
 * Symbol is one occurrence of a name in one input. Many Symbols alias the
 * same ResolveInfo; the one chosen by the resolver becomes Info.OutSymbol.
 *
 * @Frag: fragment and offset when the symbol lives in a fragment
 * @Value: absolute value when Frag is nil, alignment for a common symbol
 * @SymIdx: index in the symbol table of Input, -1 for synthesised symbols
 */
type Symbol struct {
	Info   *ResolveInfo
	Input  *Input
	Frag   *FragmentRef
	Value  uint64
	Size   uint64
	SymIdx int
}

func NewSymbol(info *ResolveInfo, in *Input) *Symbol {
	return &Symbol{
		Info:   info,
		Input:  in,
		SymIdx: -1,
	}
}

func (s *Symbol) Name() string {
	return s.Info.Name
}

func (s *Symbol) SetFragmentRef(ref FragmentRef) {
	s.Frag = &ref
}

func (s *Symbol) GetAddr(l Layout) uint64 {
	if s.Frag != nil {
		return l.FragmentAddress(s.Frag.Frag) + s.Frag.Offset
	}
	return s.Value
}
