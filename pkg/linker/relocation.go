package linker

/*
 * @Type: architecture r_type
 * @Sym: target of the relocation; relaxation may redirect it to a stub
 * @Target: bytes rewritten by apply
 * @Section: section owning Target
 * @DynRel: index into RelDyn of the dynamic relocation reserved for this
 *          place during scan, -1 if none
 */
type Relocation struct {
	Type    uint32
	Sym     *ResolveInfo
	Addend  int64
	Target  FragmentRef
	Section *Section
	DynRel  int
}

// AddRelocation creates a relocation against info patching ref inside sec.
func (c *Context) AddRelocation(sec *Section, typ uint32, info *ResolveInfo, addend int64, ref FragmentRef) *Relocation {
	rel := &Relocation{
		Type:    typ,
		Sym:     info,
		Addend:  addend,
		Target:  ref,
		Section: sec,
		DynRel:  -1,
	}
	sec.Relocs = append(sec.Relocs, rel)
	return rel
}

// Place returns the final address of the relocated bytes.
func (c *Context) Place(rel *Relocation) uint64 {
	return c.Layout.FragmentAddress(rel.Target.Frag) + rel.Target.Offset
}

// Loc returns the relocated bytes, or nil if the target has no contents.
func (c *Context) Loc(rel *Relocation) []byte {
	f := c.Fragment(rel.Target.Frag)
	if f.Data == nil || rel.Target.Offset >= uint64(len(f.Data)) {
		return nil
	}
	return f.Data[rel.Target.Offset:]
}
