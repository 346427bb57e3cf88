package linker

import (
	"fmt"

	"github.com/ksco/mcld/pkg/intern"
)

// NamePool owns every ResolveInfo of the link. Non-local names are interned
// in a global table; local symbols get their own anonymous ResolveInfo. A
// second, smaller table hands out unique output names for locals that
// collide.
type NamePool struct {
	globals *intern.Table[ResolveInfo]
	renames *intern.Table[int]
	infos   []*ResolveInfo
}

func NewNamePool(sizeHint int) *NamePool {
	p := &NamePool{
		globals: intern.New[ResolveInfo](sizeHint),
		renames: intern.New[int](16),
	}
	p.infos = append(p.infos, &ResolveInfo{Binding: BindingLocal, Desc: Undefined})
	return p
}

func (p *NamePool) Null() *ResolveInfo {
	return p.infos[0]
}

func (p *NamePool) ByID(id uint32) *ResolveInfo {
	return p.infos[id]
}

// Len counts every ResolveInfo including locals and the null symbol.
func (p *NamePool) Len() int {
	return len(p.infos)
}

func (p *NamePool) NumGlobals() int {
	return p.globals.Len()
}

func (p *NamePool) Find(name string) (*ResolveInfo, bool) {
	e, ok := p.globals.Find(name)
	if !ok {
		return nil, false
	}
	return &e.Value, true
}

// Insert interns name and reports whether it was already known. A new
// ResolveInfo starts out as an undefined global reference.
func (p *NamePool) Insert(name string) (*ResolveInfo, bool) {
	e, existed := p.globals.Insert(name)
	if existed {
		return &e.Value, true
	}

	info := &e.Value
	info.Name = e.Key
	info.ID = uint32(len(p.infos))
	info.Binding = BindingGlobal
	info.Desc = Undefined
	p.infos = append(p.infos, info)
	return info, false
}

func (p *NamePool) CreateLocal(name string) *ResolveInfo {
	info := &ResolveInfo{
		Name:    name,
		ID:      uint32(len(p.infos)),
		Binding: BindingLocal,
	}
	p.infos = append(p.infos, info)
	return info
}

// Globals returns the interned ResolveInfos in first-seen order.
func (p *NamePool) Globals() []*ResolveInfo {
	entries := p.globals.Entries()
	res := make([]*ResolveInfo, 0, len(entries))
	for _, e := range entries {
		res = append(res, &e.Value)
	}
	return res
}

// UniqueName returns name the first time it is asked for and name.N after
// that, for output symbol tables that need distinct local names.
func (p *NamePool) UniqueName(name string) string {
	e, existed := p.renames.Insert(name)
	if !existed {
		return name
	}

	for {
		e.Value++
		candidate := fmt.Sprintf("%s.%d", name, e.Value)
		if _, taken := p.renames.Find(candidate); taken {
			continue
		}
		p.renames.Insert(candidate)
		return candidate
	}
}
