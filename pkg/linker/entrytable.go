package linker

import "github.com/RoaringBitmap/roaring"

// EntryHandle is the stable index of an entry in an EntryTable.
type EntryHandle int

// EntryTable is an append-only table of fixed-size slots such as GOT or PLT
// entries. A symbol owns at most one slot; slots taken with Consume belong
// to the linker itself.
type EntryTable struct {
	Name    string
	entries []*ResolveInfo
	index   map[*ResolveInfo]EntryHandle
	set     *roaring.Bitmap
}

func NewEntryTable(name string) *EntryTable {
	return &EntryTable{
		Name:  name,
		index: make(map[*ResolveInfo]EntryHandle),
		set:   roaring.New(),
	}
}

// Reserve returns the slot of info, allocating it on first request. The
// second result reports whether the slot was created by this call.
func (t *EntryTable) Reserve(info *ResolveInfo) (EntryHandle, bool) {
	if h, ok := t.index[info]; ok {
		return h, false
	}
	h := EntryHandle(len(t.entries))
	t.entries = append(t.entries, info)
	t.index[info] = h
	t.set.Add(info.ID)
	return h, true
}

// Consume allocates the next slot in table order without a symbol.
func (t *EntryTable) Consume() EntryHandle {
	h := EntryHandle(len(t.entries))
	t.entries = append(t.entries, nil)
	return h
}

func (t *EntryTable) EntryFor(info *ResolveInfo) (EntryHandle, bool) {
	h, ok := t.index[info]
	return h, ok
}

func (t *EntryTable) Len() int {
	return len(t.entries)
}

// At returns the owner of slot h, nil for consumed slots.
func (t *EntryTable) At(h EntryHandle) *ResolveInfo {
	return t.entries[h]
}

// Set returns the IDs of every symbol holding a slot.
func (t *EntryTable) Set() *roaring.Bitmap {
	return t.set.Clone()
}

// Symbols returns the slot owners in slot order, skipping consumed slots.
func (t *EntryTable) Symbols() []*ResolveInfo {
	res := make([]*ResolveInfo, 0, len(t.index))
	for _, info := range t.entries {
		if info != nil {
			res = append(res, info)
		}
	}
	return res
}
