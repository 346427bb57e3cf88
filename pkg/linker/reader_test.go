package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

type strtab struct {
	data []byte
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}}
}

func (s *strtab) add(name string) uint32 {
	off := uint32(len(s.data))
	s.data = append(append(s.data, name...), 0)
	return off
}

func encode(t *testing.T, records ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, r := range records {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, r))
	}
	return buf.Bytes()
}

type elfSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	data    []byte
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
}

// elfImage lays out a little-endian ELF64 file: the header, the section
// contents, then the section header table with .shstrtab last.
type elfImage struct {
	typ      elf.Type
	machine  elf.Machine
	sections []elfSection
}

// add appends s and returns its section index.
func (img *elfImage) add(s elfSection) uint32 {
	img.sections = append(img.sections, s)
	return uint32(len(img.sections))
}

func (img *elfImage) bytes(t *testing.T) []byte {
	t.Helper()

	secs := append([]elfSection{{}}, img.sections...)
	secs = append(secs, elfSection{name: ".shstrtab", typ: elf.SHT_STRTAB, align: 1})
	shstrtab := newStrtab()
	names := make([]uint32, len(secs))
	for i := 1; i < len(secs); i++ {
		names[i] = shstrtab.add(secs[i].name)
	}
	secs[len(secs)-1].data = shstrtab.data

	pad := func(b []byte) []byte {
		for len(b)%8 != 0 {
			b = append(b, 0)
		}
		return b
	}

	body := make([]byte, EhdrSize)
	offsets := make([]uint64, len(secs))
	for i := 1; i < len(secs); i++ {
		body = pad(body)
		offsets[i] = uint64(len(body))
		body = append(body, secs[i].data...)
	}
	body = pad(body)

	hdr := elf.Header64{
		Type:      uint16(img.typ),
		Machine:   uint16(img.machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     uint64(len(body)),
		Ehsize:    uint16(EhdrSize),
		Shentsize: uint16(ShdrSize),
		Shnum:     uint16(len(secs)),
		Shstrndx:  uint16(len(secs) - 1),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	copy(body, encode(t, hdr))

	for i, s := range secs {
		body = append(body, encode(t, elf.Section64{
			Name:      names[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			Addralign: s.align,
			Entsize:   s.entsize,
		})...)
	}
	return body
}

const (
	textShndx = 1
	dataShndx = 2
)

type testSym struct {
	name  string
	bind  elf.SymBind
	typ   elf.SymType
	shndx uint16
	value uint64
}

// relocatable builds an x86-64 object with a 16-byte .text and .data.
// Locals must come first in syms; relocs patch .text.
func relocatable(t *testing.T, syms []testSym, relocs ...elf.Rela64) []byte {
	t.Helper()
	img := &elfImage{typ: elf.ET_REL, machine: elf.EM_X86_64}
	img.add(elfSection{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		data: make([]byte, 16), align: 16})
	img.add(elfSection{name: ".data", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE,
		data: make([]byte, 16), align: 8})

	strs := newStrtab()
	records := []any{elf.Sym64{}}
	firstGlobal := 1
	for _, s := range syms {
		if s.bind == elf.STB_LOCAL {
			firstGlobal++
		}
		records = append(records, elf.Sym64{
			Name:  strs.add(s.name),
			Info:  elf.ST_INFO(s.bind, s.typ),
			Shndx: s.shndx,
			Value: s.value,
		})
	}
	symtab := img.add(elfSection{name: ".symtab", typ: elf.SHT_SYMTAB, data: encode(t, records...),
		link: uint32(len(img.sections) + 2), info: uint32(firstGlobal), align: 8, entsize: uint64(SymSize)})
	img.add(elfSection{name: ".strtab", typ: elf.SHT_STRTAB, data: strs.data, align: 1})

	if len(relocs) > 0 {
		rs := make([]any, len(relocs))
		for i, r := range relocs {
			rs[i] = r
		}
		img.add(elfSection{name: ".rela.text", typ: elf.SHT_RELA, flags: elf.SHF_INFO_LINK,
			data: encode(t, rs...), link: symtab, info: textShndx, align: 8, entsize: uint64(RelaSize)})
	}
	return img.bytes(t)
}

// sharedObject builds an x86-64 shared object exporting defs as functions.
func sharedObject(t *testing.T, soname string, defs ...string) []byte {
	t.Helper()
	img := &elfImage{typ: elf.ET_DYN, machine: elf.EM_X86_64}
	text := img.add(elfSection{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		data: make([]byte, 16), align: 16})

	strs := newStrtab()
	records := []any{elf.Sym64{}}
	for i, name := range defs {
		records = append(records, elf.Sym64{
			Name:  strs.add(name),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: uint16(text),
			Value: uint64(i * 4),
		})
	}
	var dyn []any
	if soname != "" {
		dyn = append(dyn, elf.Dyn64{Tag: int64(elf.DT_SONAME), Val: uint64(strs.add(soname))})
	}
	dyn = append(dyn, elf.Dyn64{Tag: int64(elf.DT_NULL)})

	dynstr := uint32(len(img.sections) + 2)
	img.add(elfSection{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, data: encode(t, records...),
		link: dynstr, info: 1, align: 8, entsize: uint64(SymSize)})
	img.add(elfSection{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, data: strs.data, align: 1})
	img.add(elfSection{name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE,
		data: encode(t, dyn...), link: dynstr, align: 8, entsize: 16})
	return img.bytes(t)
}

func writeFile(t *testing.T, dir, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, contents, 0644))
	return path
}

// newReaderFixture is a fixture whose emulation matches the files built
// above.
func newReaderFixture(t *testing.T, kind OutputKind) *fixture {
	t.Helper()
	f := newFixture(t, kind)
	f.ctx.Args.Emulation = MachineTypeX86_64
	return f
}

var mainObject = []testSym{
	{name: "tmp", bind: elf.STB_LOCAL, typ: elf.STT_OBJECT, shndx: dataShndx, value: 4},
	{name: "main", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: textShndx},
	{name: "puts", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
}

func TestReadRelocatable(t *testing.T) {
	f := newReaderFixture(t, OutputExec)
	path := writeFile(t, t.TempDir(), "main.o", relocatable(t, mainObject,
		elf.Rela64{Off: 1, Info: elf.R_INFO(3, rCall32), Addend: -4},
		elf.Rela64{Off: 8, Info: elf.R_INFO(1, rAbs64), Addend: 2},
	))

	require.NoError(t, ReadInputFiles(f.ctx, []InputSpec{{Name: path}}))
	canonical, err := CanonicalPath(path)
	require.NoError(t, err)
	in, ok := f.ctx.InputByPath(canonical)
	require.True(t, ok)
	assert.Equal(t, FileTypeObject, in.Type)

	require.Len(t, in.Sections, 2)
	text, data := in.Sections[0], in.Sections[1]
	assert.Equal(t, ".text", text.Name)
	assert.True(t, text.IsAlloc())
	assert.Equal(t, ".data", data.Name)
	assert.Equal(t, uint64(16), text.Frags[0].Size)

	main, ok := f.ctx.Pool.Find("main")
	require.True(t, ok)
	assert.True(t, main.IsDefine())
	assert.True(t, main.IsFunc())
	assert.Same(t, in, main.Source)

	puts, ok := f.ctx.Pool.Find("puts")
	require.True(t, ok)
	assert.True(t, puts.IsUndef())

	require.Len(t, text.Relocs, 2)
	call, abs := text.Relocs[0], text.Relocs[1]
	assert.Equal(t, rCall32, call.Type)
	assert.Same(t, puts, call.Sym)
	assert.Equal(t, int64(-4), call.Addend)
	assert.Equal(t, uint64(1), call.Target.Offset)
	assert.Equal(t, "tmp", abs.Sym.Name)
	assert.True(t, abs.Sym.IsLocal())
	assert.Equal(t, int64(2), abs.Addend)

	// Naming the same file twice reads it once.
	objs := len(f.ctx.Objs)
	require.NoError(t, ReadInputFiles(f.ctx, []InputSpec{{Name: path}}))
	assert.Len(t, f.ctx.Objs, objs)
	assert.Equal(t, 1, f.ctx.Areas.Len())
}

func TestReadRelocationBounds(t *testing.T) {
	tests := []struct {
		name string
		off  uint64
		msg  string
	}{
		{"field runs past the end", 12, "runs past the section end"},
		{"offset past the end", 16, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReaderFixture(t, OutputExec)
			path := writeFile(t, t.TempDir(), "bad.o", relocatable(t, mainObject,
				elf.Rela64{Off: tt.off, Info: elf.R_INFO(1, rAbs64)}))

			err := ReadInputFiles(f.ctx, []InputSpec{{Name: path}})
			require.ErrorIs(t, err, ErrBadInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestGetMachineType(t *testing.T) {
	obj := relocatable(t, nil)
	assert.Equal(t, FileTypeObject, GetFileType(obj))
	assert.Equal(t, MachineTypeX86_64, GetMachineTypeFromContents(obj))

	lib := sharedObject(t, "")
	assert.Equal(t, FileTypeDynObj, GetFileType(lib))
	assert.Equal(t, MachineTypeX86_64, GetMachineTypeFromContents(lib))

	arm := (&elfImage{typ: elf.ET_REL, machine: elf.EM_AARCH64}).bytes(t)
	assert.Equal(t, MachineTypeAArch64, GetMachineTypeFromContents(arm))

	archive := []byte("!<arch>\n")
	assert.Equal(t, FileTypeArchive, GetFileType(archive))
	assert.Equal(t, MachineTypeNone, GetMachineTypeFromContents(archive))
	assert.Equal(t, FileTypeEmpty, GetFileType(nil))
}

func TestReadFileRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		contents []byte
		msg      string
	}{
		{"other machine", (&elfImage{typ: elf.ET_REL, machine: elf.EM_AARCH64}).bytes(t), "incompatible machine"},
		{"archive", []byte("!<arch>\n"), "archive members must be extracted"},
		{"unknown", []byte("#!/bin/sh\n"), "unknown file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReaderFixture(t, OutputExec)
			path := writeFile(t, dir, tt.name, tt.contents)
			err := ReadInputFiles(f.ctx, []InputSpec{{Name: path}})
			require.ErrorIs(t, err, ErrBadInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMemoryAreasCache(t *testing.T) {
	f := newReaderFixture(t, OutputExec)
	path := writeFile(t, t.TempDir(), "a.o", relocatable(t, nil))

	first, err := f.ctx.Areas.Open(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	second, err := f.ctx.Areas.Open(path)
	require.NoError(t, err, "served from the cache")
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.Contents, second.Contents)
	assert.Equal(t, 1, f.ctx.Areas.Len())
}

func TestFindLibrary(t *testing.T) {
	archives, shared := t.TempDir(), t.TempDir()
	writeFile(t, archives, "libfoo.a", []byte("!<arch>\n"))
	writeFile(t, shared, "libfoo.so", sharedObject(t, "libfoo.so.1", "foo"))

	f := newReaderFixture(t, OutputExec)
	f.ctx.Args.LibraryPaths = []string{shared, archives}
	file, err := f.ctx.FindLibrary("foo", InputAttribute{})
	require.NoError(t, err)
	assert.Equal(t, "libfoo.so", filepath.Base(file.Path))

	f.ctx.Args.LibraryPaths = []string{archives, shared}
	_, err = f.ctx.FindLibrary("foo", InputAttribute{})
	require.ErrorIs(t, err, ErrBadInput)
	assert.Contains(t, err.Error(), "is an archive")

	_, err = f.ctx.FindLibrary("foo", InputAttribute{Static: true})
	require.ErrorIs(t, err, ErrBadInput)
	assert.Contains(t, err.Error(), "static library requested")

	_, err = f.ctx.FindLibrary("bar", InputAttribute{})
	require.ErrorIs(t, err, ErrBadInput)
	assert.Contains(t, err.Error(), "library not found")
}

func TestReadSharedObjectAsNeeded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "libz.so", sharedObject(t, "libz.so.1", "crc32"))
	writeFile(t, dir, "libm.so", sharedObject(t, "", "sin"))
	obj := writeFile(t, dir, "main.o", relocatable(t, []testSym{
		{name: "main", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: textShndx},
		{name: "crc32", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
	}, elf.Rela64{Off: 1, Info: elf.R_INFO(2, rCall32), Addend: -4}))

	f := newReaderFixture(t, OutputExec)
	f.ctx.Args.LibraryPaths = []string{dir}
	asNeeded := InputAttribute{AsNeeded: true}
	require.NoError(t, ReadInputFiles(f.ctx, []InputSpec{
		{Name: obj},
		{Name: "z", Library: true, Attr: asNeeded},
		{Name: "m", Library: true, Attr: asNeeded},
	}))

	libs := make(map[string]*Input)
	for _, in := range f.ctx.Objs {
		if in.Type == FileTypeDynObj {
			libs[in.SoName] = in
		}
	}
	require.Contains(t, libs, "libz.so.1")
	require.Contains(t, libs, "libm.so", "falls back to the file name")
	libz, libm := libs["libz.so.1"], libs["libm.so"]
	assert.False(t, libz.Needed)

	crc32, ok := f.ctx.Pool.Find("crc32")
	require.True(t, ok)
	assert.True(t, crc32.FromDynamic)
	assert.Same(t, libz, crc32.Source)

	require.NoError(t, ScanRelocations(f.ctx))
	assert.True(t, libz.Needed)
	assert.False(t, libm.Needed)
	assert.Equal(t, 1, f.ctx.PLT.Len())
}

// linkedEntries reads a.o and b.o in the given order and returns, by
// name, the holders of GOT and PLT slots and the definer of each global.
func linkedEntries(t *testing.T, order []string) (got, plt []string, owners map[string]string, slots []string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"a.o": relocatable(t, []testSym{
			{name: "alpha", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: textShndx},
			{name: "beta", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
			{name: "gamma", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
		},
			elf.Rela64{Off: 0, Info: elf.R_INFO(2, rCall32), Addend: -4},
			elf.Rela64{Off: 8, Info: elf.R_INFO(3, rGOTPC32), Addend: -4}),
		"b.o": relocatable(t, []testSym{
			{name: "beta", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: textShndx},
			{name: "alpha", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
		},
			elf.Rela64{Off: 0, Info: elf.R_INFO(2, rCall32), Addend: -4},
			elf.Rela64{Off: 8, Info: elf.R_INFO(2, rGOTPC32), Addend: -4}),
	}

	f := newReaderFixture(t, OutputShared)
	var specs []InputSpec
	for _, name := range order {
		specs = append(specs, InputSpec{Name: writeFile(t, dir, name, files[name])})
	}
	require.NoError(t, ReadInputFiles(f.ctx, specs))
	require.NoError(t, ScanRelocations(f.ctx))

	names := func(table *EntryTable) []string {
		var res []string
		for _, id := range table.Set().ToArray() {
			res = append(res, f.ctx.Pool.ByID(id).Name)
		}
		slices.Sort(res)
		return res
	}
	owners = make(map[string]string)
	for _, name := range []string{"alpha", "beta"} {
		info, ok := f.ctx.Pool.Find(name)
		require.True(t, ok)
		owners[name] = filepath.Base(info.Source.Name)
	}
	for _, info := range f.ctx.GOT.Symbols() {
		slots = append(slots, info.Name)
	}
	return names(f.ctx.GOT), names(f.ctx.PLT), owners, slots
}

func TestInputOrderKeepsEntrySets(t *testing.T) {
	got, plt, owners, slots := linkedEntries(t, []string{"a.o", "b.o"})
	rgot, rplt, rowners, rslots := linkedEntries(t, []string{"b.o", "a.o"})

	assert.Equal(t, []string{"alpha", "gamma"}, got)
	assert.Equal(t, []string{"alpha", "beta"}, plt)
	assert.Equal(t, got, rgot)
	assert.Equal(t, plt, rplt)
	assert.Equal(t, map[string]string{"alpha": "a.o", "beta": "b.o"}, owners)
	assert.Equal(t, owners, rowners)

	// Slots are handed out in scan order, so only the numbering moves.
	assert.Equal(t, []string{"gamma", "alpha"}, slots)
	assert.Equal(t, []string{"alpha", "gamma"}, rslots)
}
