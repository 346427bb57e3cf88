package linker

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// OutputWriter receives the finished link: every chunk with its final
// bytes, then the dynamic relocations as tuples.
type OutputWriter interface {
	WriteChunk(chunk Chunker, data []byte) error
	WriteDynRels(kind SyntheticKind, rels []DynRelTuple) error
	Close() error
}

// WriteOutput hands the result of the link to w. Relocations must have
// been applied.
func WriteOutput(ctx *Context, l *SimpleLayout, w OutputWriter) error {
	if ctx.phase < PhaseApplied {
		return fmt.Errorf("%w: output before apply", ErrPhaseOrder)
	}

	for _, chunk := range l.Chunks {
		shdr := chunk.GetShdr()
		var data []byte
		if shdr.Type != uint32(elf.SHT_NOBITS) {
			data = make([]byte, shdr.Size)
			chunk.CopyBuf(ctx, data)
		}
		if err := w.WriteChunk(chunk, data); err != nil {
			return err
		}
	}

	if err := w.WriteDynRels(SectionRelDyn, ctx.DynRelTuples(ctx.RelDyn)); err != nil {
		return err
	}
	if err := w.WriteDynRels(SectionRelPlt, ctx.DynRelTuples(ctx.RelPlt)); err != nil {
		return err
	}
	return w.Close()
}

// ImageWriter writes the flat memory image of the allocated chunks. Header
// and program header emission belong to the caller.
type ImageWriter struct {
	Path string
	Buf  []byte
}

func NewImageWriter(path string, l *SimpleLayout) *ImageWriter {
	return &ImageWriter{Path: path, Buf: make([]byte, l.FileSize)}
}

func (w *ImageWriter) WriteChunk(chunk Chunker, data []byte) error {
	shdr := chunk.GetShdr()
	if data == nil || shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
		return nil
	}
	copy(w.Buf[shdr.Offset:], data)
	return nil
}

func (w *ImageWriter) WriteDynRels(SyntheticKind, []DynRelTuple) error {
	return nil
}

func (w *ImageWriter) Close() error {
	return os.WriteFile(w.Path, w.Buf, 0777)
}

// ReportWriter prints a link map: the chunks in address order, the GOT,
// the PLT disassembled, the dynamic relocations, the needed shared objects
// and the defined symbols. Symbol names go through the rename pool of the
// context, so a link is reported once.
type ReportWriter struct {
	ctx  *Context
	out  io.Writer
	plt  []byte
	rels map[SyntheticKind][]DynRelTuple
	head bool
	err  error
}

func NewReportWriter(ctx *Context, out io.Writer) *ReportWriter {
	return &ReportWriter{ctx: ctx, out: out, rels: make(map[SyntheticKind][]DynRelTuple)}
}

func (w *ReportWriter) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.out, format, args...)
}

func (w *ReportWriter) WriteChunk(chunk Chunker, data []byte) error {
	shdr := chunk.GetShdr()
	if !w.head {
		w.head = true
		w.printf("%-16s %-18s %s\n", "SECTION", "ADDRESS", "SIZE")
	}
	w.printf("%-16s 0x%016x 0x%x\n", chunk.GetName(), shdr.Addr, shdr.Size)
	if chunk.GetName() == SectionPLT.String() {
		w.plt = data
	}
	return w.err
}

func (w *ReportWriter) WriteDynRels(kind SyntheticKind, rels []DynRelTuple) error {
	w.rels[kind] = rels
	return w.err
}

func (w *ReportWriter) Close() error {
	ctx := w.ctx

	if ctx.GOT.Len() > 0 {
		w.printf("\nGOT\n")
		for h := 0; h < ctx.GOT.Len(); h++ {
			info := ctx.GOT.At(EntryHandle(h))
			addr, _ := ctx.GOTAddress(info)
			w.printf("  0x%016x %s\n", addr, info)
		}
	}

	if len(w.plt) > 0 {
		w.printf("\nPLT\n")
		for _, line := range ctx.Arch.Disassemble(w.plt, ctx.Layout.SectionBase(SectionPLT)) {
			w.printf("  %s\n", line)
		}
	}

	kinds := maps.Keys(w.rels)
	slices.Sort(kinds)
	for _, kind := range kinds {
		rels := w.rels[kind]
		if len(rels) == 0 {
			continue
		}
		w.printf("\n%s\n", kind)
		for _, t := range rels {
			w.printf("  0x%016x %-24s %4d %+d\n",
				t.Offset, ctx.Relocator.TypeName(t.Type), t.SymIndex, t.Addend)
		}
	}

	var needed []string
	for _, in := range ctx.Objs {
		if in.Type == FileTypeDynObj && in.Needed {
			needed = append(needed, in.SoName)
		}
	}
	if len(needed) > 0 {
		w.printf("\nNEEDED\n")
		for _, name := range needed {
			w.printf("  %s\n", name)
		}
	}

	syms := make(map[string]*ResolveInfo)
	for _, info := range ctx.Pool.Globals() {
		if info.IsDefine() && !info.FromDynamic {
			syms[info.Name] = info
		}
	}
	names := maps.Keys(syms)
	slices.Sort(names)
	got, plt := ctx.GOT.Set(), ctx.PLT.Set()
	if len(names) > 0 {
		w.printf("\nSYMBOLS\n")
		for _, name := range names {
			info := syms[name]
			w.printf("  0x%016x %-2s %s\n", ctx.SymbolValue(info),
				entryFlags(got.Contains(info.ID), plt.Contains(info.ID)), ctx.Pool.UniqueName(name))
		}
	}

	// Locals of different inputs may share a name; each gets its own.
	first := true
	for _, in := range ctx.Objs {
		for _, sym := range in.Symbols {
			info := sym.Info
			if !info.IsLocal() || !info.IsDefine() || sym.Frag == nil || info.Name == "" ||
				info.Type == TypeSection || info.Type == TypeFile {
				continue
			}
			if first {
				first = false
				w.printf("\nLOCALS\n")
			}
			w.printf("  0x%016x %s\n", ctx.SymbolValue(info), ctx.Pool.UniqueName(info.Name))
		}
	}
	return w.err
}

func entryFlags(got, plt bool) string {
	switch {
	case got && plt:
		return "GP"
	case got:
		return "G"
	case plt:
		return "P"
	}
	return "-"
}
