package linker

import (
	"fmt"

	"go.uber.org/zap"
)

type InputAttribute struct {
	// Static asks -l for an archive, which is rejected: archives are
	// extracted before linking.
	Static bool
	// AsNeeded shared objects are recorded as needed only once one of
	// their definitions is referenced.
	AsNeeded bool
}

// InputSpec is one positional command line operand.
type InputSpec struct {
	Name    string
	Library bool
	Attr    InputAttribute
}

/*
 * @Priority: position on the command line, used for stable ordering
 * @Needed: a shared object the output must record as a dependency
 * @Symbols: every Symbol declared by this input, in symbol table order
 * @Sections: sections contributed by this input
 */
type Input struct {
	Name     string
	Path     string
	Type     FileType
	Attr     InputAttribute
	Priority int
	Needed   bool
	SoName   string
	Symbols  []*Symbol
	Sections []*Section
}

// NewInput registers an input under its canonical path. Inputs created
// without a path (synthesised or fed programmatically) are never deduped.
func (c *Context) NewInput(name, path string, typ FileType, attr InputAttribute) *Input {
	in := &Input{
		Name:     name,
		Path:     path,
		Type:     typ,
		Attr:     attr,
		Priority: len(c.Objs),
	}
	if typ == FileTypeDynObj && !attr.AsNeeded {
		in.Needed = true
	}
	if path != "" {
		c.inputsByPath[path] = in
	}
	c.Objs = append(c.Objs, in)
	return in
}

func (c *Context) InputByPath(path string) (*Input, bool) {
	in, ok := c.inputsByPath[path]
	return in, ok
}

// ReadInputFiles reads every operand in command line order.
func ReadInputFiles(ctx *Context, specs []InputSpec) error {
	for _, spec := range specs {
		var (
			file *File
			err  error
		)
		if spec.Library {
			file, err = ctx.FindLibrary(spec.Name, spec.Attr)
		} else {
			file, err = ctx.Areas.Open(spec.Name)
		}
		if err != nil {
			return err
		}

		if err := ReadFile(ctx, file, spec.Attr); err != nil {
			return err
		}
	}
	return ctx.Diag.Err()
}

func ReadFile(ctx *Context, file *File, attr InputAttribute) error {
	if _, ok := ctx.InputByPath(file.Path); ok {
		ctx.Logger.Debug("skip duplicated input", zap.String("path", file.Path))
		return nil
	}

	if mt := GetMachineTypeFromContents(file.Contents); mt != MachineTypeNone &&
		mt != ctx.Args.Emulation {
		return fmt.Errorf("%w: %s: incompatible machine %s", ErrBadInput, file.Name, mt)
	}

	ft := GetFileType(file.Contents)
	switch ft {
	case FileTypeObject:
		in := ctx.NewInput(file.Name, file.Path, ft, attr)
		return NewObjectFile(in, file).Parse(ctx)
	case FileTypeDynObj:
		in := ctx.NewInput(file.Name, file.Path, ft, attr)
		return NewSharedFile(in, file).Parse(ctx)
	case FileTypeArchive:
		return fmt.Errorf("%w: %s: archive members must be extracted before linking",
			ErrBadInput, file.Name)
	case FileTypeEmpty:
		ctx.Logger.Debug("skip empty input", zap.String("path", file.Path))
		return nil
	}
	return fmt.Errorf("%w: %s: unknown file type", ErrBadInput, file.Name)
}
