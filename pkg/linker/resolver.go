package linker

import "go.uber.org/zap"

// Declaration is one symbol table entry as an input reader sees it.
type Declaration struct {
	Name       string
	Binding    Binding
	Type       SymType
	Visibility Visibility
	Desc       Desc
	Dynamic    bool
	Size       uint64
	Value      uint64
	Frag       *FragmentRef
}

// Declare records d as read from in and resolves it against every earlier
// declaration of the same name. The returned Symbol is in's alias of the
// canonical ResolveInfo. A multiple definition is reported once per name,
// when the second conflicting global definition arrives.
func (c *Context) Declare(in *Input, d Declaration) (*Symbol, error) {
	fromDynamic := in != nil && in.Type == FileTypeDynObj

	if d.Binding == BindingLocal {
		info := c.Pool.CreateLocal(d.Name)
		info.Type = d.Type
		info.Visibility = d.Visibility
		info.Desc = d.Desc
		info.Size = d.Size
		info.Source = in
		sym := c.newSymbol(info, in, d)
		info.OutSymbol = sym
		return sym, nil
	}

	info, existed := c.Pool.Insert(d.Name)
	sym := c.newSymbol(info, in, d)

	if !existed {
		c.overrideWith(info, sym, d, fromDynamic)
		return sym, nil
	}

	info.Dynamic = info.Dynamic || d.Dynamic || fromDynamic && d.Desc == Undefined
	info.Visibility = mergeVisibility(info.Visibility, d.Visibility)

	switch c.decide(info, d, fromDynamic) {
	case resolveOverride:
		c.overrideWith(info, sym, d, fromDynamic)
	case resolveMergeCommon:
		info.Size = d.Size
		info.Source = in
		info.OutSymbol = sym
	case resolveKeep:
		if d.Desc == Undefined && info.IsUndef() {
			// A strong reference upgrades a weak one.
			if d.Binding == BindingGlobal && info.IsWeak() {
				info.Binding = BindingGlobal
			}
			if info.Type == TypeNoType {
				info.Type = d.Type
			}
		}
	case resolveMultiple:
		if info.multiplyDefined {
			return sym, nil
		}
		info.multiplyDefined = true
		return sym, &SymbolError{
			Err:   ErrMultipleDefinition,
			Name:  d.Name,
			Input: inputName(in),
			Other: inputName(info.Source),
		}
	}
	return sym, nil
}

func (c *Context) newSymbol(info *ResolveInfo, in *Input, d Declaration) *Symbol {
	sym := NewSymbol(info, in)
	sym.Frag = d.Frag
	sym.Value = d.Value
	sym.Size = d.Size
	if in != nil {
		sym.SymIdx = len(in.Symbols)
		in.Symbols = append(in.Symbols, sym)
	}
	return sym
}

func (c *Context) overrideWith(info *ResolveInfo, sym *Symbol, d Declaration, fromDynamic bool) {
	if info.Source != nil {
		c.Logger.Debug("override symbol",
			zap.String("name", info.Name),
			zap.String("old", inputName(info.Source)),
			zap.String("new", inputName(sym.Input)))
	}

	info.Binding = d.Binding
	info.Type = d.Type
	info.Desc = d.Desc
	info.Size = d.Size
	info.FromDynamic = fromDynamic && d.Desc != Undefined
	info.Dynamic = info.Dynamic || d.Dynamic || info.FromDynamic
	if info.Source == nil {
		info.Visibility = d.Visibility
	}
	info.Source = sym.Input
	info.OutSymbol = sym
}

type resolveAction uint8

const (
	resolveKeep resolveAction = iota
	resolveOverride
	resolveMergeCommon
	resolveMultiple
)

// decide applies the override precedence between the current state of info
// and a new declaration d.
func (c *Context) decide(info *ResolveInfo, d Declaration, fromDynamic bool) resolveAction {
	switch d.Desc {
	case Undefined:
		return resolveKeep

	case Define:
		switch info.Desc {
		case Undefined, Common:
			return resolveOverride
		}

		oldWeak := info.IsWeak()
		newWeak := d.Binding == BindingWeak
		switch {
		case oldWeak && !newWeak:
			return resolveOverride
		case newWeak:
			return resolveKeep
		case info.FromDynamic && !fromDynamic:
			return resolveOverride
		case info.FromDynamic || fromDynamic:
			return resolveKeep
		}
		return resolveMultiple

	case Common:
		switch info.Desc {
		case Undefined:
			return resolveOverride
		case Common:
			if d.Size > info.Size {
				return resolveMergeCommon
			}
		}
		return resolveKeep
	}
	return resolveKeep
}

// mergeVisibility keeps the most constraining non-default visibility.
func mergeVisibility(old, vis Visibility) Visibility {
	if old == VisDefault {
		return vis
	}
	if vis == VisDefault {
		return old
	}
	if vis < old {
		return vis
	}
	return old
}

func inputName(in *Input) string {
	if in == nil {
		return "<internal>"
	}
	return in.Name
}
