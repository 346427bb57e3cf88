package linker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newResolverContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return ctx
}

func TestDeclareMultipleDefinitionReportedOnce(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})
	c := ctx.NewInput("c.o", "", FileTypeObject, InputAttribute{})

	main := Declaration{Name: "main", Binding: BindingGlobal, Type: TypeFunc, Desc: Define}

	_, err := ctx.Declare(a, main)
	require.NoError(t, err)

	_, err = ctx.Declare(b, main)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultipleDefinition))

	var symErr *SymbolError
	require.True(t, errors.As(err, &symErr))
	assert.Equal(t, "main", symErr.Name)
	assert.Equal(t, "b.o", symErr.Input)
	assert.Equal(t, "a.o", symErr.Other)

	_, err = ctx.Declare(c, main)
	assert.NoError(t, err)

	info, ok := ctx.Pool.Find("main")
	require.True(t, ok)
	assert.Same(t, a, info.Source)
}

func TestDeclareGlobalOverridesWeak(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})

	_, err := ctx.Declare(a, Declaration{Name: "f", Binding: BindingWeak, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	sym, err := ctx.Declare(b, Declaration{Name: "f", Binding: BindingGlobal, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)

	info := sym.Info
	assert.True(t, info.IsGlobal())
	assert.True(t, info.IsDefine())
	assert.Same(t, b, info.Source)
	assert.Same(t, sym, info.OutSymbol)

	// A later weak definition changes nothing.
	_, err = ctx.Declare(a, Declaration{Name: "f", Binding: BindingWeak, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	assert.Same(t, b, info.Source)
}

func TestDeclareCommonTakesLargestSize(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})

	_, err := ctx.Declare(a, Declaration{Name: "buf", Binding: BindingGlobal, Type: TypeObject, Desc: Common, Size: 4})
	require.NoError(t, err)
	sym, err := ctx.Declare(b, Declaration{Name: "buf", Binding: BindingGlobal, Type: TypeObject, Desc: Common, Size: 16})
	require.NoError(t, err)
	_, err = ctx.Declare(a, Declaration{Name: "buf", Binding: BindingGlobal, Type: TypeObject, Desc: Common, Size: 8})
	require.NoError(t, err)

	info := sym.Info
	assert.True(t, info.IsCommon())
	assert.Equal(t, uint64(16), info.Size)
	assert.Same(t, b, info.Source)
}

func TestDeclareDefineOverridesCommon(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})

	_, err := ctx.Declare(a, Declaration{Name: "x", Binding: BindingGlobal, Type: TypeObject, Desc: Common, Size: 64})
	require.NoError(t, err)
	sym, err := ctx.Declare(b, Declaration{Name: "x", Binding: BindingGlobal, Type: TypeObject, Desc: Define, Size: 4})
	require.NoError(t, err)

	assert.True(t, sym.Info.IsDefine())
	assert.Equal(t, uint64(4), sym.Info.Size)
}

func TestDeclareSharedObject(t *testing.T) {
	ctx := newResolverContext(t)
	lib := ctx.NewInput("libc.so", "", FileTypeDynObj, InputAttribute{})
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})

	sym, err := ctx.Declare(lib, Declaration{Name: "puts", Binding: BindingGlobal, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	info := sym.Info
	assert.True(t, info.FromDynamic)
	assert.True(t, info.Dynamic)

	// A regular definition beats the shared one without an error.
	_, err = ctx.Declare(a, Declaration{Name: "puts", Binding: BindingGlobal, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	assert.False(t, info.FromDynamic)
	assert.True(t, info.Dynamic)
	assert.Same(t, a, info.Source)

	// So does a second shared definition, the other way round.
	lib2 := ctx.NewInput("libd.so", "", FileTypeDynObj, InputAttribute{})
	_, err = ctx.Declare(lib2, Declaration{Name: "puts", Binding: BindingGlobal, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	assert.Same(t, a, info.Source)
}

func TestDeclareUndefinedKeepsDefinition(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})

	ref, err := ctx.Declare(a, Declaration{Name: "g", Binding: BindingWeak})
	require.NoError(t, err)
	assert.True(t, ref.Info.IsUndef())

	_, err = ctx.Declare(b, Declaration{Name: "g", Binding: BindingGlobal})
	require.NoError(t, err)
	assert.True(t, ref.Info.IsGlobal(), "a strong reference upgrades a weak one")

	def, err := ctx.Declare(b, Declaration{Name: "g", Binding: BindingGlobal, Type: TypeFunc, Desc: Define})
	require.NoError(t, err)
	_, err = ctx.Declare(a, Declaration{Name: "g", Binding: BindingGlobal})
	require.NoError(t, err)

	assert.Same(t, ref.Info, def.Info)
	assert.True(t, def.Info.IsDefine())
	assert.Same(t, def, def.Info.OutSymbol)
}

func TestDeclareVisibilityMerge(t *testing.T) {
	tests := []struct {
		name string
		vis  []Visibility
		want Visibility
	}{
		{"default", []Visibility{VisDefault, VisDefault}, VisDefault},
		{"hidden wins over default", []Visibility{VisDefault, VisHidden}, VisHidden},
		{"default keeps hidden", []Visibility{VisHidden, VisDefault}, VisHidden},
		{"internal beats protected", []Visibility{VisProtected, VisInternal}, VisInternal},
		{"hidden beats protected", []Visibility{VisProtected, VisHidden, VisDefault}, VisHidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newResolverContext(t)
			in := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
			var info *ResolveInfo
			for _, vis := range tc.vis {
				sym, err := ctx.Declare(in, Declaration{Name: "v", Binding: BindingGlobal, Visibility: vis})
				require.NoError(t, err)
				info = sym.Info
			}
			assert.Equal(t, tc.want, info.Visibility)
		})
	}
}

func TestDeclareLocalsStayApart(t *testing.T) {
	ctx := newResolverContext(t)
	a := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	b := ctx.NewInput("b.o", "", FileTypeObject, InputAttribute{})

	x, err := ctx.Declare(a, Declaration{Name: "tmp", Binding: BindingLocal, Desc: Define})
	require.NoError(t, err)
	y, err := ctx.Declare(b, Declaration{Name: "tmp", Binding: BindingLocal, Desc: Define})
	require.NoError(t, err)

	assert.NotSame(t, x.Info, y.Info)
	assert.NotEqual(t, x.Info.ID, y.Info.ID)
	_, ok := ctx.Pool.Find("tmp")
	assert.False(t, ok)

	assert.Equal(t, "tmp", ctx.Pool.UniqueName("tmp"))
	assert.Equal(t, "tmp.1", ctx.Pool.UniqueName("tmp"))
	assert.Equal(t, "tmp.2", ctx.Pool.UniqueName("tmp"))
}

func TestNamePoolGlobalsOrder(t *testing.T) {
	ctx := newResolverContext(t)
	in := ctx.NewInput("a.o", "", FileTypeObject, InputAttribute{})
	for _, name := range []string{"c", "a", "b", "a"} {
		_, err := ctx.Declare(in, Declaration{Name: name, Binding: BindingGlobal})
		require.NoError(t, err)
	}

	var names []string
	for _, info := range ctx.Pool.Globals() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
	assert.Equal(t, 3, ctx.Pool.NumGlobals())
}
