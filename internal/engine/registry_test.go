package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(name string) Descriptor {
	return Descriptor{
		Info: Info{Name: name},
		New:  func() (Engine, error) { return treeOnly{}, nil },
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(descriptor("b"), descriptor("a"))

	d, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Info.Name)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, err = r.Lookup("missing")
	require.ErrorIs(t, err, ErrUnknownEngine)
	assert.Contains(t, err.Error(), "[a b]")
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	r := NewRegistry()

	require.Error(t, r.Register(Descriptor{New: descriptor("x").New}))
	require.Error(t, r.Register(Descriptor{Info: Info{Name: "x"}}))
	require.NoError(t, r.Register(descriptor("x")))
	require.Error(t, r.Register(descriptor("x")), "duplicate name")
}

func TestNewRegistryPanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(descriptor("x"), descriptor("x"))
	})
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(descriptor("a"), descriptor("b"))

	all, err := r.Resolve([]string{"all"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, none, 2)

	some, err := r.Resolve([]string{"b", "b"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].Info.Name)

	_, err = r.Resolve([]string{"a", "zzz"})
	require.ErrorIs(t, err, ErrUnknownEngine)
}
