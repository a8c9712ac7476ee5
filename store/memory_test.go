package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "layouts", "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "layouts", "a", []byte("one")))
	v, err := m.Get(ctx, "layouts", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	// Values are copied on both sides.
	v[0] = 'X'
	v2, _ := m.Get(ctx, "layouts", "a")
	assert.Equal(t, "one", string(v2))

	require.NoError(t, m.Delete(ctx, "layouts", "a"))
	require.ErrorIs(t, m.Delete(ctx, "layouts", "a"), ErrNotFound)
}

func TestMemory_ListSortedPerNamespace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, m.Put(ctx, "ns1", k, nil))
	}
	require.NoError(t, m.Put(ctx, "ns2", "z", nil))

	keys, err := m.List(ctx, "ns1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	keys, err = m.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestJSONHelpers(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, PutJSON(ctx, m, "items", "1", item{Name: "depot"}))
	got, err := GetJSON[item](ctx, m, "items", "1")
	require.NoError(t, err)
	assert.Equal(t, "depot", got.Name)

	require.NoError(t, m.Put(ctx, "items", "bad", []byte("{")))
	_, err = GetJSON[item](ctx, m, "items", "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
