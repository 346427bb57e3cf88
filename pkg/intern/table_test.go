package intern

import (
	"fmt"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isPowerOf2(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

func TestNewRoundsCapacity(t *testing.T) {
	tests := []struct {
		hint int
		cap  int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{17, 32},
		{32, 32},
		{33, 64},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.hint), func(t *testing.T) {
			assert.Equal(t, tc.cap, New[int](tc.hint).Cap())
		})
	}
}

func TestInsertFindErase(t *testing.T) {
	tab := New[int](17)
	require.Equal(t, 32, tab.Cap())

	for i, key := range []string{"foo", "bar", "baz"} {
		e, existed := tab.Insert(key)
		require.False(t, existed)
		e.Value = i + 1
	}
	require.Equal(t, 3, tab.Len())

	assert.True(t, tab.Erase("bar"))

	_, ok := tab.Find("bar")
	assert.False(t, ok)

	foo, ok := tab.Find("foo")
	require.True(t, ok)
	assert.Equal(t, 1, foo.Value)

	baz, ok := tab.Find("baz")
	require.True(t, ok)
	assert.Equal(t, 3, baz.Value)

	assert.Equal(t, 2, tab.Len())
	assert.Equal(t, 1, tab.NumTombstones())
	assert.False(t, tab.Erase("bar"))
}

func TestInsertExistingKeepsEntry(t *testing.T) {
	tab := New[string](4)
	e, existed := tab.Insert("main")
	require.False(t, existed)
	e.Value = "payload"

	again, existed := tab.Insert("main")
	assert.True(t, existed)
	assert.Same(t, e, again)
	assert.Equal(t, "payload", again.Value)
	assert.Equal(t, 1, tab.Len())
}

func TestGrowthKeepsEntries(t *testing.T) {
	tab := New[int](1)
	lastCap := tab.Cap()

	const n = 5000
	for i := 0; i < n; i++ {
		e, existed := tab.Insert(fmt.Sprintf("sym%d", i))
		require.False(t, existed)
		e.Value = i

		require.True(t, isPowerOf2(tab.Cap()))
		require.GreaterOrEqual(t, tab.Cap(), lastCap)
		require.LessOrEqual(t, float64(tab.Len()), MaxLoadFactor*float64(tab.Cap()))
		lastCap = tab.Cap()
	}

	assert.Equal(t, n, tab.Len())
	for i := 0; i < n; i++ {
		e, ok := tab.Find(fmt.Sprintf("sym%d", i))
		require.True(t, ok)
		require.Equal(t, i, e.Value)
	}
}

func TestEraseKeepsOthersFindable(t *testing.T) {
	tab := New[int](8)
	keys := make([]string, 200)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%03d", i)
		e, _ := tab.Insert(keys[i])
		e.Value = i
	}

	for i := 0; i < len(keys); i += 3 {
		lastCap := tab.Cap()
		require.True(t, tab.Erase(keys[i]))
		require.GreaterOrEqual(t, tab.Cap(), lastCap)
	}

	for i, k := range keys {
		e, ok := tab.Find(k)
		if i%3 == 0 {
			assert.False(t, ok, k)
			continue
		}
		require.True(t, ok, k)
		assert.Equal(t, i, e.Value)
	}
}

func TestTombstonesAreReused(t *testing.T) {
	tab := New[int](64)
	for round := 0; round < 1000; round++ {
		key := fmt.Sprintf("tmp%d", round)
		tab.Insert(key)
		require.True(t, tab.Erase(key))
	}

	assert.Equal(t, 0, tab.Len())
	assert.Equal(t, 64, tab.Cap())
	assert.Less(t, float64(tab.NumTombstones()), MaxLoadFactor*float64(tab.Cap()))
}

// collide sends every key to the same bucket so the probe sequence is the
// only thing separating them.
func collide(string) uint32 { return 7 }

func TestQuadraticProbingWithCollisions(t *testing.T) {
	tab := New[int](16, WithHasher(collide))
	for i := 0; i < 11; i++ {
		e, existed := tab.Insert(fmt.Sprint(i))
		require.False(t, existed)
		e.Value = i
	}

	require.True(t, tab.Erase("3"))
	for i := 0; i < 11; i++ {
		e, ok := tab.Find(fmt.Sprint(i))
		if i == 3 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, i, e.Value)
	}

	// The tombstone on the probe path is taken by the next new key.
	before := tab.NumTombstones()
	tab.Insert("new")
	assert.Equal(t, before-1, tab.NumTombstones())
}

func TestEntryPointersSurviveRehash(t *testing.T) {
	tab := New[int](2)
	first, _ := tab.Insert("first")
	first.Value = 42

	for i := 0; i < 1000; i++ {
		tab.Insert(fmt.Sprint(i))
	}

	e, ok := tab.Find("first")
	require.True(t, ok)
	assert.Same(t, first, e)
	assert.Equal(t, 42, e.Value)
}

func TestEntriesArenaOrder(t *testing.T) {
	tab := New[int](4)
	for _, k := range []string{"c", "a", "b"} {
		tab.Insert(k)
	}
	tab.Erase("a")

	var keys []string
	for _, e := range tab.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"c", "b"}, keys)

	n := 0
	tab.Range(func(*Entry[int]) bool {
		n++
		return true
	})
	assert.Equal(t, 2, n)
}
