package storage

import (
	"cmp"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/google/btree"
	"github.com/nobletooth/skipkv/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSkipList builds a seeded skip list so level draws are reproducible.
func newTestSkipList[K cmp.Ordered, V any](t *testing.T) *SkipList[K, V] {
	t.Helper()
	skipList, err := NewOrderedSkipList[K, V](WithSeed(42))
	require.NoError(t, err)
	return skipList
}

// assertHasKey checks the given `skipList` contains the given `key` corresponding to given `expectedVal`.
func assertHasKey[K any, V any](t *testing.T, skipList *SkipList[K, V], key K, expectedVal V) {
	t.Helper()
	gotValue, err := skipList.Get(key)
	assert.NoError(t, err)
	assert.Equal(t, expectedVal, gotValue)
}

// putNewKey puts the given `key` and `value` into the `skipList` and asserts that the key was not present before.
func putNewKey[K any, V any](t *testing.T, skipList *SkipList[K, V], key K, value V) {
	t.Helper()
	_, replaced, err := skipList.Put(key, value)
	assert.Falsef(t, replaced, "Expected key %s to be new.", fmt.Sprint(key))
	assert.NoError(t, err)
}

// updateExistingKey updates the `key` with `value` and asserts that `previous` was replaced.
func updateExistingKey[K any, V any](t *testing.T, skipList *SkipList[K, V], key K, value, previous V) {
	t.Helper()
	gotPrevious, replaced, err := skipList.Put(key, value)
	assert.Truef(t, replaced, "Expected key %s to already exist.", fmt.Sprint(key))
	assert.NoError(t, err)
	assert.Equal(t, previous, gotPrevious)
}

// checkInvariants walks every level and verifies ordering, level consistency and the size / level counters.
func checkInvariants[K any, V any](t *testing.T, skipList *SkipList[K, V]) {
	t.Helper()
	var bottom []*skipListNode[K, V]
	for n := skipList.head.forwards[0]; n != nil; n = n.forwards[0] {
		bottom = append(bottom, n)
	}
	require.Equal(t, skipList.size, len(bottom), "size must match the level 0 chain")
	require.LessOrEqual(t, skipList.level, MaxLevel)

	highestPopulated := 0
	for lvl := 0; lvl < MaxLevel; lvl++ {
		// Level `lvl` must hold exactly the level 0 nodes taller than `lvl`, in the same order.
		var expected, got []*skipListNode[K, V]
		for _, n := range bottom {
			require.GreaterOrEqual(t, len(n.forwards), 1)
			require.LessOrEqual(t, len(n.forwards), MaxLevel)
			if len(n.forwards) > lvl {
				expected = append(expected, n)
			}
		}
		for n := skipList.head.forwards[lvl]; n != nil; n = n.forwards[lvl] {
			got = append(got, n)
		}
		require.Equal(t, expected, got, "level %d chain is inconsistent", lvl)
		for i := 1; i < len(got); i++ {
			require.Negative(t, skipList.compare(got[i-1].key, got[i].key), "level %d is out of order", lvl)
		}
		if len(got) > 0 {
			highestPopulated = lvl + 1
		}
	}
	require.Equal(t, highestPopulated, skipList.level, "level must equal the highest populated level")
}

func TestNewSkipList_NilComparator(t *testing.T) {
	_, err := NewSkipList[int, string](nil)
	assert.ErrorIs(t, err, ErrInvalidComparator)
}

func TestNewSkipList_MismatchedCodec(t *testing.T) {
	_, err := NewOrderedSkipList[int, string](WithTextCodec(StringCodec(), StringCodec()))
	assert.Error(t, err)
}

func TestSkipList_Empty(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	assert.True(t, skipList.IsEmpty())
	assert.Zero(t, skipList.Len())
	assert.Zero(t, skipList.Level())
	_, err := skipList.Get(42)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = skipList.Remove(42)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Empty(t, slices.Collect(skipList.Iterate()))
}

func TestSkipList_PutAndGet_Simple(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	putNewKey(t, skipList, 2, "two")
	putNewKey(t, skipList, 1, "one")
	putNewKey(t, skipList, 3, "three")

	assertHasKey(t, skipList, 1, "one")
	assertHasKey(t, skipList, 2, "two")
	assertHasKey(t, skipList, 3, "three")
	assert.Equal(t, 3, skipList.Len())
	assert.False(t, skipList.IsEmpty())
	checkInvariants(t, skipList)
}

func TestSkipList_UpdateValue(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	putNewKey(t, skipList, 10, "ten")
	level := skipList.Level()
	updateExistingKey(t, skipList, 10, "TEN", "ten")
	assertHasKey(t, skipList, 10, "TEN")
	assert.Equal(t, 1, skipList.Len(), "An update must not change the size")
	assert.Equal(t, level, skipList.Level(), "An update must not change the structure")
	checkInvariants(t, skipList)
}

func TestSkipList_Remove(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	// Removing a missing key returns ErrKeyNotFound.
	_, err := skipList.Remove(7)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Insert some and remove one.
	for _, testCase := range []struct {
		k int
		v string
	}{{k: 1, v: "a"}, {k: 2, v: "b"}, {k: 3, v: "c"}} {
		putNewKey(t, skipList, testCase.k, testCase.v)
	}
	removed, err := skipList.Remove(2)
	assert.NoError(t, err)
	assert.Equal(t, "b", removed)
	assert.Equal(t, 2, skipList.Len())
	_, err = skipList.Get(2)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	// Removing again should return ErrKeyNotFound and leave the size alone.
	_, err = skipList.Remove(2)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 2, skipList.Len())
	// Other keys remain.
	assertHasKey(t, skipList, 1, "a")
	assertHasKey(t, skipList, 3, "c")
	checkInvariants(t, skipList)
}

func TestSkipList_RemoveShrinksLevel(t *testing.T) {
	skipList := newTestSkipList[int, int](t)
	for i := range 500 {
		putNewKey(t, skipList, i, i)
	}
	assert.Greater(t, skipList.Level(), 1, "500 keys should populate more than one level")
	checkInvariants(t, skipList)

	for i := range 500 {
		removed, err := skipList.Remove(i)
		require.NoError(t, err)
		require.Equal(t, i, removed)
		if i%50 == 0 {
			checkInvariants(t, skipList)
		}
	}
	assert.True(t, skipList.IsEmpty())
	assert.Zero(t, skipList.Level(), "Empty list must not keep any level")
	checkInvariants(t, skipList)
}

func TestSkipList_NilKey(t *testing.T) {
	skipList, err := NewSkipList[*int, string](func(x, y *int) int { return cmp.Compare(*x, *y) }, WithSeed(1))
	require.NoError(t, err)
	one := 1
	putNewKey(t, skipList, &one, "one")

	_, _, err = skipList.Put(nil, "nil")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = skipList.Get(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = skipList.Remove(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = skipList.Contains(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	// Nothing changed.
	assert.Equal(t, 1, skipList.Len())
	checkInvariants(t, skipList)
}

func TestSkipList_Contains(t *testing.T) {
	skipList := newTestSkipList[string, int](t)
	putNewKey(t, skipList, "a", 1)
	found, err := skipList.Contains("a")
	assert.NoError(t, err)
	assert.True(t, found)
	found, err = skipList.Contains("b")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestSkipList_StringKeys(t *testing.T) {
	skipList := newTestSkipList[string, int](t)
	putNewKey(t, skipList, "alpha", 1)
	putNewKey(t, skipList, "beta", 2)
	putNewKey(t, skipList, "gamma", 3)
	assertHasKey(t, skipList, "beta", 2)
}

func TestSkipList_CustomComparator(t *testing.T) {
	skipList, err := NewSkipList[int, string](utils.Reverse[int](cmp.Compare[int]), WithSeed(3))
	require.NoError(t, err)
	for _, k := range []int{2, 9, 4} {
		putNewKey(t, skipList, k, fmt.Sprint(k))
	}
	assert.Equal(t, []utils.Pair[int, string]{
		{Key: 9, Value: "9"},
		{Key: 4, Value: "4"},
		{Key: 2, Value: "2"},
	}, slices.Collect(skipList.Iterate()))
	checkInvariants(t, skipList)
}

func TestSkipList_BulkInsertAndGet(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	const samples = 200
	for i := 0; i < samples; i++ {
		putNewKey(t, skipList, i, fmt.Sprintf("val-%d", i))
	}
	for i := 0; i < samples; i++ {
		gotValue, err := skipList.Get(i)
		assert.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("val-%d", i), gotValue)
	}
	assert.Equal(t, samples, skipList.Len())
	checkInvariants(t, skipList)
}

func TestSkipList_IterateCollect(t *testing.T) {
	skipList := newTestSkipList[int, string](t)
	// Insert in non-sorted order.
	putNewKey(t, skipList, 3, "three")
	putNewKey(t, skipList, 1, "one")
	putNewKey(t, skipList, 2, "two")

	{ // Keys should be in ascending order with matching values.
		gotPairs := slices.Collect(skipList.Iterate())
		assert.Equal(t, []utils.Pair[int, string]{
			{Key: 1, Value: "one"},
			{Key: 2, Value: "two"},
			{Key: 3, Value: "three"},
		}, gotPairs)
	}
	{ // Updating a key should reflect in iteration.
		updateExistingKey(t, skipList, 2, "TWO", "two")
		pairs := slices.Collect(skipList.Iterate())
		assert.Equal(t, "TWO", pairs[1].Value)
	}
	{ // Breaking out early stops the walk.
		var keys []int
		for pair := range skipList.Iterate() {
			keys = append(keys, pair.Key)
			if len(keys) == 2 {
				break
			}
		}
		assert.Equal(t, []int{1, 2}, keys)
	}
}

func TestSkipList_LevelIterate(t *testing.T) {
	skipList := newTestSkipList[int, int](t)
	for i := range 100 {
		putNewKey(t, skipList, i, i)
	}
	previousLen := skipList.Len()
	for lvl := 0; lvl < skipList.Level(); lvl++ {
		pairs := slices.Collect(skipList.LevelIterate(lvl))
		assert.NotEmpty(t, pairs, "level %d is in use", lvl)
		assert.LessOrEqual(t, len(pairs), previousLen, "higher levels are sparser")
		previousLen = len(pairs)
	}
	assert.Empty(t, slices.Collect(skipList.LevelIterate(skipList.Level())))
	assert.Empty(t, slices.Collect(skipList.LevelIterate(-1)))
	assert.Empty(t, slices.Collect(skipList.LevelIterate(MaxLevel)))
}

func TestSkipList_Clear(t *testing.T) {
	skipList := newTestSkipList[int, int](t)
	for i := range 10 {
		putNewKey(t, skipList, i, i)
	}
	skipList.Clear()
	assert.True(t, skipList.IsEmpty())
	assert.Zero(t, skipList.Level())
	checkInvariants(t, skipList)
	putNewKey(t, skipList, 5, 5)
	assertHasKey(t, skipList, 5, 5)
}

func TestSkipList_RandomLevelDistribution(t *testing.T) {
	skipList := newTestSkipList[int, int](t)
	const draws = 100_000
	atLeast := make([]int, MaxLevel+2)
	for range draws {
		lvl := skipList.randomLevel()
		require.GreaterOrEqual(t, lvl, 1)
		require.LessOrEqual(t, lvl, MaxLevel)
		for i := 1; i <= lvl; i++ {
			atLeast[i]++
		}
	}
	assert.Equal(t, draws, atLeast[1])
	// About a quarter of the nodes reach level 2 and a sixteenth reach level 3.
	assert.InDelta(t, 0.25, float64(atLeast[2])/draws, 0.01)
	assert.InDelta(t, 0.0625, float64(atLeast[3])/draws, 0.01)
}

func TestSkipList_Example(t *testing.T) {
	skipList := newTestSkipList[string, int](t)
	putNewKey(t, skipList, "a", 1)
	putNewKey(t, skipList, "c", 3)
	putNewKey(t, skipList, "b", 2)
	assert.Equal(t, []utils.Pair[string, int]{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}},
		slices.Collect(skipList.Iterate()))
	assertHasKey(t, skipList, "b", 2)
	removed, err := skipList.Remove("a")
	assert.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, skipList.Len())
	_, err = skipList.Get("a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestSkipList_MatchesBTree runs random operations against both the skip list and a B-tree and compares them.
func TestSkipList_MatchesBTree(t *testing.T) {
	for _, seed := range []int64{1, 7, 1234} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			skipList, err := NewOrderedSkipList[int, int](WithSeed(seed))
			require.NoError(t, err)
			reference := btree.NewG[utils.Pair[int, int]](8, func(a, b utils.Pair[int, int]) bool {
				return a.Key < b.Key
			})
			rnd := rand.New(rand.NewSource(seed))
			for step := range 5_000 {
				key, value := rnd.Intn(300), rnd.Int()
				switch rnd.Intn(3) {
				case 0, 1: // Put.
					previous, replaced, err := skipList.Put(key, value)
					require.NoError(t, err)
					old, existed := reference.ReplaceOrInsert(utils.Pair[int, int]{Key: key, Value: value})
					require.Equal(t, existed, replaced, "step %d", step)
					if existed {
						require.Equal(t, old.Value, previous, "step %d", step)
					}
				case 2: // Remove.
					removed, err := skipList.Remove(key)
					old, existed := reference.Delete(utils.Pair[int, int]{Key: key})
					if existed {
						require.NoError(t, err, "step %d", step)
						require.Equal(t, old.Value, removed, "step %d", step)
					} else {
						require.ErrorIs(t, err, ErrKeyNotFound, "step %d", step)
					}
				}
				require.Equal(t, reference.Len(), skipList.Len(), "step %d", step)
			}

			var expected []utils.Pair[int, int]
			reference.Ascend(func(item utils.Pair[int, int]) bool {
				expected = append(expected, item)
				return true
			})
			assert.Equal(t, expected, slices.Collect(skipList.Iterate()))
			for _, pair := range expected {
				assertHasKey(t, skipList, pair.Key, pair.Value)
			}
			checkInvariants(t, skipList)
		})
	}
}

func BenchmarkSkipList_Put(b *testing.B) {
	skipList, err := NewOrderedSkipList[int, int](WithSeed(1))
	require.NoError(b, err)
	rnd := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = skipList.Put(rnd.Int(), i)
	}
}

func BenchmarkSkipList_Get(b *testing.B) {
	skipList, err := NewOrderedSkipList[int, int](WithSeed(1))
	require.NoError(b, err)
	for i := range 100_000 {
		_, _, _ = skipList.Put(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = skipList.Get(i % 100_000)
	}
}
