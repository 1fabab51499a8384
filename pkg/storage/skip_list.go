// Package storage provides the skip list engine and its text persistence helpers.
//
// This file implements a generic SkipList. A skip list maintains multiple
// forward-pointer layers over a sorted linked list. Each key may be promoted
// to higher levels with probability p, forming express lanes that let searches
// skip over large ranges. Operations start at the highest populated level and
// descend when advancing would overshoot the target key.
//
// Properties
// - Expected time complexity for Get/Put/Remove: O(log n)
// - Space complexity: O(n)
// - Probabilistic balancing controlled by promotion probability p (0.25)
// - Deterministic iteration order by key using the level 0 chain
//
// A SkipList does no locking of its own; callers sharing one between goroutines must serialize access.
package storage

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"time"

	"github.com/nobletooth/skipkv/pkg/utils"
)

const (
	// MaxLevel is the number of forward slots of the head sentinel; no node is ever taller.
	MaxLevel = 32
	// PromotionProbability is the chance of a node reaching the next level.
	PromotionProbability = 0.25
)

// skipListNode represents a node in the skip list.
type skipListNode[K any, V any] struct {
	key      K
	value    V
	forwards []*skipListNode[K, V] // forward pointers per level (0..level-1)
}

// SkipList is a probabilistically balanced ordered map.
// Keys are strictly ordered by the comparison function given at construction; it never changes afterward.
type SkipList[K any, V any] struct {
	head    *skipListNode[K, V] // Sentinel; holds MaxLevel forward slots and no key.
	level   int                 // Highest level in use; 0 when the list is empty.
	size    int
	compare utils.CompareFn[K]
	rnd     *rand.Rand

	keyCodec   Codec[K] // Optional; required by ExportTo / ImportFrom.
	valueCodec Codec[V]
}

// NewSkipList creates a new empty skip list ordered by `compare`.
func NewSkipList[K any, V any](compare utils.CompareFn[K], opts ...Option) (*SkipList[K, V], error) {
	if compare == nil {
		return nil, ErrInvalidComparator
	}
	conf := &listOptions{}
	for _, opt := range opts {
		opt(conf)
	}
	if conf.source == nil {
		conf.source = rand.NewSource(time.Now().UnixNano())
	}

	s := &SkipList[K, V]{
		head:    &skipListNode[K, V]{forwards: make([]*skipListNode[K, V], MaxLevel)},
		compare: compare,
		rnd:     rand.New(conf.source),
	}
	if conf.keyCodec != nil || conf.valueCodec != nil {
		keyCodec, keyOk := conf.keyCodec.(Codec[K])
		valueCodec, valueOk := conf.valueCodec.(Codec[V])
		if !keyOk || !valueOk {
			return nil, fmt.Errorf("text codec types (%T, %T) don't match the list's key and value types",
				conf.keyCodec, conf.valueCodec)
		}
		s.keyCodec, s.valueCodec = keyCodec, valueCodec
	}
	return s, nil
}

// NewOrderedSkipList creates a skip list ordered by the natural ordering of K.
func NewOrderedSkipList[K cmp.Ordered, V any](opts ...Option) (*SkipList[K, V], error) {
	return NewSkipList[K, V](cmp.Compare[K], opts...)
}

// randomLevel draws the level of a new node: it starts at 1 and is promoted with probability p up to MaxLevel.
func (s *SkipList[K, V]) randomLevel() int {
	lvl := 1
	for lvl < MaxLevel && s.rnd.Float64() < PromotionProbability {
		lvl++
	}
	return lvl
}

func checkKey[K any](key K) error {
	if utils.IsNil(key) {
		return fmt.Errorf("%w: key must not be nil", ErrInvalidKey)
	}
	return nil
}

// Put inserts a new key/value or updates an existing one, returning the previous value when it replaced one.
// The descent stops at the first level where the key is met; an update never changes the structure.
func (s *SkipList[K, V]) Put(key K, value V) (previous V, replaced bool, err error) {
	if err := checkKey(key); err != nil {
		return previous, false, err
	}

	// Track the last nodes before the position at each level in use.
	var update [MaxLevel]*skipListNode[K, V]
	n := s.head
	for lvl := s.level - 1; lvl >= 0; lvl-- {
		for next := n.forwards[lvl]; next != nil; next = n.forwards[lvl] {
			order := s.compare(next.key, key)
			if order == 0 { // Existing key; swap the value in place.
				previous, next.value = next.value, value
				return previous, true, nil
			}
			if order > 0 {
				break
			}
			n = next
		}
		update[lvl] = n
	}

	// Insert a new node with a random level.
	lvl := s.randomLevel()
	newNode := &skipListNode[K, V]{key: key, value: value, forwards: make([]*skipListNode[K, V], lvl)}
	for i := 0; i < lvl; i++ {
		if i < s.level {
			newNode.forwards[i] = update[i].forwards[i]
			update[i].forwards[i] = newNode
		} else { // Above the previous top level the head is the only predecessor.
			s.head.forwards[i] = newNode
		}
	}
	s.size++
	s.level = max(s.level, lvl)
	return previous, false, nil
}

// Get returns the value for key or ErrKeyNotFound if the key is absent.
// It returns as soon as a level's chain reaches the key, without descending to level 0.
func (s *SkipList[K, V]) Get(key K) (V, error) {
	var zero V
	if err := checkKey(key); err != nil {
		return zero, err
	}
	n := s.head
	for lvl := s.level - 1; lvl >= 0; lvl-- {
		for next := n.forwards[lvl]; next != nil; next = n.forwards[lvl] {
			order := s.compare(next.key, key)
			if order == 0 {
				return next.value, nil
			}
			if order > 0 {
				break
			}
			n = next
		}
	}
	return zero, ErrKeyNotFound
}

// Contains reports whether the key is present.
func (s *SkipList[K, V]) Contains(key K) (bool, error) {
	_, err := s.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// Remove deletes key from the list and returns its value, or ErrKeyNotFound.
// It finds predecessors at each level and rewires forward pointers to skip the
// target node, then trims empty top levels.
func (s *SkipList[K, V]) Remove(key K) (V, error) {
	var zero V
	if err := checkKey(key); err != nil {
		return zero, err
	}

	var update [MaxLevel]*skipListNode[K, V]
	found := false
	n := s.head
	for lvl := s.level - 1; lvl >= 0; lvl-- {
		for next := n.forwards[lvl]; next != nil; next = n.forwards[lvl] {
			order := s.compare(next.key, key)
			if order >= 0 {
				found = found || order == 0
				break
			}
			n = next
		}
		update[lvl] = n
	}
	if !found {
		return zero, ErrKeyNotFound
	}

	target := update[0].forwards[0]
	for i := range target.forwards {
		if update[i].forwards[i] != target {
			utils.RaiseInvariant("skip_list", "broken_predecessor",
				"Predecessor doesn't link to the removed node.", "level", i)
			continue
		}
		update[i].forwards[i] = target.forwards[i]
		target.forwards[i] = nil
	}
	s.size--
	// Decrease level if the top levels are now empty.
	for s.level > 0 && s.head.forwards[s.level-1] == nil {
		s.level--
	}
	return target.value, nil
}

// Len returns the number of keys in the list.
func (s *SkipList[K, V]) Len() int {
	return s.size
}

// IsEmpty reports whether the list holds no keys.
func (s *SkipList[K, V]) IsEmpty() bool {
	return s.size == 0
}

// Level returns the highest level in use; 0 for an empty list.
func (s *SkipList[K, V]) Level() int {
	return s.level
}

// Clear drops every node. The comparator, random source and codecs are kept.
func (s *SkipList[K, V]) Clear() {
	clear(s.head.forwards)
	s.level, s.size = 0, 0
}

// Iterate returns the pairs in ascending key order. The sequence is lazy and may be ranged over repeatedly;
// mutating the list while ranging over it has undefined results.
func (s *SkipList[K, V]) Iterate() iter.Seq[utils.Pair[K, V]] {
	return s.LevelIterate(0)
}

// LevelIterate walks the chain of a single level in ascending key order.
// Levels at or above Level() yield nothing.
func (s *SkipList[K, V]) LevelIterate(level int) iter.Seq[utils.Pair[K, V]] {
	return func(yield func(utils.Pair[K, V]) bool) {
		if level < 0 || level >= MaxLevel {
			return
		}
		for n := s.head.forwards[level]; n != nil; n = n.forwards[level] {
			if !yield(utils.Pair[K, V]{Key: n.key, Value: n.value}) {
				return
			}
		}
	}
}
