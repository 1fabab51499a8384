// A sharded store keeps one skip list per shard, so an ordered scan over the whole store has to merge several
// sorted sequences without materializing them. This module implements a heap-based multi-way merge that lazily
// pulls from each underlying sequence. When several sequences hold the same key, the one listed first wins and the
// others' pairs are dropped.

package scan

import (
	"container/heap"
	"errors"
	"iter"

	"github.com/nobletooth/skipkv/pkg/utils"
)

// head is the pair most recently pulled from one of the merged sequences.
type head[K any, V any] struct {
	pair   utils.Pair[K, V]
	seqIdx int // Index of the sequence that produced this pair; lower means higher priority.
}

// headHeap orders the current heads by key, then by sequence priority.
type headHeap[K any, V any] struct { // Implements heap.Interface.
	compare utils.CompareFn[K]
	heads   []head[K, V]
}

var _ heap.Interface = (*headHeap[int, int])(nil)

func (h *headHeap[K, V]) Len() int { return len(h.heads) }

func (h *headHeap[K, V]) Less(i, j int) bool {
	if order := h.compare(h.heads[i].pair.Key, h.heads[j].pair.Key); order != 0 {
		return order < 0
	}
	return h.heads[i].seqIdx < h.heads[j].seqIdx
}

func (h *headHeap[K, V]) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *headHeap[K, V]) Push(x any) {
	element, ok := x.(head[K, V])
	if !ok {
		utils.RaiseInvariant("multi_head", "pushed_invalid_type", "An item with invalid type was pushed to heap.")
		return
	}
	h.heads = append(h.heads, element)
}

func (h *headHeap[K, V]) Pop() any {
	last := h.heads[len(h.heads)-1]
	h.heads = h.heads[:len(h.heads)-1]
	return last
}

// MultiHead merges increasing sequences into one increasing sequence with unique keys.
// For equal keys the pair of the earliest sequence in `sequences` is kept.
// The merge is lazy; each underlying sequence is pulled only as far as the consumer ranges.
func MultiHead[K any, V any](compare utils.CompareFn[K], sequences []iter.Seq[utils.Pair[K, V]],
) (iter.Seq[utils.Pair[K, V]], error) {
	if compare == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	if len(sequences) == 0 {
		return nil, errors.New("expected a non-empty sequences")
	}

	return func(yield func(utils.Pair[K, V]) bool) {
		heads := &headHeap[K, V]{compare: compare, heads: make([]head[K, V], 0, len(sequences))}
		pulls := make([]func() (utils.Pair[K, V], bool), len(sequences))
		for seqIdx, seq := range sequences {
			next, stop := iter.Pull(seq)
			defer stop() // Releases the pull goroutines however the iteration ends.
			pulls[seqIdx] = next
			if pair, ok := next(); ok {
				heap.Push(heads, head[K, V]{pair: pair, seqIdx: seqIdx})
			}
		}

		var (
			last    K
			hasLast bool
		)
		for heads.Len() > 0 {
			top := heap.Pop(heads).(head[K, V])
			if pair, ok := pulls[top.seqIdx](); ok {
				heap.Push(heads, head[K, V]{pair: pair, seqIdx: top.seqIdx})
			}
			// A repeated key comes from a lower priority sequence; drop it.
			if hasLast && compare(last, top.pair.Key) == 0 {
				continue
			}
			last, hasLast = top.pair.Key, true
			if !yield(top.pair) {
				return
			}
		}
	}, nil
}
