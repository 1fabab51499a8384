// Pair is the unit of ordered iteration shared by the storage, scan and display packages.

package utils

import "fmt"

type Pair[K any, V any] struct {
	Key   K
	Value V
}

// String formats the pair the way a dump file line holds it.
func (p Pair[K, V]) String() string {
	return fmt.Sprintf("%v:%v", p.Key, p.Value)
}

// StringPair is what the network-facing store streams.
type StringPair = Pair[string /*key*/, string /*value*/]
