package storage

import "math/rand"

type listOptions struct {
	source rand.Source
	// Codecs are held untyped until NewSkipList checks them against its type parameters.
	keyCodec, valueCodec any
}

// Option configures a SkipList at construction.
type Option func(*listOptions)

// WithRandSource sets the source of the level draws. The source is owned by the list afterward.
func WithRandSource(source rand.Source) Option {
	return func(o *listOptions) {
		o.source = source
	}
}

// WithSeed makes the level draws deterministic.
func WithSeed(seed int64) Option {
	return WithRandSource(rand.NewSource(seed))
}

// WithTextCodec sets how keys and values are written to and read from the text dump format.
func WithTextCodec[K any, V any](keys Codec[K], values Codec[V]) Option {
	return func(o *listOptions) {
		o.keyCodec, o.valueCodec = keys, values
	}
}
