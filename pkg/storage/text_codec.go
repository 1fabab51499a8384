package storage

import (
	"fmt"
	"strconv"
)

// Codec converts keys or values to and from the text used in dump files.
// Decode must accept everything Encode produces.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(text string) (T, error)
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[T any] struct {
	EncodeFn func(T) (string, error)
	DecodeFn func(string) (T, error)
}

var _ Codec[int] = CodecFuncs[int]{}

func (c CodecFuncs[T]) Encode(v T) (string, error) {
	return c.EncodeFn(v)
}

func (c CodecFuncs[T]) Decode(text string) (T, error) {
	return c.DecodeFn(text)
}

// StringCodec writes strings as they are.
func StringCodec() Codec[string] {
	return CodecFuncs[string]{
		EncodeFn: func(s string) (string, error) { return s, nil },
		DecodeFn: func(text string) (string, error) { return text, nil },
	}
}

// IntCodec writes integers in base 10.
func IntCodec() Codec[int] {
	return CodecFuncs[int]{
		EncodeFn: func(i int) (string, error) { return strconv.Itoa(i), nil },
		DecodeFn: func(text string) (int, error) {
			i, err := strconv.Atoi(text)
			if err != nil {
				return 0, fmt.Errorf("failed to parse integer %q: %w", text, err)
			}
			return i, nil
		},
	}
}
