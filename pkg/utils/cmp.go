package utils

import "reflect"

// CompareFn defines a three-way comparison for keys of type T.
// It must return a negative value if x < y, 0 if x == y, and a positive value if x > y.
type CompareFn[T any] func(x, y T) int

// Reverse flips the order of the given comparison, i.e. the greatest key comes first.
func Reverse[T any](compare CompareFn[T]) CompareFn[T] {
	return func(x, y T) int { return compare(y, x) }
}

// IsNil reports whether `v` holds no value at all: a nil interface, pointer, map, slice, channel or function.
// Value types (numbers, strings, structs, arrays) are never nil.
func IsNil[T any](v T) bool {
	boxed := any(v)
	if boxed == nil {
		return true
	}
	switch rv := reflect.ValueOf(boxed); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface,
		reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
