package storage

import "errors"

var (
	ErrKeyNotFound       = errors.New("key was not found")
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidComparator = errors.New("expected a non-nil comparison function")

	// ErrIO wraps every failure of the text export / import helpers, including parse failures.
	ErrIO = errors.New("skip list io failure")
	// ErrMalformedRecord is returned for a record that can't be written to or read from the text format.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNoCodec is returned by export / import when the list was built without WithTextCodec.
	ErrNoCodec = errors.New("no text codec configured")
)
