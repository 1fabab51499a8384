// A skip list can be dumped to a plain text file and loaded back. Each entry is a single `<key>:<value>` line.
// There's no header, checksum or escaping: keys must not contain ':' and neither keys nor values may contain
// line breaks. Dumps are appended to the target file and are not crash safe; a failed write may leave a
// partially written file behind. Loading re-puts every line, so later lines win over earlier ones.

package storage

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	recordDelimiter = ":"
	maxRecordSize   = 1 << 20 // 1 MiB; longer lines fail the import.
)

var dumpLockRetryDelay = flag.Duration("dump_lock_retry_delay", 50*time.Millisecond,
	"How often to retry acquiring the lock file of a dump while another process holds it.")

// CheckRecord returns ErrMalformedRecord when the encoded `key` and `value` can't be written as a dump line:
// keys must not contain ':' or line breaks and values must not contain line breaks.
func CheckRecord(key, value string) error {
	if strings.ContainsAny(key, recordDelimiter+"\r\n") {
		return fmt.Errorf("%w: key %q contains a delimiter or line break", ErrMalformedRecord, key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: value of key %q contains a line break", ErrMalformedRecord, key)
	}
	return nil
}

// ExportTo writes every entry in ascending key order, one `key:value` line each.
// Records the format can't represent abort the export with ErrMalformedRecord; lines written before stay written.
func (s *SkipList[K, V]) ExportTo(w io.Writer) error {
	if s.keyCodec == nil || s.valueCodec == nil {
		return fmt.Errorf("%w: %w", ErrIO, ErrNoCodec)
	}

	buffered := bufio.NewWriter(w)
	for pair := range s.Iterate() {
		key, err := s.keyCodec.Encode(pair.Key)
		if err != nil {
			return fmt.Errorf("%w: %w: failed to encode key: %w", ErrIO, ErrMalformedRecord, err)
		}
		value, err := s.valueCodec.Encode(pair.Value)
		if err != nil {
			return fmt.Errorf("%w: %w: failed to encode value of key %q: %w", ErrIO, ErrMalformedRecord, key, err)
		}
		if err := CheckRecord(key, value); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		if _, err := buffered.WriteString(key + recordDelimiter + value + "\n"); err != nil {
			return fmt.Errorf("%w: failed to write record: %w", ErrIO, err)
		}
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush records: %w", ErrIO, err)
	}
	return nil
}

// ImportFrom puts every `key:value` line read from `r` and returns the number of applied records.
// The key ends at the first ':'; the rest of the line is the value. Import stops at the first malformed line,
// keeping the records applied before it.
func (s *SkipList[K, V]) ImportFrom(r io.Reader) (int, error) {
	if s.keyCodec == nil || s.valueCodec == nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, ErrNoCodec)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxRecordSize)
	applied, lineNumber := 0, 0
	for scanner.Scan() {
		lineNumber++
		rawKey, rawValue, hasDelimiter := strings.Cut(scanner.Text(), recordDelimiter)
		if !hasDelimiter {
			return applied, fmt.Errorf("%w: %w: line %d has no %q delimiter",
				ErrIO, ErrMalformedRecord, lineNumber, recordDelimiter)
		}
		key, err := s.keyCodec.Decode(rawKey)
		if err != nil {
			return applied, fmt.Errorf("%w: %w: line %d: failed to decode key: %w",
				ErrIO, ErrMalformedRecord, lineNumber, err)
		}
		value, err := s.valueCodec.Decode(rawValue)
		if err != nil {
			return applied, fmt.Errorf("%w: %w: line %d: failed to decode value: %w",
				ErrIO, ErrMalformedRecord, lineNumber, err)
		}
		if _, _, err := s.Put(key, value); err != nil {
			return applied, fmt.Errorf("%w: line %d: %w", ErrIO, lineNumber, err)
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("%w: failed to read line %d: %w", ErrIO, lineNumber+1, err)
	}
	return applied, nil
}

// LockDumpFile takes the advisory lock guarding `path`; exclusive for writers and shared for readers.
// The lock lives in `<path>.lock`, which is left on disk after Unlock.
func LockDumpFile(ctx context.Context, path string, exclusive bool) (*flock.Flock, error) {
	fileLock := flock.New(path + ".lock")
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fileLock.TryLockContext(ctx, *dumpLockRetryDelay)
	} else {
		locked, err = fileLock.TryRLockContext(ctx, *dumpLockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock dump file %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("dump file %s is locked by another process", path)
	}
	return fileLock, nil
}

// DumpFile appends the list's entries to the file at `path`, creating it when missing.
func (s *SkipList[K, V]) DumpFile(ctx context.Context, path string) (err error) {
	fileLock, err := LockDumpFile(ctx, path, true /*exclusive*/)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: failed to unlock dump file: %w", ErrIO, unlockErr))
		}
	}()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to open dump file: %w", ErrIO, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: failed to close dump file: %w", ErrIO, closeErr))
		}
	}()

	if err := s.ExportTo(file); err != nil {
		return err
	}
	slog.Debug("Dumped skip list to file.", "path", path, "entries", s.Len())
	return nil
}

// LoadFile puts every entry of the dump file at `path` into the list.
func (s *SkipList[K, V]) LoadFile(ctx context.Context, path string) (applied int, err error) {
	fileLock, err := LockDumpFile(ctx, path, false /*exclusive*/)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: failed to unlock dump file: %w", ErrIO, unlockErr))
		}
	}()

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open dump file: %w", ErrIO, err)
	}
	defer func() { _ = file.Close() }() // Read-only; nothing to lose on close.

	applied, err = s.ImportFrom(file)
	if err != nil {
		return applied, err
	}
	slog.Debug("Loaded skip list from file.", "path", path, "records", applied, "entries", s.Len())
	return applied, nil
}
