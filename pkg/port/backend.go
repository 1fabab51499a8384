// The store backing the Redis port distributes keys over several skip lists (shards) by the xxhash of the key.
// Each shard has its own lock, so clients touching different shards don't wait on each other, and its own bloom
// filter, so lookups of keys that were never written skip the skip list search. Bloom filters only learn keys;
// deletes leave them behind, which costs an occasional wasted search but never a wrong answer.

package port

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/skipkv/pkg/scan"
	"github.com/nobletooth/skipkv/pkg/storage"
	"github.com/nobletooth/skipkv/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shardCount        = flag.Int("shard_count", 8, "Number of skip list shards the store distributes keys over.")
	bloomExpectedKeys = flag.Int("bloom_expected_keys", 100_000,
		"Number of keys each shard's bloom filter is sized for.")
	bloomFalsePositiveRate = flag.Float64("bloom_false_positive_rate", 0.01,
		"Target false positive rate of each shard's bloom filter at its expected key count.")
)

var (
	storeOperationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skipkv_store_operations_total",
		Help: "The total number of store operations",
	}, []string{
		"op",     // get, set, delete, scan, save or load.
		"status", // ok, miss or error.
	})
	storeKeysMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skipkv_store_keys",
		Help: "The number of keys held by the store",
	})
	bloomLookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skipkv_bloom_lookups_total",
		Help: "The total number of bloom filter lookups",
	}, []string{
		"result", // skip when the filter ruled the key out, search otherwise.
	})
)

// shard is one skip list of the store together with the bloom filter of every key it has ever held.
type shard struct {
	mux    sync.RWMutex
	list   *storage.SkipList[string, string]
	filter *bloom.BloomFilter
}

// Store is the skipkv storage backend used by skipkv ports, e.g. Redis. It's safe for concurrent use.
type Store struct {
	shards []*shard
}

// NewStore creates an empty store shaped by the --shard_count and --bloom_* flags.
func NewStore() (*Store, error) {
	if *bloomExpectedKeys <= 0 {
		return nil, fmt.Errorf("expected a positive --bloom_expected_keys, got %d", *bloomExpectedKeys)
	}
	return newStore(*shardCount, uint(*bloomExpectedKeys), *bloomFalsePositiveRate)
}

func newStore(shards int, expectedKeys uint, falsePositiveRate float64) (*Store, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("expected a positive shard count, got %d", shards)
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, fmt.Errorf("expected a bloom false positive rate in (0, 1), got %g", falsePositiveRate)
	}
	store := &Store{shards: make([]*shard, shards)}
	for i := range shards {
		list, err := newShardList()
		if err != nil {
			return nil, fmt.Errorf("failed to create shard %d: %w", i, err)
		}
		store.shards[i] = &shard{list: list, filter: bloom.NewWithEstimates(expectedKeys, falsePositiveRate)}
	}
	return store, nil
}

func newShardList() (*storage.SkipList[string, string], error) {
	return storage.NewOrderedSkipList[string, string](
		storage.WithTextCodec(storage.StringCodec(), storage.StringCodec()))
}

// getShard returns the shard owning `key`.
func (s *Store) getShard(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// lookup reports whether the shard's filter allows `key` to be present. Must hold the shard's lock.
func (sh *shard) lookup(key string) bool {
	if !sh.filter.TestString(key) {
		bloomLookupsMetric.WithLabelValues("skip").Inc()
		return false
	}
	bloomLookupsMetric.WithLabelValues("search").Inc()
	return true
}

// Get looks up the given `key` and returns its value or storage.ErrKeyNotFound.
func (s *Store) Get(key string) (string, error) {
	sh := s.getShard(key)
	sh.mux.RLock()
	defer sh.mux.RUnlock()

	if !sh.lookup(key) {
		storeOperationsMetric.WithLabelValues("get", "miss").Inc()
		return "", storage.ErrKeyNotFound
	}
	value, err := sh.list.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		storeOperationsMetric.WithLabelValues("get", "miss").Inc()
	case err != nil:
		storeOperationsMetric.WithLabelValues("get", "error").Inc()
	default:
		storeOperationsMetric.WithLabelValues("get", "ok").Inc()
	}
	return value, err
}

// Exists reports whether `key` is in the store.
func (s *Store) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// Set stores `value` under `key` and returns the value it replaced, if any.
// Pairs that can't be written to a dump file are rejected with storage.ErrMalformedRecord.
func (s *Store) Set(key, value string) (previous string, replaced bool, err error) {
	if err := storage.CheckRecord(key, value); err != nil {
		storeOperationsMetric.WithLabelValues("set", "error").Inc()
		return "", false, err
	}
	sh := s.getShard(key)
	sh.mux.Lock()
	defer sh.mux.Unlock()

	previous, replaced, err = sh.list.Put(key, value)
	if err != nil {
		storeOperationsMetric.WithLabelValues("set", "error").Inc()
		return "", false, err
	}
	sh.filter.AddString(key)
	if !replaced {
		storeKeysMetric.Inc()
	}
	storeOperationsMetric.WithLabelValues("set", "ok").Inc()
	return previous, replaced, nil
}

// Delete removes `key` from the store, returning storage.ErrKeyNotFound if it's absent.
func (s *Store) Delete(key string) error {
	sh := s.getShard(key)
	sh.mux.Lock()
	defer sh.mux.Unlock()

	if !sh.lookup(key) {
		storeOperationsMetric.WithLabelValues("delete", "miss").Inc()
		return storage.ErrKeyNotFound
	}
	if _, err := sh.list.Remove(key); errors.Is(err, storage.ErrKeyNotFound) {
		storeOperationsMetric.WithLabelValues("delete", "miss").Inc()
		return err
	} else if err != nil {
		storeOperationsMetric.WithLabelValues("delete", "error").Inc()
		return err
	}
	storeKeysMetric.Dec()
	storeOperationsMetric.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Len returns the number of keys across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mux.RLock()
		total += sh.list.Len()
		sh.mux.RUnlock()
	}
	return total
}

// Scan returns every pair whose key matches the glob `pattern`, in ascending key order.
// Each shard is read under its own lock, so the result is not a point-in-time view of the whole store.
func (s *Store) Scan(pattern string) ([]utils.StringPair, error) {
	sequences := make([]iter.Seq[utils.StringPair], 0, len(s.shards))
	for _, sh := range s.shards {
		sh.mux.RLock()
		matching, err := scan.MatchGlob(pattern, sh.list.Iterate())
		if err != nil {
			sh.mux.RUnlock()
			storeOperationsMetric.WithLabelValues("scan", "error").Inc()
			return nil, err
		}
		snapshot := slices.Collect(matching)
		sh.mux.RUnlock()
		sequences = append(sequences, slices.Values(snapshot))
	}
	merged, err := scan.MultiHead(cmp.Compare[string], sequences)
	if err != nil {
		storeOperationsMetric.WithLabelValues("scan", "error").Inc()
		return nil, fmt.Errorf("failed to merge shards: %w", err)
	}
	storeOperationsMetric.WithLabelValues("scan", "ok").Inc()
	return slices.Collect(merged), nil
}

// Flush removes every key from the store and resets the bloom filters.
func (s *Store) Flush() {
	for _, sh := range s.shards {
		sh.mux.Lock()
		storeKeysMetric.Sub(float64(sh.list.Len()))
		sh.list.Clear()
		sh.filter.ClearAll()
		sh.mux.Unlock()
	}
}

// Save writes every shard to the dump file at `path`, replacing the previous dump once all shards are written.
// The lock of `path` is held from the first shard dump until the rename, so loaders never see a half-saved store.
func (s *Store) Save(ctx context.Context, path string) (err error) {
	defer func() {
		if err != nil {
			storeOperationsMetric.WithLabelValues("save", "error").Inc()
		}
	}()
	fileLock, err := storage.LockDumpFile(ctx, path, true /*exclusive*/)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrIO, err)
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: failed to unlock dump file: %w", storage.ErrIO, unlockErr))
		}
	}()

	stagingPath := path + ".tmp"
	if err := os.Remove(stagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove stale staging dump: %w", storage.ErrIO, err)
	}
	for i, sh := range s.shards {
		sh.mux.RLock()
		err := sh.list.DumpFile(ctx, stagingPath)
		sh.mux.RUnlock()
		if err != nil {
			return errors.Join(fmt.Errorf("failed to dump shard %d: %w", i, err), removeStaging(stagingPath))
		}
	}
	if err := os.Rename(stagingPath, path); err != nil {
		return errors.Join(fmt.Errorf("%w: failed to replace dump file: %w", storage.ErrIO, err),
			removeStaging(stagingPath))
	}
	storeOperationsMetric.WithLabelValues("save", "ok").Inc()
	slog.Info("Saved store.", "path", path, "shards", len(s.shards), "keys", s.Len())
	return nil
}

// removeStaging drops a partially written staging dump.
func removeStaging(stagingPath string) error {
	if err := os.Remove(stagingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove staging dump: %w", storage.ErrIO, err)
	}
	return nil
}

// Load puts every record of the dump file at `path` into the store and returns the number of applied records.
// Nothing is applied when the file is malformed.
func (s *Store) Load(ctx context.Context, path string) (int, error) {
	staging, err := newShardList()
	if err != nil {
		return 0, err
	}
	applied, err := staging.LoadFile(ctx, path)
	if err != nil {
		storeOperationsMetric.WithLabelValues("load", "error").Inc()
		return 0, err
	}
	for pair := range staging.Iterate() { // Checked up front so a bad record applies nothing.
		if err := storage.CheckRecord(pair.Key, pair.Value); err != nil {
			storeOperationsMetric.WithLabelValues("load", "error").Inc()
			return 0, err
		}
	}
	for pair := range staging.Iterate() {
		if _, _, err := s.Set(pair.Key, pair.Value); err != nil {
			storeOperationsMetric.WithLabelValues("load", "error").Inc()
			return 0, fmt.Errorf("failed to set loaded key %q: %w", pair.Key, err)
		}
	}
	storeOperationsMetric.WithLabelValues("load", "ok").Inc()
	return applied, nil
}
