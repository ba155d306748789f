package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheEntries bounds the read cache in front of Pebble.
const DefaultCacheEntries = 65536

type fillRecord struct {
	Filled    *big.Int `json:"filled"`
	UpdatedAt int64    `json:"updatedAt"`
}

// PebbleStore persists fill state in Pebble with an LRU read cache.
// Writes go through a single synced batch so a settlement's fills land
// together or not at all.
type PebbleStore struct {
	db    *pebble.DB
	cache *lru.Cache[common.Hash, *big.Int]
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(dbPath string, cacheEntries int) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20), // 64MB block cache
		MemTableSize:                32 << 20,
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	cache, err := lru.New[common.Hash, *big.Int](cacheEntries)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create fill cache: %w", err)
	}

	return &PebbleStore{db: db, cache: cache}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Get loads a fill from the cache or Pebble.
// Returns nil if the fingerprint was never written
func (s *PebbleStore) Get(fp common.Hash) (*big.Int, error) {
	if v, ok := s.cache.Get(fp); ok {
		return new(big.Int).Set(v), nil
	}

	data, closer, err := s.db.Get(fillKey(fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fill: %w", err)
	}
	defer closer.Close()

	var rec fillRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fill: %w", err)
	}
	if rec.Filled == nil {
		rec.Filled = new(big.Int)
	}

	s.cache.Add(fp, new(big.Int).Set(rec.Filled))
	return rec.Filled, nil
}

// Write commits fills and state records in one synced batch, then
// refreshes the cache.
func (s *PebbleStore) Write(fills map[common.Hash]*big.Int, state map[string][]byte) error {
	if len(fills) == 0 && len(state) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	now := time.Now().Unix()
	for fp, v := range fills {
		data, err := json.Marshal(fillRecord{Filled: v, UpdatedAt: now})
		if err != nil {
			return fmt.Errorf("failed to marshal fill: %w", err)
		}
		if err := batch.Set(fillKey(fp), data, nil); err != nil {
			return fmt.Errorf("failed to stage fill: %w", err)
		}
	}
	for k, v := range state {
		var err error
		if v == nil {
			err = batch.Delete(stateKey(k), nil)
		} else {
			err = batch.Set(stateKey(k), v, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage state %s: %w", k, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit fills: %w", err)
	}

	for fp, v := range fills {
		s.cache.Add(fp, new(big.Int).Set(v))
	}
	return nil
}

func (s *PebbleStore) PutState(records map[string][]byte) error {
	return s.Write(nil, records)
}

// ScanState visits state records under prefix in key order. The value
// slice is only valid during the callback.
func (s *PebbleStore) ScanState(prefix string, fn func(key string, value []byte) error) error {
	lower := stateKey(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key()[len(prefixState):])
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ForEach visits every committed fill in key order. Returning false stops
// the scan.
func (s *PebbleStore) ForEach(fn func(fp common.Hash, filled *big.Int) bool) error {
	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		fp, err := fingerprintFromKey(iter.Key())
		if err != nil {
			continue
		}
		var rec fillRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil || rec.Filled == nil {
			continue
		}
		if !fn(fp, rec.Filled) {
			break
		}
	}
	return iter.Error()
}
