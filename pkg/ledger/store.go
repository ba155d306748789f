package ledger

import (
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists committed fill state. Get returns nil for a fingerprint
// that has never been written. Write applies the fills and the state
// records together, atomically. A nil state value deletes the record.
type Store interface {
	Get(fp common.Hash) (*big.Int, error)
	Write(fills map[common.Hash]*big.Int, state map[string][]byte) error
	Close() error
}

// StateStore holds keyed records the node keeps next to its fills: asset
// balances, roles and caller nonces.
type StateStore interface {
	PutState(records map[string][]byte) error
	ScanState(prefix string, fn func(key string, value []byte) error) error
}

// MemStore is a Store backed by a map, used by tests and ephemeral nodes.
type MemStore struct {
	mu    sync.RWMutex
	fills map[common.Hash]*big.Int
	state map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		fills: make(map[common.Hash]*big.Int),
		state: make(map[string][]byte),
	}
}

func (s *MemStore) Get(fp common.Hash) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fills[fp]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(v), nil
}

func (s *MemStore) Write(fills map[common.Hash]*big.Int, state map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, v := range fills {
		s.fills[fp] = new(big.Int).Set(v)
	}
	for k, v := range state {
		if v == nil {
			delete(s.state, k)
			continue
		}
		s.state[k] = append([]byte(nil), v...)
	}
	return nil
}

func (s *MemStore) PutState(records map[string][]byte) error {
	return s.Write(nil, records)
}

// ScanState visits records under prefix in key order.
func (s *MemStore) ScanState(prefix string, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = s.state[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fills)
}
