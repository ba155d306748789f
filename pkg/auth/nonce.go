package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrStaleNonce is returned for a nonce at or below the highest one already
// accepted from the same caller.
var ErrStaleNonce = errors.New("stale caller nonce")

// "nonce/{caller}" -> decimal nonce
const prefixNonce = "nonce/"

// Nonces tracks the highest request nonce accepted from each caller. A
// signed request is accepted once; replaying it, or any older request,
// fails with ErrStaleNonce.
type Nonces struct {
	mu    sync.Mutex
	last  map[common.Address]uint64
	store StateStore
}

func NewNonces() *Nonces {
	return &Nonces{last: make(map[common.Address]uint64)}
}

// LoadNonces restores accepted nonces from store and persists new ones to
// it.
func LoadNonces(store StateStore) (*Nonces, error) {
	n := NewNonces()
	err := store.ScanState(prefixNonce, func(key string, value []byte) error {
		addr := strings.TrimPrefix(key, prefixNonce)
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid nonce record %q", key)
		}
		v, err := strconv.ParseUint(string(value), 10, 64)
		if err != nil {
			return fmt.Errorf("nonce record %s: %w", key, err)
		}
		n.last[common.HexToAddress(addr)] = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load nonces: %w", err)
	}
	n.store = store
	return n, nil
}

// Use accepts nonce for caller if it is above every nonce accepted from
// caller before.
func (n *Nonces) Use(caller common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.last[caller]; ok && nonce <= last {
		return fmt.Errorf("%w: %d, last accepted %d", ErrStaleNonce, nonce, last)
	}
	if n.store != nil {
		err := n.store.PutState(map[string][]byte{
			prefixNonce + caller.Hex(): []byte(strconv.FormatUint(nonce, 10)),
		})
		if err != nil {
			return fmt.Errorf("persist nonce: %w", err)
		}
	}
	n.last[caller] = nonce
	return nil
}

// Last returns the highest nonce accepted from caller.
func (n *Nonces) Last(caller common.Address) (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.last[caller]
	return v, ok
}
