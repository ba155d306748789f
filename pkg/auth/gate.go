package auth

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner    = errors.New("caller is not the owner")
	ErrZeroAddress = errors.New("zero address")
)

// Gate answers who may submit settlement and cancellation calls.
type Gate interface {
	IsExecutor(addr common.Address) bool
	Owner() common.Address
}

// StateStore persists role changes and caller nonces next to the fills.
type StateStore interface {
	PutState(records map[string][]byte) error
	ScanState(prefix string, fn func(key string, value []byte) error) error
}

// Role records:
//
//	"roles/owner"           -> owner address
//	"roles/executor/{addr}" -> "true" | "false"
const (
	prefixRoles    = "roles/"
	keyOwner       = prefixRoles + "owner"
	prefixExecutor = prefixRoles + "executor/"
)

// Roles is an owner-administered executor set. The owner is always an
// executor.
type Roles struct {
	mu        sync.RWMutex
	owner     common.Address
	executors map[common.Address]struct{}
	store     StateStore
}

func NewRoles(owner common.Address, executors ...common.Address) *Roles {
	r := &Roles{
		owner:     owner,
		executors: make(map[common.Address]struct{}, len(executors)),
	}
	for _, e := range executors {
		if e != (common.Address{}) {
			r.executors[e] = struct{}{}
		}
	}
	return r
}

// LoadRoles seeds the set from owner and executors, then replays every
// change persisted in store, so grants and revocations made at runtime
// survive a restart. Later changes are written to store before they take
// effect.
func LoadRoles(store StateStore, owner common.Address, executors ...common.Address) (*Roles, error) {
	r := NewRoles(owner, executors...)
	err := store.ScanState(prefixRoles, func(key string, value []byte) error {
		switch {
		case key == keyOwner:
			if !common.IsHexAddress(string(value)) {
				return fmt.Errorf("invalid owner record %q", value)
			}
			r.owner = common.HexToAddress(string(value))
		case strings.HasPrefix(key, prefixExecutor):
			addr := strings.TrimPrefix(key, prefixExecutor)
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("invalid executor record %q", key)
			}
			enabled, err := strconv.ParseBool(string(value))
			if err != nil {
				return fmt.Errorf("executor record %s: %w", key, err)
			}
			if enabled {
				r.executors[common.HexToAddress(addr)] = struct{}{}
			} else {
				delete(r.executors, common.HexToAddress(addr))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	r.store = store
	return r, nil
}

// persist writes records before a change is applied. Callers hold r.mu.
func (r *Roles) persist(records map[string][]byte) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.PutState(records); err != nil {
		return fmt.Errorf("persist roles: %w", err)
	}
	return nil
}

func (r *Roles) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *Roles) IsExecutor(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if addr == r.owner {
		return true
	}
	_, ok := r.executors[addr]
	return ok
}

// Executors lists the executor set (owner first), sorted for stable output.
func (r *Roles) Executors() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.executors))
	for e := range r.executors {
		if e != r.owner {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return append([]common.Address{r.owner}, out...)
}

func (r *Roles) SetExecutor(caller, addr common.Address, enabled bool) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	if err := r.persist(map[string][]byte{
		prefixExecutor + addr.Hex(): []byte(strconv.FormatBool(enabled)),
	}); err != nil {
		return err
	}
	if enabled {
		r.executors[addr] = struct{}{}
	} else {
		delete(r.executors, addr)
	}
	return nil
}

func (r *Roles) AddExecutor(caller, addr common.Address) error {
	return r.SetExecutor(caller, addr, true)
}

// RemoveExecutor revokes addr. Revoking the owner has no effect: the owner
// stays an executor until ownership moves.
func (r *Roles) RemoveExecutor(caller, addr common.Address) error {
	return r.SetExecutor(caller, addr, false)
}

func (r *Roles) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	if err := r.persist(map[string][]byte{keyOwner: []byte(newOwner.Hex())}); err != nil {
		return err
	}
	r.owner = newOwner
	return nil
}
