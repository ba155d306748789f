// Package ledger tracks how much of each order fingerprint has been
// consumed. Single-unit orders use a fill of 1 as "used"; divisible and
// quantity orders hold a cumulative count. Fills only ever grow.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrCapacityExceeded is returned when a reservation would push a fill
	// past its declared maximum.
	ErrCapacityExceeded = errors.New("fill capacity exceeded")
	// ErrCancelConflict is returned when a cancellation floor is not above
	// the current fill or exceeds the declared maximum.
	ErrCancelConflict = errors.New("cancel conflict")
	ErrInvalidAmount  = errors.New("invalid amount")
)

var one = big.NewInt(1)

type journalEntry struct {
	fp      common.Hash
	prev    *big.Int
	existed bool
}

// Ledger stages fill mutations in memory on top of a Store. Staged state is
// visible to Filled immediately, so a re-entrant call observes reservations
// made earlier in the same call. Commit flushes staged state to the store;
// RevertToSnapshot undoes staged mutations.
type Ledger struct {
	mu      sync.RWMutex
	store   Store
	dirty   map[common.Hash]*big.Int
	journal []journalEntry
}

func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		dirty: make(map[common.Hash]*big.Int),
	}
}

func (l *Ledger) Store() Store { return l.store }

// Filled returns the staged fill of fp (zero when never touched).
func (l *Ledger) Filled(fp common.Hash) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.filledLocked(fp)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(v), nil
}

// Committed returns the durable fill of fp, ignoring staged mutations.
func (l *Ledger) Committed(fp common.Hash) (*big.Int, error) {
	v, err := l.store.Get(fp)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return new(big.Int), nil
	}
	return v, nil
}

func (l *Ledger) IsUsed(fp common.Hash) (bool, error) {
	v, err := l.Filled(fp)
	if err != nil {
		return false, err
	}
	return v.Sign() > 0, nil
}

// Remaining returns max minus the staged fill, floored at zero.
func (l *Ledger) Remaining(fp common.Hash, max *big.Int) (*big.Int, error) {
	filled, err := l.Filled(fp)
	if err != nil {
		return nil, err
	}
	rem := new(big.Int).Sub(max, filled)
	if rem.Sign() < 0 {
		rem.SetInt64(0)
	}
	return rem, nil
}

// Reserve adds amount to the fill of fp if the result stays within max.
// It returns the new fill.
func (l *Ledger) Reserve(fp common.Hash, amount, max *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: reserve amount must be positive", ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.filledLocked(fp)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(current, amount)
	if next.Cmp(max) > 0 {
		return nil, fmt.Errorf("%w: filled %s + %s > %s", ErrCapacityExceeded, current, amount, max)
	}
	l.setLocked(fp, next)
	return new(big.Int).Set(next), nil
}

// MarkUsed consumes a single-unit fingerprint.
func (l *Ledger) MarkUsed(fp common.Hash) error {
	_, err := l.Reserve(fp, one, one)
	return err
}

// Cancel raises the fill of fp to floor, blocking further fills up to it.
// floor must be strictly above the current fill and at most max.
func (l *Ledger) Cancel(fp common.Hash, floor, max *big.Int) error {
	if floor == nil {
		return fmt.Errorf("%w: missing cancel amount", ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.filledLocked(fp)
	if err != nil {
		return err
	}
	if floor.Cmp(current) <= 0 {
		return fmt.Errorf("%w: floor %s not above fill %s", ErrCancelConflict, floor, current)
	}
	if floor.Cmp(max) > 0 {
		return fmt.Errorf("%w: floor %s above maximum %s", ErrCancelConflict, floor, max)
	}
	l.setLocked(fp, new(big.Int).Set(floor))
	return nil
}

// CancelUsed is the binary cancellation of a single-unit fingerprint.
func (l *Ledger) CancelUsed(fp common.Hash) error {
	return l.Cancel(fp, one, one)
}

// Snapshot returns an identifier for the current staged state.
func (l *Ledger) Snapshot() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every staged mutation made after id was taken.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id > len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		e := l.journal[i]
		if e.existed {
			l.dirty[e.fp] = e.prev
		} else {
			delete(l.dirty, e.fp)
		}
	}
	l.journal = l.journal[:id]
}

// Commit writes staged fills to the store. On failure staged state is kept
// so the caller can revert it.
func (l *Ledger) Commit() error {
	return l.CommitWith(nil)
}

// CommitWith writes staged fills and the given state records in one
// atomic store write.
func (l *Ledger) CommitWith(state map[string][]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.dirty) == 0 && len(state) == 0 {
		l.journal = l.journal[:0]
		return nil
	}
	if err := l.store.Write(l.dirty, state); err != nil {
		return fmt.Errorf("failed to commit fills: %w", err)
	}
	l.dirty = make(map[common.Hash]*big.Int)
	l.journal = l.journal[:0]
	return nil
}

// Discard drops every staged mutation, as if the ledger had just been
// committed.
func (l *Ledger) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = make(map[common.Hash]*big.Int)
	l.journal = l.journal[:0]
}

// Pending reports the number of staged fingerprints.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.dirty)
}

func (l *Ledger) filledLocked(fp common.Hash) (*big.Int, error) {
	if v, ok := l.dirty[fp]; ok {
		return v, nil
	}
	v, err := l.store.Get(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to read fill %s: %w", fp.Hex(), err)
	}
	if v == nil {
		return new(big.Int), nil
	}
	return v, nil
}

func (l *Ledger) setLocked(fp common.Hash, v *big.Int) {
	prev, existed := l.dirty[fp]
	l.journal = append(l.journal, journalEntry{fp: fp, prev: prev, existed: existed})
	l.dirty[fp] = v
}
