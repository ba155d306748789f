package asset

import (
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// World is an in-memory Registry. Every mutation appends an undo entry to
// a journal so a failed settlement can roll back the legs it already moved,
// and marks the state record it touched so Changes can persist it.
type World struct {
	mu        sync.Mutex
	fungibles map[common.Address]*FungibleToken
	nfts      map[common.Address]*Collection
	multis    map[common.Address]*MultiTokenLedger
	journal   []func()
	dirty     map[string]func() []byte
}

// NewWorld returns an empty world. Its first Changes include a seed marker,
// so a persisted world is found again even if it deploys nothing.
func NewWorld() *World {
	w := &World{
		fungibles: make(map[common.Address]*FungibleToken),
		nfts:      make(map[common.Address]*Collection),
		multis:    make(map[common.Address]*MultiTokenLedger),
		dirty:     make(map[string]func() []byte),
	}
	w.dirty[keySeeded] = func() []byte { return []byte("1") }
	return w
}

func (w *World) Snapshot() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.journal)
}

func (w *World) RevertToSnapshot(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id < 0 || id > len(w.journal) {
		return
	}
	for i := len(w.journal) - 1; i >= id; i-- {
		w.journal[i]()
	}
	w.journal = w.journal[:id]
}

// Commit drops undo history and the set of changed records. Snapshots
// taken before Commit become invalid.
func (w *World) Commit() {
	w.mu.Lock()
	w.journal = w.journal[:0]
	w.dirty = make(map[string]func() []byte)
	w.mu.Unlock()
}

// Changes encodes every record touched since the last Commit at its
// current value. Records that no longer exist map to nil.
func (w *World) Changes() map[string][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string][]byte, len(w.dirty))
	for key, encode := range w.dirty {
		out[key] = encode()
	}
	return out
}

func (w *World) Fungible(addr common.Address) (Fungible, error) {
	t, err := w.FungibleToken(addr)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (w *World) NonFungible(addr common.Address) (NonFungible, error) {
	c, err := w.Collection(addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (w *World) MultiToken(addr common.Address) (MultiToken, error) {
	m, err := w.MultiTokenLedger(addr)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (w *World) FungibleToken(addr common.Address) (*FungibleToken, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.fungibles[addr]
	if !ok {
		return nil, fmt.Errorf("%w: fungible %s", ErrUnknownAsset, addr.Hex())
	}
	return t, nil
}

func (w *World) Collection(addr common.Address) (*Collection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.nfts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: non-fungible %s", ErrUnknownAsset, addr.Hex())
	}
	return c, nil
}

func (w *World) MultiTokenLedger(addr common.Address) (*MultiTokenLedger, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.multis[addr]
	if !ok {
		return nil, fmt.Errorf("%w: multi-token %s", ErrUnknownAsset, addr.Hex())
	}
	return m, nil
}

// DeployFungible registers a new balance ledger at addr (or returns the
// existing one).
func (w *World) DeployFungible(addr common.Address) *FungibleToken {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.fungibles[addr]; ok {
		return t
	}
	t := &FungibleToken{
		world:      w,
		address:    addr,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	w.fungibles[addr] = t
	w.touchDeploy(addr, kindFungible)
	return t
}

func (w *World) DeployCollection(addr common.Address) *Collection {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.nfts[addr]; ok {
		return c
	}
	c := &Collection{
		world:     w,
		address:   addr,
		owners:    make(map[string]common.Address),
		items:     make(map[string]uint64),
		operators: make(map[common.Address]map[common.Address]bool),
	}
	w.nfts[addr] = c
	w.touchDeploy(addr, kindCollection)
	return c
}

func (w *World) DeployMultiToken(addr common.Address) *MultiTokenLedger {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.multis[addr]; ok {
		return m
	}
	m := &MultiTokenLedger{
		world:     w,
		address:   addr,
		balances:  make(map[string]map[common.Address]*big.Int),
		operators: make(map[common.Address]map[common.Address]bool),
	}
	w.multis[addr] = m
	w.touchDeploy(addr, kindMultiToken)
	return m
}

// record appends an undo step. Callers hold w.mu.
func (w *World) record(undo func()) {
	w.journal = append(w.journal, undo)
}

// touch marks key as changed; encode reads its value at persist time.
// Callers hold w.mu.
func (w *World) touch(key string, encode func() []byte) {
	w.dirty[key] = encode
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// FungibleToken is an ERC-20 style balance ledger.
type FungibleToken struct {
	world      *World
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func (t *FungibleToken) Address() common.Address { return t.address }

func (t *FungibleToken) BalanceOf(owner common.Address) *big.Int {
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	return new(big.Int).Set(zeroIfNil(t.balances[owner]))
}

func (t *FungibleToken) Allowance(owner, spender common.Address) *big.Int {
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	return new(big.Int).Set(zeroIfNil(t.allowances[owner][spender]))
}

func (t *FungibleToken) Mint(to common.Address, amount *big.Int) {
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	t.setBalance(to, new(big.Int).Add(zeroIfNil(t.balances[to]), amount))
}

// Approve sets spender's allowance over owner's funds. math.MaxBig256 is
// treated as unlimited.
func (t *FungibleToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	t.setAllowance(owner, spender, new(big.Int).Set(amount))
}

func (t *FungibleToken) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidTransfer)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", ErrInvalidTransfer)
	}
	t.world.mu.Lock()
	defer t.world.mu.Unlock()

	balance := zeroIfNil(t.balances[from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, balance, amount)
	}
	if spender != from {
		allowance := zeroIfNil(t.allowances[from][spender])
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
		}
		if allowance.Cmp(math.MaxBig256) != 0 {
			t.setAllowance(from, spender, new(big.Int).Sub(allowance, amount))
		}
	}

	t.setBalance(from, new(big.Int).Sub(balance, amount))
	t.setBalance(to, new(big.Int).Add(zeroIfNil(t.balances[to]), amount))
	return nil
}

func (t *FungibleToken) setBalance(owner common.Address, v *big.Int) {
	prev, existed := t.balances[owner]
	t.world.record(func() {
		if existed {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
	t.balances[owner] = v
	t.world.touch(balanceKey(t.address, owner), func() []byte {
		return amountValue(t.balances[owner])
	})
}

func (t *FungibleToken) setAllowance(owner, spender common.Address, v *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	prev, existed := t.allowances[owner][spender]
	t.world.record(func() {
		if existed {
			t.allowances[owner][spender] = prev
		} else {
			delete(t.allowances[owner], spender)
		}
	})
	t.allowances[owner][spender] = v
	t.world.touch(allowanceKey(t.address, owner, spender), func() []byte {
		return amountValue(t.allowances[owner][spender])
	})
}

// Collection is an ERC-721 style registry whose tokens carry an item id.
type Collection struct {
	world     *World
	address   common.Address
	owners    map[string]common.Address
	items     map[string]uint64
	operators map[common.Address]map[common.Address]bool
}

func (c *Collection) Address() common.Address { return c.address }

func (c *Collection) Mint(to common.Address, tokenID *big.Int, itemID uint64) error {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	key := tokenID.String()
	if _, exists := c.owners[key]; exists {
		return fmt.Errorf("%w: token %s already minted", ErrInvalidTransfer, key)
	}
	c.world.record(func() {
		delete(c.owners, key)
		delete(c.items, key)
	})
	c.owners[key] = to
	c.items[key] = itemID
	c.touchToken(key)
	return nil
}

func (c *Collection) SetApprovalForAll(owner, operator common.Address, approved bool) {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	setOperator(c.world, c.address, c.operators, owner, operator, approved)
}

func (c *Collection) OwnerOf(tokenID *big.Int) (common.Address, error) {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	owner, ok := c.owners[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}
	return owner, nil
}

func (c *Collection) ItemOf(tokenID *big.Int) (uint64, error) {
	c.world.mu.Lock()
	defer c.world.mu.Unlock()
	item, ok := c.items[tokenID.String()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}
	return item, nil
}

func (c *Collection) TransferFrom(operator, from, to common.Address, tokenID *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", ErrInvalidTransfer)
	}
	c.world.mu.Lock()
	defer c.world.mu.Unlock()

	key := tokenID.String()
	owner, ok := c.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, key)
	}
	if owner != from {
		return fmt.Errorf("%w: token %s belongs to %s", ErrNotOwner, key, owner.Hex())
	}
	if operator != from && !c.operators[from][operator] {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, operator.Hex(), from.Hex())
	}

	c.world.record(func() { c.owners[key] = owner })
	c.owners[key] = to
	c.touchToken(key)
	return nil
}

func (c *Collection) touchToken(key string) {
	c.world.touch(tokenKey(c.address, key), func() []byte {
		owner, ok := c.owners[key]
		if !ok {
			return nil
		}
		return tokenValue(owner, c.items[key])
	})
}

// MultiTokenLedger is an ERC-1155 style ledger.
type MultiTokenLedger struct {
	world     *World
	address   common.Address
	balances  map[string]map[common.Address]*big.Int
	operators map[common.Address]map[common.Address]bool
}

func (m *MultiTokenLedger) Address() common.Address { return m.address }

func (m *MultiTokenLedger) BalanceOf(owner common.Address, id *big.Int) *big.Int {
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	return new(big.Int).Set(zeroIfNil(m.balances[id.String()][owner]))
}

func (m *MultiTokenLedger) Mint(to common.Address, id, amount *big.Int) {
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	m.setBalance(id.String(), to, new(big.Int).Add(zeroIfNil(m.balances[id.String()][to]), amount))
}

func (m *MultiTokenLedger) SetApprovalForAll(owner, operator common.Address, approved bool) {
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	setOperator(m.world, m.address, m.operators, owner, operator, approved)
}

func (m *MultiTokenLedger) SafeTransferFrom(operator, from, to common.Address, id, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidTransfer)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to the zero address", ErrInvalidTransfer)
	}
	m.world.mu.Lock()
	defer m.world.mu.Unlock()

	if operator != from && !m.operators[from][operator] {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, operator.Hex(), from.Hex())
	}
	key := id.String()
	balance := zeroIfNil(m.balances[key][from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s have %s, need %s", ErrInsufficientBalance, key, balance, amount)
	}
	m.setBalance(key, from, new(big.Int).Sub(balance, amount))
	m.setBalance(key, to, new(big.Int).Add(zeroIfNil(m.balances[key][to]), amount))
	return nil
}

func (m *MultiTokenLedger) setBalance(id string, owner common.Address, v *big.Int) {
	if m.balances[id] == nil {
		m.balances[id] = make(map[common.Address]*big.Int)
	}
	holders := m.balances[id]
	prev, existed := holders[owner]
	m.world.record(func() {
		if existed {
			holders[owner] = prev
		} else {
			delete(holders, owner)
		}
	})
	holders[owner] = v
	m.world.touch(multiBalanceKey(m.address, id, owner), func() []byte {
		return amountValue(holders[owner])
	})
}

func setOperator(w *World, contract common.Address, ops map[common.Address]map[common.Address]bool, owner, operator common.Address, approved bool) {
	if ops[owner] == nil {
		ops[owner] = make(map[common.Address]bool)
	}
	prev, existed := ops[owner][operator]
	w.record(func() {
		if existed {
			ops[owner][operator] = prev
		} else {
			delete(ops[owner], operator)
		}
	})
	ops[owner][operator] = approved
	w.touch(operatorKey(contract, owner, operator), func() []byte {
		v, ok := ops[owner][operator]
		if !ok {
			return nil
		}
		return []byte(strconv.FormatBool(v))
	})
}
