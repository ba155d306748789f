// Package asset defines the ledgers the engine moves value through and an
// in-memory journaled implementation of them.
package asset

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("not owner")
	ErrNotApproved           = errors.New("operator not approved")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrUnknownToken          = errors.New("unknown token id")
	ErrInvalidTransfer       = errors.New("invalid transfer")
)

// Fungible is a balance ledger. The spender moves funds out of from and
// must hold an allowance unless it is from itself.
type Fungible interface {
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}

// NonFungible is an ownership registry of unique token ids.
type NonFungible interface {
	TransferFrom(operator, from, to common.Address, tokenID *big.Int) error
	OwnerOf(tokenID *big.Int) (common.Address, error)
}

// ItemRegistry is implemented by non-fungible registries that group token
// ids under a catalogue item id.
type ItemRegistry interface {
	ItemOf(tokenID *big.Int) (uint64, error)
}

// MultiToken is a semi-fungible ledger holding amounts per token id.
type MultiToken interface {
	SafeTransferFrom(operator, from, to common.Address, id, amount *big.Int) error
	BalanceOf(owner common.Address, id *big.Int) *big.Int
}

// Registry resolves asset contracts by address and scopes every transfer
// made through them in revertible snapshots. Commit makes everything since
// the last Commit permanent.
type Registry interface {
	Fungible(addr common.Address) (Fungible, error)
	NonFungible(addr common.Address) (NonFungible, error)
	MultiToken(addr common.Address) (MultiToken, error)
	Snapshot() int
	RevertToSnapshot(id int)
	Commit()
}

// Durable is implemented by registries that report the records changed
// since their last Commit, so they can be stored with the fills.
type Durable interface {
	Changes() map[string][]byte
}
