// Package order defines the three signed order families, their EIP-712
// schemas and fingerprints.
package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

// PrimaryType is the EIP-712 primary type name shared by every family.
const PrimaryType = "Order"

// ErrMalformed reports a structurally invalid order (missing numbers,
// zero maker, negative values).
var ErrMalformed = errors.New("malformed order")

// Kind names an order family on the wire.
type Kind string

const (
	KindSingle          Kind = "single"
	KindDivisibleSeller Kind = "divisible_seller"
	KindDivisibleBuyer  Kind = "divisible_buyer"
	KindBookSeller      Kind = "book_seller"
	KindBookBuyer       Kind = "book_buyer"
)

// Order is implemented by every family.
type Order interface {
	Kind() Kind
	MakerAddress() common.Address
	Hash() common.Hash
	TypedData(domain crypto.Domain) apitypes.TypedData
	Validate() error
}

// Signed pairs an order with its maker's 65-byte signature.
type Signed[T Order] struct {
	Order     T             `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

// Sign fingerprints o and signs it under domain.
func Sign[T Order](signer *crypto.Signer, domain crypto.Domain, o T) (Signed[T], error) {
	sig, err := signer.SignTyped(domain, o.Hash())
	if err != nil {
		return Signed[T]{}, fmt.Errorf("failed to sign %s order: %w", o.Kind(), err)
	}
	return Signed[T]{Order: o, Signature: sig}, nil
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decimals(vs []*big.Int) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = decimal(v)
	}
	return out
}

func hexes(hs []common.Hash) []interface{} {
	out := make([]interface{}, len(hs))
	for i, h := range hs {
		out[i] = h.Hex()
	}
	return out
}

// checkUint rejects nil and negative values; uint256 overflow is rejected too.
func checkUint(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s is missing", ErrMalformed, field)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return fmt.Errorf("%w: %s out of uint256 range", ErrMalformed, field)
	}
	return nil
}

func checkAddress(field string, a common.Address) error {
	if a == (common.Address{}) {
		return fmt.Errorf("%w: %s is the zero address", ErrMalformed, field)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
