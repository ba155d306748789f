// Package auth holds the two independent authorization predicates of the
// engine: maker signatures over order fingerprints, and the executor gate
// over who may submit calls at all.
package auth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

// Authenticator decides whether credential proves that signer authorized
// fingerprint. Implementations must be pure.
type Authenticator interface {
	Verify(fingerprint common.Hash, signer common.Address, credential []byte) bool
}

// EIP712Authenticator checks secp256k1 signatures over the domain-bound
// digest of a fingerprint.
type EIP712Authenticator struct {
	domain    crypto.Domain
	separator common.Hash
}

func NewEIP712Authenticator(domain crypto.Domain) (*EIP712Authenticator, error) {
	separator, err := domain.Separator()
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}
	return &EIP712Authenticator{domain: domain, separator: separator}, nil
}

func (a *EIP712Authenticator) Domain() crypto.Domain   { return a.domain }
func (a *EIP712Authenticator) Separator() common.Hash { return a.separator }

// Digest is the value a maker signs for fingerprint.
func (a *EIP712Authenticator) Digest(fingerprint common.Hash) common.Hash {
	return crypto.Digest(a.separator, fingerprint)
}

func (a *EIP712Authenticator) Verify(fingerprint common.Hash, signer common.Address, credential []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	return crypto.VerifySignature(signer, a.Digest(fingerprint).Bytes(), credential)
}
