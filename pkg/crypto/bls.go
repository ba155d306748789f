package crypto

import (
	"crypto/rand"
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

// BLSPubKey is a node's attestation key.
type BLSPubKey = bls.PublicKey[scheme]

// Attestor signs settlement records a node publishes, so peers and indexers
// can tell which node committed them. It is unrelated to maker signatures.
type Attestor struct {
	sk  *bls.PrivateKey[scheme]
	pk  *BLSPubKey
	pub []byte
}

// NewAttestor derives a key from seed, which must be at least 32 bytes.
func NewAttestor(seed []byte) (*Attestor, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to derive attestation key: %w", err)
	}
	pk := sk.PublicKey()
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Attestor{sk: sk, pk: pk, pub: pub}, nil
}

// GenerateAttestor creates an attestor from a random seed.
func GenerateAttestor() (*Attestor, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewAttestor(seed)
}

func (a *Attestor) Pubkey() *BLSPubKey { return a.pk }

// PublicKey returns the compressed public key.
func (a *Attestor) PublicKey() []byte { return a.pub }

func (a *Attestor) Sign(msg []byte) []byte {
	return bls.Sign(a.sk, msg)
}

// VerifyAttestation checks sig over msg against a compressed public key.
func VerifyAttestation(pub, sig, msg []byte) bool {
	var pk BLSPubKey
	if err := pk.UnmarshalBinary(pub); err != nil {
		return false
	}
	return bls.Verify(&pk, msg, bls.Signature(sig))
}
